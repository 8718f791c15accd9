package voicecache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testAliases() map[string]string {
	return map[string]string{
		"default": "af_bella",
		"female1": "af_sarah",
		"male1":   "am_adam",
		"british": "bf_emma",
	}
}

// assetServer serves fake voice assets and counts downloads per key.
func assetServer(t *testing.T, counts *sync.Map) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := filepath.Base(r.URL.Path)
		if key == "missing.pt" {
			http.NotFound(w, r)
			return
		}
		if v, _ := counts.LoadOrStore(key, new(atomic.Int32)); v != nil {
			v.(*atomic.Int32).Add(1)
		}
		w.Write([]byte("model-bytes-" + key))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCache(t *testing.T, baseURL string) *Cache {
	t.Helper()
	c, err := New(Config{
		Dir:        t.TempDir(),
		DefaultKey: "af_bella",
		BaseURL:    baseURL,
		Aliases:    testAliases(),
		Essential:  []string{"af_bella", "af_sarah"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{DefaultKey: "x"}); err == nil {
		t.Error("expected error for empty Dir")
	}
	if _, err := New(Config{Dir: t.TempDir()}); err == nil {
		t.Error("expected error for empty DefaultKey")
	}
}

func TestCanonicalKey(t *testing.T) {
	c := newTestCache(t, "")

	tests := []struct {
		voiceID string
		want    string
	}{
		{"default", "af_bella"},
		{"female1", "af_sarah"},
		{"british", "bf_emma"},
		{"am_adam", "am_adam"}, // already canonical
		{"", "af_bella"},
		{"no-such-voice", "af_bella"},
	}
	for _, tt := range tests {
		if got := c.CanonicalKey(tt.voiceID); got != tt.want {
			t.Errorf("CanonicalKey(%q) = %q, want %q", tt.voiceID, got, tt.want)
		}
	}
}

func TestResolveDownloadsOnMiss(t *testing.T) {
	var counts sync.Map
	srv := assetServer(t, &counts)
	c := newTestCache(t, srv.URL)

	asset, err := c.Resolve(context.Background(), "male1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if asset.Key != "am_adam" {
		t.Errorf("Key = %q, want am_adam", asset.Key)
	}
	if asset.Essential {
		t.Error("am_adam should not be essential")
	}
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if string(data) != "model-bytes-am_adam.pt" {
		t.Errorf("asset content = %q", data)
	}
}

func TestResolveHitSkipsDownload(t *testing.T) {
	var counts sync.Map
	srv := assetServer(t, &counts)
	c := newTestCache(t, srv.URL)

	path := filepath.Join(c.Dir(), "af_bella.pt")
	if err := os.WriteFile(path, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	asset, err := c.Resolve(context.Background(), "default")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !asset.Essential {
		t.Error("default voice should be essential")
	}
	if _, ok := counts.Load("af_bella.pt"); ok {
		t.Error("cached asset should not be re-downloaded")
	}
}

func TestResolveTouchesLastAccess(t *testing.T) {
	c := newTestCache(t, "")

	path := filepath.Join(c.Dir(), "af_bella.pt")
	if err := os.WriteFile(path, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Resolve(context.Background(), "default"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(info.ModTime()) > time.Minute {
		t.Errorf("mtime not refreshed on read: %v", info.ModTime())
	}
}

func TestResolveEmptyFileRedownloads(t *testing.T) {
	var counts sync.Map
	srv := assetServer(t, &counts)
	c := newTestCache(t, srv.URL)

	path := filepath.Join(c.Dir(), "am_adam.pt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Resolve(context.Background(), "male1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, _ := os.ReadFile(path)
	if len(data) == 0 {
		t.Error("empty cached file was not replaced")
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	// Server 404s everything; the default asset already exists locally.
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()
	c := newTestCache(t, srv.URL)

	path := filepath.Join(c.Dir(), "af_bella.pt")
	if err := os.WriteFile(path, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	asset, err := c.Resolve(context.Background(), "male1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if asset.Key != "af_bella" {
		t.Errorf("fallback Key = %q, want af_bella", asset.Key)
	}
}

func TestResolveDefaultUnobtainable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()
	c := newTestCache(t, srv.URL)

	_, err := c.Resolve(context.Background(), "default")
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("error = %v, want ErrDownload", err)
	}
}

func TestResolveNoAssetStore(t *testing.T) {
	c := newTestCache(t, "")
	if _, err := c.Resolve(context.Background(), "default"); !errors.Is(err, ErrDownload) {
		t.Fatalf("error = %v, want ErrDownload", err)
	}
}

func TestConcurrentResolveSharesDownload(t *testing.T) {
	var counts sync.Map
	srv := assetServer(t, &counts)
	c := newTestCache(t, srv.URL)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Resolve(context.Background(), "male1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	v, ok := counts.Load("am_adam.pt")
	if !ok {
		t.Fatal("no download recorded")
	}
	if n := v.(*atomic.Int32).Load(); n != 1 {
		t.Errorf("downloads = %d, want 1", n)
	}
}

func TestResolveDownloadDetachedFromCaller(t *testing.T) {
	var counts sync.Map
	srv := assetServer(t, &counts)
	c := newTestCache(t, srv.URL)

	// A caller that has already gone away must not poison the shared
	// download for everyone else waiting on the same key.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	asset, err := c.Resolve(ctx, "male1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if len(data) == 0 {
		t.Error("asset not installed")
	}
}

func TestEvictStale(t *testing.T) {
	c := newTestCache(t, "")
	now := time.Now()
	old := now.Add(-60 * 24 * time.Hour)

	write := func(name string, mtime time.Time) {
		t.Helper()
		path := filepath.Join(c.Dir(), name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	write("af_bella.pt", old)        // essential, spared despite age
	write("af_sarah.pt", old)        // essential, spared
	write("am_adam.pt", old)         // stale, evicted
	write("bf_emma.pt", now)         // fresh, kept
	write("am_adam.tmp-123456", old) // orphaned partial, removed

	removed, err := c.EvictStale(now)
	if err != nil {
		t.Fatalf("EvictStale: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	for _, name := range []string{"af_bella.pt", "af_sarah.pt", "bf_emma.pt"} {
		if _, err := os.Stat(filepath.Join(c.Dir(), name)); err != nil {
			t.Errorf("%s should survive eviction: %v", name, err)
		}
	}
	for _, name := range []string{"am_adam.pt", "am_adam.tmp-123456"} {
		if _, err := os.Stat(filepath.Join(c.Dir(), name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", name)
		}
	}
}
