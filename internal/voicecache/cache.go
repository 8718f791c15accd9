// Package voicecache manages the on-disk voice model assets used by the local
// synthesis engine.
//
// Assets are downloaded on first use from a remote asset store and kept under
// a single cache directory. A retention policy evicts assets that have not
// been read recently, except for an essential set (the default voice plus any
// pinned keys) that is never removed regardless of age — this bounds
// worst-case storage to the essential assets plus whatever was touched within
// the retention window.
//
// Last access time is tracked as the asset file's mtime, updated on every
// successful read, so the policy survives process restarts without a separate
// index.
//
// All cache failures are recoverable at the caller: an unobtainable voice
// degrades the request, it never aborts the process.
package voicecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voxprep/voxprep/internal/observe"
)

const (
	// assetExt is the file extension of stored voice model assets.
	assetExt = ".pt"

	defaultRetention       = 30 * 24 * time.Hour
	defaultEvictEvery      = 50
	defaultDownloadTimeout = 60 * time.Second

	// tempMaxAge is how long an orphaned partial download may linger before
	// eviction removes it.
	tempMaxAge = time.Hour
)

// ErrDownload indicates a voice asset could not be fetched from the remote
// store. Callers should fall back to the default voice or to text-only output.
var ErrDownload = errors.New("voicecache: voice asset download failed")

// Asset is a resolved, on-disk voice model.
type Asset struct {
	// Key is the canonical voice key (e.g. "af_bella").
	Key string

	// Path is the local file path of the asset.
	Path string

	// Essential reports whether the asset is pinned against eviction.
	Essential bool
}

// Config configures a Cache.
type Config struct {
	// Dir is the cache directory. Created if missing.
	Dir string

	// DefaultKey is the canonical key used for unknown voice identifiers and
	// as the download fallback. Required.
	DefaultKey string

	// BaseURL is the remote asset store; assets are fetched from
	// <BaseURL>/<key>.pt.
	BaseURL string

	// Aliases maps user-facing voice names (e.g. "female1") to canonical
	// keys. Identifiers that already are canonical keys need no entry.
	Aliases map[string]string

	// Essential lists canonical keys that must never be evicted. DefaultKey
	// is always essential.
	Essential []string

	// Retention is how long a non-essential asset survives without being
	// read. Defaults to 30 days.
	Retention time.Duration

	// EvictEvery triggers an opportunistic eviction pass once per this many
	// resolutions. Defaults to 50.
	EvictEvery int

	// DownloadTimeout bounds one asset download. Defaults to 60 s.
	DownloadTimeout time.Duration

	// Metrics receives hit/miss/eviction counts. May be nil.
	Metrics *observe.Metrics
}

// Cache resolves voice identifiers to local asset files, downloading on miss.
// It is safe for concurrent use; concurrent misses for the same key share a
// single download, and completed downloads are installed with an atomic
// rename so readers never observe a partial file.
type Cache struct {
	cfg        Config
	essential  map[string]bool
	httpClient *http.Client

	group    singleflight.Group
	resolves atomic.Uint64
}

// New creates a Cache and ensures the cache directory exists.
func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("voicecache: Dir must not be empty")
	}
	if cfg.DefaultKey == "" {
		return nil, errors.New("voicecache: DefaultKey must not be empty")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.EvictEvery <= 0 {
		cfg.EvictEvery = defaultEvictEvery
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("voicecache: create dir %q: %w", cfg.Dir, err)
	}

	essential := map[string]bool{cfg.DefaultKey: true}
	for _, k := range cfg.Essential {
		essential[k] = true
	}

	return &Cache{
		cfg:        cfg,
		essential:  essential,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
	}, nil
}

// CanonicalKey maps a requested voice identifier to a canonical voice key.
// Unknown identifiers fall back to the default key — never an error.
func (c *Cache) CanonicalKey(voiceID string) string {
	if voiceID == "" {
		return c.cfg.DefaultKey
	}
	if key, ok := c.cfg.Aliases[voiceID]; ok {
		return key
	}
	// Already-canonical keys resolve to themselves.
	for _, key := range c.cfg.Aliases {
		if key == voiceID {
			return voiceID
		}
	}
	if c.essential[voiceID] {
		return voiceID
	}
	return c.cfg.DefaultKey
}

// Resolve returns the local asset for voiceID, downloading it on miss. If the
// requested key cannot be downloaded, Resolve retries once with the default
// key before giving up with an error wrapping [ErrDownload].
func (c *Cache) Resolve(ctx context.Context, voiceID string) (Asset, error) {
	if n := c.resolves.Add(1); n%uint64(c.cfg.EvictEvery) == 0 {
		go c.evictPass()
	}

	key := c.CanonicalKey(voiceID)
	asset, err := c.resolveKey(ctx, key)
	if err == nil {
		return asset, nil
	}
	if key == c.cfg.DefaultKey {
		return Asset{}, err
	}

	slog.Warn("voice asset unobtainable, falling back to default voice",
		"voice", voiceID, "key", key, "default", c.cfg.DefaultKey, "error", err)
	return c.resolveKey(ctx, c.cfg.DefaultKey)
}

// resolveKey returns the asset for one canonical key, downloading on miss.
func (c *Cache) resolveKey(ctx context.Context, key string) (Asset, error) {
	path := c.assetPath(key)

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		now := time.Now()
		if err := os.Chtimes(path, now, now); err != nil {
			slog.Warn("failed to touch voice asset", "path", path, "error", err)
		}
		c.record(ctx, "hit")
		return Asset{Key: key, Path: path, Essential: c.essential[key]}, nil
	}
	c.record(ctx, "miss")

	// Miss: share one download per key across concurrent requests. The flight
	// is detached from the winning caller's context so one client's
	// disconnect cannot fail the waiters; the download timeout still bounds it.
	_, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight lock: another caller may have just
		// finished installing the file.
		if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 {
			return nil, nil
		}
		return nil, c.download(context.WithoutCancel(ctx), key, path)
	})
	if err != nil {
		return Asset{}, err
	}
	return Asset{Key: key, Path: path, Essential: c.essential[key]}, nil
}

// download streams the asset from the remote store into a temp file and
// atomically renames it into place. Any failure removes the partial file.
func (c *Cache) download(ctx context.Context, key, path string) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("%w: no asset store configured for %q", ErrDownload, key)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + key + assetExt
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: create request for %q: %v", ErrDownload, key, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrDownload, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s returned status %d", ErrDownload, url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.cfg.Dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrDownload, err)
	}
	tmpPath := tmp.Name()

	// Streamed copy: the asset is never buffered whole in memory.
	n, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("empty asset body")
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write %q: %v", ErrDownload, key, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: install %q: %v", ErrDownload, key, err)
	}

	slog.Info("voice asset downloaded", "key", key, "bytes", n)
	return nil
}

// EvictStale removes non-essential assets whose last access is older than the
// retention period, plus orphaned partial downloads. Essential assets are
// never removed regardless of age. Returns the number of assets removed.
func (c *Cache) EvictStale(now time.Time) (int, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("voicecache: read dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(c.cfg.Dir, name)

		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())

		// Orphaned partial downloads from a crashed process.
		if strings.Contains(name, ".tmp-") {
			if age > tempMaxAge {
				_ = os.Remove(path)
			}
			continue
		}
		if !strings.HasSuffix(name, assetExt) {
			continue
		}

		key := strings.TrimSuffix(name, assetExt)
		if c.essential[key] {
			continue
		}
		if age <= c.cfg.Retention {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to evict voice asset", "key", key, "error", err)
			continue
		}
		removed++
		c.record(context.Background(), "evicted")
		slog.Info("evicted stale voice asset", "key", key, "age", age)
	}
	return removed, nil
}

// evictPass runs one eviction pass, logging failures.
func (c *Cache) evictPass() {
	if _, err := c.EvictStale(time.Now()); err != nil {
		slog.Warn("voice cache eviction failed", "error", err)
	}
}

// StartJanitor runs eviction passes on the given interval until ctx is
// cancelled. It complements the opportunistic passes triggered by Resolve, so
// stale assets are removed even while the service is idle.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.evictPass()
			}
		}
	}()
}

// record counts a cache event when metrics are configured.
func (c *Cache) record(ctx context.Context, event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordCacheEvent(ctx, event)
	}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.cfg.Dir }

// assetPath returns the local path for a canonical key.
func (c *Cache) assetPath(key string) string {
	return filepath.Join(c.cfg.Dir, key+assetExt)
}
