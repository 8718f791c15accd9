package textchunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_SentenceBoundaries(t *testing.T) {
	chunks, err := Split("Hello world. How are you today? I am fine.", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"Hello world.", "How are you today?", "I am fine."}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %v", len(chunks), len(want), chunks)
	}
	for i, w := range want {
		if chunks[i].Content != w {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i].Content, w)
		}
		if chunks[i].Index != i {
			t.Errorf("chunk[%d].Index = %d, want %d", i, chunks[i].Index, i)
		}
	}
}

func TestSplit_PacksShortSentences(t *testing.T) {
	chunks, err := Split("Hi. Ok. Sure thing.", 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1: %v", len(chunks), chunks)
	}
	if chunks[0].Content != "Hi. Ok. Sure thing." {
		t.Errorf("content = %q", chunks[0].Content)
	}
}

func TestSplit_CommaFallback(t *testing.T) {
	text := "one two three, four five six, seven eight nine."
	chunks, err := Split(text, 17)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"one two three,", "four five six,", "seven eight nine."}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %v", len(chunks), len(want), chunks)
	}
	for i, w := range want {
		if chunks[i].Content != w {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i].Content, w)
		}
	}
}

func TestSplit_WordFallback(t *testing.T) {
	text := "alpha beta gamma delta epsilon"
	chunks, err := Split(text, 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range chunks {
		if c.Length > 11 {
			t.Errorf("chunk %q length %d exceeds limit", c.Content, c.Length)
		}
	}
}

func TestSplit_OversizedTokenKeptWhole(t *testing.T) {
	token := strings.Repeat("x", 50)
	chunks, err := Split("short. "+token+". end.", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, token) {
			found = true
		}
	}
	if !found {
		t.Fatalf("oversized token was dropped: %v", chunks)
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := Split(text, 20); err != ErrEmptyInput {
			t.Errorf("Split(%q) error = %v, want ErrEmptyInput", text, err)
		}
	}
}

func TestSplit_DefaultMaxLen(t *testing.T) {
	chunks, err := Split("Hello there.", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

// Reassembling chunks and normalizing whitespace must reproduce the original
// text, for any input and limit.
func TestSplit_ReassemblyInvariant(t *testing.T) {
	inputs := []string{
		"Hello world. How are you today? I am fine.",
		"A single long unbroken sentence without terminal punctuation at all",
		"Commas, everywhere, in, this, one, sentence, right here.",
		"Dr. Smith measured 3.14 exactly. Impressive!",
		"Tiny. " + strings.Repeat("longword ", 30) + "end.",
	}
	limits := []int{5, 12, 20, 50, 1000}

	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}

	for _, text := range inputs {
		for _, limit := range limits {
			chunks, err := Split(text, limit)
			if err != nil {
				t.Fatalf("Split(%q, %d): %v", text, limit, err)
			}
			var joined []string
			for _, c := range chunks {
				joined = append(joined, c.Content)
			}
			got := normalize(strings.Join(joined, " "))
			if want := normalize(text); got != want {
				t.Errorf("Split(%q, %d) reassembles to %q, want %q", text, limit, got, want)
			}
		}
	}
}

func TestSplit_LengthMatchesContent(t *testing.T) {
	chunks, err := Split("Ünïcödé sentence here. And another one follows.", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range chunks {
		if c.Length != utf8.RuneCountInString(c.Content) {
			t.Errorf("chunk %q Length = %d, want %d", c.Content, c.Length, utf8.RuneCountInString(c.Content))
		}
	}
}
