package pipeline

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

func TestSplitter_EmitsOnSentenceBoundary(t *testing.T) {
	t.Parallel()
	var s Splitter

	if got := s.Push("Hello the"); got != nil {
		t.Errorf("incomplete sentence emitted: %v", got)
	}
	got := s.Push("re. How are")
	if !reflect.DeepEqual(got, []string{"Hello there. "}) {
		t.Errorf("Push = %v, want [Hello there. ]", got)
	}
	if rest := s.Flush(); rest != "How are" {
		t.Errorf("Flush = %q, want %q", rest, "How are")
	}
}

func TestSplitter_MultipleSentencesInOnePush(t *testing.T) {
	t.Parallel()
	var s Splitter

	got := s.Push("One. Two! Three? Four")
	want := []string{"One. ", "Two! ", "Three? "}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Push = %v, want %v", got, want)
	}
	if rest := s.Flush(); rest != "Four" {
		t.Errorf("Flush = %q, want %q", rest, "Four")
	}
}

func TestSplitter_NewlineBoundaryKept(t *testing.T) {
	t.Parallel()
	var s Splitter

	got := s.Push("First line\nsecond line")
	if !reflect.DeepEqual(got, []string{"First line\n"}) {
		t.Errorf("Push = %v, want [First line\\n]", got)
	}
	if rest := s.Flush(); rest != "second line" {
		t.Errorf("Flush = %q, want %q", rest, "second line")
	}
}

func TestSplitter_WhitespaceOnlySentencesDropped(t *testing.T) {
	t.Parallel()
	var s Splitter

	got := s.Push("\n \nReal text\n")
	if !reflect.DeepEqual(got, []string{"Real text\n"}) {
		t.Errorf("Push = %v, want [Real text\\n]", got)
	}
}

func TestSplitter_AbbreviationWithoutSpaceNotSplit(t *testing.T) {
	t.Parallel()
	var s Splitter

	// "3.14" has no ". " marker, so it must stay intact.
	if got := s.Push("Pi is 3.14 roughly"); got != nil {
		t.Errorf("Push = %v, want nil", got)
	}
	if rest := s.Flush(); rest != "Pi is 3.14 roughly" {
		t.Errorf("Flush = %q", rest)
	}
}

func TestSplitter_FlushEmptyWhenOnlyWhitespace(t *testing.T) {
	t.Parallel()
	var s Splitter

	s.Push("  \n ")
	if rest := s.Flush(); rest != "" {
		t.Errorf("Flush = %q, want empty", rest)
	}
}

// Sentences keep their boundary markers, so splitting must be lossless: the
// concatenation of everything emitted equals the text pushed in, no matter how
// the stream was chunked.
func TestSplitter_RoundTripUnderRandomChunking(t *testing.T) {
	t.Parallel()
	const text = "It is 3 PM. Shall we go? Sure!\nThe park is close. Bring a coat just in case"

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 100; trial++ {
		var s Splitter
		var parts []string
		remaining := text
		for len(remaining) > 0 {
			n := 1 + rng.Intn(9)
			if n > len(remaining) {
				n = len(remaining)
			}
			parts = append(parts, s.Push(remaining[:n])...)
			remaining = remaining[n:]
		}
		if rest := s.Flush(); rest != "" {
			parts = append(parts, rest)
		}
		if got := strings.Join(parts, ""); got != text {
			t.Fatalf("trial %d: reassembled %q, want %q", trial, got, text)
		}
	}
}

func TestNextSentence_FirstMarkerOnlyPerCall(t *testing.T) {
	t.Parallel()
	sentence, rest, ok := nextSentence("Alpha! Beta. Gamma")
	if !ok {
		t.Fatal("expected a boundary")
	}
	// ". " has priority over "! " even though "! " occurs earlier.
	if sentence != "Alpha! Beta. " {
		t.Errorf("sentence = %q, want %q", sentence, "Alpha! Beta. ")
	}
	if rest != "Gamma" {
		t.Errorf("rest = %q, want %q", rest, "Gamma")
	}
}
