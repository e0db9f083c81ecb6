package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestEmptyInputYieldsNoChunks(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if got := ByLength(in, 10, 2); got != nil {
			t.Fatalf("ByLength(%q) = %v", in, got)
		}
		if got := BySentences(in, 3); got != nil {
			t.Fatalf("BySentences(%q) = %v", in, got)
		}
		if got := ByParagraphs(in); got != nil {
			t.Fatalf("ByParagraphs(%q) = %v", in, got)
		}
		if got := Auto(in, 10); got != nil {
			t.Fatalf("Auto(%q) = %v", in, got)
		}
	}
}

func TestByLengthBreaksAtSentenceEnd(t *testing.T) {
	text := "Hello world. This is a test of chunking."
	got := ByLength(text, 20, 0)
	want := []string{"Hello world.", "This is a test of c", "hunking."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestByLengthOverlap(t *testing.T) {
	text := strings.Repeat("a", 25)
	got := ByLength(text, 10, 3)
	// windows: [0,10) [7,17) [14,24) [21,25)
	want := []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 10), "aaaa"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestByLengthAlwaysProgresses(t *testing.T) {
	// the break lands one rune into each window, so end-overlap would move backwards
	text := strings.Repeat("a.bbbbbbbbbbbbbbbbbb", 5)
	got := ByLength(text, 10, 8)
	if len(got) == 0 || len(got) > len(text) {
		t.Fatalf("unexpected chunk count %d", len(got))
	}
}

func TestByLengthCountsRunes(t *testing.T) {
	text := strings.Repeat("가", 12)
	got := ByLength(text, 5, 0)
	if len(got) != 3 {
		t.Fatalf("want 3 chunks, got %d: %v", len(got), got)
	}
	for _, c := range got[:2] {
		if utf8.RuneCountInString(c) != 5 {
			t.Fatalf("chunk %q has %d runes", c, utf8.RuneCountInString(c))
		}
	}
}

func TestSentencesAndGrouping(t *testing.T) {
	text := "One. Two!  Three?\nFour. Five"
	if diff := cmp.Diff([]string{"One.", "Two!", "Three?", "Four.", "Five"}, Sentences(text)); diff != "" {
		t.Fatalf("sentences (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"One. Two! Three?", "Four. Five"}, BySentences(text, 3)); diff != "" {
		t.Fatalf("groups (-want +got):\n%s", diff)
	}
	// no whitespace after the dot: not a boundary
	if got := Sentences("v1.2 release"); len(got) != 1 {
		t.Fatalf("decimal split: %v", got)
	}
}

func TestByParagraphs(t *testing.T) {
	text := "first para\nstill first\n\n  \n second\n\n\nthird  "
	want := []string{"first para\nstill first", "second", "third"}
	if diff := cmp.Diff(want, ByParagraphs(text)); diff != "" {
		t.Fatalf("paragraphs (-want +got):\n%s", diff)
	}
}

func TestAutoPrefersParagraphs(t *testing.T) {
	text := "광합성은 빛 에너지를 이용한다.\n\n세포 호흡은 에너지를 방출한다."
	got := Auto(text, 500)
	if len(got) != 2 || got[1] != "세포 호흡은 에너지를 방출한다." {
		t.Fatalf("unexpected %v", got)
	}
}

func TestAutoFallsBackToSentences(t *testing.T) {
	text := "A b. C d. E f. G h."
	got := Auto(text, 500)
	want := []string{"A b. C d. E f.", "G h."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("auto (-want +got):\n%s", diff)
	}
}

func TestAutoFallsBackToLength(t *testing.T) {
	text := strings.Repeat("x", 1200)
	got := Auto(text, 500)
	if len(got) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(got))
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 500 {
			t.Fatalf("chunk too long: %d", utf8.RuneCountInString(c))
		}
	}
}

func TestLocate(t *testing.T) {
	text := "가나다. 라마바.\n\n사아자."
	spans := Split(text, 500, DefaultOverlap)
	if len(spans) != 2 {
		t.Fatalf("want 2 spans, got %+v", spans)
	}
	rs := []rune(text)
	for _, s := range spans {
		if string(rs[s.Start:s.End]) != s.Text {
			t.Fatalf("span %+v does not match source %q", s, string(rs[s.Start:s.End]))
		}
	}
}

func TestLocateRepeatedChunks(t *testing.T) {
	text := "abab"
	spans := Locate(text, []string{"ab", "ab"})
	if spans[0].Start != 0 || spans[1].Start != 2 {
		t.Fatalf("repeated chunk offsets: %+v", spans)
	}
}

func TestLocateRewrittenChunk(t *testing.T) {
	text := "One.\nTwo."
	spans := Locate(text, []string{"One. Two."})
	if spans[0].Start != 0 || spans[0].End != 9 {
		t.Fatalf("rewritten chunk span: %+v", spans[0])
	}
}
