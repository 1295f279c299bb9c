package catalog

import (
	"strings"
	"testing"
)

func TestBuild_SplitsOnTerminalPunctuation(t *testing.T) {
	c := Build("Open the terminal. Run the script! Does it work? It does.")
	if c.Len() != 4 {
		t.Fatalf("Len = %d, want 4", c.Len())
	}
	want := []string{
		"Open the terminal.",
		"Run the script!",
		"Does it work?",
		"It does.",
	}
	for i, w := range want {
		s, ok := c.ByIndex(i)
		if !ok {
			t.Fatalf("ByIndex(%d) not found", i)
		}
		if s.Text != w {
			t.Fatalf("sentence %d = %q, want %q", i, s.Text, w)
		}
		if s.Index != i {
			t.Fatalf("sentence %d has Index %d", i, s.Index)
		}
	}
}

func TestBuild_AbbreviationsDoNotSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"title", "Mr. Smith opened the console.", 1},
		{"eg", "Use a cache, e.g. Redis, for hot keys.", 1},
		{"etc", "Check logs, metrics, etc. before restarting.", 1},
		{"version number", "Upgrade to version 3.5 before migrating.", 1},
		{"domain name", "The node.js service restarts automatically.", 1},
		{"two real sentences", "Install Redis. Then start it.", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Build(tt.text)
			if c.Len() != tt.want {
				var got []string
				for _, s := range c.Sentences() {
					got = append(got, s.Text)
				}
				t.Fatalf("Len = %d, want %d (sentences: %q)", c.Len(), tt.want, got)
			}
		})
	}
}

func TestBuild_NewlineEndsSentence(t *testing.T) {
	c := Build("first line without punctuation\nsecond line")
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	s0, _ := c.ByIndex(0)
	if s0.Text != "first line without punctuation" {
		t.Fatalf("sentence 0 = %q", s0.Text)
	}
}

func TestBuild_OffsetsAddressNormalizedText(t *testing.T) {
	text := "Open the settings page. Click save.\nVerify the result."
	c := Build(text)
	for _, s := range c.Sentences() {
		if got := text[s.CharStart:s.CharEnd]; got != s.Text {
			t.Fatalf("offsets [%d,%d) address %q, want %q", s.CharStart, s.CharEnd, got, s.Text)
		}
	}
}

func TestReconstruct_RoundTrip(t *testing.T) {
	texts := []string{
		"",
		"single sentence without punctuation",
		"Open the terminal. Run the script! Done?",
		"Mr. Smith said e.g. version 3.5 works.\n\nNew paragraph here. And more.",
		"line one\nline two\nline three.",
	}
	for _, text := range texts {
		c := Build(text)
		if got := c.Reconstruct(); got != text {
			t.Fatalf("round trip failed:\n got %q\nwant %q", got, text)
		}
	}
}

func TestByIndex_OutOfRange(t *testing.T) {
	c := Build("Only one sentence here.")
	if _, ok := c.ByIndex(-1); ok {
		t.Fatal("ByIndex(-1) should report not found")
	}
	if _, ok := c.ByIndex(1); ok {
		t.Fatal("ByIndex(1) should report not found")
	}
}

func TestSearch_CaseInsensitive(t *testing.T) {
	c := Build("Install the Redis server. Configure persistence. Restart redis now.")
	hits := c.Search("redis")
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if c.Search("") != nil {
		t.Fatal("empty query should return nil")
	}
	if hits := c.Search("kafka"); len(hits) != 0 {
		t.Fatalf("got %d hits for absent term, want 0", len(hits))
	}
}

func TestSlice_Clamps(t *testing.T) {
	c := Build("One. Two. Three. Four.")
	got := c.Slice(1, 3)
	if len(got) != 2 {
		t.Fatalf("Slice(1,3) len = %d, want 2", len(got))
	}
	if got[0].Index != 1 || got[1].Index != 2 {
		t.Fatalf("Slice returned wrong indices: %d, %d", got[0].Index, got[1].Index)
	}
	if out := c.Slice(-5, 100); len(out) != c.Len() {
		t.Fatalf("clamped slice len = %d, want %d", len(out), c.Len())
	}
	if out := c.Slice(3, 1); out != nil {
		t.Fatal("inverted range should return nil")
	}
}

func TestBuild_EmptyAndWhitespace(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n"} {
		c := Build(text)
		if c.Len() != 0 {
			t.Fatalf("Len(%q) = %d, want 0", text, c.Len())
		}
		if c.Reconstruct() != text {
			t.Fatalf("round trip failed for %q", text)
		}
	}
}

func TestSentences_ReturnsCopy(t *testing.T) {
	c := Build("One. Two.")
	got := c.Sentences()
	got[0].Text = "mutated"
	s0, _ := c.ByIndex(0)
	if s0.Text == "mutated" {
		t.Fatal("Sentences must not expose internal storage")
	}
	if !strings.HasPrefix(s0.Text, "One") {
		t.Fatalf("unexpected sentence 0: %q", s0.Text)
	}
}
