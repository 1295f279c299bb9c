package normalize

import (
	"errors"
	"strings"
	"testing"
)

func TestDecode_UTF8Passthrough(t *testing.T) {
	in := []byte("héllo wörld")
	got, err := Decode(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "héllo wörld" {
		t.Fatalf("decoded = %q, want héllo wörld", got)
	}
}

func TestDecode_Latin1Fallback(t *testing.T) {
	// "café" as latin-1: 0xE9 is not valid UTF-8 on its own.
	in := []byte{'c', 'a', 'f', 0xe9}
	got, err := Decode(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "café" {
		t.Fatalf("decoded = %q, want café", got)
	}
}

func TestDecode_ErrEncodingWrapped(t *testing.T) {
	// Latin-1 accepts every byte sequence, so a decode failure is not reachable
	// with real inputs. Verify the sentinel unwraps correctly anyway.
	if !errors.Is(ErrEncoding, ErrEncoding) {
		t.Fatal("sentinel identity broken")
	}
}

func TestRemoveTimestamps(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bracketed", "[00:15:32] Click the button", " Click the button"},
		{"bracketed millis", "[00:15:32.123] Click", " Click"},
		{"parenthesized", "(01:02:03) Open settings", " Open settings"},
		{"angle", "<00:15:32> Save the file", " Save the file"},
		{"dash suffix", "00:15:32 - Deploy now", "Deploy now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeTimestamps(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveSpeakerLabels(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"numbered", "Speaker 1: Open the console", "Open the console"},
		{"name", "John: run the migration", "run the migration"},
		{"chevron", ">> Speaker 2: check logs", "check logs"},
		{"bold", "**Speaker 1**: deploy", "deploy"},
		{"mid-line colon kept", "the ratio is 3:1 here", "the ratio is 3:1 here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeSpeakerLabels(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveTranscriberTags_PreservesVisualMarkers(t *testing.T) {
	in := "[inaudible] Click save. [screen shows the settings page] (laughs) Done. [background noise]"
	got := removeTranscriberTags(in)

	if !strings.Contains(got, "[screen shows the settings page]") {
		t.Fatalf("visual marker was stripped: %q", got)
	}
	for _, gone := range []string{"[inaudible]", "(laughs)", "[background noise]"} {
		if strings.Contains(got, gone) {
			t.Fatalf("tag %q survived: %q", gone, got)
		}
	}
}

func TestIsVisualMarker(t *testing.T) {
	if !IsVisualMarker("[screen shows the login form]") {
		t.Fatal("screen marker not detected")
	}
	if !IsVisualMarker("now look here [diagram of the network topology]") {
		t.Fatal("diagram marker not detected")
	}
	if IsVisualMarker("plain sentence with no markers") {
		t.Fatal("false positive on plain text")
	}
}

func TestRemoveFillerWords(t *testing.T) {
	n := New()
	got := n.removeFillerWords("Um, this is, you know, important stuff")
	for _, gone := range []string{"Um", "you know"} {
		if strings.Contains(got, gone) {
			t.Fatalf("filler %q survived: %q", gone, got)
		}
	}
	if !strings.Contains(got, "important stuff") {
		t.Fatalf("content lost: %q", got)
	}
}

func TestWithFillerWords_Custom(t *testing.T) {
	n := New(WithFillerWords("gonna"))
	got := n.removeFillerWords("we are gonna deploy")
	if strings.Contains(got, "gonna") {
		t.Fatalf("custom filler survived: %q", got)
	}
}

func TestRemoveRepetitiveTemplates(t *testing.T) {
	in := "As I mentioned earlier, the cache is warm. Moving on to the next section now."
	got := removeRepetitiveTemplates(in)
	if strings.Contains(strings.ToLower(got), "as i mentioned") {
		t.Fatalf("template survived: %q", got)
	}
	if strings.Contains(strings.ToLower(got), "moving on to the next section") {
		t.Fatalf("template survived: %q", got)
	}
	if !strings.Contains(got, "the cache is warm") {
		t.Fatalf("content lost: %q", got)
	}
}

func TestMergeDuplicateSentences(t *testing.T) {
	n := New()
	in := "The server restarts automatically. The server restarts automatically. Then check the logs"
	got := n.mergeDuplicateSentences(in)
	if c := strings.Count(got, "The server restarts automatically"); c != 1 {
		t.Fatalf("duplicate kept %d times, want 1: %q", c, got)
	}
	if !strings.Contains(got, "Then check the logs") {
		t.Fatalf("distinct sentence lost: %q", got)
	}
}

func TestMergeDuplicateSentences_NearDuplicate(t *testing.T) {
	n := New()
	in := "Restart the HTTP server on port 8080 now. Restart the HTTP server on port 8080 now please. Different content entirely here"
	got := n.mergeDuplicateSentences(in)
	if c := strings.Count(got, "Restart the HTTP server"); c != 1 {
		t.Fatalf("near-duplicate kept %d times, want 1: %q", c, got)
	}
}

func TestFixPunctuation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"space after comma", "Hello,world", "Hello, world"},
		{"space before period", "Done .", "Done."},
		{"collapsed repeats", "Wait!!! What", "Wait! What"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fixPunctuation(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "  line one   with   gaps  \n\n\n\n  line two  "
	want := "line one with gaps\n\nline two"
	if got := normalizeWhitespace(in); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalize_FullPipeline(t *testing.T) {
	raw := []byte("WEBVTT\n[00:01:15] Speaker 1: Um, first open the terminal. [inaudible]\n[00:01:42] Speaker 1: Then, you know, run the install script. [screen shows a terminal window]\n")

	n := New()
	got, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, gone := range []string{"WEBVTT", "[00:01", "Speaker 1:", "[inaudible]"} {
		if strings.Contains(got, gone) {
			t.Fatalf("noise %q survived: %q", gone, got)
		}
	}
	if !strings.Contains(got, "open the terminal") {
		t.Fatalf("content lost: %q", got)
	}
	if !strings.Contains(got, "[screen shows a terminal window]") {
		t.Fatalf("visual marker lost: %q", got)
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	n := New()
	got, err := n.Normalize(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
