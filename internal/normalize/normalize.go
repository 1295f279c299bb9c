// Package normalize turns raw transcript bytes into clean prose ready for
// sentence cataloging.
//
// The cleaning pipeline removes the machine noise that transcription tools
// leave behind (WEBVTT headers, timestamps, speaker labels, transcriber tags,
// filler words, repeated template phrases, near-duplicate sentences) while
// preserving visual markers such as "[screen shows ...]" that later stages
// turn into visual source references.
package normalize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultFillerWords are the verbal tics removed from transcripts unless the
// caller supplies a custom list.
var DefaultFillerWords = []string{
	"um", "uh", "umm", "uhh", "er", "ah", "like", "you know",
	"i mean", "sort of", "kind of", "basically", "actually",
	"literally", "right", "okay", "ok", "yeah", "yep", "mhm",
}

// DefaultDedupeThreshold is the Jaro-Winkler similarity at or above which two
// sentences are treated as duplicates of each other.
const DefaultDedupeThreshold = 0.9

// transcriberTags are annotations transcription tools insert that carry no
// instructional content.
var transcriberTags = []string{
	"[inaudible]", "[crosstalk]", "[laughter]", "[music]",
	"[applause]", "[silence]", "(inaudible)", "(crosstalk)",
	"(laughter)", "(laughs)", "(music)", "(applause)", "(silence)",
	"[unintelligible]", "(unintelligible)",
}

// repetitiveTemplates match instructor boilerplate that repeats across a
// session and lowers citation quality when kept.
var repetitiveTemplates = compileAll([]string{
	`(?i)continuing in our hands[- ]on section`,
	`(?i)let's continue with (?:the|our) hands[- ]on`,
	`(?i)moving on to (?:the )?next (?:part|section|topic)`,
	`(?i)as (?:i|we) mentioned (?:before|earlier)`,
	`(?i)like (?:i|we) said`,
	`(?i)(?:so|now),? let's move on`,
	`(?i)(?:okay|alright),? (?:so|now)`,
	`(?i)and that's it for (?:this|that) (?:part|section)`,
	`(?i)we(?:'ll| will) get (?:back )?to (?:this|that) later`,
	`(?i)we(?:'ll| will) discuss (?:this|that) (?:more )?(?:later|soon)`,
})

// visualMarkers are structural annotations that must SURVIVE cleaning. They
// describe what was on screen and become KindVisual sources downstream.
var visualMarkers = compileAll([]string{
	`(?i)\[screen shows[^\]]*\]`,
	`(?i)\[diagram[^\]]*\]`,
	`(?i)\[slide[^\]]*\]`,
	`(?i)\[demo[^\]]*\]`,
	`(?i)\[code[^\]]*\]`,
	`(?i)\[architecture[^\]]*\]`,
	`(?i)\[showing[^\]]*\]`,
})

// IsVisualMarker reports whether text contains one of the preserved visual
// markers. Grounding uses this to classify matched sentences.
func IsVisualMarker(text string) bool {
	for _, re := range visualMarkers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var timestampPatterns = compileAll([]string{
	`\[\d{1,2}:\d{2}:\d{2}(?:\.\d{3})?\]`,
	`\(\d{1,2}:\d{2}:\d{2}(?:\.\d{3})?\)`,
	`<\d{1,2}:\d{2}:\d{2}(?:\.\d{3})?>`,
	`\d{1,2}:\d{2}:\d{2}(?:\.\d{3})?\s*-\s*`,
	`(?m)^\d{1,2}:\d{2}:\d{2}(?:\.\d{3})?\s+`,
})

var speakerLabelPatterns = compileAll([]string{
	`(?i)^\s*(?:speaker\s*\d*|[a-z][a-z]+)\s*:\s*`,
	`(?i)^\s*\[(?:speaker\s*\d*|[a-z][a-z]+)\]\s*:\s*`,
	`(?i)^\s*>>\s*(?:speaker\s*\d*|[a-z][a-z]+)\s*:\s*`,
	`(?i)^\s*\*\*(?:speaker\s*\d*|[a-z][a-z]+)\*\*\s*:\s*`,
})

var (
	webvttHeaderRe = regexp.MustCompile(`(?i)WEBVTT\s*`)
	webvttNoteRe   = regexp.MustCompile(`(?i)NOTE\s+[^\n]*\n`)
	webvttStyleRe  = regexp.MustCompile(`(?i)STYLE\s+[^\n]*\n`)
	webvttVoiceRe  = regexp.MustCompile(`<v\s+[^>]+>`)
	webvttVoiceEnd = regexp.MustCompile(`</v>`)

	bracketTagRe = regexp.MustCompile(`\[[\w\s]+\]`)
	parenTagRe   = regexp.MustCompile(`\([\w\s]+\)`)

	spaceAfterPunctRe  = regexp.MustCompile(`([.!?,;:])([A-Za-z])`)
	spaceBeforePunctRe = regexp.MustCompile(`\s+([.!?,;:])`)
	multiPunctRe       = regexp.MustCompile(`([.!?]){2,}`)

	multiSpaceRe   = regexp.MustCompile(` {2,}`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

func compileAll(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// Normalizer cleans raw transcript text. It is stateless after construction
// and safe for concurrent use.
type Normalizer struct {
	fillerPatterns  []*regexp.Regexp
	dedupe          bool
	dedupeThreshold float64
}

// Option is a functional option for [New].
type Option func(*Normalizer)

// WithFillerWords adds custom filler words on top of DefaultFillerWords.
func WithFillerWords(words ...string) Option {
	return func(n *Normalizer) {
		for _, w := range words {
			n.fillerPatterns = append(n.fillerPatterns, fillerPattern(w))
		}
	}
}

// WithoutDedupe disables near-duplicate sentence removal.
func WithoutDedupe() Option {
	return func(n *Normalizer) {
		n.dedupe = false
	}
}

// WithDedupeThreshold overrides the similarity threshold for duplicate
// detection. Values outside (0, 1] are ignored.
func WithDedupeThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		if threshold > 0 && threshold <= 1 {
			n.dedupeThreshold = threshold
		}
	}
}

func fillerPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

// New creates a Normalizer with the default filler word list and duplicate
// removal enabled.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		dedupe:          true,
		dedupeThreshold: DefaultDedupeThreshold,
	}
	for _, w := range DefaultFillerWords {
		n.fillerPatterns = append(n.fillerPatterns, fillerPattern(w))
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize decodes raw transcript bytes and runs the full cleaning pipeline.
// It returns ErrEncoding (wrapped) when the bytes cannot be decoded.
func (n *Normalizer) Normalize(raw []byte) (string, error) {
	text, err := Decode(raw)
	if err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}
	cleaned := n.NormalizeString(text)
	slog.Debug("transcript normalized",
		"raw_bytes", len(raw),
		"cleaned_chars", len(cleaned))
	return cleaned, nil
}

// NormalizeString runs the cleaning pipeline on already-decoded text.
//
// Pass order matters: structural noise (WEBVTT, timestamps, speaker labels,
// transcriber tags) goes first so filler and template matching sees plain
// prose; punctuation and whitespace fixes run last over the survivors.
func (n *Normalizer) NormalizeString(text string) string {
	text = removeWebVTTArtifacts(text)
	text = removeTimestamps(text)
	text = removeSpeakerLabels(text)
	text = removeTranscriberTags(text)
	text = n.removeFillerWords(text)
	text = removeRepetitiveTemplates(text)
	if n.dedupe {
		text = n.mergeDuplicateSentences(text)
	}
	text = fixPunctuation(text)
	text = normalizeWhitespace(text)
	return text
}

func removeWebVTTArtifacts(text string) string {
	text = webvttHeaderRe.ReplaceAllString(text, "")
	text = webvttNoteRe.ReplaceAllString(text, "")
	text = webvttStyleRe.ReplaceAllString(text, "")
	text = webvttVoiceRe.ReplaceAllString(text, "")
	text = webvttVoiceEnd.ReplaceAllString(text, "")
	return text
}

func removeTimestamps(text string) string {
	for _, re := range timestampPatterns {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

func removeSpeakerLabels(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		for _, re := range speakerLabelPatterns {
			line = re.ReplaceAllString(line, "")
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// removeTranscriberTags strips bracketed and parenthesized annotations while
// keeping visual markers intact. Markers are swapped for NUL-delimited
// placeholders first so the generic bracket patterns cannot touch them, then
// restored.
func removeTranscriberTags(text string) string {
	for _, tag := range transcriberTags {
		text = strings.ReplaceAll(text, tag, "")
	}

	var preserved []string
	for _, re := range visualMarkers {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			preserved = append(preserved, m)
			return fmt.Sprintf("\x00%d\x00", len(preserved)-1)
		})
	}

	text = bracketTagRe.ReplaceAllString(text, "")
	text = parenTagRe.ReplaceAllString(text, "")

	for i, m := range preserved {
		text = strings.Replace(text, fmt.Sprintf("\x00%d\x00", i), m, 1)
	}
	return text
}

func (n *Normalizer) removeFillerWords(text string) string {
	for _, re := range n.fillerPatterns {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

func removeRepetitiveTemplates(text string) string {
	for _, re := range repetitiveTemplates {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

// mergeDuplicateSentences keeps the first of any group of near-identical
// sentences. Repeated content causes citation ambiguity later: two identical
// sentences cannot be told apart as sources.
func (n *Normalizer) mergeDuplicateSentences(text string) string {
	sentences := strings.Split(text, ". ")
	unique := make([]string, 0, len(sentences))
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		dup := false
		for _, kept := range unique {
			if matchr.JaroWinkler(strings.ToLower(s), strings.ToLower(kept), false) >= n.dedupeThreshold {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, s)
		}
	}
	return strings.Join(unique, ". ")
}

func fixPunctuation(text string) string {
	text = spaceAfterPunctRe.ReplaceAllString(text, "$1 $2")
	text = spaceBeforePunctRe.ReplaceAllString(text, "$1")
	text = multiPunctRe.ReplaceAllString(text, "$1")
	return text
}

func normalizeWhitespace(text string) string {
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
