// Package catalog breaks normalized transcript text into an indexed,
// immutable list of sentences.
//
// Every sentence records its byte offsets into the normalized text, and the
// catalog records the exact inter-sentence separators, so the original text
// can always be reconstructed verbatim from the catalog. Downstream stages
// cite sentences by index; the offsets let a caller map any citation back to
// the position in the normalized transcript.
package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/docground/docground/pkg/types"
)

// abbreviations are tokens whose trailing period does not end a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "eg": {}, "ie": {}, "no": {}, "fig": {},
	"al": {}, "approx": {}, "dept": {}, "est": {}, "min": {}, "max": {},
}

// Catalog is the immutable sentence index over one normalized transcript.
type Catalog struct {
	text       string
	sentences  []types.Sentence
	prefix     string   // text before the first sentence, usually empty
	separators []string // separators[i] follows sentences[i]
}

// Build tokenizes normalized text into sentences and returns the catalog.
// An empty or all-whitespace input yields an empty catalog.
func Build(text string) *Catalog {
	c := &Catalog{text: text}

	bounds := sentenceBounds(text)
	if len(bounds) == 0 {
		c.prefix = text
		return c
	}

	c.prefix = text[:bounds[0][0]]
	for i, b := range bounds {
		c.sentences = append(c.sentences, types.Sentence{
			Index:     i,
			Text:      text[b[0]:b[1]],
			CharStart: b[0],
			CharEnd:   b[1],
		})
		sepEnd := len(text)
		if i+1 < len(bounds) {
			sepEnd = bounds[i+1][0]
		}
		c.separators = append(c.separators, text[b[1]:sepEnd])
	}
	return c
}

// sentenceBounds returns [start, end) byte offsets of each sentence in text.
//
// A sentence ends at a run of terminal punctuation (".", "!", "?") that is
// followed by whitespace (or end of text), unless the period belongs to an
// abbreviation, a single-letter initial, or a number. A newline also ends the
// current sentence, so unpunctuated lines still become sentences.
func sentenceBounds(text string) [][2]int {
	var bounds [][2]int
	start := -1

	flush := func(end int) {
		if start >= 0 && end > start {
			bounds = append(bounds, [2]int{start, end})
		}
		start = -1
	}

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])

		if r == '\n' {
			flush(i)
			i += size
			continue
		}

		if start < 0 {
			if !unicode.IsSpace(r) {
				start = i
			}
			i += size
			continue
		}

		if r == '.' || r == '!' || r == '?' {
			// Extend over a run of terminal punctuation.
			end := i + size
			for end < len(text) {
				nr, ns := utf8.DecodeRuneInString(text[end:])
				if nr != '.' && nr != '!' && nr != '?' {
					break
				}
				end = end + ns
			}

			if r == '.' && protectedPeriod(text, start, i, end) {
				i = end
				continue
			}

			// Boundary only when followed by whitespace or end of text, so
			// "node.js" or "3.5" never split mid-token.
			if end >= len(text) {
				flush(end)
				i = end
				continue
			}
			nr, _ := utf8.DecodeRuneInString(text[end:])
			if unicode.IsSpace(nr) {
				flush(end)
			}
			i = end
			continue
		}

		i += size
	}
	flush(len(text))
	return bounds
}

// protectedPeriod reports whether the period at offset dot should NOT end a
// sentence: it trails an abbreviation, a single-letter initial, or sits
// between digits.
func protectedPeriod(text string, sentStart, dot, runEnd int) bool {
	// Digit on both sides: a decimal or version number.
	if dot > 0 && runEnd < len(text) {
		prev, _ := utf8.DecodeLastRuneInString(text[:dot])
		next, _ := utf8.DecodeRuneInString(text[runEnd:])
		if unicode.IsDigit(prev) && unicode.IsDigit(next) {
			return true
		}
	}

	// Collect the word immediately before the period.
	w := dot
	for w > sentStart {
		r, size := utf8.DecodeLastRuneInString(text[:w])
		if !unicode.IsLetter(r) {
			break
		}
		w -= size
	}
	word := strings.ToLower(text[w:dot])
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		return true // initial, or the tail of "e.g." / "i.e."
	}
	_, ok := abbreviations[word]
	return ok
}

// Len returns the number of sentences.
func (c *Catalog) Len() int {
	return len(c.sentences)
}

// Text returns the normalized text the catalog was built from.
func (c *Catalog) Text() string {
	return c.text
}

// ByIndex returns the sentence with the given index. The second return value
// is false when the index is out of range.
func (c *Catalog) ByIndex(i int) (types.Sentence, bool) {
	if i < 0 || i >= len(c.sentences) {
		return types.Sentence{}, false
	}
	return c.sentences[i], true
}

// Sentences returns a copy of the full sentence list.
func (c *Catalog) Sentences() []types.Sentence {
	out := make([]types.Sentence, len(c.sentences))
	copy(out, c.sentences)
	return out
}

// Slice returns the sentences with indices in [from, to). Out-of-range bounds
// are clamped.
func (c *Catalog) Slice(from, to int) []types.Sentence {
	if from < 0 {
		from = 0
	}
	if to > len(c.sentences) {
		to = len(c.sentences)
	}
	if from >= to {
		return nil
	}
	out := make([]types.Sentence, to-from)
	copy(out, c.sentences[from:to])
	return out
}

// Search returns every sentence whose text contains substr, case-insensitive.
func (c *Catalog) Search(substr string) []types.Sentence {
	if substr == "" {
		return nil
	}
	needle := strings.ToLower(substr)
	var out []types.Sentence
	for _, s := range c.sentences {
		if strings.Contains(strings.ToLower(s.Text), needle) {
			out = append(out, s)
		}
	}
	return out
}

// Reconstruct rebuilds the normalized text from the catalog's sentences and
// recorded separators. The result is byte-identical to Text().
func (c *Catalog) Reconstruct() string {
	var b strings.Builder
	b.Grow(len(c.text))
	b.WriteString(c.prefix)
	for i, s := range c.sentences {
		b.WriteString(s.Text)
		b.WriteString(c.separators[i])
	}
	return b.String()
}
