// Package segment groups cataloged sentences into coherent topic segments.
//
// Boundaries come from three signals: explicit transition phrases ("now let's
// move on", "step 3"), paragraph breaks in the normalized text, and lexical
// drift between sentence windows. Each signal contributes a weighted score;
// when the combined score crosses the threshold a new segment starts.
//
// The segments always form an ordered partition of the catalog: every
// sentence belongs to exactly one segment, and a non-empty catalog always
// yields at least min(MinSegments, sentence count) segments.
package segment

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/docground/docground/internal/catalog"
	"github.com/docground/docground/internal/textutil"
	"github.com/docground/docground/pkg/types"
)

// transitionPattern matches phrases speakers use to announce a topic change.
var transitionPattern = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`\b(?:now|next|okay|alright|so),?\s+let'?s\s+`,
	`\bmoving on\b`,
	`\bnow (?:let's|we'll|we will)\b`,
	`\bnext,?\s+(?:we'll|we're|we will|up|step|part|section)\b`,
	`\b(?:first|second|third|finally|lastly)\b`,
	`\bstep \d+\b`,
	`\bpart \d+\b`,
	`\blet's talk about\b`,
	`\blet's discuss\b`,
	`\blet's move (?:on )?to\b`,
	`\bthe next (?:thing|topic|item)\b`,
}, "|"))

// sequenceMarkerPattern matches sentences that open with an enumeration word
// ("First ...", "Then ...", "Next ..."). Anchoring at the sentence start keeps
// mid-sentence uses ("and then restart") from creating boundaries.
var sequenceMarkerPattern = regexp.MustCompile(`(?i)^\s*(?:first|second|third|then|next|finally|lastly)\b`)

// Signal weights. They sum to 1.0; either strong signal alone crosses the
// boundary threshold, lexical drift only tips borderline cases.
const (
	weightTransition = 0.45
	weightParagraph  = 0.45
	weightDrift      = 0.10

	boundaryThreshold = 0.40
)

// Config holds segmentation tuning knobs. The zero value gets defaults
// applied by New.
type Config struct {
	// MinSegmentSentences is the smallest standalone segment; smaller ones are
	// merged into their predecessor. Default: 2.
	MinSegmentSentences int

	// MinSegments is the minimum number of segments produced for any catalog
	// with at least that many sentences. Default: 3.
	MinSegments int

	// MaxSegments caps the segment count; 0 means no cap. Excess segments are
	// removed by merging the smallest adjacent pair.
	MaxSegments int

	// WindowSize is the number of sentences on each side used for lexical
	// drift comparison. Default: 3.
	WindowSize int
}

func (c *Config) applyDefaults() {
	if c.MinSegmentSentences <= 0 {
		c.MinSegmentSentences = 2
	}
	if c.MinSegments <= 0 {
		c.MinSegments = 3
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 3
	}
}

// Segmenter splits a sentence catalog into topic segments. It is stateless
// and safe for concurrent use.
type Segmenter struct {
	cfg Config
}

// New creates a Segmenter, filling zero config fields with defaults.
func New(cfg Config) *Segmenter {
	cfg.applyDefaults()
	return &Segmenter{cfg: cfg}
}

// Segment partitions the catalog into topic segments. An empty catalog yields
// nil; any non-empty catalog yields at least one segment.
func (s *Segmenter) Segment(cat *catalog.Catalog) []types.TopicSegment {
	n := cat.Len()
	if n == 0 {
		return nil
	}

	starts := s.boundaryStarts(cat)
	segments := buildSegments(starts, n)
	segments = s.mergeSmall(segments, cat)
	if len(segments) < s.cfg.MinSegments {
		slog.Warn("too few natural topic boundaries, splitting largest segment",
			"natural", len(segments),
			"minimum", s.cfg.MinSegments)
		segments = s.ensureMinimum(segments)
	}
	if s.cfg.MaxSegments > 0 && len(segments) > s.cfg.MaxSegments {
		segments = s.capMaximum(segments)
	}
	reindex(segments)

	slog.Debug("segmentation complete",
		"sentences", n,
		"segments", len(segments))
	return segments
}

// boundaryStarts returns the sentence indices that open a new segment. Index
// 0 always does.
func (s *Segmenter) boundaryStarts(cat *catalog.Catalog) []int {
	sentences := cat.Sentences()
	text := cat.Text()
	starts := []int{0}

	for i := 1; i < len(sentences); i++ {
		score := 0.0

		if transitionPattern.MatchString(sentences[i].Text) || sequenceMarkerPattern.MatchString(sentences[i].Text) {
			score += weightTransition
		}
		gap := text[sentences[i-1].CharEnd:sentences[i].CharStart]
		if strings.Contains(gap, "\n\n") {
			score += weightParagraph
		}
		score += weightDrift * s.driftScore(sentences, i)

		if score > boundaryThreshold {
			starts = append(starts, i)
		}
	}
	return starts
}

// driftScore measures how little the upcoming window of sentences shares
// vocabulary with the preceding window. 1.0 means no keyword overlap.
func (s *Segmenter) driftScore(sentences []types.Sentence, i int) float64 {
	before := windowKeywords(sentences, i-s.cfg.WindowSize, i)
	after := windowKeywords(sentences, i, i+s.cfg.WindowSize)
	if len(before) == 0 || len(after) == 0 {
		return 0.5
	}
	return 1.0 - textutil.Jaccard(before, after)
}

func windowKeywords(sentences []types.Sentence, from, to int) map[string]struct{} {
	if from < 0 {
		from = 0
	}
	if to > len(sentences) {
		to = len(sentences)
	}
	set := make(map[string]struct{})
	for _, s := range sentences[from:to] {
		for k := range textutil.Keywords(s.Text) {
			set[k] = struct{}{}
		}
	}
	return set
}

func buildSegments(starts []int, total int) []types.TopicSegment {
	segments := make([]types.TopicSegment, 0, len(starts))
	for i, start := range starts {
		end := total
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		segments = append(segments, newSegment(start, end, types.BoundaryNatural))
	}
	return segments
}

func newSegment(start, end int, reason types.BoundaryReason) types.TopicSegment {
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return types.TopicSegment{
		SentenceIndices: indices,
		BoundaryReason:  reason,
	}
}

// mergeSmall folds segments below MinSegmentSentences into their predecessor.
// The first segment is kept even when small: it is usually the introduction.
// Segments opened by a sequence marker also survive: a one-sentence "Then
// navigate to settings." is an intentional step, not segmentation noise.
func (s *Segmenter) mergeSmall(segments []types.TopicSegment, cat *catalog.Catalog) []types.TopicSegment {
	if len(segments) <= 1 {
		return segments
	}
	merged := segments[:1]
	for _, seg := range segments[1:] {
		if len(seg.SentenceIndices) >= s.cfg.MinSegmentSentences {
			merged = append(merged, seg)
			continue
		}
		if first, ok := cat.ByIndex(seg.SentenceIndices[0]); ok && sequenceMarkerPattern.MatchString(first.Text) {
			merged = append(merged, seg)
			continue
		}
		last := &merged[len(merged)-1]
		last.SentenceIndices = append(last.SentenceIndices, seg.SentenceIndices...)
	}
	return merged
}

// ensureMinimum splits the largest segment into near-equal contiguous parts
// until MinSegments is reached. The split is deterministic: earlier parts get
// the extra sentences when the division is uneven. Sub-segments are marked
// BoundaryFallbackSplit so later stages know these boundaries are synthetic.
func (s *Segmenter) ensureMinimum(segments []types.TopicSegment) []types.TopicSegment {
	needed := s.cfg.MinSegments - len(segments)

	// Locate the largest segment; ties go to the earliest.
	largest := 0
	for i, seg := range segments {
		if len(seg.SentenceIndices) > len(segments[largest].SentenceIndices) {
			largest = i
		}
	}

	indices := segments[largest].SentenceIndices
	parts := needed + 1
	if parts > len(indices) {
		parts = len(indices)
	}
	if parts <= 1 {
		return segments
	}

	base := len(indices) / parts
	extra := len(indices) % parts

	splits := make([]types.TopicSegment, 0, parts)
	offset := 0
	for p := 0; p < parts; p++ {
		size := base
		if p < extra {
			size++
		}
		splits = append(splits, types.TopicSegment{
			SentenceIndices: indices[offset : offset+size : offset+size],
			BoundaryReason:  types.BoundaryFallbackSplit,
		})
		offset += size
	}

	out := make([]types.TopicSegment, 0, len(segments)+len(splits)-1)
	out = append(out, segments[:largest]...)
	out = append(out, splits...)
	out = append(out, segments[largest+1:]...)
	return out
}

// capMaximum merges the smallest adjacent pair until the count fits
// MaxSegments. The earlier segment's boundary reason survives the merge.
func (s *Segmenter) capMaximum(segments []types.TopicSegment) []types.TopicSegment {
	for len(segments) > s.cfg.MaxSegments {
		best := 0
		bestSize := len(segments[0].SentenceIndices) + len(segments[1].SentenceIndices)
		for i := 1; i < len(segments)-1; i++ {
			size := len(segments[i].SentenceIndices) + len(segments[i+1].SentenceIndices)
			if size < bestSize {
				best = i
				bestSize = size
			}
		}
		segments[best].SentenceIndices = append(segments[best].SentenceIndices, segments[best+1].SentenceIndices...)
		segments = append(segments[:best+1], segments[best+2:]...)
	}
	return segments
}

func reindex(segments []types.TopicSegment) {
	for i := range segments {
		segments[i].Index = i
	}
}
