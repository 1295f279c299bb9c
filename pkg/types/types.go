// Package types defines the shared types used across all docground packages.
//
// These types form the lingua franca between the normalizer, segmenter,
// generator, grounding engine, and validator. They are intentionally minimal;
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

// Sentence is a single tokenized sentence from the normalized transcript.
// Sentences are immutable once the catalog is built: indices are contiguous,
// zero-based, and monotonically increasing in document order.
type Sentence struct {
	// Index is the zero-based position of this sentence in the catalog.
	Index int

	// Text is the sentence content, exactly as it appears in the normalized text.
	Text string

	// CharStart is the byte offset of the first byte of Text in the normalized text.
	CharStart int

	// CharEnd is the byte offset one past the last byte of Text in the normalized text.
	CharEnd int
}

// BoundaryReason records how a topic segment's boundary was decided.
type BoundaryReason string

const (
	// BoundaryNatural means the segment was delimited by detected topic
	// boundaries (transition phrases, paragraph breaks, lexical drift).
	BoundaryNatural BoundaryReason = "natural"

	// BoundaryFallbackSplit means the segment was produced by the deterministic
	// minimum-count fallback that subdivides the largest natural segment.
	BoundaryFallbackSplit BoundaryReason = "fallback_split"
)

// TopicSegment is a contiguous run of catalog sentences intended to become one
// generated step. The union of all segments' SentenceIndices, in order, covers
// the full catalog exactly once, with no gaps and no overlaps.
type TopicSegment struct {
	// Index is the zero-based position of this segment in document order.
	Index int

	// SentenceIndices lists the catalog indices of the sentences in this
	// segment, in ascending order.
	SentenceIndices []int

	// BoundaryReason records whether this segment arose from natural boundary
	// detection or from the minimum-count fallback split.
	BoundaryReason BoundaryReason
}

// KnowledgeExcerpt is an optional external reference text supplied alongside
// the transcript to enrich step content and grounding. Excerpts are consumed
// read-only; the pipeline never mutates them.
type KnowledgeExcerpt struct {
	// ID uniquely identifies the excerpt within its source.
	ID string

	// Text is the excerpt content.
	Text string

	// Relevance is the supplier's own estimate of how relevant this excerpt is
	// to the transcript, in [0, 1]. Grounding weights match scores by it.
	Relevance float64

	// SourceLocator identifies where the excerpt came from (URL, document ID).
	SourceLocator string
}

// StepDraft is the structured output of one LLM generation call for one topic
// segment. Drafts are produced once and never mutated afterward.
type StepDraft struct {
	// SegmentIndex is the index of the TopicSegment this draft was generated from.
	SegmentIndex int

	// Title is a short, descriptive heading for the step.
	Title string

	// Summary is a one- or two-sentence overview of the step.
	Summary string

	// Details is the full instructional body of the step.
	Details string

	// Actions lists the discrete user actions the step describes, in order.
	Actions []string
}

// SourceKind classifies where a piece of grounding evidence came from.
type SourceKind string

const (
	// KindTranscript marks evidence drawn from the transcript sentence catalog.
	KindTranscript SourceKind = "transcript"

	// KindKnowledge marks evidence drawn from a supplied knowledge excerpt.
	KindKnowledge SourceKind = "knowledge"

	// KindVisual marks evidence drawn from a preserved visual/structural marker
	// in the transcript (e.g. "[screen shows ...]").
	KindVisual SourceKind = "visual"
)

// SourceReference is one piece of evidence supporting a generated step.
type SourceReference struct {
	// Kind classifies the evidence source.
	Kind SourceKind

	// Locator identifies the evidence within its source: a catalog sentence
	// index rendered as "sentence:N" for transcript/visual references, or the
	// excerpt's SourceLocator for knowledge references.
	Locator string

	// Excerpt is the matched source text itself, quoted for auditability.
	Excerpt string

	// MatchScore is the composite similarity between the step content and this
	// evidence, in [0, 1].
	MatchScore float64
}

// Step is a StepDraft composed with its grounding evidence, confidence score,
// and acceptance decision. Accepted is set exactly once by the validator and
// is the last mutation in the step's lifecycle.
type Step struct {
	// Draft is the generated step content.
	Draft StepDraft

	// Sources is the evidence found for the draft, strongest first.
	// Empty when no candidate cleared the match threshold.
	Sources []SourceReference

	// Confidence is the bounded composite confidence estimate in [0, 1].
	// Zero sources always means zero confidence.
	Confidence float64

	// Flags carries audit annotations (e.g. rejection reasons, degraded
	// grounding). Never nil after validation.
	Flags []string

	// Accepted reports whether the step passed the acceptance policy.
	Accepted bool
}
