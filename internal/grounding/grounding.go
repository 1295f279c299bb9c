// Package grounding links generated step drafts back to their source
// material.
//
// For each draft the engine scores every candidate sentence with a hybrid of
// semantic similarity (embeddings cosine) and lexical overlap (Jaccard over
// keyword sets). Sentences from the draft's own segment are scored at full
// weight; the rest of the catalog participates at a reduced weight so strong
// out-of-segment evidence can still surface. Knowledge excerpts are matched
// the same way, weighted by their own relevance.
//
// When no embeddings provider is available, or an embedding call fails,
// grounding degrades to lexical-only scoring and flags the step rather than
// failing the pipeline.
package grounding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/docground/docground/internal/catalog"
	"github.com/docground/docground/internal/normalize"
	"github.com/docground/docground/internal/textutil"
	"github.com/docground/docground/pkg/provider/embeddings"
	"github.com/docground/docground/pkg/types"
)

// FlagLexicalOnly marks steps grounded without semantic similarity because
// the embeddings provider was missing or failing.
const FlagLexicalOnly = "lexical_only_grounding"

// Config holds grounding tuning knobs. Zero fields get defaults from New.
type Config struct {
	// Alpha is the semantic share of the composite score; the lexical share is
	// 1-Alpha. Default: 0.6.
	Alpha float64

	// MinMatchScore is the lowest composite score kept as a source. Default: 0.2.
	MinMatchScore float64

	// MaxTranscriptSources caps transcript and visual references per step.
	// Default: 5.
	MaxTranscriptSources int

	// MaxKnowledgeSources caps knowledge references per step. Default: 3.
	MaxKnowledgeSources int

	// CatalogFallbackWeight scales scores of sentences outside the draft's own
	// segment. Default: 0.75.
	CatalogFallbackWeight float64
}

func (c *Config) applyDefaults() {
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = 0.6
	}
	if c.MinMatchScore <= 0 {
		c.MinMatchScore = 0.2
	}
	if c.MaxTranscriptSources <= 0 {
		c.MaxTranscriptSources = 5
	}
	if c.MaxKnowledgeSources <= 0 {
		c.MaxKnowledgeSources = 3
	}
	if c.CatalogFallbackWeight <= 0 || c.CatalogFallbackWeight > 1 {
		c.CatalogFallbackWeight = 0.75
	}
}

// Reuse penalty: each time a sentence has already been cited, later citations
// of it lose 15%, capped at 60%. This spreads citations across the transcript
// instead of letting one catchy sentence back every step.
const (
	reusePenaltyStep = 0.15
	reusePenaltyCap  = 0.6
)

// Technical boost: viable matches gain up to 20% of the sentence's technical
// score. Matches below the floor stay untouched so the boost cannot rescue
// noise.
const (
	technicalBoostWeight = 0.2
	technicalBoostFloor  = 0.10
)

// Engine grounds step drafts against a sentence catalog and optional
// knowledge excerpts. It tracks sentence reuse across calls, so one Engine
// serves one pipeline job. Safe for concurrent use.
type Engine struct {
	cfg      Config
	embedder embeddings.Provider // nil means lexical-only

	mu   sync.Mutex
	used map[int]int // catalog sentence index -> citation count
}

// New creates an Engine. A nil embedder is allowed: every step is then
// grounded lexically and flagged with FlagLexicalOnly.
func New(embedder embeddings.Provider, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		embedder: embedder,
		used:     make(map[int]int),
	}
}

// Ground finds the source references supporting a draft. It returns the
// references strongest first, plus any flags raised along the way. Finding no
// sources is a valid outcome, not an error.
func (e *Engine) Ground(
	ctx context.Context,
	draft types.StepDraft,
	seg types.TopicSegment,
	cat *catalog.Catalog,
	excerpts []types.KnowledgeExcerpt,
) ([]types.SourceReference, []string, error) {
	query := draftQuery(draft)
	queryKeys := textutil.Keywords(query)

	var flags []string
	semantic := e.semanticScores(ctx, query, cat, excerpts, &flags)

	transcript := e.transcriptSources(draft, seg, cat, queryKeys, semantic)
	knowledge := e.knowledgeSources(excerpts, queryKeys, semantic)

	sources := append(transcript, knowledge...)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].MatchScore > sources[j].MatchScore })

	e.recordReuse(transcript)

	slog.Debug("draft grounded",
		"segment", draft.SegmentIndex,
		"transcript_sources", len(transcript),
		"knowledge_sources", len(knowledge),
		"lexical_only", e.embedder == nil || len(flags) > 0)
	return sources, flags, nil
}

// draftQuery flattens the searchable text of a draft.
func draftQuery(d types.StepDraft) string {
	parts := []string{d.Title, d.Summary, d.Details}
	parts = append(parts, d.Actions...)
	return strings.Join(parts, " ")
}

// semanticScores embeds the query and all candidate texts in one batch and
// returns a lookup from candidate text to cosine similarity with the query.
// On any failure it returns nil and appends FlagLexicalOnly.
func (e *Engine) semanticScores(
	ctx context.Context,
	query string,
	cat *catalog.Catalog,
	excerpts []types.KnowledgeExcerpt,
	flags *[]string,
) map[string]float64 {
	if e.embedder == nil {
		*flags = append(*flags, FlagLexicalOnly)
		return nil
	}

	texts := []string{query}
	for _, s := range cat.Sentences() {
		texts = append(texts, s.Text)
	}
	for _, k := range excerpts {
		texts = append(texts, k.Text)
	}

	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		if err == nil {
			err = fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs))
		}
		slog.Warn("embedding failed, degrading to lexical grounding", "error", err)
		*flags = append(*flags, FlagLexicalOnly)
		return nil
	}

	queryVec := vecs[0]
	scores := make(map[string]float64, len(texts)-1)
	for i, text := range texts[1:] {
		scores[text] = embeddings.CosineSimilarity(queryVec, vecs[i+1])
	}
	return scores
}

// composite combines semantic and lexical similarity for one candidate text.
// With no semantic scores available the lexical score stands alone.
func (e *Engine) composite(text string, queryKeys map[string]struct{}, semantic map[string]float64) float64 {
	lexical := textutil.Jaccard(queryKeys, textutil.Keywords(text))
	if semantic == nil {
		return lexical
	}
	return e.cfg.Alpha*semantic[text] + (1-e.cfg.Alpha)*lexical
}

func (e *Engine) transcriptSources(
	draft types.StepDraft,
	seg types.TopicSegment,
	cat *catalog.Catalog,
	queryKeys map[string]struct{},
	semantic map[string]float64,
) []types.SourceReference {
	inSegment := make(map[int]struct{}, len(seg.SentenceIndices))
	for _, idx := range seg.SentenceIndices {
		inSegment[idx] = struct{}{}
	}

	e.mu.Lock()
	usedSnapshot := make(map[int]int, len(e.used))
	for k, v := range e.used {
		usedSnapshot[k] = v
	}
	e.mu.Unlock()

	var candidates []types.SourceReference
	for _, sentence := range cat.Sentences() {
		score := e.composite(sentence.Text, queryKeys, semantic)

		if _, ok := inSegment[sentence.Index]; !ok {
			score *= e.cfg.CatalogFallbackWeight
		}

		if penalty := reusePenalty(usedSnapshot[sentence.Index]); penalty > 0 {
			score *= 1 - penalty
		}

		if score >= technicalBoostFloor {
			score += technicalScore(sentence.Text) * technicalBoostWeight
		}
		if score > 1 {
			score = 1
		}
		if score < e.cfg.MinMatchScore {
			continue
		}

		kind := types.KindTranscript
		if normalize.IsVisualMarker(sentence.Text) {
			kind = types.KindVisual
		}
		candidates = append(candidates, types.SourceReference{
			Kind:       kind,
			Locator:    fmt.Sprintf("sentence:%d", sentence.Index),
			Excerpt:    sentence.Text,
			MatchScore: score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].MatchScore > candidates[j].MatchScore })
	if len(candidates) > e.cfg.MaxTranscriptSources {
		candidates = candidates[:e.cfg.MaxTranscriptSources]
	}
	return candidates
}

func (e *Engine) knowledgeSources(
	excerpts []types.KnowledgeExcerpt,
	queryKeys map[string]struct{},
	semantic map[string]float64,
) []types.SourceReference {
	var candidates []types.SourceReference
	for _, k := range excerpts {
		score := e.composite(k.Text, queryKeys, semantic)
		if k.Relevance > 0 {
			score *= k.Relevance
		}
		if score < e.cfg.MinMatchScore {
			continue
		}

		locator := k.SourceLocator
		if locator == "" {
			locator = k.ID
		}
		candidates = append(candidates, types.SourceReference{
			Kind:       types.KindKnowledge,
			Locator:    locator,
			Excerpt:    truncate(k.Text, 300),
			MatchScore: score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].MatchScore > candidates[j].MatchScore })
	if len(candidates) > e.cfg.MaxKnowledgeSources {
		candidates = candidates[:e.cfg.MaxKnowledgeSources]
	}
	return candidates
}

func reusePenalty(priorUses int) float64 {
	penalty := float64(priorUses) * reusePenaltyStep
	if penalty > reusePenaltyCap {
		return reusePenaltyCap
	}
	return penalty
}

// recordReuse bumps the citation count of every kept transcript sentence so
// later steps see the penalty.
func (e *Engine) recordReuse(kept []types.SourceReference) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, src := range kept {
		var idx int
		if _, err := fmt.Sscanf(src.Locator, "sentence:%d", &idx); err == nil {
			e.used[idx]++
		}
	}
}

// truncate shortens s to at most n bytes, backing up so the cut never lands
// inside a multi-byte UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
