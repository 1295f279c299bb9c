// Package pipeline orchestrates the full transcript-to-steps run: normalize,
// catalog, segment, then parallel generate/ground/score per segment, and a
// final validation pass.
//
// A Pipeline is built once and can run many jobs; each Run gets its own job ID
// and its own grounding engine so sentence-reuse tracking never leaks across
// jobs. Per-segment work runs on an errgroup with a bounded limit, and every
// provider call carries a timeout derived from the pipeline config.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docground/docground/internal/catalog"
	"github.com/docground/docground/internal/grounding"
	"github.com/docground/docground/internal/knowledge"
	"github.com/docground/docground/internal/normalize"
	"github.com/docground/docground/internal/observe"
	"github.com/docground/docground/internal/scoring"
	"github.com/docground/docground/internal/segment"
	"github.com/docground/docground/internal/stepgen"
	"github.com/docground/docground/internal/validate"
	"github.com/docground/docground/pkg/provider/embeddings"
	"github.com/docground/docground/pkg/provider/llm"
	"github.com/docground/docground/pkg/types"
)

// ErrEmptyTranscript is returned when normalization leaves no usable text.
var ErrEmptyTranscript = errors.New("transcript contains no usable text")

// FlagAllRejected is set on the job result when every generated step failed
// validation. The job itself still completes.
const FlagAllRejected = "all_steps_rejected"

// ProgressFunc receives stage updates during a run. percent is in [0, 1]
// within the stage. Segment and step totals only appear in detail once
// segmentation has completed. The callback may be invoked concurrently from
// segment workers and must be safe for that.
type ProgressFunc func(stage string, percent float64, detail string)

// Config holds the pipeline tuning knobs. Zero fields get defaults from New.
type Config struct {
	// MinSegments is the minimum segment count the segmenter guarantees for
	// non-trivial catalogs, and the success floor for generation. Default: 3.
	MinSegments int

	// MaxSegments caps the segment count. Zero means unlimited.
	MaxSegments int

	// MinSegmentSentences is the smallest segment kept during boundary
	// detection. Default: 2.
	MinSegmentSentences int

	// Concurrency bounds parallel per-segment work. Default: 4.
	Concurrency int

	// ProviderTimeout is applied to each provider-bound call (generation,
	// grounding, knowledge retrieval). Default: 2m.
	ProviderTimeout time.Duration

	// RetrievalLimit is the number of knowledge excerpts fetched per segment.
	// Default: 3.
	RetrievalLimit int

	// AcceptThreshold and RelaxedThreshold configure the validator. Zero
	// values fall back to the validate package defaults.
	AcceptThreshold  float64
	RelaxedThreshold float64

	// Grounding configures the grounding engine created per job.
	Grounding grounding.Config
}

func (c *Config) applyDefaults() {
	if c.MinSegments <= 0 {
		c.MinSegments = 3
	}
	if c.MinSegmentSentences <= 0 {
		c.MinSegmentSentences = 2
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 2 * time.Minute
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 3
	}
}

// Pipeline runs transcript-to-steps jobs. Safe for concurrent use.
type Pipeline struct {
	cfg        Config
	normalizer *normalize.Normalizer
	segmenter  *segment.Segmenter
	generator  *stepgen.Generator
	validator  *validate.Validator
	embedder   embeddings.Provider // nil means lexical-only grounding
	knowledge  knowledge.Provider  // nil disables excerpt retrieval
	metrics    *observe.Metrics
	progress   ProgressFunc
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithEmbedder sets the embeddings provider used for semantic grounding.
func WithEmbedder(e embeddings.Provider) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithKnowledge sets the provider supplying knowledge excerpts per segment.
func WithKnowledge(k knowledge.Provider) Option {
	return func(p *Pipeline) { p.knowledge = k }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithNormalizer replaces the default normalizer, e.g. to supply custom
// filler words.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// New creates a Pipeline around the given generator.
func New(cfg Config, generator *stepgen.Generator, opts ...Option) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:       cfg,
		generator: generator,
		validator: validate.New(cfg.AcceptThreshold, cfg.RelaxedThreshold),
		segmenter: segment.New(segment.Config{
			MinSegments:         cfg.MinSegments,
			MaxSegments:         cfg.MaxSegments,
			MinSegmentSentences: cfg.MinSegmentSentences,
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.normalizer == nil {
		p.normalizer = normalize.New()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Result is the outcome of one pipeline run.
type Result struct {
	// JobID uniquely identifies this run.
	JobID string `json:"job_id"`

	// Steps holds every validated step, accepted or not, ordered by segment
	// index.
	Steps []types.Step `json:"steps"`

	// Accepted is the subset of Steps that passed the acceptance policy, in
	// the same order.
	Accepted []types.Step `json:"accepted"`

	// SegmentCount is the number of topic segments the transcript produced.
	SegmentCount int `json:"segment_count"`

	// Usage aggregates token accounting across all generation calls.
	Usage llm.Usage `json:"usage"`

	// Flags carries job-level warnings such as [FlagAllRejected].
	Flags []string `json:"flags"`

	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}

type segOutcome struct {
	step  types.Step
	usage llm.Usage
	err   error
	ok    bool
}

// Run executes the full pipeline on a raw transcript. It fails fast on
// undecodable input and empty transcripts; per-segment generation failures
// are tolerated until fewer than the minimum number of segments succeeded, at
// which point the returned error wraps [stepgen.ErrGenerationExhausted].
func (p *Pipeline) Run(ctx context.Context, raw []byte) (*Result, error) {
	jobID := uuid.NewString()
	log := slog.With("job", jobID)
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	p.metrics.ActiveJobs.Add(ctx, 1)
	defer p.metrics.ActiveJobs.Add(ctx, -1)
	defer func() {
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()

	// Normalize.
	p.report("normalize", 0, "cleaning transcript")
	nStart := time.Now()
	text, err := p.normalizer.Normalize(raw)
	p.metrics.NormalizeDuration.Record(ctx, time.Since(nStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	p.report("normalize", 1, "transcript cleaned")

	// Catalog.
	cat := catalog.Build(text)
	if cat.Len() == 0 {
		return nil, ErrEmptyTranscript
	}

	// Segment.
	sStart := time.Now()
	segs := p.segmenter.Segment(cat)
	p.metrics.SegmentDuration.Record(ctx, time.Since(sStart).Seconds())
	log.Info("transcript segmented",
		"sentences", cat.Len(),
		"segments", len(segs))
	p.report("segment", 1, fmt.Sprintf("%d segments from %d sentences", len(segs), cat.Len()))

	// Generate, ground, and score each segment in parallel. One grounding
	// engine per job so reuse penalties stay job-local.
	eng := grounding.New(p.embedder, p.cfg.Grounding)
	outcomes := make([]segOutcome, len(segs))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, seg := range segs {
		g.Go(func() error {
			p.metrics.ActiveSegments.Add(gctx, 1)
			defer p.metrics.ActiveSegments.Add(gctx, -1)

			step, usage, err := p.processSegment(gctx, seg, cat, eng)
			if err != nil {
				log.Warn("segment processing failed",
					"segment", seg.Index,
					"error", err)
				outcomes[i] = segOutcome{err: err}
			} else {
				outcomes[i] = segOutcome{step: step, usage: usage, ok: true}
			}

			n := done.Add(1)
			p.report("generate", float64(n)/float64(len(segs)),
				fmt.Sprintf("segment %d of %d", n, len(segs)))
			// Segment failures are aggregated after the wait; returning them
			// here would cancel sibling segments.
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		steps   []types.Step
		usage   llm.Usage
		segErrs []error
	)
	for _, o := range outcomes {
		switch {
		case o.ok:
			steps = append(steps, o.step)
			usage.PromptTokens += o.usage.PromptTokens
			usage.CompletionTokens += o.usage.CompletionTokens
			usage.TotalTokens += o.usage.TotalTokens
		case o.err != nil:
			segErrs = append(segErrs, o.err)
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Draft.SegmentIndex < steps[j].Draft.SegmentIndex
	})

	// Small transcripts can yield fewer segments than MinSegments; the floor
	// never exceeds what segmentation actually produced.
	required := min(p.cfg.MinSegments, len(segs))
	if len(steps) < required {
		return nil, fmt.Errorf("pipeline: only %d of %d segments produced drafts: %w: %w",
			len(steps), len(segs), stepgen.ErrGenerationExhausted, errors.Join(segErrs...))
	}

	// Validate.
	p.report("validate", 0, fmt.Sprintf("validating %d steps", len(steps)))
	validated, accepted := p.validator.ValidateAll(steps)
	for _, s := range validated {
		p.metrics.RecordStep(ctx, s.Accepted)
	}

	flags := []string{}
	if len(validated) > 0 && len(accepted) == 0 {
		flags = append(flags, FlagAllRejected)
	}

	result := &Result{
		JobID:        jobID,
		Steps:        validated,
		Accepted:     accepted,
		SegmentCount: len(segs),
		Usage:        usage,
		Flags:        flags,
		Duration:     time.Since(start),
	}
	log.Info("pipeline run complete",
		"segments", len(segs),
		"steps", len(validated),
		"accepted", len(accepted),
		"failed_segments", len(segErrs),
		"total_tokens", usage.TotalTokens,
		"duration", result.Duration)
	p.report("done", 1, fmt.Sprintf("%d of %d steps accepted", len(accepted), len(validated)))
	return result, nil
}

// processSegment runs retrieve -> generate -> ground -> score for one segment.
func (p *Pipeline) processSegment(ctx context.Context, seg types.TopicSegment, cat *catalog.Catalog, eng *grounding.Engine) (types.Step, llm.Usage, error) {
	var excerpts []types.KnowledgeExcerpt
	if p.knowledge != nil {
		kctx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		ex, err := p.knowledge.Retrieve(kctx, segmentQuery(seg, cat), p.cfg.RetrievalLimit)
		cancel()
		if err != nil {
			// Retrieval is enrichment; generation proceeds without it.
			slog.Warn("knowledge retrieval failed",
				"segment", seg.Index,
				"error", err)
		} else {
			excerpts = ex
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	defer cancel()
	res, err := p.generator.Generate(genCtx, seg, cat, excerpts)
	if err != nil {
		return types.Step{}, llm.Usage{}, err
	}

	grCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	defer cancel()
	grStart := time.Now()
	sources, flags, err := eng.Ground(grCtx, res.Draft, seg, cat, excerpts)
	p.metrics.GroundingDuration.Record(ctx, time.Since(grStart).Seconds())
	if err != nil {
		return types.Step{}, llm.Usage{}, fmt.Errorf("ground segment %d: %w", seg.Index, err)
	}

	step := types.Step{
		Draft:      res.Draft,
		Sources:    sources,
		Confidence: scoring.Score(sources),
		Flags:      flags,
	}
	return step, res.Usage, nil
}

// report invokes the progress callback when one is registered.
func (p *Pipeline) report(stage string, percent float64, detail string) {
	if p.progress != nil {
		p.progress(stage, percent, detail)
	}
}

// segmentQuery joins a segment's sentences for knowledge retrieval.
func segmentQuery(seg types.TopicSegment, cat *catalog.Catalog) string {
	var b strings.Builder
	for _, idx := range seg.SentenceIndices {
		s, ok := cat.ByIndex(idx)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
