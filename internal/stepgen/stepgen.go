// Package stepgen turns topic segments into structured step drafts using an
// LLM provider chain.
//
// Generation is conservative by construction: the system prompt instructs the
// model to only describe what the segment text supports, and the strict JSON
// output contract is enforced locally. Malformed output is treated exactly
// like a transport failure: it re-enters the retry and failover path, so a
// model that rambles is no better than a model that times out.
package stepgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docground/docground/internal/catalog"
	"github.com/docground/docground/internal/observe"
	"github.com/docground/docground/internal/resilience"
	"github.com/docground/docground/pkg/provider/llm"
	"github.com/docground/docground/pkg/types"
)

// ErrGenerationExhausted is returned when every configured provider has been
// tried, including retries, and none produced a parsable draft.
var ErrGenerationExhausted = errors.New("all generation providers exhausted")

// ErrMalformedOutput indicates the model returned something that is not the
// required JSON object. It is wrapped into provider failures so callers can
// distinguish it from transport errors with errors.Is.
var ErrMalformedOutput = errors.New("malformed model output")

// systemPrompt is the grounding contract sent with every generation request.
const systemPrompt = `You are a technical writer converting a transcript excerpt into one step of a training document.

Rules:
- Use ONLY information present in the transcript excerpt and the provided reference excerpts. Never invent commands, names, versions, or numbers.
- If the excerpt is vague, write a vague step. Do not fill gaps with plausible details.
- Keep wording close to the source so each claim can be traced back to a sentence.

Respond with a single JSON object and nothing else:
{"title": "short heading", "summary": "one or two sentences", "details": "full instructional body", "actions": ["discrete user action", ...]}

The "actions" array may be empty when the excerpt describes no concrete user action.`

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 1024
)

type providerEntry struct {
	name     string
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
}

// Generator produces step drafts for topic segments. It tries its providers
// in registration order, retrying transient failures per provider before
// failing over to the next. Safe for concurrent use.
type Generator struct {
	entries     []providerEntry
	retryCfg    resilience.RetryConfig
	metrics     *observe.Metrics
	temperature float64
	maxTokens   int
}

// Option configures a [Generator].
type Option func(*Generator)

// WithFallback registers an additional provider tried after all earlier
// entries are exhausted.
func WithFallback(name string, p llm.Provider) Option {
	return func(g *Generator) {
		g.entries = append(g.entries, newEntry(name, p))
	}
}

// WithRetryConfig overrides the per-provider retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(g *Generator) { g.retryCfg = cfg }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithTemperature overrides the sampling temperature (default 0.2).
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens overrides the completion token cap (default 1024).
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

func newEntry(name string, p llm.Provider) providerEntry {
	return providerEntry{
		name:     name,
		provider: p,
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: name}),
	}
}

// New creates a [Generator] with primary as the preferred provider.
func New(primaryName string, primary llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		entries:     []providerEntry{newEntry(primaryName, primary)},
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Result is a successful generation outcome.
type Result struct {
	// Draft is the parsed step draft with SegmentIndex set.
	Draft types.StepDraft

	// Usage is the token accounting reported by the provider that produced
	// the draft.
	Usage llm.Usage

	// Provider is the name of the entry that produced the draft.
	Provider string
}

// Generate produces a step draft for seg. Sentences are resolved through cat;
// excerpts, when non-empty, are appended to the prompt as reference material.
//
// Each provider gets a bounded retry budget before the next one is tried. A
// provider whose circuit breaker is open is skipped without consuming the
// retry budget. When every entry is exhausted the returned error wraps
// [ErrGenerationExhausted].
func (g *Generator) Generate(ctx context.Context, seg types.TopicSegment, cat *catalog.Catalog, excerpts []types.KnowledgeExcerpt) (*Result, error) {
	start := time.Now()
	defer func() {
		g.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	}()

	segText := segmentText(seg, cat)
	if strings.TrimSpace(segText) == "" {
		return nil, fmt.Errorf("segment %d resolves to no text", seg.Index)
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserPrompt(segText, excerpts)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	var lastErr error
	for i, entry := range g.entries {
		if i > 0 {
			g.metrics.RecordFallback(ctx, "llm")
			slog.Warn("failing over to next generation provider",
				"segment", seg.Index,
				"provider", entry.name,
				"error", lastErr)
		}

		if entry.breaker.State() == resilience.StateOpen {
			lastErr = fmt.Errorf("provider %s: %w", entry.name, resilience.ErrCircuitOpen)
			continue
		}

		res, err := g.tryProvider(ctx, entry, req)
		if err == nil {
			res.Draft.SegmentIndex = seg.Index
			slog.Debug("draft generated",
				"segment", seg.Index,
				"provider", entry.name,
				"title", res.Draft.Title,
				"total_tokens", res.Usage.TotalTokens)
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("segment %d: %w: %w", seg.Index, ErrGenerationExhausted, lastErr)
}

// tryProvider runs one provider through its retry budget and circuit breaker.
func (g *Generator) tryProvider(ctx context.Context, entry providerEntry, req llm.CompletionRequest) (*Result, error) {
	return resilience.Retry(ctx, g.retryCfg, entry.name, func() (*Result, error) {
		var result *Result
		err := entry.breaker.Execute(func() error {
			resp, err := entry.provider.Complete(ctx, req)
			if err != nil {
				g.metrics.RecordProviderRequest(ctx, entry.name, "llm", "error")
				g.metrics.RecordProviderError(ctx, entry.name, "llm")
				return err
			}

			draft, err := parseDraft(resp.Content)
			if err != nil {
				g.metrics.RecordProviderRequest(ctx, entry.name, "llm", "error")
				g.metrics.RecordProviderError(ctx, entry.name, "llm")
				return err
			}

			g.metrics.RecordProviderRequest(ctx, entry.name, "llm", "ok")
			g.metrics.RecordTokens(ctx, entry.name,
				int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))

			result = &Result{Draft: *draft, Usage: resp.Usage, Provider: entry.name}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

// segmentText joins the segment's sentences in catalog order.
func segmentText(seg types.TopicSegment, cat *catalog.Catalog) string {
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

// buildUserPrompt assembles the per-segment message, appending reference
// excerpts when supplied.
func buildUserPrompt(segText string, excerpts []types.KnowledgeExcerpt) string {
	var b strings.Builder
	b.WriteString("Transcript excerpt:\n\n")
	b.WriteString(segText)
	if len(excerpts) > 0 {
		b.WriteString("\n\nReference excerpts:\n")
		for _, ex := range excerpts {
			b.WriteString("\n- ")
			b.WriteString(ex.Text)
		}
	}
	return b.String()
}

// draftPayload is the wire shape of the model's JSON reply.
type draftPayload struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Details string   `json:"details"`
	Actions []string `json:"actions"`
}

// parseDraft validates and decodes the model reply into a StepDraft.
// SegmentIndex is left for the caller to fill in.
func parseDraft(content string) (*types.StepDraft, error) {
	cleaned := stripFences(content)

	var p draftPayload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrMalformedOutput)
	}
	if strings.TrimSpace(p.Details) == "" {
		return nil, fmt.Errorf("%w: empty details", ErrMalformedOutput)
	}

	actions := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}

	return &types.StepDraft{
		Title:   strings.TrimSpace(p.Title),
		Summary: strings.TrimSpace(p.Summary),
		Details: strings.TrimSpace(p.Details),
		Actions: actions,
	}, nil
}

// stripFences removes a surrounding markdown code fence, or failing that cuts
// the reply down to its outermost JSON object. Models wrap JSON in fences or
// prose often enough that rejecting outright would waste retry budget.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			return ""
		}
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if j := strings.LastIndexByte(s, '}'); j > i {
			return s[i : j+1]
		}
	}
	return s
}
