package grounding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/docground/docground/internal/catalog"
	embmock "github.com/docground/docground/pkg/provider/embeddings/mock"
	"github.com/docground/docground/pkg/types"
)

func segmentOver(cat *catalog.Catalog) types.TopicSegment {
	indices := make([]int, cat.Len())
	for i := range indices {
		indices[i] = i
	}
	return types.TopicSegment{Index: 0, SentenceIndices: indices, BoundaryReason: types.BoundaryNatural}
}

func redisDraft() types.StepDraft {
	return types.StepDraft{
		SegmentIndex: 0,
		Title:        "Install Redis",
		Summary:      "Install the Redis server",
		Details:      "Install the Redis server on the host machine",
		Actions:      []string{"install redis server"},
	}
}

func TestGround_LexicalOnly_FindsOverlappingSentence(t *testing.T) {
	cat := catalog.Build("Install the Redis server on the host. Configure the persistence settings afterwards. The weather was nice that day.")
	eng := New(nil, Config{})

	sources, flags, err := eng.Ground(context.Background(), redisDraft(), segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Contains(flags, FlagLexicalOnly) {
		t.Fatalf("want lexical-only flag without embedder, got %v", flags)
	}
	if len(sources) == 0 {
		t.Fatal("no sources found")
	}
	top := sources[0]
	if top.Kind != types.KindTranscript {
		t.Fatalf("top source kind = %q, want transcript", top.Kind)
	}
	if top.Locator != "sentence:0" {
		t.Fatalf("top source locator = %q, want sentence:0", top.Locator)
	}
	if top.MatchScore <= 0 || top.MatchScore > 1 {
		t.Fatalf("match score out of range: %v", top.MatchScore)
	}
	for _, src := range sources {
		if strings.Contains(src.Excerpt, "weather") {
			t.Fatalf("unrelated sentence was cited: %v", src)
		}
	}
}

func TestGround_VisualMarkerBecomesVisualKind(t *testing.T) {
	cat := catalog.Build("[screen shows the Redis configuration panel]\nOpen the configuration panel now.")
	eng := New(nil, Config{})

	draft := types.StepDraft{
		Title:   "Review the configuration panel",
		Summary: "The screen shows the Redis configuration panel",
		Details: "Review the Redis configuration panel shown on screen",
	}
	sources, _, err := eng.Ground(context.Background(), draft, segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawVisual bool
	for _, src := range sources {
		if src.Kind == types.KindVisual {
			sawVisual = true
			if !strings.Contains(src.Excerpt, "[screen shows") {
				t.Fatalf("visual source cites wrong text: %q", src.Excerpt)
			}
		}
	}
	if !sawVisual {
		t.Fatalf("no visual source emitted, sources: %v", sources)
	}
}

func TestGround_SemanticMatchSurvivesZeroLexicalOverlap(t *testing.T) {
	embedder := &embmock.Provider{
		EmbedFunc: func(text string) ([]float32, error) {
			if strings.Contains(strings.ToLower(text), "persist") {
				return []float32{1, 0}, nil
			}
			return []float32{0, 1}, nil
		},
		DimensionsValue: 2,
	}
	cat := catalog.Build("Snapshots persist data to disk. Completely unrelated filler sentence here.")
	eng := New(embedder, Config{})

	draft := types.StepDraft{Title: "Enable persistence", Summary: "Turn on persistence"}
	sources, flags, err := eng.Ground(context.Background(), draft, segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flags) != 0 {
		t.Fatalf("unexpected flags: %v", flags)
	}
	if len(sources) == 0 {
		t.Fatal("semantic match was not found")
	}
	if sources[0].Locator != "sentence:0" {
		t.Fatalf("top source = %q, want sentence:0", sources[0].Locator)
	}
}

func TestGround_EmbeddingFailureDegradesToLexical(t *testing.T) {
	embedder := &embmock.Provider{EmbedBatchErr: errors.New("model offline")}
	cat := catalog.Build("Install the Redis server on the host. Configure the persistence settings afterwards.")
	eng := New(embedder, Config{})

	sources, flags, err := eng.Ground(context.Background(), redisDraft(), segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("embedding failure must not fail grounding: %v", err)
	}
	if !slices.Contains(flags, FlagLexicalOnly) {
		t.Fatalf("want lexical-only flag after embedding failure, got %v", flags)
	}
	if len(sources) == 0 {
		t.Fatal("lexical fallback found no sources")
	}
}

func TestGround_KnowledgeExcerptsMatchedAndCapped(t *testing.T) {
	cat := catalog.Build("Install the Redis server on the host.")
	eng := New(nil, Config{MaxKnowledgeSources: 2})

	excerpts := []types.KnowledgeExcerpt{
		{ID: "k1", Text: "Redis server install guide for the host platform", Relevance: 1.0, SourceLocator: "docs/redis.md#install"},
		{ID: "k2", Text: "Install the Redis server binaries on the target host", Relevance: 0.9, SourceLocator: "docs/redis.md#binaries"},
		{ID: "k3", Text: "Redis server host install prerequisites and checks", Relevance: 0.8, SourceLocator: "docs/redis.md#prereqs"},
		{ID: "k4", Text: "Gardening tips for spring vegetables", Relevance: 1.0, SourceLocator: "docs/garden.md"},
	}
	sources, _, err := eng.Ground(context.Background(), redisDraft(), segmentOver(cat), cat, excerpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var knowledge []types.SourceReference
	for _, src := range sources {
		if src.Kind == types.KindKnowledge {
			knowledge = append(knowledge, src)
		}
	}
	if len(knowledge) != 2 {
		t.Fatalf("got %d knowledge sources, want 2 (capped)", len(knowledge))
	}
	for _, src := range knowledge {
		if strings.Contains(src.Excerpt, "Gardening") {
			t.Fatalf("unrelated excerpt was cited: %v", src)
		}
		if !strings.HasPrefix(src.Locator, "docs/redis.md") {
			t.Fatalf("knowledge locator = %q, want the excerpt's source locator", src.Locator)
		}
	}
}

func TestGround_TranscriptSourcesCapped(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&sb, "Install the Redis server on host number %d. ", i)
	}
	cat := catalog.Build(strings.TrimSpace(sb.String()))
	eng := New(nil, Config{})

	sources, _, err := eng.Ground(context.Background(), redisDraft(), segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) > 5 {
		t.Fatalf("got %d transcript sources, want at most 5", len(sources))
	}
	for i := 1; i < len(sources); i++ {
		if sources[i].MatchScore > sources[i-1].MatchScore {
			t.Fatal("sources not sorted strongest first")
		}
	}
}

func TestGround_ReusePenaltyLowersRepeatCitations(t *testing.T) {
	cat := catalog.Build("Install the Redis server on the host. Some other unrelated content entirely.")
	eng := New(nil, Config{})
	seg := segmentOver(cat)

	first, _, err := eng.Ground(context.Background(), redisDraft(), seg, cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _, err := eng.Ground(context.Background(), redisDraft(), seg, cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) == 0 || len(second) == 0 {
		t.Fatal("expected sources in both rounds")
	}
	if second[0].MatchScore >= first[0].MatchScore {
		t.Fatalf("reuse penalty not applied: first %v, second %v", first[0].MatchScore, second[0].MatchScore)
	}
}

func TestGround_VerbatimQuoteScoresHigh(t *testing.T) {
	cat := catalog.Build("Run the migration script before deploying. Check the logs afterwards.")
	eng := New(nil, Config{})

	draft := types.StepDraft{
		SegmentIndex: 0,
		Title:        "Run the migration script",
		Summary:      "Run the migration script before deploying",
		Details:      "Run the migration script before deploying",
	}
	sources, _, err := eng.Ground(context.Background(), draft, segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) == 0 {
		t.Fatal("no sources found")
	}
	if sources[0].MatchScore < 0.9 {
		t.Fatalf("verbatim quote match score = %v, want >= 0.9", sources[0].MatchScore)
	}
}

func TestGround_NoMatchesIsEmptyNotError(t *testing.T) {
	cat := catalog.Build("Completely different subject matter here. Nothing about the draft at all.")
	eng := New(nil, Config{})

	draft := types.StepDraft{Title: "Quantum entanglement basics", Summary: "Photon pair correlations"}
	sources, _, err := eng.Ground(context.Background(), draft, segmentOver(cat), cat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("got %d sources, want 0", len(sources))
	}
}

func TestTruncate_CutsOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short stays whole", "kurz", 10, "kurz"},
		{"ascii cut", "abcdef", 3, "abc..."},
		{"cut inside umlaut backs up", "grün", 3, "gr..."},
		{"cut after umlaut keeps it", "grün", 4, "grü..."},
		{"cjk", "日本語のテキスト", 7, "日本..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.n, got)
			}
		})
	}
}
