// Package knowledge supplies supporting reference material for step
// generation.
//
// A Provider returns excerpts relevant to a query (usually a topic segment's
// text). Excerpts enrich generation prompts and become KindKnowledge source
// references when a generated step matches them.
package knowledge

import (
	"context"
	"sort"

	"github.com/docground/docground/internal/textutil"
	"github.com/docground/docground/pkg/types"
)

// Provider retrieves knowledge excerpts relevant to a query. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Retrieve returns up to limit excerpts ordered by descending relevance.
	// No matching material is not an error: an empty slice is returned.
	Retrieve(ctx context.Context, query string, limit int) ([]types.KnowledgeExcerpt, error)
}

// Static is a Provider over a fixed in-memory excerpt list. It scores
// relevance by keyword overlap with the query. Useful for tests and for CLI
// runs where reference material comes from local files.
type Static struct {
	excerpts []types.KnowledgeExcerpt
}

var _ Provider = (*Static)(nil)

// NewStatic creates a Static provider over the given excerpts.
func NewStatic(excerpts []types.KnowledgeExcerpt) *Static {
	cp := make([]types.KnowledgeExcerpt, len(excerpts))
	copy(cp, excerpts)
	return &Static{excerpts: cp}
}

// Retrieve implements Provider. Relevance is the Jaccard keyword overlap
// between the query and the excerpt text; excerpts with no overlap are
// dropped.
func (s *Static) Retrieve(_ context.Context, query string, limit int) ([]types.KnowledgeExcerpt, error) {
	queryKeys := textutil.Keywords(query)

	var out []types.KnowledgeExcerpt
	for _, e := range s.excerpts {
		overlap := textutil.Jaccard(queryKeys, textutil.Keywords(e.Text))
		if overlap <= 0 {
			continue
		}
		e.Relevance = overlap
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
