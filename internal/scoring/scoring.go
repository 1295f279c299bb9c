// Package scoring computes a confidence value for a step from its source
// references.
//
// Confidence is a pure function of the sources: how well they match (base),
// how many there are (count bonus) and whether they come from more than one
// kind of source (diversity bonus). A step with no sources always scores 0.
package scoring

import (
	"github.com/docground/docground/pkg/types"
)

// Weights of the confidence formula.
const (
	baseWeight        = 0.6
	perSourceBonus    = 0.1
	maxCountBonus     = 0.3
	diversityBonus    = 0.2
	diversityMinKinds = 2
)

// Score computes the confidence for a step backed by the given sources,
// always in [0, 1]. No sources means no evidence: the result is exactly 0.
func Score(sources []types.SourceReference) float64 {
	if len(sources) == 0 {
		return 0
	}

	var sum float64
	kinds := make(map[types.SourceKind]struct{})
	for _, src := range sources {
		sum += src.MatchScore
		kinds[src.Kind] = struct{}{}
	}
	base := sum / float64(len(sources))

	countBonus := perSourceBonus * float64(len(sources))
	if countBonus > maxCountBonus {
		countBonus = maxCountBonus
	}

	confidence := base*baseWeight + countBonus
	if len(kinds) >= diversityMinKinds {
		confidence += diversityBonus
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
