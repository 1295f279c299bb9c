package grounding

import (
	"regexp"
	"strings"
)

// Technical sentences make better citations than filler, so grounding boosts
// them once a match is already viable. The indicator lists and weights mirror
// what instructors actually say in technical walkthroughs: code keywords,
// domain terms, concrete values, quoted UI elements and action verbs.

var codeKeywords = []string{
	"async", "await", "def", "class", "function", "import", "from",
	"return", "if", "else", "for", "while", "try", "except", "const",
	"var", "let", "public", "private", "static", "void",
}

var technicalTerms = []string{
	"api", "endpoint", "database", "cosmos", "blob", "storage",
	"pipeline", "workflow", "microservice", "container", "docker",
	"kubernetes", "deployment", "configuration", "authentication",
	"authorization", "throughput", "latency", "idempotent",
	"scalability", "asynchronous", "synchronous", "event", "trigger",
}

var actionVerbs = []string{
	"click", "select", "open", "navigate", "configure", "create",
	"delete", "update", "install", "deploy", "build", "run", "execute",
}

var (
	numberRe      = regexp.MustCompile(`\d+`)
	urlRe         = regexp.MustCompile(`https?://|www\.`)
	percentageRe  = regexp.MustCompile(`\d+%`)
	measurementRe = regexp.MustCompile(`\d+\s*(ms|kb|mb|gb|tb|rpm|dpi|px)`)
	structuralRe  = regexp.MustCompile(`\[screen\s+shows|\[diagram|\[code|\[architecture`)
)

// technicalScore rates how technical and specific a sentence is, in [0, 1].
func technicalScore(sentence string) float64 {
	lower := strings.ToLower(sentence)
	padded := " " + lower + " "
	score := 0.0

	for _, kw := range codeKeywords {
		if strings.Contains(padded, " "+kw+" ") {
			score += 0.15
		}
	}

	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			score += 0.10
		}
	}

	if numberRe.MatchString(sentence) {
		score += 0.05
	}
	if urlRe.MatchString(lower) {
		score += 0.10
	}
	if percentageRe.MatchString(sentence) {
		score += 0.08
	}
	if measurementRe.MatchString(lower) {
		score += 0.12
	}

	// Quoted text is likely a UI element or a literal term.
	quotes := strings.Count(sentence, `"`) + strings.Count(sentence, "'") + strings.Count(sentence, "`")
	quoteScore := float64(quotes) * 0.05
	if quoteScore > 0.15 {
		quoteScore = 0.15
	}
	score += quoteScore

	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			score += 0.06
			break
		}
	}

	if structuralRe.MatchString(lower) {
		score += 0.10
	}

	// Very short sentences are likely filler; long ones carry detail.
	words := len(strings.Fields(sentence))
	if words < 5 {
		score *= 0.5
	} else if words > 15 {
		score += 0.05
	}

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
