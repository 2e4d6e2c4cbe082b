package retriever

import (
	"regexp"
	"strings"

	"ragkb/internal/adapter/analyzer"
)

const (
	// CorrectiveMultiplier discounts scores from a corrective pass.
	CorrectiveMultiplier = 0.95

	minSeparation = 0.05
	minTopScore   = 0.15
	epsilon       = 1e-9

	maxCorrectiveFragments = 5
	focusTokens            = 12
)

const (
	ReasonInsufficient  = "insufficient"
	ReasonAmbiguous     = "ambiguous"
	ReasonLowConfidence = "low_confidence"
)

// Decision is the outcome of the corrective trigger check.
type Decision struct {
	Correct bool
	Reason  string
}

// ShouldCorrect inspects scores sorted in descending order.
func ShouldCorrect(scores []float64, limit int) Decision {
	if len(scores) == 0 || len(scores) < limit {
		return Decision{Correct: true, Reason: ReasonInsufficient}
	}

	top1, top2 := scores[0], 0.0
	if len(scores) > 1 {
		top2 = scores[1]
	}
	if (top1-top2)/(top1+epsilon) < minSeparation {
		return Decision{Correct: true, Reason: ReasonAmbiguous}
	}
	if top1 < minTopScore {
		return Decision{Correct: true, Reason: ReasonLowConfidence}
	}
	return Decision{}
}

var clauseSeparators = regexp.MustCompile(`[?.;\n]| and | & `)

// CorrectiveQueries splits the prompt into clauses of at least two terms
// and appends a focused query of its leading terms.
func CorrectiveQueries(prompt string) []string {
	var queries []string
	seen := make(map[string]struct{})
	add := func(q string) {
		if _, dup := seen[q]; dup || q == "" {
			return
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}

	fragments := 0
	for _, part := range clauseSeparators.Split(prompt, -1) {
		if fragments == maxCorrectiveFragments {
			break
		}
		part = strings.TrimSpace(part)
		if len(analyzer.Tokenize(part)) < 2 {
			continue
		}
		add(part)
		fragments++
	}

	tokens := analyzer.Tokenize(prompt)
	if len(tokens) > focusTokens {
		tokens = tokens[:focusTokens]
	}
	add(strings.Join(tokens, " "))

	return queries
}
