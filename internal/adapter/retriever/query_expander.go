package retriever

import (
	"strings"
	"unicode"

	"ragkb/internal/adapter/analyzer"
	"ragkb/internal/adapter/graph"
	"ragkb/internal/domain"
)

const (
	enhanceFocusTokens = 10
	graphSeedTokens    = 10
)

var errorTriggers = map[string]struct{}{
	"traceback": {},
	"exception": {},
	"error":     {},
	"failed":    {},
	"assert":    {},
}

// Enhance derives syntactic query variants from a prompt. The verbatim
// prompt always comes first; the result holds no duplicates.
func Enhance(prompt string) []string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}

	var queries []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		for _, existing := range queries {
			if existing == q {
				return
			}
		}
		queries = append(queries, q)
	}

	add(prompt)
	words := strings.Fields(prompt)

	// step back: drop pure numbers such as line numbers and versions
	stepBack := make([]string, 0, len(words))
	for _, w := range words {
		if !analyzer.IsNumeric(trimPunct(w)) {
			stepBack = append(stepBack, w)
		}
	}
	add(strings.Join(stepBack, " "))

	if looksLikeError(prompt) {
		var keywords []string
		for _, tok := range analyzer.Tokenize(prompt) {
			if _, trigger := errorTriggers[tok]; !trigger {
				keywords = append(keywords, tok)
			}
		}
		add(strings.Join(keywords, " "))
	}

	if tokens := analyzer.Tokenize(prompt); len(tokens) > enhanceFocusTokens {
		add(strings.Join(tokens[:enhanceFocusTokens], " "))
	}

	if len(words) > 1 && strings.EqualFold(trimPunct(words[0]), "how") {
		add("guide " + strings.Join(words[1:], " "))
	}

	return queries
}

func looksLikeError(prompt string) bool {
	lower := strings.ToLower(prompt)
	for trigger := range errorTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

func trimPunct(word string) string {
	return strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// GraphExpand synthesizes one query per input whose first tokens gain new
// neighbor terms from the co-occurrence graph. Queries already present
// are not repeated.
func GraphExpand(queries []string, adjacency map[string][]domain.Neighbor, topK int) []string {
	if len(adjacency) == 0 || topK <= 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		seen[q] = struct{}{}
	}

	var expanded []string
	for _, q := range queries {
		tokens := analyzer.Tokenize(q)
		if len(tokens) > graphSeedTokens {
			tokens = tokens[:graphSeedTokens]
		}
		seeds := analyzer.Unique(tokens)

		terms := append([]string(nil), seeds...)
		for _, tok := range seeds {
			terms = append(terms, graph.Neighbors(adjacency, tok, topK)...)
		}
		terms = analyzer.Unique(terms)
		if len(terms) == len(seeds) {
			continue
		}

		synthesized := strings.Join(terms, " ")
		if _, dup := seen[synthesized]; dup {
			continue
		}
		seen[synthesized] = struct{}{}
		expanded = append(expanded, synthesized)
	}
	return expanded
}
