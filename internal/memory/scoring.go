package memory

import "strings"

// keywordScore ranks text against query by the fraction of the query's
// words that appear in text, case-insensitively. It's a local-first
// stand-in for embedding similarity: no model call, no network
// dependency, good enough to rank a few thousand long-term entries.
func keywordScore(query, text string) float64 {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return 0
	}
	lowerText := strings.ToLower(text)

	matched := 0
	for _, w := range queryWords {
		if strings.Contains(lowerText, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}
