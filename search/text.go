package search

import "strings"

// stopWords are ignored when checking for verbatim matches. Besides common
// English words this includes the filler vision models open descriptions with.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "at": true, "this": true, "by": true, "from": true,
	"image": true, "photo": true, "picture": true, "shows": true, "showing": true,
	"depicts": true, "there": true,
}

// tokenize lowercases text, trims surrounding punctuation and drops stop words.
func tokenize(text string) []string {
	words := strings.Fields(text)
	kept := make([]string, 0, len(words))
	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			kept = append(kept, cleaned)
		}
	}
	return kept
}

// containsAllQueryWords reports whether every keyword of query occurs in
// description. A query made only of stop words never matches.
func containsAllQueryWords(description, query string) bool {
	return containsAll(description, tokenize(query))
}

func containsAll(description string, queryWords []string) bool {
	if len(queryWords) == 0 {
		return false
	}

	present := make(map[string]bool)
	for _, word := range tokenize(description) {
		present[word] = true
	}
	for _, word := range queryWords {
		if !present[word] {
			return false
		}
	}
	return true
}
