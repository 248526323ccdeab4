package openai

import "strings"

// cleanDescription collapses runs of whitespace and strips a surrounding
// markdown code fence, which some vision models add unprompted.
func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsRune(s[:i], ' ') {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.Join(strings.Fields(s), " ")
}
