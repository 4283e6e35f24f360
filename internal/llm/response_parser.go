package llm

import "strings"

// CleanSQLResponse strips markdown code fences and surrounding whitespace
// from a synthesized SQL predicate. Models wrap SQL in ```sql fences often
// enough that this runs on every synthesis result.
func CleanSQLResponse(response string) string {
	text := strings.TrimSpace(response)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```sql")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	return strings.TrimSpace(text)
}

// CleanSearchQuery collapses a keyword-rewrite response to a single line.
// Models occasionally return multiple lines or a trailing explanation; only
// the keyword content is usable as a search query.
func CleanSearchQuery(response string) string {
	text := strings.TrimSpace(response)
	// Anything after a blank line is explanation, not keywords.
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		text = text[:idx]
	}
	return strings.Join(strings.Fields(text), " ")
}

// ParseFactList parses a numbered or bulleted list of extracted facts into
// individual statements. Headings, markdown noise, and empty lines are
// skipped; numbering and bullet prefixes are removed.
func ParseFactList(response string) []string {
	var facts []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "important") {
			continue
		}

		fact := trimListMarker(line)
		if fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}

// trimListMarker removes a leading "1. ", "2) ", "- ", or "* " marker.
func trimListMarker(line string) string {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return strings.TrimSpace(line[2:])
	}

	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}
