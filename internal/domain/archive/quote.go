package archive

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`\W`)

// splitLines splits on any line terminator.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// containsQuote reports whether the leading quote block of quote appears in
// body. Only the leading run of ">" lines counts; blank lines are skipped and
// both sides are compared with all non-word characters removed, so
// rewrapping and punctuation changes still match.
func containsQuote(quote, body string) bool {
	var compact strings.Builder
	for _, line := range splitLines(quote) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ">") {
			break
		}
		compact.WriteString(nonWord.ReplaceAllString(line, ""))
	}
	if compact.Len() == 0 {
		return false
	}
	return strings.Contains(nonWord.ReplaceAllString(body, ""), compact.String())
}

// quoteBody prefixes every line of body with one quote level.
func quoteBody(body string) string {
	lines := splitLines(strings.TrimSpace(body))
	for i, line := range lines {
		switch {
		case line == "":
			lines[i] = "> "
		case line[0] == '>':
			lines[i] = ">" + line
		default:
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}
