package prompt

import (
	"regexp"
	"strings"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
)

var inlineFence = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*(.*?)```")

// ExtractCode returns the body of the first complete fenced block in the
// response. A fence opens on a line starting with ``` (optionally followed by
// a language tag) and closes on the next line that is exactly ```.
func ExtractCode(response string) (string, error) {
	lines := strings.SplitAfter(response, "\n")
	open := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if open < 0 {
			if strings.HasPrefix(trimmed, "```") && isFenceTag(trimmed[3:]) {
				open = i
			}
			continue
		}
		if trimmed == "```" {
			return strings.Join(lines[open+1:i], ""), nil
		}
	}

	// fences that share a line with the code
	if m := inlineFence.FindStringSubmatch(response); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1]) + "\n", nil
	}
	return "", ai.ErrNoCodeBlock
}

func isFenceTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '+' || r == '-') {
			return false
		}
	}
	return true
}
