package diff

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrMalformed = errors.New("malformed unified diff")
	ErrConflict  = errors.New("diff does not apply")

	hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

type hunk struct {
	origStart, origLines int
	old, new             []string
}

// Apply applies a single-file unified diff to original.
func (Engine) Apply(original, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return original, nil
	}
	hunks, err := parseHunks(text)
	if err != nil {
		return "", err
	}

	src := strings.SplitAfter(original, "\n")
	if src[len(src)-1] == "" {
		src = src[:len(src)-1]
	}

	var out strings.Builder
	cursor := 0
	for i, h := range hunks {
		pos := h.origStart - 1
		if h.origLines == 0 {
			pos = h.origStart
		}
		if pos < cursor || pos+len(h.old) > len(src) {
			return "", fmt.Errorf("hunk %d at line %d: %w", i+1, h.origStart, ErrConflict)
		}
		for k, line := range h.old {
			if src[pos+k] != line {
				return "", fmt.Errorf("hunk %d line %d: %w", i+1, pos+k+1, ErrConflict)
			}
		}
		for _, line := range src[cursor:pos] {
			out.WriteString(line)
		}
		for _, line := range h.new {
			out.WriteString(line)
		}
		cursor = pos + len(h.old)
	}
	for _, line := range src[cursor:] {
		out.WriteString(line)
	}
	return out.String(), nil
}

func parseHunks(text string) ([]hunk, error) {
	lines := strings.SplitAfter(text, "\n")
	var (
		hunks []hunk
		cur   *hunk
		// which sides the previous body line went to, for the no-newline marker
		lastOld, lastNew bool
	)
	for _, raw := range lines {
		if raw == "" {
			continue
		}
		if m := hunkHeader.FindStringSubmatch(raw); m != nil {
			hunks = append(hunks, hunk{origStart: atoi(m[1]), origLines: atoiDefault(m[2], 1)})
			cur = &hunks[len(hunks)-1]
			lastOld, lastNew = false, false
			continue
		}
		if cur == nil {
			// file headers and anything before the first hunk
			continue
		}
		switch raw[0] {
		case ' ':
			cur.old = append(cur.old, raw[1:])
			cur.new = append(cur.new, raw[1:])
			lastOld, lastNew = true, true
		case '-':
			cur.old = append(cur.old, raw[1:])
			lastOld, lastNew = true, false
		case '+':
			cur.new = append(cur.new, raw[1:])
			lastOld, lastNew = false, true
		case '\\':
			if lastOld {
				trimLast(cur.old)
			}
			if lastNew {
				trimLast(cur.new)
			}
		default:
			return nil, fmt.Errorf("unexpected line %q: %w", strings.TrimRight(raw, "\n"), ErrMalformed)
		}
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks: %w", ErrMalformed)
	}
	for i, h := range hunks {
		if len(h.old) != h.origLines {
			return nil, fmt.Errorf("hunk %d declares %d original lines, has %d: %w", i+1, h.origLines, len(h.old), ErrMalformed)
		}
	}
	return hunks, nil
}

func trimLast(lines []string) {
	if n := len(lines); n > 0 {
		lines[n-1] = strings.TrimSuffix(lines[n-1], "\n")
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}
