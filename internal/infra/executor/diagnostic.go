package executor

import (
	"regexp"
	"strings"
)

const DefaultMaxDiagnosticBytes = 4096

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	anyMarker  = regexp.MustCompile(`^\[[A-Z]+\]`)
	errMarker  = regexp.MustCompile(`^\[ERROR\]`)
)

// DiagnosticExtractor pulls the first structured error block out of build output.
type DiagnosticExtractor struct {
	// Marker matches the first line of an error block. Defaults to maven's [ERROR].
	Marker   *regexp.Regexp
	MaxBytes int
}

// Extract returns the first error line whose message is not an empty line or
// a section banner, plus its unmarked continuation lines. Without any marker
// it falls back to the tail of the output.
func (d DiagnosticExtractor) Extract(output string) string {
	marker := d.Marker
	if marker == nil {
		marker = errMarker
	}
	max := d.MaxBytes
	if max <= 0 {
		max = DefaultMaxDiagnosticBytes
	}

	lines := strings.Split(ansiEscape.ReplaceAllString(output, ""), "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		loc := marker.FindStringIndex(line)
		if loc == nil {
			continue
		}
		msg := strings.TrimSpace(line[loc[1]:])
		if msg == "" || strings.HasSuffix(msg, ":") || strings.HasPrefix(msg, "-> [Help") {
			continue
		}

		block := []string{line}
		for _, next := range lines[i+1:] {
			next = strings.TrimRight(next, "\r")
			if anyMarker.MatchString(next) || marker.MatchString(next) {
				break
			}
			block = append(block, next)
		}
		return truncate(strings.TrimRight(strings.Join(block, "\n"), "\n "), max)
	}
	return tail(strings.TrimSpace(output), max)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
