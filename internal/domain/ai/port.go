package ai

import (
	"context"
	"strings"
)

// FixRequest carries everything the fix oracle sees for one attempt.
type FixRequest struct {
	FindingID   string
	Name        string
	Explanation string
	Tags        string

	File      string
	Language  string
	Content   string
	StartLine int
	EndLine   int
	Snippet   string

	// Attempt is 1-based. For Attempt > 1 PriorDiff holds the unified diff of
	// the rejected candidate against the original and PriorFailure says why it
	// was rejected.
	Attempt      int
	PriorDiff    string
	PriorFailure string
}

// Client proposes a complete replacement body for the file in the request.
type Client interface {
	Propose(ctx context.Context, req FixRequest) (string, error)
}

// Lines returns lines start..end (1-based, inclusive) of content, keeping
// their terminators.
func Lines(content string, start, end int) string {
	lines := strings.SplitAfter(content, "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "")
}
