package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

const (
	DefaultContext  = 3
	noNewlineMarker = "\\ No newline at end of file\n"
)

// Engine produces unified diffs with go-difflib and reads them back.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Unified returns the unified diff from original to candidate, labelled with
// file on both sides. Identical inputs produce an empty string.
func (Engine) Unified(original, candidate, file string, context int) string {
	if context < 0 {
		context = DefaultContext
	}
	ud := difflib.UnifiedDiff{
		A:        splitLines(original),
		B:        splitLines(candidate),
		FromFile: file,
		ToFile:   file,
		Context:  context,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		// only returned by the underlying writer; a strings.Builder never fails
		return ""
	}
	return out
}

// Stat counts added and deleted lines.
func (Engine) Stat(text string) (added, deleted int, err error) {
	if strings.TrimSpace(text) == "" {
		return 0, 0, nil
	}
	fd, err := godiff.ParseFileDiff([]byte(text))
	if err != nil {
		return 0, 0, fmt.Errorf("parse diff: %w", err)
	}
	st := fd.Stat()
	return int(st.Added + st.Changed), int(st.Deleted + st.Changed), nil
}

// Files lists the file names a multi-file diff touches.
func Files(text []byte) ([]string, error) {
	fds, err := godiff.NewMultiFileDiffReader(bytes.NewReader(text)).ReadAllFiles()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fds))
	for _, fd := range fds {
		out = append(out, fd.NewName)
	}
	return out, nil
}

// splitLines keeps line terminators. A final line without one carries the
// no-newline marker so the emitted hunk stays well formed.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	lines[len(lines)-1] += "\n" + noNewlineMarker
	return lines
}
