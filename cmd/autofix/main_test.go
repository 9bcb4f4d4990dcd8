package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitSetup, exitCode(setupError("load config", errors.New("bad yaml"))))
	assert.Equal(t, exitCancelled, exitCode(fmt.Errorf("run: %w", context.Canceled)))
}

func TestPrintRunSummary(t *testing.T) {
	var buf bytes.Buffer
	printRunSummary(&buf, patches.RunSummary{Results: []patches.LocationResult{
		{
			FindingID: "48213", Name: "sql-injection", File: "src/Foo.java",
			State: patches.StateAccepted, Attempts: 2,
			Patch: &findings.PatchRecord{Path: "Foo_patch_48213_attempt_2.diff", Verification: findings.VerificationConfirmed},
		},
		{FindingID: "11111", Name: "null-deref", File: "src/Bar.java", State: patches.StateAbandoned, Attempts: 3, Reason: "finding persists"},
	}})

	out := buf.String()
	assert.Contains(t, out, "Foo_patch_48213_attempt_2.diff (confirmed)")
	assert.Contains(t, out, "finding persists")
	assert.Contains(t, out, "1 accepted, 1 abandoned, 0 skipped of 2 locations")
}

func TestPrintRunSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	printRunSummary(&buf, patches.RunSummary{})
	assert.Equal(t, "no finding locations processed\n", buf.String())
}

func TestPrintComparison(t *testing.T) {
	before := []findings.Finding{
		{ID: "1", Name: "sql-injection", Explanation: "x", Tags: "security", Items: []findings.Location{{TextRange: findings.TextRange{File: "src/Foo.java"}}}},
		{ID: "2", Name: "unused-import", Explanation: "y", Tags: "style", Items: []findings.Location{{TextRange: findings.TextRange{File: "src/Foo.java"}}}},
	}
	after := []findings.Finding{
		{ID: "9", Name: "unused-import", Explanation: "y", Tags: "style", Items: []findings.Location{{TextRange: findings.TextRange{File: "src/Foo.java"}}}},
	}

	var buf bytes.Buffer
	printComparison(&buf, findings.Compare(before, after, "src/Foo.java"))
	out := buf.String()
	assert.Contains(t, out, "src/Foo.java: 1 removed, 1 persisting, 0 introduced")

	buf.Reset()
	printComparison(&buf, findings.Compare(nil, nil, "src/Foo.java"))
	assert.Equal(t, "no findings for src/Foo.java in either file\n", buf.String())
}

func TestEnvList(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, envList(map[string]string{"B": "2", "A": "1"}))
	assert.Empty(t, envList(nil))
}
