package patches

import (
	"time"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
)

// State of one location inside the attempt loop.
type State string

const (
	StateInit          State = "init"
	StateProposing     State = "proposing"
	StateApplied       State = "applied"
	StateBuildChecking State = "build_checking"
	StateBuildFailed   State = "build_failed"
	StateRevalidating  State = "revalidating"
	StateRejected      State = "rejected"
	StateAccepted      State = "accepted"
	StateAbandoned     State = "abandoned"

	// StateSkipped marks locations that cannot be attempted at all (no line
	// range, file filtered out, file outside the project).
	StateSkipped State = "skipped"
	// StateFailed marks an attempt that ended on an oracle or scanner error
	// rather than a verdict; it counts against the attempt budget.
	StateFailed State = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateAbandoned || s == StateSkipped
}

// AttemptState is the explicit per-attempt context the loop carries forward.
// OriginalContent is captured before any mutation and is never modified.
type AttemptState struct {
	Number          int
	OriginalContent string
	PriorCandidate  string
	PriorFailure    string
}

// Next returns the state for the following attempt, keeping the failed
// candidate so the oracle can be shown what went wrong.
func (a AttemptState) Next(candidate, failure string) AttemptState {
	return AttemptState{
		Number:          a.Number + 1,
		OriginalContent: a.OriginalContent,
		PriorCandidate:  candidate,
		PriorFailure:    failure,
	}
}

// AttemptRecord is the audit entry written for every closed attempt.
type AttemptRecord struct {
	ID           string                `json:"id"`
	RunID        string                `json:"run_id"`
	FindingID    string                `json:"finding_id"`
	FindingName  string                `json:"finding_name"`
	File         string                `json:"file"`
	Attempt      int                   `json:"attempt"`
	State        State                 `json:"state"`
	Verification findings.Verification `json:"verification,omitempty"`
	Diagnostic   string                `json:"diagnostic,omitempty"`
	ErrorKind    Kind                  `json:"error_kind,omitempty"`
	DiffPath     string                `json:"diff_path,omitempty"`
	CommitSHA    string                `json:"commit_sha,omitempty"`
	DurationMS   int64                 `json:"duration_ms"`
	CreatedAt    time.Time             `json:"created_at"`
}

// AttemptFilter selects audit records. Zero fields do not filter.
type AttemptFilter struct {
	RunID     string
	FindingID string
	Limit     int
}

// LocationResult is the terminal outcome for one finding location.
type LocationResult struct {
	FindingID string
	Name      string
	File      string
	State     State
	Attempts  int
	Patch     *findings.PatchRecord
	Reason    string
}

// RunSummary describes one pass over the ledger.
type RunSummary struct {
	RunID      string
	CommitSHA  string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []LocationResult
}

// Count returns how many results ended in state s.
func (r RunSummary) Count(s State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == s {
			n++
		}
	}
	return n
}
