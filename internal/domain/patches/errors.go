package patches

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the orchestrator must react to them.
// Setup, oracle_auth and io abort the run and come back as *Error. The other
// kinds close a single attempt and are recorded on its AttemptRecord.
type Kind string

const (
	KindSetup           Kind = "setup"
	KindOracleTransient Kind = "oracle_transient"
	KindOracleAuth      Kind = "oracle_auth"
	KindBuild           Kind = "build"
	KindRejected        Kind = "rejected"
	KindIO              Kind = "io"
)

// Base errors for the run-aborting kinds, matched through errors.Is.
var (
	ErrSetup      = errors.New("setup error")
	ErrOracleAuth = errors.New("oracle auth error")
	ErrIO         = errors.New("workspace io failure")

	ErrEditActive  = errors.New("another edit is still open on the workspace")
	ErrOutsideRoot = errors.New("path resolves outside the project root")
)

// Error is the structured error used across the patch pipeline.
type Error struct {
	Kind      Kind
	Op        string
	FindingID string
	File      string
	Attempt   int
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.FindingID != "" && e.Attempt > 0:
		return fmt.Sprintf("%s failed for finding %s (%s, attempt %d): %v", e.Op, e.FindingID, e.File, e.Attempt, e.Err)
	case e.File != "":
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.File, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against the base errors.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	switch target {
	case ErrSetup:
		return e.Kind == KindSetup
	case ErrOracleAuth:
		return e.Kind == KindOracleAuth
	case ErrIO:
		return e.Kind == KindIO
	}
	return false
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
