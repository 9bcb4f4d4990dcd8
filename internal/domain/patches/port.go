package patches

import (
	"context"
	"time"
)

// Workspace owns the single mutable checkout (port).
type Workspace interface {
	Root() string
	// Open buffers the current content of file and returns the scoped edit.
	// Only one edit may be open at a time.
	Open(file string) (Edit, error)
}

// Edit is a scoped modification of one file. Restore is idempotent and is the
// only way the original content is written back.
type Edit interface {
	File() string
	Original() string
	Write(candidate string) error
	Restore() error
}

// BuildResult is the classified outcome of one build/test run.
type BuildResult struct {
	Passed     bool
	ExitCode   int
	Diagnostic string
	Output     string
	Duration   time.Duration
}

// BuildOracle runs the project's build and test suite (port). An error means
// the tool could not be run at all, not that the build failed.
type BuildOracle interface {
	Run(ctx context.Context) (BuildResult, error)
}

// Artifact is a persisted diff file.
type Artifact struct {
	// Path is relative to the output directory; it is what the ledger stores.
	Path string
	// URL is set when the artifact was mirrored to remote storage.
	URL string
}

// ArtifactStore persists diff artifacts (port).
type ArtifactStore interface {
	// Save writes content under a name derived from base. If base is already
	// taken the store picks a free variant and returns it.
	Save(ctx context.Context, base string, content []byte) (Artifact, error)
}

// ArtifactRemover is implemented by stores that can take back an artifact
// whose attempt was aborted after it was saved.
type ArtifactRemover interface {
	Remove(ctx context.Context, name string) error
}

// Differ produces and checks unified diffs (port).
type Differ interface {
	Unified(original, candidate, file string, context int) string
	Apply(original, diff string) (string, error)
	Stat(diff string) (added, deleted int, err error)
}

// AttemptRepository stores the attempt audit trail (port).
type AttemptRepository interface {
	Save(ctx context.Context, rec *AttemptRecord) error
	List(ctx context.Context, filter AttemptFilter) ([]*AttemptRecord, error)
}
