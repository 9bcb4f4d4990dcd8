package findings

import "context"

// Scope narrows an analyzer run. An empty Files list means the whole project.
type Scope struct {
	Files []string
}

// Scanner runs static analysis and returns normalized findings (port).
type Scanner interface {
	Scan(ctx context.Context, scope Scope) ([]Finding, error)
}

// Ledger persists the canonical findings file (port).
type Ledger interface {
	Load(ctx context.Context) ([]Finding, error)
	Save(ctx context.Context, list []Finding) error
}
