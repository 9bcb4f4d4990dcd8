package scanner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
)

// Named pairs an analyzer with the name used in logs and errors.
type Named struct {
	Name    string
	Scanner findings.Scanner
}

// Multi runs several analyzers concurrently against the same tree and
// concatenates their findings in configuration order. Analyzers only read
// the tree, so running them in parallel is safe.
type Multi struct {
	Scanners []Named
	// Limit caps concurrent analyzers; zero means no cap.
	Limit int
}

func NewMulti(limit int, scanners ...Named) *Multi {
	return &Multi{Scanners: scanners, Limit: limit}
}

func (m *Multi) Scan(ctx context.Context, scope findings.Scope) ([]findings.Finding, error) {
	results := make([][]findings.Finding, len(m.Scanners))

	g, gctx := errgroup.WithContext(ctx)
	if m.Limit > 0 {
		g.SetLimit(m.Limit)
	}
	for i, n := range m.Scanners {
		g.Go(func() error {
			list, err := n.Scanner.Scan(gctx, scope)
			if err != nil {
				return fmt.Errorf("%s: %w", n.Name, err)
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []findings.Finding{}
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
