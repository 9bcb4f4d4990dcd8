package scans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/automaton-fix/internal/application"
	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
)

// ErrNotFound is returned by Get for an unknown finding id.
var ErrNotFound = errors.New("finding not found")

// Service implements the findings-file use cases: producing it from the
// analyzers and reading it back for reporting.
type Service struct {
	Scanner findings.Scanner
	Ledger  findings.Ledger
	// NewID issues a replacement id when merged files collide.
	NewID func() string
	Clock application.Clock
}

// ScanCommand describes one scan. Sources are extra findings files appended
// after the analyzer results, in order.
type ScanCommand struct {
	Files   []string
	Sources []findings.Ledger
	// SkipAnalyzers only merges Sources.
	SkipAnalyzers bool
}

type ScanResult struct {
	Findings   int           `json:"findings"`
	Locations  int           `json:"locations"`
	Merged     int           `json:"merged"`
	Renumbered int           `json:"renumbered"`
	DurationMS int64         `json:"duration_ms"`
	ByName     []NameCount   `json:"by_name"`
	Duration   time.Duration `json:"-"`
}

type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Scan runs the analyzers, appends every source file and writes the merged
// list through the ledger. Nothing is written when any step fails.
func (s *Service) Scan(ctx context.Context, cmd ScanCommand) (ScanResult, error) {
	clock := s.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	started := clock.Now()

	var list []findings.Finding
	if !cmd.SkipAnalyzers {
		found, err := s.Scanner.Scan(ctx, findings.Scope{Files: cmd.Files})
		if err != nil {
			return ScanResult{}, fmt.Errorf("run analyzers: %w", err)
		}
		list = append(list, found...)
	}

	merged := 0
	for i, src := range cmd.Sources {
		extra, err := src.Load(ctx)
		if err != nil {
			return ScanResult{}, fmt.Errorf("merge source %d: %w", i+1, err)
		}
		merged += len(extra)
		list = append(list, extra...)
	}

	renumbered := s.renumber(list)
	list = findings.Normalize(list)
	if err := s.Ledger.Save(ctx, list); err != nil {
		return ScanResult{}, fmt.Errorf("write findings: %w", err)
	}

	res := Summarize(list)
	res.Merged = merged
	res.Renumbered = renumbered
	res.Duration = clock.Now().Sub(started)
	res.DurationMS = res.Duration.Milliseconds()

	log.Info().
		Int("findings", res.Findings).
		Int("locations", res.Locations).
		Int("merged", merged).
		Dur("duration", res.Duration).
		Msg("findings written")
	return res, nil
}

// renumber gives later duplicates of an id a fresh one, so --finding stays
// unambiguous after a merge.
func (s *Service) renumber(list []findings.Finding) int {
	if s.NewID == nil {
		return 0
	}
	seen := make(map[string]struct{}, len(list))
	n := 0
	for i := range list {
		id := list[i].ID
		if _, dup := seen[id]; dup || id == "" {
			for {
				id = s.NewID()
				if _, taken := seen[id]; !taken {
					break
				}
			}
			list[i].ID = id
			n++
		}
		seen[id] = struct{}{}
	}
	return n
}

// List returns the current findings file.
func (s *Service) List(ctx context.Context) ([]findings.Finding, error) {
	return s.Ledger.Load(ctx)
}

// Get returns every finding carrying id. Ids are unique after a scan, but a
// hand-edited file may repeat one.
func (s *Service) Get(ctx context.Context, id string) ([]findings.Finding, error) {
	list, err := s.Ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []findings.Finding
	for _, f := range list {
		if f.ID == id {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return out, nil
}

// Summarize counts findings and locations, grouped by finding name with the
// most frequent first.
func Summarize(list []findings.Finding) ScanResult {
	res := ScanResult{Findings: len(list)}
	counts := map[string]int{}
	for _, f := range list {
		res.Locations += len(f.Items)
		counts[f.Name]++
	}
	for name, c := range counts {
		res.ByName = append(res.ByName, NameCount{Name: name, Count: c})
	}
	sort.Slice(res.ByName, func(i, j int) bool {
		if res.ByName[i].Count != res.ByName[j].Count {
			return res.ByName[i].Count > res.ByName[j].Count
		}
		return res.ByName[i].Name < res.ByName[j].Name
	})
	return res
}
