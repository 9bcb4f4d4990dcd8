package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-fix/internal/application"
	apppatches "github.com/bryanwahyu/automaton-fix/internal/application/patches"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
	"github.com/bryanwahyu/automaton-fix/internal/infra/diff"
	"github.com/bryanwahyu/automaton-fix/internal/infra/executor"
	"github.com/bryanwahyu/automaton-fix/internal/infra/ledger"
	"github.com/bryanwahyu/automaton-fix/internal/infra/vcs"
	"github.com/bryanwahyu/automaton-fix/internal/infra/workspace"
	"github.com/bryanwahyu/automaton-fix/internal/middleware"
)

var runFlags struct {
	project     string
	findings    string
	out         string
	maxAttempts int
	findingIDs  []string
	include     []string
	exclude     []string
	metricsAddr string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Patch every finding location in the findings file",
	Long: `run walks the findings file once. For each location it asks the model for
a fixed file, builds the project with the candidate in place, re-runs the
analyzers on that file and keeps the diff only when the finding is gone.
The working tree is restored after every attempt.`,
	RunE: runPatches,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.project, "project", "", "project root (overrides project.root)")
	f.StringVar(&runFlags.findings, "findings", "", "findings file (overrides project.findings)")
	f.StringVar(&runFlags.out, "out", "", "diff output directory (overrides project.out)")
	f.IntVar(&runFlags.maxAttempts, "max-attempts", 0, "attempts per location (overrides patch.maxAttempts)")
	f.StringSliceVar(&runFlags.findingIDs, "finding", nil, "only process these finding ids")
	f.StringSliceVar(&runFlags.include, "include", nil, "only process files matching these globs")
	f.StringSliceVar(&runFlags.exclude, "exclude", nil, "skip files matching these globs")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

func applyRunFlags() {
	if runFlags.project != "" {
		cfg.Project.Root = runFlags.project
	}
	if runFlags.findings != "" {
		cfg.Project.Findings = runFlags.findings
	}
	if runFlags.out != "" {
		cfg.Project.Out = runFlags.out
	}
	if runFlags.maxAttempts != 0 {
		cfg.Patch.MaxAttempts = runFlags.maxAttempts
	}
	if len(runFlags.include) > 0 {
		cfg.Project.Include = runFlags.include
	}
	if len(runFlags.exclude) > 0 {
		cfg.Project.Exclude = runFlags.exclude
	}
}

func runPatches(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applyRunFlags()
	if err := cfg.Validate(); err != nil {
		return setupError("validate config", err)
	}
	if err := cfg.ValidateOracle(); err != nil {
		return setupError("validate config", err)
	}
	if len(cfg.Analyzers) == 0 {
		return setupError("validate config", errors.New("at least one analyzer is required to revalidate patches"))
	}

	guard, err := workspace.NewGuard(cfg.Project.Root)
	if err != nil {
		return setupError("open project", err)
	}
	root := guard.Root()

	res := &resources{}
	defer res.Close()

	runner := executor.NewRunner()
	scan, err := newScanner(cfg, root, runner)
	if err != nil {
		return setupError("analyzers", err)
	}
	build, err := newBuildOracle(cfg, root, runner)
	if err != nil {
		return setupError("build", err)
	}
	artifacts, err := newArtifactStore(ctx, cfg, cfg.Project.Out)
	if err != nil {
		return setupError("artifact store", err)
	}
	attempts, err := newAttemptRepository(ctx, cfg, res, nil)
	if err != nil {
		return setupError("audit store", err)
	}
	oracle := newOracle(cfg)

	runID := uuid.NewString()
	sha, err := vcs.Head(root)
	switch {
	case errors.Is(err, vcs.ErrNotRepository):
		log.Debug().Str("root", root).Msg("project is not a git checkout")
	case err != nil:
		log.Warn().Err(err).Msg("cannot resolve HEAD")
	}
	if dirty, err := vcs.Dirty(root); err == nil && len(dirty) > 0 {
		log.Warn().Int("files", len(dirty)).Strs("sample", head(dirty, 5)).
			Msg("working tree has uncommitted changes; diffs are taken against the files as they are")
	}

	metrics := middleware.NewMetrics(prometheus.NewRegistry())
	if runFlags.metricsAddr != "" {
		srv := &http.Server{Addr: runFlags.metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		res.add(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	svc := &apppatches.Service{
		Ledger:    ledger.NewFile(cfg.Project.Findings),
		Workspace: guard,
		Oracle:    oracle,
		Build:     build,
		Scanner:   scan,
		Differ:    diff.NewEngine(),
		Artifacts: artifacts,
		Attempts:  attempts,
		Observer:  metrics,
		Clock:     application.SystemClock{},
		Options: apppatches.Options{
			MaxAttempts:       cfg.Patch.MaxAttempts,
			DiffContext:       *cfg.Patch.DiffContext,
			RejectRegressions: *cfg.Patch.RejectRegressions,
			Include:           cfg.Project.Include,
			Exclude:           cfg.Project.Exclude,
			FindingIDs:        runFlags.findingIDs,
			RunID:             runID,
			CommitSHA:         sha,
		},
	}

	log.Info().
		Str("run", runID).
		Str("root", root).
		Str("findings", cfg.Project.Findings).
		Str("commit", sha).
		Int("max_attempts", cfg.Patch.MaxAttempts).
		Msg("run started")

	summary, runErr := svc.Run(ctx)

	calls, failures := oracle.Stats()
	metrics.AddOracleCalls(calls)
	printRunSummary(cmd.OutOrStdout(), summary)
	log.Info().
		Str("run", runID).
		Int("accepted", summary.Count(patches.StateAccepted)).
		Int("abandoned", summary.Count(patches.StateAbandoned)).
		Int("skipped", summary.Count(patches.StateSkipped)).
		Int64("oracle_calls", calls).
		Int64("oracle_failures", failures).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("run finished")
	return runErr
}

func printRunSummary(w io.Writer, s patches.RunSummary) {
	if len(s.Results) == 0 {
		fmt.Fprintln(w, "no finding locations processed")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Finding", "Name", "File", "State", "Attempts", "Diff / Reason")
	for _, r := range s.Results {
		detail := r.Reason
		if r.Patch != nil {
			detail = r.Patch.Path
			if r.Patch.Verification != "" {
				detail += " (" + string(r.Patch.Verification) + ")"
			}
		}
		_ = table.Append(r.FindingID, r.Name, filepath.ToSlash(r.File), string(r.State), fmt.Sprint(r.Attempts), detail)
	}
	_ = table.Render()
	fmt.Fprintf(w, "%d accepted, %d abandoned, %d skipped of %d locations\n",
		s.Count(patches.StateAccepted), s.Count(patches.StateAbandoned), s.Count(patches.StateSkipped), len(s.Results))
}

func head(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
