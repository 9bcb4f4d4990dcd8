package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	appscans "github.com/bryanwahyu/automaton-fix/internal/application/scans"
	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/infra/executor"
	"github.com/bryanwahyu/automaton-fix/internal/infra/ledger"
	"github.com/bryanwahyu/automaton-fix/internal/infra/scanner"
	"github.com/bryanwahyu/automaton-fix/internal/infra/workspace"
)

var scanFlags struct {
	project   string
	output    string
	merge     []string
	files     []string
	mergeOnly bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the analyzers and write the findings file",
	Long: `scan runs every configured analyzer over the project, appends the
findings files given with --merge and writes one canonical findings file.
Duplicate finding ids get fresh ones.`,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.project, "project", "", "project root (overrides project.root)")
	f.StringVarP(&scanFlags.output, "output", "o", "", "findings file to write (overrides project.findings)")
	f.StringSliceVar(&scanFlags.merge, "merge", nil, "findings files to append")
	f.StringSliceVar(&scanFlags.files, "file", nil, "only analyze these project-relative files")
	f.BoolVar(&scanFlags.mergeOnly, "merge-only", false, "skip the analyzers and only merge --merge files")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scanFlags.project != "" {
		cfg.Project.Root = scanFlags.project
	}
	output := cfg.Project.Findings
	if scanFlags.output != "" {
		output = scanFlags.output
	}
	if scanFlags.mergeOnly && len(scanFlags.merge) == 0 {
		return setupError("scan", errors.New("--merge-only needs at least one --merge file"))
	}
	if !scanFlags.mergeOnly && len(cfg.Analyzers) == 0 {
		return setupError("scan", errors.New("no analyzers configured"))
	}

	guard, err := workspace.NewGuard(cfg.Project.Root)
	if err != nil {
		return setupError("open project", err)
	}
	multi, err := newScanner(cfg, guard.Root(), executor.NewRunner())
	if err != nil {
		return setupError("analyzers", err)
	}

	sources := make([]findings.Ledger, 0, len(scanFlags.merge))
	for _, p := range scanFlags.merge {
		sources = append(sources, ledger.NewFile(p))
	}

	svc := &appscans.Service{
		Scanner: multi,
		Ledger:  ledger.NewFile(output),
		NewID:   scanner.NewFindingID,
	}
	res, err := svc.Scan(ctx, appscans.ScanCommand{
		Files:         scanFlags.files,
		Sources:       sources,
		SkipAnalyzers: scanFlags.mergeOnly,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	table := tablewriter.NewWriter(w)
	table.Header("Finding", "Count")
	for _, nc := range res.ByName {
		_ = table.Append(nc.Name, fmt.Sprint(nc.Count))
	}
	_ = table.Render()
	fmt.Fprintf(w, "%d findings, %d locations written to %s", res.Findings, res.Locations, output)
	if res.Merged > 0 {
		fmt.Fprintf(w, " (%d merged, %d renumbered)", res.Merged, res.Renumbered)
	}
	fmt.Fprintln(w)
	return nil
}
