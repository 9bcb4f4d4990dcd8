package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/infra/ledger"
)

var compareFlags struct {
	before string
	after  string
	file   string
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare two findings files for one source file",
	Long: `compare matches findings by name, explanation and tags (never by id) and
reports which issues of the before file are gone, still present or new in
the after file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		if compareFlags.before == "" || compareFlags.after == "" || compareFlags.file == "" {
			return setupError("compare", errors.New("--before, --after and --file are required"))
		}
		before, err := ledger.ReadFile(compareFlags.before)
		if err != nil {
			return setupError("read before", err)
		}
		after, err := ledger.ReadFile(compareFlags.after)
		if err != nil {
			return setupError("read after", err)
		}
		printComparison(cmd.OutOrStdout(), findings.Compare(before, after, compareFlags.file))
		return nil
	},
}

func init() {
	f := compareCmd.Flags()
	f.StringVar(&compareFlags.before, "before", "", "findings file before the change")
	f.StringVar(&compareFlags.after, "after", "", "findings file after the change")
	f.StringVar(&compareFlags.file, "file", "", "project-relative source file to compare")
}

func printComparison(w io.Writer, c findings.Comparison) {
	rows := 0
	table := tablewriter.NewWriter(w)
	table.Header("Status", "Name", "Tags", "Before IDs")
	add := func(status string, keys []findings.IdentityKey) {
		for _, k := range keys {
			ids := fmt.Sprint(c.BeforeIDs[k])
			if status == "introduced" {
				ids = "-"
			}
			_ = table.Append(status, k.Name, k.Tags, ids)
			rows++
		}
	}
	add("removed", c.Removed)
	add("persisting", c.Persisting)
	add("introduced", c.Introduced)
	if rows == 0 {
		fmt.Fprintf(w, "no findings for %s in either file\n", c.File)
		return
	}
	_ = table.Render()
	fmt.Fprintf(w, "%s: %d removed, %d persisting, %d introduced\n",
		c.File, len(c.Removed), len(c.Persisting), len(c.Introduced))
}
