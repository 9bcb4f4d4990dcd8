package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-fix/internal/config"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
	"github.com/bryanwahyu/automaton-fix/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const (
	exitFailure   = 1
	exitSetup     = 2
	exitCancelled = 130
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "autofix",
		Short: "Propose, verify and record patches for static-analysis findings",
		Long: `autofix reads a findings file produced by static analyzers, asks a
language model for a fix per finding location, and keeps a fix only when the
project still builds and the analyzers stop reporting the finding.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or autofix.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "auto, console or json")

	rootCmd.AddCommand(runCmd, scanCmd, compareCmd, serveCmd, versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(config.Path(configPath))
	if err != nil {
		return setupError("load config", err)
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if logFormat != "" {
		c.Log.Format = logFormat
	}
	logging.Init(logging.Config{
		Format:    c.Log.Format,
		Level:     c.Log.Level,
		Component: "autofix",
		FilePath:  c.Log.File,
	})
	cfg = c
	return nil
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("autofix failed")
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	logging.Shutdown()
	os.Exit(exitCode(err))
}

func setupError(op string, err error) error {
	return patches.NewError(patches.KindSetup, op, err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case patches.KindOf(err) == patches.KindSetup:
		return exitSetup
	default:
		return exitFailure
	}
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "autofix", Version)
	},
}
