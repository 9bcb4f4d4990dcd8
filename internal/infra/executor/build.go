package executor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

// BuildOracle runs the project's build and test command.
type BuildOracle struct {
	Runner     *Runner
	Command    Command
	Diagnostic DiagnosticExtractor
}

func NewBuildOracle(r *Runner, cmd Command, d DiagnosticExtractor) *BuildOracle {
	return &BuildOracle{Runner: r, Command: cmd, Diagnostic: d}
}

func (b *BuildOracle) Run(ctx context.Context) (patches.BuildResult, error) {
	res, err := b.Runner.Run(ctx, b.Command)
	if err != nil {
		return patches.BuildResult{}, err
	}

	out := patches.BuildResult{
		Passed:   res.ExitCode == 0,
		ExitCode: res.ExitCode,
		Output:   string(res.Output),
		Duration: res.Duration,
	}
	if !out.Passed {
		out.Diagnostic = b.Diagnostic.Extract(out.Output)
	}
	log.Debug().
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Bool("passed", out.Passed).
		Msg("build finished")
	return out, nil
}
