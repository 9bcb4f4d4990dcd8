package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	Args []string
	// Dir is the host working directory. In docker mode it is mounted at Workdir.
	Dir string
	Env []string
	// Image, when set, runs Args inside that container instead of on the host.
	Image   string
	Workdir string
	Volumes []string
	Timeout time.Duration
}

// Result is the raw outcome of a finished process.
type Result struct {
	Output   []byte
	ExitCode int
	Duration time.Duration
}

// waitDelay bounds how long output pipes are drained after the process is killed.
const waitDelay = 2 * time.Second

// Runner executes commands on the host or through the docker CLI.
type Runner struct {
	Docker string
}

func NewRunner() *Runner {
	return &Runner{Docker: "docker"}
}

// Run starts the command and waits for it. A non-zero exit is reported
// through Result.ExitCode; err is only set when the process could not run
// or the context ended.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, errors.New("empty command")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := r.command(ctx, c)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	res := Result{Output: out, Duration: time.Since(start)}

	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s: %w", c.Args[0], ctx.Err())
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w, output=%s", c.Args[0], err, string(out))
	}
	return res, nil
}

func (r *Runner) command(ctx context.Context, c Command) *exec.Cmd {
	if c.Image == "" {
		cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
		cmd.Dir = c.Dir
		if len(c.Env) > 0 {
			cmd.Env = append(cmd.Environ(), c.Env...)
		}
		return cmd
	}

	workdir := c.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}
	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		dir = c.Dir
	}
	args := []string{"run", "--rm",
		"-v", fmt.Sprintf("%s:%s", dir, workdir),
		"-w", workdir,
	}
	for _, v := range c.Volumes {
		args = append(args, "-v", v)
	}
	for _, e := range c.Env {
		args = append(args, "-e", e)
	}
	args = append(args, c.Image)
	args = append(args, c.Args...)

	docker := r.Docker
	if docker == "" {
		docker = "docker"
	}
	return exec.CommandContext(ctx, docker, args...)
}
