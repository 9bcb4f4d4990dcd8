package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/infra/executor"
)

const containerReportDir = "/autofix-report"

// CommandScanner runs one analyzer as an external command and parses its
// report. Args may use the placeholders {root}, {report}, {files} and
// {classes}. An argument that is exactly {files} or {classes} expands to one
// argument per path; embedded, they expand to a comma-separated list.
type CommandScanner struct {
	Name        string
	Format      Format
	Args        []string
	Image       string
	Env         []string
	OkExitCodes []int
	Runner      *executor.Runner
	Paths       PathResolver
}

func (s *CommandScanner) Scan(ctx context.Context, scope findings.Scope) ([]findings.Finding, error) {
	parse, err := ParserFor(s.Format)
	if err != nil {
		return nil, err
	}

	cmd := executor.Command{Dir: s.Paths.Root, Image: s.Image, Env: s.Env, Workdir: s.Paths.Workdir}
	root := s.Paths.Root
	if s.Image != "" {
		root = cmd.Workdir
		if root == "" {
			root = "/workspace"
		}
	}

	var reportPath, reportArg string
	if s.usesReport() {
		dir, err := os.MkdirTemp("", "autofix-"+s.Name+"-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		reportPath = filepath.Join(dir, "report")
		reportArg = reportPath
		if s.Image != "" {
			cmd.Volumes = append(cmd.Volumes, dir+":"+containerReportDir)
			reportArg = containerReportDir + "/report"
		}
	}

	files := scopeFiles(scope, root)
	classes := s.classFiles(scope, root)
	cmd.Args = expandArgs(s.Args, map[string][]string{
		"{root}":    {root},
		"{report}":  {reportArg},
		"{files}":   files,
		"{classes}": classes,
	})

	log.Debug().Str("analyzer", s.Name).Strs("args", cmd.Args).Msg("running analyzer")
	res, err := s.Runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("analyzer %s: %w", s.Name, err)
	}
	if !s.exitOK(res.ExitCode) {
		return nil, fmt.Errorf("analyzer %s exited with %d: %s", s.Name, res.ExitCode, lastBytes(res.Output, 512))
	}

	data := res.Output
	if reportPath != "" {
		data, err = os.ReadFile(reportPath)
		if err != nil {
			return nil, fmt.Errorf("analyzer %s report: %w", s.Name, err)
		}
	}
	list, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("analyzer %s: %w", s.Name, err)
	}
	s.Paths.Apply(list)

	log.Debug().Str("analyzer", s.Name).Int("findings", len(list)).Dur("duration", res.Duration).Msg("analyzer finished")
	return list, nil
}

func (s *CommandScanner) usesReport() bool {
	for _, a := range s.Args {
		if strings.Contains(a, "{report}") {
			return true
		}
	}
	return false
}

func (s *CommandScanner) exitOK(code int) bool {
	if len(s.OkExitCodes) == 0 {
		return code == 0
	}
	return slices.Contains(s.OkExitCodes, code)
}

func (s *CommandScanner) classFiles(scope findings.Scope, root string) []string {
	var out []string
	for _, f := range scope.Files {
		if c := s.Paths.ClassFile(f); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return []string{root}
	}
	return out
}

func scopeFiles(scope findings.Scope, root string) []string {
	if len(scope.Files) == 0 {
		return []string{root}
	}
	out := make([]string, 0, len(scope.Files))
	for _, f := range scope.Files {
		out = append(out, findings.NormalizePath(f))
	}
	return out
}

func expandArgs(args []string, values map[string][]string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if vs, ok := values[a]; ok && len(vs) != 1 {
			out = append(out, vs...)
			continue
		}
		for k, vs := range values {
			a = strings.ReplaceAll(a, k, strings.Join(vs, ","))
		}
		out = append(out, a)
	}
	return out
}

func lastBytes(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
