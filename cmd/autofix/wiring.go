package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"sort"

	appai "github.com/bryanwahyu/automaton-fix/internal/application/ai"
	"github.com/bryanwahyu/automaton-fix/internal/config"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
	"github.com/bryanwahyu/automaton-fix/internal/infra/ai/openai"
	boltdb "github.com/bryanwahyu/automaton-fix/internal/infra/db/bolt"
	mysqldb "github.com/bryanwahyu/automaton-fix/internal/infra/db/mysql"
	postgresdb "github.com/bryanwahyu/automaton-fix/internal/infra/db/postgres"
	"github.com/bryanwahyu/automaton-fix/internal/infra/executor"
	"github.com/bryanwahyu/automaton-fix/internal/infra/scanner"
	"github.com/bryanwahyu/automaton-fix/internal/infra/storage"
	"github.com/bryanwahyu/automaton-fix/internal/middleware"
)

const defaultWorkdir = "/workspace"

// resources collects what must be closed when a command ends.
type resources struct {
	closers []func() error
}

func (r *resources) add(f func() error) { r.closers = append(r.closers, f) }

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func newScanner(c *config.Config, root string, runner *executor.Runner) (*scanner.Multi, error) {
	named := make([]scanner.Named, 0, len(c.Analyzers))
	for _, a := range c.Analyzers {
		if _, err := scanner.ParserFor(scanner.Format(a.Format)); err != nil {
			return nil, fmt.Errorf("analyzer %s: %w", a.Name, err)
		}
		paths := scanner.PathResolver{Root: root, SourceRoots: c.Project.SourceRoots}
		if a.Image != "" {
			paths.Workdir = defaultWorkdir
		}
		named = append(named, scanner.Named{Name: a.Name, Scanner: &scanner.CommandScanner{
			Name:        a.Name,
			Format:      scanner.Format(a.Format),
			Args:        a.Args,
			Image:       a.Image,
			Env:         a.Env,
			OkExitCodes: a.OkExitCodes,
			Runner:      runner,
			Paths:       paths,
		}})
	}
	return scanner.NewMulti(0, named...), nil
}

func newBuildOracle(c *config.Config, root string, runner *executor.Runner) (*executor.BuildOracle, error) {
	d := executor.DiagnosticExtractor{MaxBytes: c.Build.MaxDiagnosticBytes}
	if c.Build.DiagnosticMarker != "" {
		re, err := regexp.Compile(c.Build.DiagnosticMarker)
		if err != nil {
			return nil, fmt.Errorf("build.diagnosticMarker: %w", err)
		}
		d.Marker = re
	}
	cmd := executor.Command{
		Args:    c.Build.Command,
		Dir:     root,
		Env:     envList(c.Build.Env),
		Image:   c.Build.Image,
		Workdir: c.Build.Workdir,
		Volumes: c.Build.Volumes,
		Timeout: c.Build.Timeout,
	}
	return executor.NewBuildOracle(runner, cmd, d), nil
}

func envList(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func newOracle(c *config.Config) *appai.Service {
	retry := openai.DefaultRetryConfig()
	retry.MaxRetries = c.OpenAI.MaxRetries
	client := openai.NewClient(openai.Config{
		APIKey:      c.OpenAI.APIKey,
		BaseURL:     c.OpenAI.BaseURL,
		Model:       c.OpenAI.Model,
		MaxTokens:   c.OpenAI.MaxTokens,
		Temperature: c.OpenAI.Temperature,
		Retry:       retry,
		HTTPClient:  &http.Client{Timeout: c.OpenAI.Timeout},
	})
	return appai.NewService(client, c.OpenAI.RequestsPerMinute)
}

func newArtifactStore(ctx context.Context, c *config.Config, out string) (*storage.LocalStore, error) {
	var mirror storage.Uploader
	if m := c.Storage.Minio; m.Enabled() {
		store, err := storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			Bucket:    m.BucketName,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Prefix:    m.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		mirror = store
	}
	return storage.NewLocal(out, mirror)
}

// newAttemptRepository opens the configured audit store. It returns a nil
// repository for driver "none".
func newAttemptRepository(ctx context.Context, c *config.Config, res *resources, health map[string]middleware.HealthChecker) (patches.AttemptRepository, error) {
	switch c.Audit.Driver {
	case "none":
		return nil, nil
	case "bolt":
		repo, err := boltdb.Open(filepath.Clean(c.Audit.Path))
		if err != nil {
			return nil, err
		}
		res.add(repo.Close)
		return repo, nil
	case "mysql":
		db, err := mysqldb.Connect(ctx, c.Audit.DSN)
		if err != nil {
			return nil, err
		}
		res.add(db.Close)
		repo := mysqldb.NewAttemptRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if health != nil {
			health["audit"] = &middleware.DatabaseHealthChecker{DB: db}
		}
		return repo, nil
	case "postgres":
		db, err := postgresdb.Connect(ctx, c.Audit.DSN)
		if err != nil {
			return nil, err
		}
		res.add(db.Close)
		repo := postgresdb.NewAttemptRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if health != nil {
			health["audit"] = &middleware.DatabaseHealthChecker{DB: db}
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown audit driver %q", c.Audit.Driver)
}
