package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
project:
  root: ./service
  findings: reports/findings.json
  out: reports/patches
  sourceRoots: [src/main/java]
  exclude: ["src/test/**"]
patch:
  maxAttempts: 4
  diffContext: 0
  rejectRegressions: false
build:
  command: [mvn, -q, -B, test-compile]
  image: maven:3.9-eclipse-temurin-17
  timeout: 10m
openai:
  model: gpt-4o
  temperature: 0.2
analyzers:
  - name: pmd
    format: pmd
    args: [pmd, check, -d, "{files}", -R, rulesets/java/quickstart.xml, -f, xml, -r, "{report}"]
    okExitCodes: [4]
audit:
  driver: postgres
  dsn: postgres://autofix@localhost/autofix?sslmode=disable
storage:
  minio:
    endpoint: localhost:9000
    bucketName: patches
server:
  apiKeys:
    ci: s3cret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "autofix.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateOracle())

	assert.Equal(t, "./service", cfg.Project.Root)
	assert.Equal(t, []string{"src/test/**"}, cfg.Project.Exclude)
	assert.Equal(t, 4, cfg.Patch.MaxAttempts)
	assert.Equal(t, 0, *cfg.Patch.DiffContext)
	assert.False(t, *cfg.Patch.RejectRegressions)
	assert.Equal(t, 10*time.Minute, cfg.Build.Timeout)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, []int{4}, cfg.Analyzers[0].OkExitCodes)
	assert.True(t, cfg.Storage.Minio.Enabled())
	assert.Equal(t, "s3cret", cfg.Server.APIKeys["ci"])

	// untouched sections get defaults
	assert.Equal(t, 60, cfg.OpenAI.RequestsPerMinute)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "auto", cfg.Log.Format)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Patch.MaxAttempts)
	assert.Equal(t, 3, *cfg.Patch.DiffContext)
	assert.True(t, *cfg.Patch.RejectRegressions)
	assert.Equal(t, "findings.json", cfg.Project.Findings)
	assert.Equal(t, "bolt", cfg.Audit.Driver)
	assert.Equal(t, ".autofix/attempts.db", cfg.Audit.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "o3-mini")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("AUTOFIX_MAX_ATTEMPTS", "5")

	cfg, err := Load(writeConfig(t, "openai:\n  model: gpt-4o\n"))
	require.NoError(t, err)
	assert.Equal(t, "o3-mini", cfg.OpenAI.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, 5, cfg.Patch.MaxAttempts)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "patch: [not, a, map]\n"))
	assert.ErrorContains(t, err, "parse")
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
patch:
  maxAttempts: -1
  diffContext: 7
project:
  include: ["src/[a"]
analyzers:
  - name: x
    format: sonar
  - name: x
    format: pmd
    args: [pmd]
audit:
  driver: mysql
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"maxAttempts", "diffContext", "invalid glob", "unknown format", "args are required",
		"duplicate name", "audit.dsn is required",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidateOracle(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.ValidateOracle(), "OPENAI_API_KEY")
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultPath, Path(""))
	t.Setenv("CONFIG_PATH", "/etc/autofix.yaml")
	assert.Equal(t, "/etc/autofix.yaml", Path(""))
	assert.Equal(t, "x.yaml", Path("x.yaml"))
}
