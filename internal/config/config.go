package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set.
const DefaultPath = "autofix.yaml"

type Config struct {
	Project   Project    `yaml:"project"`
	Patch     Patch      `yaml:"patch"`
	Build     Build      `yaml:"build"`
	OpenAI    OpenAI     `yaml:"openai"`
	Analyzers []Analyzer `yaml:"analyzers"`
	Audit     Audit      `yaml:"audit"`
	Storage   Storage    `yaml:"storage"`
	Server    Server     `yaml:"server"`
	Log       Log        `yaml:"log"`
}

type Project struct {
	Root     string `yaml:"root"`
	Findings string `yaml:"findings"`
	Out      string `yaml:"out"`
	// SourceRoots resolve analyzer paths such as SpotBugs sourcepaths.
	SourceRoots []string `yaml:"sourceRoots"`
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
}

type Patch struct {
	MaxAttempts       int   `yaml:"maxAttempts"`
	DiffContext       *int  `yaml:"diffContext"`
	RejectRegressions *bool `yaml:"rejectRegressions"`
}

type Build struct {
	Command []string `yaml:"command"`
	// Image runs the command inside docker with the project mounted.
	Image              string            `yaml:"image"`
	Workdir            string            `yaml:"workdir"`
	Volumes            []string          `yaml:"volumes"`
	Env                map[string]string `yaml:"env"`
	Timeout            time.Duration     `yaml:"timeout"`
	DiagnosticMarker   string            `yaml:"diagnosticMarker"`
	MaxDiagnosticBytes int               `yaml:"maxDiagnosticBytes"`
}

type OpenAI struct {
	APIKey            string        `yaml:"apiKey"`
	BaseURL           string        `yaml:"baseURL"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"maxTokens"`
	Temperature       float32       `yaml:"temperature"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	MaxRetries        int           `yaml:"maxRetries"`
	Timeout           time.Duration `yaml:"timeout"`
}

type Analyzer struct {
	Name   string   `yaml:"name"`
	Format string   `yaml:"format"`
	Args   []string `yaml:"args"`
	Image  string   `yaml:"image"`
	Env    []string `yaml:"env"`
	// OkExitCodes lists non-zero exits that still mean "report written".
	OkExitCodes []int `yaml:"okExitCodes"`
}

type Audit struct {
	Driver string `yaml:"driver"` // bolt, mysql, postgres or none
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type Storage struct {
	Minio Minio `yaml:"minio"`
}

type Minio struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	BucketName string `yaml:"bucketName"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"useSSL"`
	Prefix     string `yaml:"prefix"`
}

// Enabled reports whether diffs are mirrored to object storage.
func (m Minio) Enabled() bool { return m.Endpoint != "" && m.BucketName != "" }

type Server struct {
	Addr           string            `yaml:"addr"`
	APIKeys        map[string]string `yaml:"apiKeys"`
	RateBurst      int               `yaml:"rateBurst"`
	RatePerSecond  float64           `yaml:"ratePerSecond"`
	AllowedOrigins []string          `yaml:"allowedOrigins"`
}

type Log struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
}

// Path resolves the config file location from the flag value and CONFIG_PATH.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads .env (if present), the YAML file at path and the environment
// overrides, then applies defaults. A missing file at the default path is
// not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("AUTOFIX_AUDIT_DSN"); v != "" {
		c.Audit.DSN = v
	}
	if v := os.Getenv("AUTOFIX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AUTOFIX_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Patch.MaxAttempts = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Project.Root == "" {
		c.Project.Root = "."
	}
	if c.Project.Findings == "" {
		c.Project.Findings = "findings.json"
	}
	if c.Project.Out == "" {
		c.Project.Out = "patches"
	}
	if c.Patch.MaxAttempts == 0 {
		c.Patch.MaxAttempts = 3
	}
	if c.Patch.DiffContext == nil {
		n := 3
		c.Patch.DiffContext = &n
	}
	if c.Patch.RejectRegressions == nil {
		t := true
		c.Patch.RejectRegressions = &t
	}
	if len(c.Build.Command) == 0 {
		c.Build.Command = []string{"mvn", "-q", "-B", "compile"}
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens == 0 {
		c.OpenAI.MaxTokens = 4096
	}
	if c.OpenAI.RequestsPerMinute == 0 {
		c.OpenAI.RequestsPerMinute = 60
	}
	if c.OpenAI.MaxRetries == 0 {
		c.OpenAI.MaxRetries = 5
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 2 * time.Minute
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "bolt"
	}
	if c.Audit.Driver == "bolt" && c.Audit.Path == "" {
		c.Audit.Path = ".autofix/attempts.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 5
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the settings a patch run depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Patch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("patch.maxAttempts must be >= 1, got %d", c.Patch.MaxAttempts))
	}
	if d := *c.Patch.DiffContext; d < 0 || d > 3 {
		errs = append(errs, fmt.Errorf("patch.diffContext must be within 0..3, got %d", d))
	}
	if len(c.Build.Command) == 0 || strings.TrimSpace(c.Build.Command[0]) == "" {
		errs = append(errs, errors.New("build.command is required"))
	}
	if c.Build.Timeout < 0 {
		errs = append(errs, errors.New("build.timeout must not be negative"))
	}
	for _, pat := range append(append([]string{}, c.Project.Include...), c.Project.Exclude...) {
		if !doublestar.ValidatePattern(pat) {
			errs = append(errs, fmt.Errorf("invalid glob %q", pat))
		}
	}
	seen := map[string]bool{}
	for i, a := range c.Analyzers {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("analyzers[%d]: name is required", i))
		} else if seen[a.Name] {
			errs = append(errs, fmt.Errorf("analyzers[%d]: duplicate name %q", i, a.Name))
		}
		seen[a.Name] = true
		switch a.Format {
		case "pmd", "spotbugs", "trivy", "findings":
		default:
			errs = append(errs, fmt.Errorf("analyzers[%d]: unknown format %q", i, a.Format))
		}
		if len(a.Args) == 0 {
			errs = append(errs, fmt.Errorf("analyzers[%d]: args are required", i))
		}
	}
	switch c.Audit.Driver {
	case "none", "bolt":
	case "mysql", "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, fmt.Errorf("audit.dsn is required for driver %s", c.Audit.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.driver %q", c.Audit.Driver))
	}
	return errors.Join(errs...)
}

// ValidateOracle checks the settings needed to call the fix oracle.
func (c *Config) ValidateOracle() error {
	if c.OpenAI.APIKey == "" {
		return errors.New("openai.apiKey or OPENAI_API_KEY is required")
	}
	if c.OpenAI.RequestsPerMinute < 1 {
		return fmt.Errorf("openai.requestsPerMinute must be >= 1, got %d", c.OpenAI.RequestsPerMinute)
	}
	return nil
}
