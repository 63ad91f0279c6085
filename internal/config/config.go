// internal/config/config.go
//
// This package handles weft.yaml, the per-project configuration that sets the
// concurrency bound, failure policy, executor commands and workspace layout
// routes used by every run.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the project configuration file looked up in the project dir.
	FileName = "weft.yaml"

	// EnvRunsDir overrides runs_dir.
	EnvRunsDir = "WEFT_RUNS_DIR"
	// EnvMaxParallel overrides engine.max_parallel.
	EnvMaxParallel = "WEFT_MAX_PARALLEL"

	defaultRunsDir         = ".weft/runs"
	defaultMaxParallel     = 4
	defaultIdleBackoff     = 2 * time.Second
	defaultPersistAttempts = 2
	defaultPersistDelay    = 200 * time.Millisecond
	defaultShell           = "/bin/sh"
	defaultTimeout         = 30 * time.Minute
)

// Failure policies understood by the engine.
const (
	PolicyLeaveStuck  = "leave-stuck"
	PolicyCascadeSkip = "cascade-skip"
)

const defaultProjectConfigYAML = `# weft project configuration
version: 1

# Where run workspaces are created. Relative paths resolve against this file.
runs_dir: .weft/runs

engine:
  # Global number of nodes allowed to run at once. 0 disables the bound.
  max_parallel: 4
  # Pause between ticks when nothing is ready and nothing is running.
  idle_backoff: 2s
  # leave-stuck keeps dependents of a failed node pending until the run is
  # reported stuck; cascade-skip marks them skipped instead.
  failure_policy: leave-stuck
  # Snapshot writes are attempted this many times before the run aborts.
  persist_attempts: 2
  # Pause between snapshot write attempts.
  persist_retry_delay: 200ms

executor:
  shell: /bin/sh
  timeout: 30m
  # Command per node category. The node description arrives on stdin.
  commands:
    default: cat > "$WEFT_OUTPUT_DIR/description.txt"

layout:
  # Second id segments matching a pattern are grouped under dir.
  routes:
    - pattern: "^unit-[0-9]+$"
      dir: units
`

// EngineConfig tunes the execution loop.
type EngineConfig struct {
	MaxParallel       int           `yaml:"max_parallel"`
	IdleBackoff       time.Duration `yaml:"idle_backoff"`
	FailurePolicy     string        `yaml:"failure_policy"`
	PersistAttempts   int           `yaml:"persist_attempts"`
	PersistRetryDelay time.Duration `yaml:"persist_retry_delay"`
}

// ExecutorConfig configures the shell command executor.
type ExecutorConfig struct {
	Shell    string            `yaml:"shell"`
	Timeout  time.Duration     `yaml:"timeout"`
	Commands map[string]string `yaml:"commands"`
}

// Route sends node ids whose second segment matches Pattern into Dir.
type Route struct {
	Pattern string `yaml:"pattern"`
	Dir     string `yaml:"dir"`

	re *regexp.Regexp
}

// Match reports whether segment is routed by r.
func (r Route) Match(segment string) bool {
	if r.re == nil {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(segment)
	}
	return r.re.MatchString(segment)
}

// LayoutConfig configures workspace directory routing.
type LayoutConfig struct {
	Routes []Route `yaml:"routes"`
}

// ProjectConfig models weft.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	RunsDir  string         `yaml:"runs_dir"`
	Engine   EngineConfig   `yaml:"engine"`
	Executor ExecutorConfig `yaml:"executor"`
	Layout   LayoutConfig   `yaml:"layout"`
}

// Config holds the runtime configuration for weft.
type Config struct {
	// ProjectDir is the directory holding weft.yaml.
	ProjectDir string

	Project ProjectConfig
}

// Init writes the default weft.yaml into projectDir unless one exists.
func Init(projectDir string) error {
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure project dir: %w", err)
	}
	return ensureProjectConfig(filepath.Join(projectDir, FileName))
}

// Load reads weft.yaml from projectDir. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ProjectDir, FileName)
}

// RunsDir returns the absolute directory holding run workspaces.
func (c *Config) RunsDir() string {
	return c.Project.RunsDir
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ProjectDir)
			return c.Project.validate()
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvRunsDir); ok && strings.TrimSpace(value) != "" {
		c.Project.RunsDir = resolvePath(c.ProjectDir, value)
	}
	if value, ok := lookup(EnvMaxParallel); ok && strings.TrimSpace(value) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return fmt.Errorf("config: %s must be a non-negative integer, got %q", EnvMaxParallel, value)
		}
		c.Project.Engine.MaxParallel = n
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{
		Version: 1,
		RunsDir: defaultRunsDir,
		Engine: EngineConfig{
			MaxParallel:       defaultMaxParallel,
			IdleBackoff:       defaultIdleBackoff,
			FailurePolicy:     PolicyLeaveStuck,
			PersistAttempts:   defaultPersistAttempts,
			PersistRetryDelay: defaultPersistDelay,
		},
		Executor: ExecutorConfig{
			Shell:    defaultShell,
			Timeout:  defaultTimeout,
			Commands: map[string]string{},
		},
	}
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.RunsDir) == "" {
		pc.RunsDir = defaultRunsDir
	}
	if pc.Engine.IdleBackoff == 0 {
		pc.Engine.IdleBackoff = defaultIdleBackoff
	}
	if strings.TrimSpace(pc.Engine.FailurePolicy) == "" {
		pc.Engine.FailurePolicy = PolicyLeaveStuck
	}
	if pc.Engine.PersistAttempts == 0 {
		pc.Engine.PersistAttempts = defaultPersistAttempts
	}
	if strings.TrimSpace(pc.Executor.Shell) == "" {
		pc.Executor.Shell = defaultShell
	}
	if pc.Executor.Timeout == 0 {
		pc.Executor.Timeout = defaultTimeout
	}
	if pc.Executor.Commands == nil {
		pc.Executor.Commands = map[string]string{}
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.RunsDir = resolvePath(base, pc.RunsDir)
	pc.Engine.FailurePolicy = strings.ToLower(strings.TrimSpace(pc.Engine.FailurePolicy))
	pc.Executor.Shell = strings.TrimSpace(pc.Executor.Shell)
	normalized := make(map[string]string, len(pc.Executor.Commands))
	for category, cmd := range pc.Executor.Commands {
		normalized[strings.TrimSpace(category)] = cmd
	}
	pc.Executor.Commands = normalized
	for i := range pc.Layout.Routes {
		pc.Layout.Routes[i].Pattern = strings.TrimSpace(pc.Layout.Routes[i].Pattern)
		pc.Layout.Routes[i].Dir = strings.Trim(strings.TrimSpace(pc.Layout.Routes[i].Dir), "/")
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Engine.MaxParallel < 0 {
		return fmt.Errorf("engine.max_parallel must be >= 0")
	}
	if pc.Engine.IdleBackoff < 0 {
		return fmt.Errorf("engine.idle_backoff must be >= 0")
	}
	switch pc.Engine.FailurePolicy {
	case PolicyLeaveStuck, PolicyCascadeSkip:
	default:
		return fmt.Errorf("engine.failure_policy must be %q or %q", PolicyLeaveStuck, PolicyCascadeSkip)
	}
	if pc.Engine.PersistAttempts < 1 {
		return fmt.Errorf("engine.persist_attempts must be >= 1")
	}
	if pc.Engine.PersistRetryDelay < 0 {
		return fmt.Errorf("engine.persist_retry_delay must be >= 0")
	}
	if pc.Executor.Timeout < 0 {
		return fmt.Errorf("executor.timeout must be >= 0")
	}
	for i := range pc.Layout.Routes {
		if err := pc.Layout.Routes[i].compile(); err != nil {
			return fmt.Errorf("layout.routes[%d]: %w", i, err)
		}
	}
	return nil
}

func (r *Route) compile() error {
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	switch {
	case r.Dir == "", r.Dir == ".", r.Dir == "..", strings.ContainsAny(r.Dir, `/\`):
		return fmt.Errorf("dir must be a single directory name")
	case strings.HasPrefix(r.Dir, "_"), r.Dir == "output":
		return fmt.Errorf("dir %q is reserved", r.Dir)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("pattern: %w", err)
	}
	r.re = re
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
