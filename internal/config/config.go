// Package config resolves the harness configuration.
//
// Precedence, lowest first:
//  1. Defaults
//  2. .env in the working directory (never overrides the real environment)
//  3. Environment: LOC_CPARSER, LOC_TEST_CASES
//  4. Tuning file: .unrollcheck.json in the working directory, or --config
//  5. CLI overrides
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"

	"unrollcheck/internal/checks"
	"unrollcheck/internal/compile"
	"unrollcheck/internal/core"
	"unrollcheck/internal/corpus"
)

// Environment variables.
const (
	EnvCompiler  = "LOC_CPARSER"
	EnvTestCases = "LOC_TEST_CASES"
)

// ConfigFileName is the tuning file looked up in the working directory.
const ConfigFileName = ".unrollcheck.json"

// DotEnvFileName is loaded from the working directory when present.
const DotEnvFileName = ".env"

var (
	ErrMissingEnv         = errors.New("required environment variable not set")
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
)

// Duration is a time.Duration written as a Go duration string ("10s") in
// the tuning file.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the resolved configuration.
type Config struct {
	// Compiler is the compiler under test (LOC_CPARSER).
	Compiler string
	// CorpusDir is the test-case directory (LOC_TEST_CASES).
	CorpusDir string

	CompileTimeout time.Duration
	RunTimeout     time.Duration
	KillGrace      time.Duration
	OutputLimit    int64

	Factors       core.FactorRange
	DefaultFactor int

	AcceptMarker    string
	RejectMarker    string
	DebugMask       string
	SourceExt       string
	InvalidSuffixes []string
	ExtraFlags      []string

	// OutputCompare selects how stdout is compared: core.CompareLineJoin or
	// core.CompareRaw.
	OutputCompare string

	// TempDir holds compiled artifacts; empty means os.TempDir().
	TempDir     string
	Concurrency int

	// Sources records where values came from, for diagnostics.
	Sources Sources
}

// Sources tracks which files were loaded.
type Sources struct {
	DotEnv string
	File   string
}

// Default returns the built-in defaults. Compiler and CorpusDir have none.
func Default() Config {
	return Config{
		CompileTimeout:  compile.DefaultTimeout,
		RunTimeout:      10 * time.Second,
		KillGrace:       core.DefaultKillGrace,
		OutputLimit:     core.DefaultOutputLimit,
		Factors:         core.FactorRange{Min: 2, Max: 32},
		DefaultFactor:   4,
		AcceptMarker:    checks.AcceptMarker,
		RejectMarker:    checks.RejectMarker,
		DebugMask:       compile.DefaultDebugMask,
		SourceExt:       corpus.DefaultSourceExt,
		InvalidSuffixes: append([]string(nil), corpus.DefaultInvalidSuffixes...),
		OutputCompare:   core.CompareLineJoin,
		Concurrency:     runtime.NumCPU(),
	}
}

// fileConfig is the on-disk tuning file. Absent fields keep their defaults.
type fileConfig struct {
	CompileTimeout  *Duration `json:"compile_timeout"`
	RunTimeout      *Duration `json:"run_timeout"`
	KillGrace       *Duration `json:"kill_grace"`
	OutputLimit     *int64    `json:"output_limit"`
	FactorMin       *int      `json:"factor_min"`
	FactorMax       *int      `json:"factor_max"`
	DefaultFactor   *int      `json:"default_factor"`
	AcceptMarker    *string   `json:"accept_marker"`
	RejectMarker    *string   `json:"reject_marker"`
	DebugMask       *string   `json:"debug_mask"`
	SourceExt       *string   `json:"source_ext"`
	InvalidSuffixes []string  `json:"invalid_suffixes"`
	ExtraFlags      *string   `json:"extra_flags"`
	OutputCompare   *string   `json:"output_compare"`
	TempDir         *string   `json:"temp_dir"`
	Concurrency     *int      `json:"concurrency"`
}

// Overrides are values given on the command line. Zero values mean unset.
type Overrides struct {
	Compiler    string
	CorpusDir   string
	Timeout     time.Duration
	Concurrency int
	TempDir     string
}

// LoadInput holds the inputs of Load.
type LoadInput struct {
	// WorkDir is where .env and .unrollcheck.json are looked up; empty means
	// os.Getwd().
	WorkDir string

	// ConfigPath is an explicit tuning file that must exist.
	ConfigPath string

	// Env is the process environment.
	Env map[string]string

	Overrides Overrides
}

// Load resolves the configuration.
func Load(in LoadInput) (Config, error) {
	workDir := in.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	env, dotEnvPath, err := withDotEnv(workDir, in.Env)
	if err != nil {
		return Config{}, err
	}
	cfg.Sources.DotEnv = dotEnvPath
	cfg.Compiler = strings.TrimSpace(env[EnvCompiler])
	cfg.CorpusDir = strings.TrimSpace(env[EnvTestCases])

	fc, filePath, err := loadFile(workDir, in.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Sources.File = filePath
	if err := cfg.merge(fc); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, filePath, err)
	}

	cfg.applyOverrides(in.Overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnvMap converts os.Environ-style entries into a map.
func EnvMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// withDotEnv layers the .env file under env. Variables already present in
// env win.
func withDotEnv(workDir string, env map[string]string) (map[string]string, string, error) {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}

	path := filepath.Join(workDir, DotEnvFileName)
	if _, err := os.Stat(path); err != nil {
		return out, "", nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	for k, v := range vars {
		if _, set := out[k]; !set {
			out[k] = v
		}
	}
	return out, path, nil
}

func loadFile(workDir, configPath string) (fileConfig, string, error) {
	path := configPath
	mustExist := configPath != ""
	if path == "" {
		path = ConfigFileName
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return fileConfig{}, "", nil
		}
		if os.IsNotExist(err) {
			return fileConfig{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
		return fileConfig{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, "", fmt.Errorf("%w %s: invalid JSONC: %w", ErrConfigInvalid, path, err)
	}
	var fc fileConfig
	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fileConfig{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return fc, path, nil
}

func (c *Config) merge(fc fileConfig) error {
	if fc.CompileTimeout != nil {
		c.CompileTimeout = time.Duration(*fc.CompileTimeout)
	}
	if fc.RunTimeout != nil {
		c.RunTimeout = time.Duration(*fc.RunTimeout)
	}
	if fc.KillGrace != nil {
		c.KillGrace = time.Duration(*fc.KillGrace)
	}
	if fc.OutputLimit != nil {
		c.OutputLimit = *fc.OutputLimit
	}
	if fc.FactorMin != nil {
		c.Factors.Min = *fc.FactorMin
	}
	if fc.FactorMax != nil {
		c.Factors.Max = *fc.FactorMax
	}
	if fc.DefaultFactor != nil {
		c.DefaultFactor = *fc.DefaultFactor
	}
	if fc.AcceptMarker != nil {
		c.AcceptMarker = *fc.AcceptMarker
	}
	if fc.RejectMarker != nil {
		c.RejectMarker = *fc.RejectMarker
	}
	if fc.DebugMask != nil {
		c.DebugMask = *fc.DebugMask
	}
	if fc.SourceExt != nil {
		c.SourceExt = *fc.SourceExt
		c.InvalidSuffixes = corpus.InvalidSuffixes(c.SourceExt)
	}
	if fc.InvalidSuffixes != nil {
		c.InvalidSuffixes = fc.InvalidSuffixes
	}
	if fc.OutputCompare != nil {
		c.OutputCompare = *fc.OutputCompare
	}
	if fc.ExtraFlags != nil {
		flags, err := compile.ParseExtraFlags(*fc.ExtraFlags)
		if err != nil {
			return err
		}
		c.ExtraFlags = flags
	}
	if fc.TempDir != nil {
		c.TempDir = *fc.TempDir
	}
	if fc.Concurrency != nil {
		c.Concurrency = *fc.Concurrency
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Compiler != "" {
		c.Compiler = o.Compiler
	}
	if o.CorpusDir != "" {
		c.CorpusDir = o.CorpusDir
	}
	if o.Timeout > 0 {
		c.CompileTimeout = o.Timeout
		c.RunTimeout = o.Timeout
	}
	if o.Concurrency > 0 {
		c.Concurrency = o.Concurrency
	}
	if o.TempDir != "" {
		c.TempDir = o.TempDir
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Compiler == "" {
		errs = append(errs, fmt.Errorf("%w: %s (compiler path)", ErrMissingEnv, EnvCompiler))
	}
	if c.CorpusDir == "" {
		errs = append(errs, fmt.Errorf("%w: %s (test case directory)", ErrMissingEnv, EnvTestCases))
	}
	if c.CompileTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: compile_timeout must be > 0", ErrConfigInvalid))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: run_timeout must be > 0", ErrConfigInvalid))
	}
	if c.KillGrace <= 0 {
		errs = append(errs, fmt.Errorf("%w: kill_grace must be > 0", ErrConfigInvalid))
	}
	if c.Factors.Min < 1 || c.Factors.Max <= c.Factors.Min {
		errs = append(errs, fmt.Errorf("%w: factor range [%d, %d) is empty or starts below 1", ErrConfigInvalid, c.Factors.Min, c.Factors.Max))
	}
	if c.DefaultFactor < 1 {
		errs = append(errs, fmt.Errorf("%w: default_factor must be >= 1", ErrConfigInvalid))
	}
	if c.AcceptMarker == "" || c.RejectMarker == "" {
		errs = append(errs, fmt.Errorf("%w: diagnostic markers cannot be empty", ErrConfigInvalid))
	}
	if c.DebugMask == "" {
		errs = append(errs, fmt.Errorf("%w: debug_mask cannot be empty", ErrConfigInvalid))
	}
	if !strings.HasPrefix(c.SourceExt, ".") || len(c.SourceExt) < 2 || strings.ContainsRune(c.SourceExt, '/') {
		errs = append(errs, fmt.Errorf("%w: source_ext %q must be a file extension like .c", ErrConfigInvalid, c.SourceExt))
	}
	for _, s := range c.InvalidSuffixes {
		if !strings.HasSuffix(s, c.SourceExt) || len(s) == len(c.SourceExt) {
			errs = append(errs, fmt.Errorf("%w: invalid suffix %q must end in %s", ErrConfigInvalid, s, c.SourceExt))
		}
	}
	if _, err := core.NormalizerFor(c.OutputCompare); err != nil || c.OutputCompare == "" {
		errs = append(errs, fmt.Errorf("%w: output_compare must be %s or %s", ErrConfigInvalid, core.CompareLineJoin, core.CompareRaw))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%w: concurrency must be >= 1", ErrConfigInvalid))
	}
	return errors.Join(errs...)
}
