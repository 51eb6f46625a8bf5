package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"unrollcheck/internal/checks"
	"unrollcheck/internal/config"
	"unrollcheck/internal/report"
)

const (
	ExitSuccess           = 0
	ExitChecksFailed      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Mode selects which groups of checks run.
type Mode string

const (
	// ModeDefault runs correctness at the default factor plus both
	// diagnostic groups.
	ModeDefault Mode = "default"
	// ModeSmoke runs correctness at the default factor only.
	ModeSmoke Mode = "smoke"
	// ModeSweep runs correctness at every factor of the sweep range.
	ModeSweep       Mode = "sweep"
	ModeDiagnostics Mode = "diagnostics"
	ModeAll         Mode = "all"
)

// Plan turns the mode into a checks.Plan using the factors of cfg.
func (m Mode) Plan(cfg config.Config) checks.Plan {
	p := checks.Plan{DefaultFactor: cfg.DefaultFactor, Factors: cfg.Factors}
	switch m {
	case ModeSmoke:
		p.Correctness = true
	case ModeSweep:
		p.Sweep = true
	case ModeDiagnostics:
		p.Accept, p.Reject = true, true
	case ModeAll:
		p.Correctness, p.Sweep, p.Accept, p.Reject = true, true, true, true
	default:
		p.Correctness, p.Accept, p.Reject = true, true, true
	}
	return p
}

// CLIInvocation is the canonicalized description of a run.
//
// When WorkDir is set it must be absolute and every relative path is
// resolved under it. When it is empty, paths are left as given and the
// configuration layer falls back to the process working directory.
type CLIInvocation struct {
	WorkDir    string
	ConfigPath string

	// Compiler and CorpusDir override LOC_CPARSER and LOC_TEST_CASES.
	Compiler  string
	CorpusDir string

	Mode   Mode
	Filter string

	// Cases restricts the run to these corpus file names.
	Cases []string

	// Timeout overrides both the compile and the run timeout.
	Timeout     time.Duration
	Concurrency int
	TempDir     string

	ReportDir    string
	ReportFormat report.Format
	MetricsFile  string

	// ListRuns prints the runs stored under ReportDir instead of running.
	ListRuns bool

	Verbose bool
}

// Overrides returns the command-line layer of the configuration.
func (inv CLIInvocation) Overrides() config.Overrides {
	return config.Overrides{
		Compiler:    inv.Compiler,
		CorpusDir:   inv.CorpusDir,
		Timeout:     inv.Timeout,
		Concurrency: inv.Concurrency,
		TempDir:     inv.TempDir,
	}
}

type InvocationError struct {
	ExitCode int
	Message  string

	// Help is set when usage was requested; Message holds the usage text.
	Help bool
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("unrollcheck", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

// rawFlags holds flag values before canonicalization.
type rawFlags struct {
	inv          CLIInvocation
	mode         string
	reportFormat string
}

func registerFlags(fs *flag.FlagSet) *rawFlags {
	r := &rawFlags{}
	fs.StringVar(&r.inv.WorkDir, "workdir", "", "Absolute working directory for .env, config and relative paths")
	fs.StringVar(&r.inv.ConfigPath, "config", "", "Tuning file (default <workdir>/"+config.ConfigFileName+")")
	fs.StringVar(&r.inv.Compiler, "compiler", "", "Compiler under test (overrides "+config.EnvCompiler+")")
	fs.StringVar(&r.inv.CorpusDir, "corpus", "", "Test-case directory (overrides "+config.EnvTestCases+")")
	fs.StringVarP(&r.mode, "mode", "m", string(ModeDefault), "Check groups: default|smoke|sweep|diagnostics|all")
	fs.StringVarP(&r.inv.Filter, "filter", "f", "", "Only run checks whose ID contains this substring")
	fs.StringArrayVar(&r.inv.Cases, "case", nil, "Only run this corpus file (repeatable)")
	fs.DurationVarP(&r.inv.Timeout, "timeout", "t", 0, "Compile and run timeout per process")
	fs.IntVarP(&r.inv.Concurrency, "concurrency", "j", 0, "Checks run at once (default from config, then CPU count)")
	fs.StringVar(&r.inv.TempDir, "temp-dir", "", "Directory for compiled artifacts")
	fs.StringVar(&r.inv.ReportDir, "report-dir", "", "Persist the run report under this directory")
	fs.StringVar(&r.reportFormat, "report-format", string(report.FormatJSON), "Report encoding: json|yaml")
	fs.StringVar(&r.inv.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	fs.BoolVar(&r.inv.ListRuns, "list-runs", false, "List the runs stored under --report-dir and exit")
	fs.BoolVarP(&r.inv.Verbose, "verbose", "v", false, "Debug logging")
	return r
}

// ParseInvocation parses CLI flags into a canonical CLIInvocation.
//
// It does not read environment variables; LOC_CPARSER and LOC_TEST_CASES are
// resolved later by the configuration layer.
func ParseInvocation(args []string) (CLIInvocation, error) {
	fs := newFlagSet()
	raw := registerFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return CLIInvocation{}, &InvocationError{ExitCode: ExitSuccess, Message: Usage(), Help: true}
		}
		return CLIInvocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return CLIInvocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}
	inv := raw.inv

	if inv.WorkDir != "" {
		inv.WorkDir = filepath.Clean(inv.WorkDir)
		if !filepath.IsAbs(inv.WorkDir) {
			return CLIInvocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", inv.WorkDir)
		}
	}

	parsedMode, err := parseMode(raw.mode)
	if err != nil {
		return CLIInvocation{}, err
	}
	inv.Mode = parsedMode

	format, err := report.ParseFormat(strings.ToLower(strings.TrimSpace(raw.reportFormat)))
	if err != nil {
		return CLIInvocation{}, invalidInvocationf("invalid --report-format %q (expected json|yaml)", raw.reportFormat)
	}
	inv.ReportFormat = format

	if fs.Changed("timeout") && inv.Timeout <= 0 {
		return CLIInvocation{}, invalidInvocationf("--timeout must be > 0 (got %s)", inv.Timeout)
	}
	if fs.Changed("concurrency") && inv.Concurrency < 1 {
		return CLIInvocation{}, invalidInvocationf("--concurrency must be >= 1 (got %d)", inv.Concurrency)
	}

	for _, name := range inv.Cases {
		if strings.TrimSpace(name) == "" || strings.ContainsRune(name, filepath.Separator) {
			return CLIInvocation{}, invalidInvocationf("--case must be a corpus file name (got %q)", name)
		}
	}

	for _, p := range []struct {
		name string
		val  *string
	}{
		{"config", &inv.ConfigPath},
		{"compiler", &inv.Compiler},
		{"corpus", &inv.CorpusDir},
		{"temp-dir", &inv.TempDir},
		{"report-dir", &inv.ReportDir},
		{"metrics-file", &inv.MetricsFile},
	} {
		if !fs.Changed(p.name) {
			continue
		}
		resolved, err := resolveUnderWorkDir(inv.WorkDir, *p.val)
		if err != nil {
			return CLIInvocation{}, invalidInvocationf("--%s: %v", p.name, err)
		}
		*p.val = resolved
	}

	if inv.ListRuns && inv.ReportDir == "" {
		return CLIInvocation{}, invalidInvocationf("--list-runs requires --report-dir")
	}

	return inv, nil
}

// Usage renders the flag reference.
func Usage() string {
	var b strings.Builder
	b.WriteString("Usage: unrollcheck [flags]\n\n")
	b.WriteString("Differential tests for the loop-unrolling pass of the compiler named by\n")
	b.WriteString(config.EnvCompiler + ", over the source files in " + config.EnvTestCases + ".\n\n")
	b.WriteString("Flags:\n")
	fs := newFlagSet()
	registerFlags(fs)
	b.WriteString(fs.FlagUsages())
	return b.String()
}

func parseMode(raw string) (Mode, error) {
	n := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch n {
	case ModeDefault, ModeSmoke, ModeSweep, ModeDiagnostics, ModeAll:
		return n, nil
	case "":
		return "", invalidInvocationf("--mode must not be empty")
	default:
		return "", invalidInvocationf("invalid --mode %q (expected default|smoke|sweep|diagnostics|all)", raw)
	}
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path must not be empty")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) || workDir == "" {
		return clean, nil
	}
	return filepath.Join(workDir, clean), nil
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.Help {
			return ExitSuccess
		}
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
