package compile

import (
	"strconv"
	"time"

	"unrollcheck/internal/core"
)

// Environment variables understood by the compiler under test.
const (
	// FactorEnvVar carries the unroll factor for an unrolled compile.
	FactorEnvVar = "DUFF_FACTOR"

	// DebugEnvVar carries the debug/log mask for diagnostic-only compiles.
	DebugEnvVar = "FIRMDBG"

	// DefaultDebugMask forces the unroller off while keeping its
	// applicability diagnostic.
	DefaultDebugMask = "setmask firm.opt.loop-unrolling -1"
)

// Invocation is the typed description of one compiler run.
//
// The hidden parameters the compiler reads from its environment (the unroll
// factor, the debug mask) are fields here; command is the only place that
// knows how they are encoded.
type Invocation struct {
	// OptLevel is passed as -O<level> when non-empty.
	OptLevel string

	NoInline    bool
	UnrollLoops bool

	// Factor is exported as DUFF_FACTOR when > 0.
	Factor int

	// DebugMask is exported as FIRMDBG when non-empty. A diagnostic compile
	// runs with this variable as its entire environment so that nothing
	// inherited can re-enable unrolling.
	DebugMask string

	ExtraFlags []string
}

// BaselineInvocation compiles with optimizations at the lowest level.
func BaselineInvocation() Invocation {
	return Invocation{OptLevel: "0"}
}

// UnrolledInvocation compiles with inlining disabled and unrolling enabled.
func UnrolledInvocation(factor int) Invocation {
	return Invocation{NoInline: true, UnrollLoops: true, Factor: factor}
}

// DiagnosticInvocation compiles with unrolling forced off through the debug
// mask, for inspecting the unroller's verdict only.
func DiagnosticInvocation(mask string) Invocation {
	if mask == "" {
		mask = DefaultDebugMask
	}
	return Invocation{NoInline: true, UnrollLoops: true, DebugMask: mask}
}

// args renders the compiler argument vector.
func (inv Invocation) args(src, out string) []string {
	args := make([]string, 0, 6+len(inv.ExtraFlags))
	if inv.OptLevel != "" {
		args = append(args, "-O"+inv.OptLevel)
	}
	if inv.NoInline {
		args = append(args, "-fno-inline")
	}
	if inv.UnrollLoops {
		args = append(args, "-funroll-loops")
	}
	args = append(args, inv.ExtraFlags...)
	return append(args, "-o", out, src)
}

// env renders the compiler environment.
func (inv Invocation) env() core.Environment {
	if inv.DebugMask != "" {
		return core.Isolated(map[string]string{DebugEnvVar: inv.DebugMask})
	}
	vars := map[string]string{}
	if inv.Factor > 0 {
		vars[FactorEnvVar] = strconv.Itoa(inv.Factor)
	}
	return core.Inherit(vars)
}

func (inv Invocation) command(compiler, src, out string, timeout time.Duration) core.Command {
	return core.Command{
		Path:    compiler,
		Args:    inv.args(src, out),
		Env:     inv.env(),
		Timeout: timeout,
	}
}
