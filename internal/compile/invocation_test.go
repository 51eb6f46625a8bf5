package compile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"unrollcheck/internal/core"
)

func TestInvocation_Baseline(t *testing.T) {
	cmd := BaselineInvocation().command("/opt/cparser", "loop.c", "/tmp/out", time.Second)

	assert.Equal(t, "/opt/cparser", cmd.Path)
	assert.Equal(t, []string{"-O0", "-o", "/tmp/out", "loop.c"}, cmd.Args)
	assert.Equal(t, core.Inherit(map[string]string{}), cmd.Env)
	assert.Equal(t, time.Second, cmd.Timeout)
}

func TestInvocation_UnrolledCarriesFactor(t *testing.T) {
	inv := UnrolledInvocation(7)
	inv.ExtraFlags = []string{"-I", "include dir"}
	cmd := inv.command("cc", "loop.c", "out", time.Second)

	assert.Equal(t, []string{"-fno-inline", "-funroll-loops", "-I", "include dir", "-o", "out", "loop.c"}, cmd.Args)
	assert.False(t, cmd.Env.Replace)
	assert.Equal(t, map[string]string{FactorEnvVar: "7"}, cmd.Env.Vars)
	assert.Equal(t, `cc -fno-inline -funroll-loops -I 'include dir' -o out loop.c`, cmd.String())
}

// TestInvocation_DiagnosticReplacesEnvironment verifies the debug mask is the
// whole environment and no factor leaks in.
func TestInvocation_DiagnosticReplacesEnvironment(t *testing.T) {
	inv := DiagnosticInvocation("")
	inv.Factor = 9
	cmd := inv.command("cc", "loop.c", "out", time.Second)

	assert.Equal(t, []string{"-fno-inline", "-funroll-loops", "-o", "out", "loop.c"}, cmd.Args)
	assert.True(t, cmd.Env.Replace)
	assert.Equal(t, map[string]string{DebugEnvVar: DefaultDebugMask}, cmd.Env.Vars)

	custom := DiagnosticInvocation("setmask firm.opt 1")
	assert.Equal(t, "setmask firm.opt 1", custom.DebugMask)
}

func TestParseExtraFlags(t *testing.T) {
	flags, err := ParseExtraFlags(`-I "my dir" -DFOO=1`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"-I", "my dir", "-DFOO=1"}, flags)

	flags, err = ParseExtraFlags("  ")
	assert.NoError(t, err)
	assert.Nil(t, flags)

	_, err = ParseExtraFlags(`-I "unterminated`)
	assert.Error(t, err)
}
