// Package compiletest provides a stand-in compiler for tests.
//
// The fake compiler is a /bin/sh script built only from shell builtins, so it
// works under the empty environment of a diagnostic compile. It accepts the
// same argument shape as the real compiler and "compiles" a test program
// (itself a shell script body) into an executable script that records
// whether unrolling was requested and with which factor.
//
// Markers in the source steer the compiler:
//
//	CANNOT_UNROLL               diagnostic reports "DUFF: Cannot unroll!"
//	COMPILE_HANG_WHEN_UNROLLED  compile never terminates with -funroll-loops
//	COMPILE_FAIL_WHEN_UNROLLED  compile exits 1 with -funroll-loops
//	COMPILE_FAIL                compile always exits 1
//
// The produced program sees UNROLLED (0 or 1) and FACTOR (DUFF_FACTOR or 0).
package compiletest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const script = `#!/bin/sh
out=
src=
unroll=0
while [ $# -gt 0 ]; do
	case "$1" in
	-o) out="$2"; shift 2; continue ;;
	-funroll-loops) unroll=1 ;;
	-*) ;;
	*) src="$1" ;;
	esac
	shift
done
if [ -z "$src" ] || [ -z "$out" ]; then
	echo "usage: fakecc [flags] -o out src" >&2
	exit 64
fi
if [ ! -r "$src" ]; then
	echo "fakecc: cannot read $src" >&2
	exit 1
fi

cannot=0
hang=0
fail_unrolled=0
fail=0
while IFS= read -r line || [ -n "$line" ]; do
	case "$line" in *CANNOT_UNROLL*) cannot=1 ;; esac
	case "$line" in *COMPILE_HANG_WHEN_UNROLLED*) hang=1 ;; esac
	case "$line" in *COMPILE_FAIL_WHEN_UNROLLED*) fail_unrolled=1 ;; *COMPILE_FAIL*) fail=1 ;; esac
done < "$src"

if [ -n "$FIRMDBG" ]; then
	if [ $cannot = 1 ]; then
		echo "DUFF: Cannot unroll!" >&2
	else
		echo "DUFF: Can unroll!" >&2
	fi
	unroll=0
fi
if [ $fail = 1 ]; then
	echo "fakecc: error: $src rejected" >&2
	exit 1
fi
if [ $unroll = 1 ] && [ $hang = 1 ]; then
	while :; do :; done
fi
if [ $unroll = 1 ] && [ $fail_unrolled = 1 ]; then
	echo "fakecc: internal compiler error in unroller" >&2
	exit 1
fi

{
	echo '#!/bin/sh'
	echo "UNROLLED=$unroll"
	echo "FACTOR=${DUFF_FACTOR:-0}"
	while IFS= read -r line || [ -n "$line" ]; do
		printf '%s\n' "$line"
	done < "$src"
} > "$out"
`

// Programs usable as test-case sources with the fake compiler.
const (
	// Answer prints 42 regardless of unrolling.
	Answer = "echo 42\n"

	// HangWhenUnrolled never terminates once unrolled.
	HangWhenUnrolled = "if [ \"$UNROLLED\" = 1 ]; then while :; do :; done; fi\necho done\n"

	// HangAlways never terminates.
	HangAlways = "while :; do :; done\n"

	// FailWithGarbage exits 1 after printing output that differs per build.
	FailWithGarbage = "echo \"garbage $UNROLLED\"\nexit 1\n"

	// ExitTwoWhenUnrolled exits 2 only once unrolled.
	ExitTwoWhenUnrolled = "if [ \"$UNROLLED\" = 1 ]; then exit 2; fi\necho ok\n"

	// CrashWhenUnrolled is killed by a signal once unrolled.
	CrashWhenUnrolled = "if [ \"$UNROLLED\" = 1 ]; then kill -USR1 $$; fi\nexit 3\n"

	// OffByOne miscounts a 12-iteration loop whenever the factor does not
	// divide the trip count.
	OffByOne = "if [ \"$UNROLLED\" = 1 ] && [ $((12 % FACTOR)) -ne 0 ]; then echo wrong-count; else echo 12; fi\n"

	// LineBreaks prints the same characters with different line breaks
	// depending on unrolling.
	LineBreaks = "if [ \"$UNROLLED\" = 1 ]; then printf 'ab\\ncd\\n'; else printf 'a\\nbcd'; fi\n"

	// Unrollable is rejected by the unroller's diagnostic.
	Unrollable = "# CANNOT_UNROLL\necho 1\n"
)

// WriteCompiler installs the fake compiler in dir and returns its path.
func WriteCompiler(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fakecc")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// WriteSource writes a test-case source file and returns its path.
func WriteSource(t testing.TB, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
