package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLineJoinNormalizer_IgnoresLineBreaks verifies that outputs differing
// only in where line breaks fall normalize to the same bytes.
func TestLineJoinNormalizer_IgnoresLineBreaks(t *testing.T) {
	n := NewLineJoinNormalizer()

	testCases := []struct {
		input string
		want  string
	}{
		{"42\n", "42"},
		{"4\n2", "42"},
		{"4\r\n2\r\n", "42"},
		{"4\r2", "42"},
		{"", ""},
		{"\n\n", ""},
		{"a b\tc\n", "a b\tc"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, string(n.Normalize([]byte(tc.input))), "input %q", tc.input)
	}
}

func TestLineJoinNormalizer_DoesNotMutateInput(t *testing.T) {
	in := []byte("a\nb\n")
	_ = NewLineJoinNormalizer().Normalize(in)
	assert.Equal(t, "a\nb\n", string(in))
}

func TestRawNormalizer_PreservesBytes(t *testing.T) {
	in := []byte("a\r\nb")
	out := NewRawNormalizer().Normalize(in)
	assert.Equal(t, in, out)

	out[0] = 'x'
	assert.Equal(t, byte('a'), in[0])
}

func TestNormalizerFor(t *testing.T) {
	n, err := NormalizerFor(CompareLineJoin)
	require.NoError(t, err)
	assert.IsType(t, &LineJoinNormalizer{}, n)

	n, err = NormalizerFor(CompareRaw)
	require.NoError(t, err)
	assert.IsType(t, &RawNormalizer{}, n)

	_, err = NormalizerFor("fuzzy")
	assert.ErrorContains(t, err, `"fuzzy"`)
}
