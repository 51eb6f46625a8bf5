package core

import (
	"bytes"
	"fmt"
)

// Output comparison modes.
const (
	CompareLineJoin = "line-join"
	CompareRaw      = "raw"
)

// NormalizerFor returns the normalizer for an output comparison mode.
func NormalizerFor(mode string) (OutputNormalizer, error) {
	switch mode {
	case CompareLineJoin, "":
		return NewLineJoinNormalizer(), nil
	case CompareRaw:
		return NewRawNormalizer(), nil
	default:
		return nil, fmt.Errorf("unknown output comparison %q (want %s or %s)", mode, CompareLineJoin, CompareRaw)
	}
}

// OutputNormalizer defines how captured program output is canonicalized
// before two runs are compared.
type OutputNormalizer interface {
	Normalize(content []byte) []byte
}

// LineJoinNormalizer concatenates the lines of the output, dropping every
// line terminator (\n, \r\n, \r).
//
// Two outputs are considered equal when they contain the same characters in
// the same order regardless of where the line breaks fall. This is the
// comparison used for stdout of successfully exiting programs.
type LineJoinNormalizer struct{}

// NewLineJoinNormalizer creates a LineJoinNormalizer.
func NewLineJoinNormalizer() *LineJoinNormalizer {
	return &LineJoinNormalizer{}
}

// Normalize returns content with all line terminators removed.
func (n *LineJoinNormalizer) Normalize(content []byte) []byte {
	if len(content) == 0 {
		return []byte{}
	}
	out := make([]byte, 0, len(content))
	for _, c := range content {
		if c == '\n' || c == '\r' {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RawNormalizer performs no normalization, preserving raw bytes exactly.
// Use this when line breaks are significant.
type RawNormalizer struct{}

// NewRawNormalizer creates a normalizer that preserves content unchanged.
func NewRawNormalizer() *RawNormalizer {
	return &RawNormalizer{}
}

// Normalize returns a copy of content.
func (n *RawNormalizer) Normalize(content []byte) []byte {
	return bytes.Clone(content)
}
