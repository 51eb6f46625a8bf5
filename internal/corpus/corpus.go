// Package corpus discovers and classifies test-case sources.
package corpus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"unrollcheck/internal/core"
)

// DefaultSourceExt is the extension of every test-case candidate unless a
// Classifier says otherwise.
const DefaultSourceExt = ".c"

// InvalidMarkers, placed right before the source extension, mark sources the
// unroller is expected to refuse. ".devalid" is an older spelling of
// ".invalid" with the same meaning.
var InvalidMarkers = []string{".invalid", ".devalid"}

// DefaultInvalidSuffixes are the invalid suffixes for DefaultSourceExt.
var DefaultInvalidSuffixes = InvalidSuffixes(DefaultSourceExt)

// InvalidSuffixes returns InvalidMarkers followed by ext.
func InvalidSuffixes(ext string) []string {
	out := make([]string, 0, len(InvalidMarkers))
	for _, m := range InvalidMarkers {
		out = append(out, m+ext)
	}
	return out
}

// Classifier assigns a Class to corpus file names.
type Classifier struct {
	// SourceExt overrides DefaultSourceExt when non-empty.
	SourceExt string

	// InvalidSuffixes overrides InvalidSuffixes(SourceExt) when non-empty.
	InvalidSuffixes []string
}

// Classify reports the class of name and whether it is a test case at all.
//
// Every file ending in the source extension is a candidate. Candidates
// ending in one of the invalid suffixes are ClassInvalid, all others
// ClassValid. The two classes are disjoint.
func (c Classifier) Classify(name string) (core.Class, bool) {
	if !strings.HasSuffix(name, c.ext()) {
		return "", false
	}
	for _, suffix := range c.suffixes() {
		if strings.HasSuffix(name, suffix) {
			return core.ClassInvalid, true
		}
	}
	return core.ClassValid, true
}

func (c Classifier) ext() string {
	if c.SourceExt != "" {
		return c.SourceExt
	}
	return DefaultSourceExt
}

func (c Classifier) suffixes() []string {
	if len(c.InvalidSuffixes) > 0 {
		return c.InvalidSuffixes
	}
	return InvalidSuffixes(c.ext())
}

// Corpus is the classified contents of one test-case directory.
// Cases are sorted by Name.
type Corpus struct {
	Dir   string
	Cases []core.TestCase
}

// Load lists dir (non-recursively) and classifies every regular file.
//
// Directory-entry order never leaks into the result: Cases are sorted by
// name. A missing or unreadable directory is an infrastructure failure.
func Load(dir string, classifier Classifier) (*Corpus, error) {
	if dir == "" {
		return nil, &core.InfraError{Code: "corpus", Message: "test case directory is not set"}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &core.InfraError{Code: "corpus", Message: fmt.Sprintf("listing %s", dir), Cause: err}
	}

	cases := make([]core.TestCase, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		class, ok := classifier.Classify(entry.Name())
		if !ok {
			continue
		}
		cases = append(cases, core.TestCase{
			Path:  filepath.Join(dir, entry.Name()),
			Name:  entry.Name(),
			Class: class,
		})
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })

	return &Corpus{Dir: dir, Cases: cases}, nil
}

// Valid returns the ClassValid cases in name order.
func (c *Corpus) Valid() []core.TestCase { return c.filter(core.ClassValid) }

// Invalid returns the ClassInvalid cases in name order.
func (c *Corpus) Invalid() []core.TestCase { return c.filter(core.ClassInvalid) }

func (c *Corpus) filter(class core.Class) []core.TestCase {
	out := make([]core.TestCase, 0, len(c.Cases))
	for _, tc := range c.Cases {
		if tc.Class == class {
			out = append(out, tc)
		}
	}
	return out
}

// Fingerprint identifies the corpus by content.
//
// The hash covers, in name order, each case's name, class and file content,
// every field length-prefixed. Renaming, reclassifying or editing any case
// changes the fingerprint; file metadata does not.
func (c *Corpus) Fingerprint() (string, error) {
	h := sha256.New()
	writeField(h, []byte(strconv.Itoa(len(c.Cases))))
	for _, tc := range c.Cases {
		content, err := os.ReadFile(tc.Path)
		if err != nil {
			return "", &core.InfraError{Code: "corpus", Message: fmt.Sprintf("reading %s", tc.Path), Cause: err}
		}
		writeField(h, []byte(tc.Name))
		writeField(h, []byte(tc.Class))
		writeField(h, content)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Find returns the case with the given name.
func (c *Corpus) Find(name string) (core.TestCase, error) {
	i := sort.Search(len(c.Cases), func(i int) bool { return c.Cases[i].Name >= name })
	if i < len(c.Cases) && c.Cases[i].Name == name {
		return c.Cases[i], nil
	}
	return core.TestCase{}, errors.New("no test case named " + name)
}

// Select returns a corpus holding only the named cases, in name order.
// Every name must exist.
func (c *Corpus) Select(names []string) (*Corpus, error) {
	seen := make(map[string]bool, len(names))
	cases := make([]core.TestCase, 0, len(names))
	var errs []error
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		tc, err := c.Find(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cases = append(cases, tc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("selecting cases from %s: %w", c.Dir, err)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return &Corpus{Dir: c.Dir, Cases: cases}, nil
}

func writeField(h hash.Hash, data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	h.Write(n[:])
	h.Write(data)
}
