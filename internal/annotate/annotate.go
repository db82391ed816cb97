// Package annotate prepends the crate-level attribute header that lets
// macro-expanded source compile on its own.
//
// The header enables the unstable features the expansion relies on and
// silences lints that would only add noise:
//
//	#![feature(fmt_internals, prelude_import)]
//	#![allow(unused_imports, dead_code)]
//	<expanded body>
package annotate

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/roach88/xpand/internal/diag"
)

var (
	featureIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// Lints may be scoped to a tool, e.g. clippy::all.
	lintIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// FeatureSet is an ordered list of unstable feature names.
type FeatureSet []string

// LintSet is an ordered list of lint names to allow.
type LintSet []string

// Validate rejects malformed and duplicate feature names.
func (f FeatureSet) Validate() error {
	return validate("feature", f, featureIdent)
}

// Validate rejects malformed and duplicate lint names.
func (l LintSet) Validate() error {
	return validate("lint", l, lintIdent)
}

func validate(kind string, ids []string, pattern *regexp.Regexp) error {
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if !pattern.MatchString(id) {
			return diag.New(diag.ConfigurationError, "%s[%d]: malformed %s identifier %q", kind, i, kind, id)
		}
		if prev, ok := seen[id]; ok {
			return diag.New(diag.ConfigurationError, "%s[%d]: duplicate %s %q (first at %s[%d])", kind, i, kind, id, kind, prev)
		}
		seen[id] = i
	}
	return nil
}

// Source is the final compilable document.
type Source struct {
	// Text is the header followed by the unmodified body.
	Text []byte

	// HeaderLen is the byte length of the header.
	HeaderLen int
}

// Body returns the text after the header.
func (s *Source) Body() []byte {
	return s.Text[s.HeaderLen:]
}

// Header renders the attribute lines for features and lints. A line whose
// set is empty is omitted.
func Header(features FeatureSet, lints LintSet) (string, error) {
	if err := features.Validate(); err != nil {
		return "", err
	}
	if err := lints.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	if len(features) > 0 {
		b.WriteString("#![feature(")
		b.WriteString(strings.Join(features, ", "))
		b.WriteString(")]\n")
	}
	if len(lints) > 0 {
		b.WriteString("#![allow(")
		b.WriteString(strings.Join(lints, ", "))
		b.WriteString(")]\n")
	}
	return b.String(), nil
}

// Annotate prepends the header for features and lints to body. It is pure
// and deterministic; body is copied, never modified.
func Annotate(body []byte, features FeatureSet, lints LintSet) (*Source, error) {
	header, err := Header(features, lints)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(header) + len(body))
	buf.WriteString(header)
	buf.Write(body)

	return &Source{Text: buf.Bytes(), HeaderLen: len(header)}, nil
}
