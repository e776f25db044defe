// Package synonyms holds the symmetric term-expansion table used to widen
// queries before retrieval.
//
// A Table is immutable once built. Load always produces a fresh Table, so a
// reader holding the previous one keeps a consistent view until the caller
// swaps its reference.
package synonyms

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/knowledge-engine/promptrank/internal/corpus"
)

var tokenPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// LoadOptions controls Load
type LoadOptions struct {
	CapPerKey int  // max synonyms returned per key, 0 = unlimited
	DevCheck  bool // validate token format and symmetry before building
}

// ValidationError lists every problem found in a synonyms dictionary
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("synonyms validation failed (%d violations):\n- %s",
		len(e.Violations), strings.Join(e.Violations, "\n- "))
}

// Table is an immutable, symmetric and irreflexive synonym relation
type Table struct {
	entries   map[string][]string
	capPerKey int
}

// Load validates (optionally) and builds a new Table from dict
func Load(dict corpus.SynonymsDict, opts LoadOptions) (*Table, error) {
	if opts.DevCheck {
		if violations := Validate(dict); len(violations) > 0 {
			return nil, &ValidationError{Violations: violations}
		}
	}

	sets := make(map[string]map[string]struct{}, len(dict))
	link := func(a, b string) {
		if sets[a] == nil {
			sets[a] = make(map[string]struct{})
		}
		sets[a][b] = struct{}{}
	}
	for key, vals := range dict {
		for _, v := range vals {
			if v == key || v == "" {
				continue
			}
			link(key, v)
			link(v, key)
		}
	}

	entries := make(map[string][]string, len(sets))
	for key, set := range sets {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		entries[key] = vals
	}

	capPerKey := opts.CapPerKey
	if capPerKey < 0 {
		capPerKey = 0
	}
	return &Table{entries: entries, capPerKey: capPerKey}, nil
}

// Validate returns every format and symmetry violation in dict, sorted
func Validate(dict corpus.SynonymsDict) []string {
	var bad []string
	for key, vals := range dict {
		if !tokenPattern.MatchString(key) {
			bad = append(bad, fmt.Sprintf("bad key: %s", key))
		}
		seen := make(map[string]bool, len(vals))
		for _, v := range vals {
			if v == key || seen[v] {
				continue
			}
			seen[v] = true
			if !tokenPattern.MatchString(v) {
				bad = append(bad, fmt.Sprintf("bad val: %s -> %s", key, v))
			}
			if !contains(dict[v], key) {
				bad = append(bad, fmt.Sprintf("not symmetric: %s <-> %s", key, v))
			}
		}
	}
	sort.Strings(bad)
	return bad
}

func contains(vals []string, want string) bool {
	for _, v := range vals {
		if v == want {
			return true
		}
	}
	return false
}

// Len is the number of keys in the table
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Synonyms returns the full synonym list of key
func (t *Table) Synonyms(key string) []string {
	if t == nil {
		return nil
	}
	return t.entries[key]
}

// Lookup returns the synonyms of key, truncated to the per-key cap
func (t *Table) Lookup(key string) []string {
	syns := t.Synonyms(key)
	if t != nil && t.capPerKey > 0 && len(syns) > t.capPerKey {
		return syns[:t.capPerKey]
	}
	return syns
}

// Expand returns tokens deduplicated in order, followed by their synonyms
// that are not already present.
func (t *Table) Expand(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	for _, tok := range tokens {
		for _, s := range t.Lookup(tok) {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
