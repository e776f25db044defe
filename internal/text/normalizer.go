// Package text turns raw strings into the token stream shared by every index.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Stoplist is a set of tokens dropped during tokenization
type Stoplist map[string]struct{}

// Has reports whether token is a stopword
func (s Stoplist) Has(token string) bool {
	_, ok := s[token]
	return ok
}

// DefaultStopwords is the basic English stoplist
var DefaultStopwords = newStoplist(
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves", "you", "your", "yours",
	"yourself", "yourselves", "he", "him", "his", "himself", "she", "her", "hers", "herself", "it", "its", "itself",
	"they", "them", "their", "theirs", "themselves", "what", "which", "who", "whom", "this", "that", "these", "those",
	"am", "is", "are", "was", "were", "be", "been", "being", "have", "has", "had", "having", "do", "does", "did", "doing",
	"a", "an", "the", "and", "but", "if", "or", "because", "as", "until", "while", "of", "at", "by", "for", "with", "about",
	"against", "between", "into", "through", "during", "before", "after", "above", "below", "to", "from", "up", "down", "in",
	"out", "on", "off", "over", "under", "again", "further", "then", "once", "here", "there", "when", "where", "why", "how", "all",
	"any", "both", "each", "few", "more", "most", "other", "some", "such", "no", "nor", "not", "only", "own", "same", "so", "than",
	"too", "very", "s", "t", "can", "will", "just", "don", "should", "now",
)

func newStoplist(words ...string) Stoplist {
	s := make(Stoplist, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// MakeStoplist returns the default stoplist extended with extra words
func MakeStoplist(extra ...string) Stoplist {
	s := make(Stoplist, len(DefaultStopwords)+len(extra))
	for w := range DefaultStopwords {
		s[w] = struct{}{}
	}
	for _, w := range extra {
		s[strings.ToLower(w)] = struct{}{}
	}
	return s
}

// Options controls Tokenize
type Options struct {
	DropStop                bool     // remove stopwords
	Stop                    Stoplist // nil means DefaultStopwords
	MinLen                  int      // minimum token length in bytes
	KeepHyphensAsUnderscore bool     // fold '-' into '_' before splitting
}

// DefaultOptions drops default stopwords and keeps tokens of any length
func DefaultOptions() Options {
	return Options{DropStop: true, MinLen: 1}
}

var apostrophes = strings.NewReplacer("'", "", "’", "")

// NormalizeText lowercases, folds compatibility forms, strips combining
// marks and drops apostrophes.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	// chains are stateful, so one per call
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.M)))
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	return apostrophes.Replace(s)
}

// Tokenize normalizes s and splits it on anything outside [a-z0-9_].
// Duplicates are kept in order.
func Tokenize(s string, opts Options) []string {
	normalized := NormalizeText(s)
	if opts.KeepHyphensAsUnderscore {
		normalized = strings.ReplaceAll(normalized, "-", "_")
	}

	stop := opts.Stop
	if stop == nil {
		stop = DefaultStopwords
	}
	minLen := opts.MinLen
	if minLen < 0 {
		minLen = 0
	}

	fields := strings.FieldsFunc(normalized, isDelimiter)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minLen {
			continue
		}
		if opts.DropStop && stop.Has(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Tokens tokenizes with DefaultOptions
func Tokens(s string) []string {
	return Tokenize(s, DefaultOptions())
}

func isDelimiter(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
}
