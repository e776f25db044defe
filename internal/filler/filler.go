// Package filler substitutes {placeholder} markers in a template body using
// request context, the user's draft and a chain of heuristic defaults.
package filler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"

	"github.com/knowledge-engine/promptrank/internal/corpus"
)

// MaxDraftFallback is the number of draft runes used by the catch-all default
const MaxDraftFallback = 240

var markerPattern = regexp.MustCompile(`(?i)\{([a-z0-9_]+)\}`)

// Result is the best-effort filled body plus the placeholders left unresolved
type Result struct {
	Filled  string   `json:"filled"`
	Missing []string `json:"missing"`
}

type defaultRule struct {
	match   func(name string) bool
	resolve func(draft string, ctx map[string]any) string
}

func containsAny(subs ...string) func(string) bool {
	return func(name string) bool {
		for _, s := range subs {
			if strings.Contains(name, s) {
				return true
			}
		}
		return false
	}
}

func constant(v string) func(string, map[string]any) string {
	return func(string, map[string]any) string { return v }
}

// defaults is evaluated in order, first match wins. The predicates overlap
// ("max_words" vs "words", "error" vs "error_code"), so the order matters.
var defaults = []defaultRule{
	{containsAny("language"), constant("English")},
	{containsAny("tone"), constant("professional and clear")},
	{containsAny("audience"), constant("a general audience")},
	{containsAny("domain"), domainFromContext},
	{containsAny("error"), constant("Describe the error here")},
	{containsAny("code"), constant("Add code snippet here")},
	{containsAny("max_words", "words"), constant("150")},
	{containsAny("title"), constant("Draft title")},
	{containsAny("topic", "subject"), constant("your topic")},
	{func(string) bool { return true }, draftExcerpt},
}

// Fill resolves every distinct marker in doc.Body. Markers that resolve to an
// empty string stay in the output as {name} and are listed once in Missing.
func Fill(doc corpus.TemplateDoc, draft string, ctx map[string]any) Result {
	missing := []string{}
	seen := make(map[string]bool)

	filled := markerPattern.ReplaceAllStringFunc(doc.Body, func(marker string) string {
		raw := markerPattern.FindStringSubmatch(marker)[1]
		name := strings.ToLower(raw)

		if v := resolve(name, raw, draft, ctx); v != "" {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return "{" + name + "}"
	})

	return Result{Filled: filled, Missing: missing}
}

func resolve(name, raw, draft string, ctx map[string]any) string {
	for _, key := range []string{name, raw, strings.ReplaceAll(name, "-", "_")} {
		// nil falls through to the next source, an empty string does not
		if v, ok := ctx[key]; ok && v != nil {
			return render(v)
		}
	}

	if containsAny("draft", "prompt", "text")(name) {
		return draft
	}

	for _, rule := range defaults {
		if rule.match(name) {
			return rule.resolve(draft, ctx)
		}
	}
	return ""
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func domainFromContext(_ string, ctx map[string]any) string {
	raw, _ := ctx["url"].(string)
	if host := hostname(raw); host != "" {
		return host
	}
	return "your domain"
}

func hostname(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if display, err := idna.Display.ToUnicode(host); err == nil {
		host = display
	}
	return host
}

func draftExcerpt(draft string, _ map[string]any) string {
	if draft == "" {
		return "your content"
	}
	r := []rune(draft)
	if len(r) > MaxDraftFallback {
		r = r[:MaxDraftFallback]
	}
	return string(r)
}
