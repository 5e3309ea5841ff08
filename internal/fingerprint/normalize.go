package fingerprint

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"genqueue/internal/domain"
)

// NormalizePrompt folds case and compatibility forms and drops punctuation,
// so trivial rewrites of a prompt normalize to the same text.
func NormalizePrompt(s string) string {
	s = norm.NFKC.String(s)
	// Casers keep state; one per call.
	s = cases.Fold().String(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	return strings.Join(fields, " ")
}

// TokenSet splits normalized text into a set of words.
func TokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b|; two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// PromptSimilarity compares two raw prompts by word overlap.
func PromptSimilarity(a, b string) float64 {
	return Jaccard(TokenSet(NormalizePrompt(a)), TokenSet(NormalizePrompt(b)))
}

// CanonicalStyle renders style parameters in key order with trimmed,
// lower-cased keys.
func CanonicalStyle(style map[string]string) string {
	if len(style) == 0 {
		return ""
	}
	keys := make([]string, 0, len(style))
	vals := make(map[string]string, len(style))
	for k, v := range style {
		nk := strings.ToLower(strings.TrimSpace(k))
		keys = append(keys, nk)
		vals[nk] = strings.TrimSpace(v)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(vals[k])
	}
	return b.String()
}

// ParamKey groups requests whose non-prompt parameters are equal.
func ParamKey(r domain.ContentRequest) string {
	return strings.Join([]string{
		string(r.Kind),
		strings.ToLower(strings.TrimSpace(r.Resolution)),
		strings.ToLower(strings.TrimSpace(r.Engine)),
		CanonicalStyle(r.Style),
	}, "|")
}

// Of derives the fingerprint of r from its normalized prompt and parameters.
// Identity, ownership, priority, cost and timestamps do not participate.
func Of(r domain.ContentRequest) string {
	d := xxhash.New()
	_, _ = d.WriteString(ParamKey(r))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(NormalizePrompt(r.Prompt))
	return fmt.Sprintf("%016x", d.Sum64())
}
