package merchantagent

import (
	"strings"
	"unicode"
)

// Analyzer turns a natural-language intent into ordered search keywords.
// The default is the deterministic rule analyzer; an LLM-backed
// implementation can be swapped in behind the same interface.
type Analyzer interface {
	Keywords(description string) []string
}

// RuleAnalyzer is the required deterministic fallback: punctuation-stripped
// tokens of length >= 2, plus a rule list mapping generic nouns to
// catalog-friendly terms.
type RuleAnalyzer struct{}

// genericTerms maps vague nouns to terms the catalog actually indexes.
var genericTerms = map[string][]string{
	"goods":     {"gear", "apparel"},
	"equipment": {"gear"},
	"clothes":   {"apparel", "shirt"},
	"clothing":  {"apparel", "shirt"},
	"footwear":  {"shoes"},
	"sneakers":  {"shoes", "running"},
	"trainers":  {"shoes", "running"},
}

// Keywords implements Analyzer.
func (RuleAnalyzer) Keywords(description string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := map[string]bool{}
	var out []string
	add := func(kw string) {
		if len(kw) >= 2 && !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}

	for _, tok := range tokens {
		add(tok)
		for _, mapped := range genericTerms[tok] {
			add(mapped)
		}
	}
	return out
}
