package searchstage

import (
	"strings"

	"github.com/joelkehle/patent-novelty/internal/relevance"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

// Strategy is one bounded external query attempt.
type Strategy struct {
	Name  string
	Query string
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"with": {}, "which": {}, "can": {}, "may": {}, "such": {}, "using": {},
	"used": {}, "use": {}, "its": {}, "their": {}, "these": {}, "other": {},
	"into": {}, "than": {}, "also": {}, "including": {},
}

// DeriveStrategies builds at most MaxStrategies distinct query strings
// from the keyword record: core mechanism terms, application-domain
// terms, and a combined query. Strategies with no query material are
// skipped; selection is bounded regardless of result count.
func DeriveStrategies(kw resultstore.KeywordRecord) []Strategy {
	keywords := splitKeywords(kw.Keywords)
	appTerms := significantTerms(kw.TechnologyApplications, 6)

	out := make([]Strategy, 0, MaxStrategies)
	if q := strings.Join(firstN(keywords, 5), " "); q != "" {
		out = append(out, Strategy{Name: "mechanism", Query: q})
	}
	if q := strings.Join(appTerms, " "); q != "" {
		out = append(out, Strategy{Name: "application", Query: q})
	}
	combined := append(firstN(keywords, 3), firstN(appTerms, 3)...)
	if q := strings.Join(dedupeTerms(combined), " "); q != "" && len(out) > 0 {
		out = append(out, Strategy{Name: "combined", Query: q})
	}
	if len(out) > MaxStrategies {
		out = out[:MaxStrategies]
	}
	return out
}

// BuildCategories maps the keyword record's four sections onto the
// scoring categories: the flat keyword list carries the mechanism weight,
// application terms come from the applications section, synonyms from the
// technology description, classification from the title. Sentinel
// sections contribute nothing.
func BuildCategories(kw resultstore.KeywordRecord) relevance.Categories {
	return relevance.Categories{
		Mechanism:      splitKeywords(kw.Keywords),
		Application:    significantTerms(kw.TechnologyApplications, 10),
		Synonyms:       significantTerms(kw.TechnologyDescription, 10),
		Classification: significantTerms(kw.Title, 6),
	}
}

func splitKeywords(keywords string) []string {
	if isSentinel(keywords) {
		return nil
	}
	parts := strings.Split(keywords, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if kw := strings.TrimSpace(p); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// significantTerms extracts up to max lowercased content words from a
// free-text section, skipping stopwords and short tokens.
func significantTerms(text string, max int) []string {
	if isSentinel(text) {
		return nil
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:()[]\"'")
		if len(tok) < 4 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) >= max {
			break
		}
	}
	return out
}

func isSentinel(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || t == resultstore.NotExtracted
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return append([]string{}, items...)
	}
	return append([]string{}, items[:n]...)
}

func dedupeTerms(items []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(items))
	for _, v := range items {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
