package keywords

import (
	"regexp"
	"strings"

	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

// Section headers the generation template asks for, in output order.
const (
	headerTitle        = "TITLE:"
	headerDescription  = "TECHNOLOGY DESCRIPTION:"
	headerApplications = "TECHNOLOGY APPLICATIONS:"
	headerKeywords     = "KEYWORDS:"
)

// DefaultSection is written when a header is absent or its body is empty.
// The record is always written with best-effort content, never dropped.
// The value is the store's sentinel so downstream sentinel checks stay in
// step with what gets persisted.
const DefaultSection = resultstore.NotExtracted

var headerOrder = []string{headerTitle, headerDescription, headerApplications, headerKeywords}

// Sections is the structured decode of one generation response.
type Sections struct {
	Title        string
	Description  string
	Applications string
	Keywords     string
}

// parseSections is a best-effort decoder for the four-section template.
// It never fails; a missing or empty section degrades to DefaultSection.
func parseSections(text string) Sections {
	fields := map[string]string{}
	for i, header := range headerOrder {
		fields[header] = extractSection(text, header, headerOrder[i+1:])
	}
	return Sections{
		Title:        orDefault(fields[headerTitle]),
		Description:  orDefault(fields[headerDescription]),
		Applications: orDefault(fields[headerApplications]),
		Keywords:     normalizeKeywordList(fields[headerKeywords]),
	}
}

// extractSection returns the text between a header and the next header
// that appears after it, trimmed. Header matching is case-insensitive and
// tolerates markdown emphasis around the label. The body starts after the
// header's own label and stops before the earliest later label.
func extractSection(text, header string, laterHeaders []string) string {
	_, bodyStart := headerSpan(text, header)
	if bodyStart < 0 {
		return ""
	}
	body := text[bodyStart:]
	end := len(body)
	for _, h := range laterHeaders {
		if start, _ := headerSpan(body, h); start >= 0 && start < end {
			end = start
		}
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(body[:end]), "*_"))
}

// headerSpan locates a header label and returns the index where its match
// begins and the index just past the colon, or (-1, -1) when absent.
func headerSpan(text, header string) (start, bodyStart int) {
	label := strings.TrimSuffix(header, ":")
	re := regexp.MustCompile(`(?im)^[\s*_#]*` + regexp.QuoteMeta(label) + `\s*:`)
	loc := re.FindStringIndex(text)
	if loc == nil {
		return -1, -1
	}
	return loc[0], loc[1]
}

func orDefault(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSection
	}
	return s
}

// normalizeKeywordList flattens the keyword section into a comma-joined,
// trim-deduplicated list. Empty input degrades to DefaultSection so
// downstream readers never branch on absence.
func normalizeKeywordList(raw string) string {
	replacer := strings.NewReplacer("\n", ",", ";", ",", "•", ",", "- ", ",")
	parts := strings.Split(replacer.Replace(raw), ",")
	seen := map[string]struct{}{}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		kw := strings.TrimSpace(strings.Trim(strings.TrimSpace(p), ".*_"))
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	if len(out) == 0 {
		return DefaultSection
	}
	return strings.Join(out, ", ")
}
