// Package report assembles the novelty and commercial-assessment
// reports for a document: markdown from stored records, rendered to
// PDF and written to the blob store.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

// BuildNoveltyMarkdown renders the prior-art novelty report from the
// reviewed search results. Both slices are already filtered and
// ordered by the caller.
func BuildNoveltyMarkdown(kw *resultstore.KeywordRecord, patents, articles []resultstore.SearchResult, now time.Time) string {
	var b strings.Builder
	buildHeader(&b, "Patent Novelty Report", kw, now)

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- Patents included: %d\n", len(patents))
	fmt.Fprintf(&b, "- Scholarly articles included: %d\n\n", len(articles))

	buildResultSection(&b, "Patent Prior Art", patents)
	buildResultSection(&b, "Scholarly Literature", articles)
	return b.String()
}

// BuildAssessmentMarkdown renders the early commercial assessment
// report from the stored assessment record.
func BuildAssessmentMarkdown(kw *resultstore.KeywordRecord, a resultstore.AssessmentRecord, now time.Time) string {
	var b strings.Builder
	buildHeader(&b, "Early Commercial Assessment", kw, now)

	sections := []struct {
		title string
		body  string
	}{
		{"Market Overview", a.MarketOverview},
		{"Applications", a.Applications},
		{"Market Size", a.MarketSize},
		{"Growth Drivers", a.GrowthDrivers},
		{"Competitive Landscape", a.CompetitiveLandscape},
		{"Barriers To Entry", a.BarriersToEntry},
		{"Licensing Potential", a.LicensingPotential},
		{"Development Stage", a.DevelopmentStage},
		{"Regulatory Pathway", a.RegulatoryPathway},
		{"Next Steps", a.NextSteps},
		{"Summary", a.Summary},
	}
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.title, safe(s.body))
	}
	return b.String()
}

func buildHeader(b *strings.Builder, title string, kw *resultstore.KeywordRecord, now time.Time) {
	fmt.Fprintf(b, "# %s\n\n", title)
	if kw != nil {
		fmt.Fprintf(b, "- Document: %s\n", kw.DocumentID)
		fmt.Fprintf(b, "- Invention: %s\n", safe(kw.Title))
	}
	fmt.Fprintf(b, "- Date: %s\n\n", now.UTC().Format(time.RFC3339))
}

func buildResultSection(b *strings.Builder, title string, results []resultstore.SearchResult) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(results) == 0 {
		fmt.Fprintf(b, "No results were selected for this section.\n\n")
		return
	}
	for i, r := range results {
		fmt.Fprintf(b, "### %d. %s\n\n", i+1, safe(r.Title))
		fmt.Fprintf(b, "- Identifier: %s\n", r.ResultKey)
		fmt.Fprintf(b, "- Relevance score: %s\n", r.Score)
		fmt.Fprintf(b, "- Search strategy: %s\n", safe(r.SearchStrategyUsed))
		if strings.TrimSpace(r.Authors) != "" {
			fmt.Fprintf(b, "- Authors: %s\n", r.Authors)
		}
		if strings.TrimSpace(r.PublishedDate) != "" {
			fmt.Fprintf(b, "- Published: %s\n", r.PublishedDate)
		}
		fmt.Fprintf(b, "\n%s\n\n", safe(clampString(r.Abstract, 1200)))
	}
}

func safe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(not available)"
	}
	return s
}

func clampString(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
