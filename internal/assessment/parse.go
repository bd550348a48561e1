package assessment

import (
	"regexp"
	"strings"

	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

var sectionHeaders = []string{
	"MARKET OVERVIEW",
	"APPLICATIONS",
	"MARKET SIZE",
	"GROWTH DRIVERS",
	"COMPETITIVE LANDSCAPE",
	"BARRIERS TO ENTRY",
	"LICENSING POTENTIAL",
	"DEVELOPMENT STAGE",
	"REGULATORY PATHWAY",
	"NEXT STEPS",
	"SUMMARY",
}

// parseAssessment decodes the eleven-section template. It never fails;
// missing sections degrade to the explicit sentinel, and the count of
// defaulted sections is returned for logging.
func parseAssessment(text string) (resultstore.AssessmentRecord, int) {
	fields := map[string]string{}
	for i, header := range sectionHeaders {
		fields[header] = extractSection(text, header, sectionHeaders[i+1:])
	}

	defaulted := 0
	get := func(header string) string {
		v := strings.TrimSpace(fields[header])
		if v == "" {
			defaulted++
			return resultstore.NotExtracted
		}
		return v
	}

	rec := resultstore.AssessmentRecord{
		MarketOverview:       get("MARKET OVERVIEW"),
		Applications:         get("APPLICATIONS"),
		MarketSize:           get("MARKET SIZE"),
		GrowthDrivers:        get("GROWTH DRIVERS"),
		CompetitiveLandscape: get("COMPETITIVE LANDSCAPE"),
		BarriersToEntry:      get("BARRIERS TO ENTRY"),
		LicensingPotential:   get("LICENSING POTENTIAL"),
		DevelopmentStage:     get("DEVELOPMENT STAGE"),
		RegulatoryPathway:    get("REGULATORY PATHWAY"),
		NextSteps:            get("NEXT STEPS"),
		Summary:              get("SUMMARY"),
	}
	return rec, defaulted
}

// extractSection returns the text between a header and the next header
// that appears after it. The body starts after the header's own label and
// stops before the earliest later label.
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
	re := regexp.MustCompile(`(?im)^[\s*_#]*` + regexp.QuoteMeta(header) + `\s*:`)
	loc := re.FindStringIndex(text)
	if loc == nil {
		return -1, -1
	}
	return loc[0], loc[1]
}
