package resultstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sort key prefixes for the record families sharing a document partition.
const (
	SortPrefixKeywords   = "KEYWORDS#"
	SortPrefixAssessment = "ASSESSMENT#"
	SortPrefixPatent     = "PATENT#"
	SortPrefixArticle    = "ARTICLE#"
)

// NotExtracted is the explicit sentinel written when a section could not
// be derived. Downstream readers branch on content, never on record
// absence.
const NotExtracted = "Not extracted"

const (
	ReviewYes = "Yes"
	ReviewNo  = "No"
)

// KeywordRecord is the last-write-wins keyword/metadata record produced by
// the keyword extraction stage. Keywords is a flat, deduplicated,
// comma-joined list.
type KeywordRecord struct {
	DocumentID             string
	Timestamp              string
	Title                  string
	TechnologyDescription  string
	TechnologyApplications string
	Keywords               string
	Status                 string
}

// SearchResult is one candidate per (document_id, result_key). ResultKey
// is the natural external identifier (patent number, DOI), so repeated
// stage runs overwrite in place. Score is stored as an exact 3-decimal
// string to avoid float drift across repeated writes.
type SearchResult struct {
	DocumentID         string
	ResultKey          string
	Source             string
	Title              string
	Abstract           string
	Authors            string
	PublishedDate      string
	Score              string
	SearchStrategyUsed string
	AddToReport        string
}

// AssessmentRecord is the commercial assessment narrative, one per
// document, same last-write-wins shape as KeywordRecord.
type AssessmentRecord struct {
	DocumentID           string
	Timestamp            string
	MarketOverview       string
	Applications         string
	MarketSize           string
	GrowthDrivers        string
	CompetitiveLandscape string
	BarriersToEntry      string
	LicensingPotential   string
	DevelopmentStage     string
	RegulatoryPathway    string
	NextSteps            string
	Summary              string
}

// SortTimestamp formats a time for use inside a sort key so lexical order
// matches chronological order.
func SortTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func (r KeywordRecord) attributes() map[string]string {
	return map[string]string{
		"timestamp":               r.Timestamp,
		"title":                   r.Title,
		"technology_description":  r.TechnologyDescription,
		"technology_applications": r.TechnologyApplications,
		"keywords":                r.Keywords,
		"status":                  r.Status,
	}
}

func keywordRecordFrom(rec Record) KeywordRecord {
	return KeywordRecord{
		DocumentID:             rec.DocumentID,
		Timestamp:              rec.Attributes["timestamp"],
		Title:                  rec.Attributes["title"],
		TechnologyDescription:  rec.Attributes["technology_description"],
		TechnologyApplications: rec.Attributes["technology_applications"],
		Keywords:               rec.Attributes["keywords"],
		Status:                 rec.Attributes["status"],
	}
}

// PutKeywordRecord writes the keyword record under a timestamp sort key so
// the latest write wins for readers.
func (s *Store) PutKeywordRecord(ctx context.Context, r KeywordRecord) error {
	if r.Timestamp == "" {
		r.Timestamp = SortTimestamp(time.Now())
	}
	return s.Put(ctx, r.DocumentID, SortPrefixKeywords+r.Timestamp, r.attributes())
}

// LatestKeywordRecord returns the most recent keyword record, ok=false
// when the stage has not run yet.
func (s *Store) LatestKeywordRecord(ctx context.Context, documentID string) (KeywordRecord, bool, error) {
	rec, ok, err := s.QueryLatest(ctx, documentID, SortPrefixKeywords)
	if err != nil || !ok {
		return KeywordRecord{}, ok, err
	}
	return keywordRecordFrom(rec), true, nil
}

func (r SearchResult) attributes() map[string]string {
	return map[string]string{
		"result_key":           r.ResultKey,
		"source":               r.Source,
		"title":                r.Title,
		"abstract":             r.Abstract,
		"authors":              r.Authors,
		"published_date":       r.PublishedDate,
		"score":                r.Score,
		"search_strategy_used": r.SearchStrategyUsed,
		"add_to_report":        r.AddToReport,
	}
}

func searchResultFrom(rec Record) SearchResult {
	return SearchResult{
		DocumentID:         rec.DocumentID,
		ResultKey:          rec.Attributes["result_key"],
		Source:             rec.Attributes["source"],
		Title:              rec.Attributes["title"],
		Abstract:           rec.Attributes["abstract"],
		Authors:            rec.Attributes["authors"],
		PublishedDate:      rec.Attributes["published_date"],
		Score:              rec.Attributes["score"],
		SearchStrategyUsed: rec.Attributes["search_strategy_used"],
		AddToReport:        rec.Attributes["add_to_report"],
	}
}

func sortPrefixForSource(prefix string) (string, error) {
	switch prefix {
	case SortPrefixPatent, SortPrefixArticle:
		return prefix, nil
	default:
		return "", fmt.Errorf("unknown search result prefix %q", prefix)
	}
}

// PutSearchResult upserts one candidate under its natural identifier.
func (s *Store) PutSearchResult(ctx context.Context, prefix string, r SearchResult) error {
	p, err := sortPrefixForSource(prefix)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.ResultKey) == "" {
		return fmt.Errorf("result_key is required")
	}
	if r.AddToReport == "" {
		r.AddToReport = ReviewNo
	}
	return s.Put(ctx, r.DocumentID, p+r.ResultKey, r.attributes())
}

// SearchResults returns all persisted candidates of one family for a
// document, unordered.
func (s *Store) SearchResults(ctx context.Context, documentID, prefix string) ([]SearchResult, error) {
	p, err := sortPrefixForSource(prefix)
	if err != nil {
		return nil, err
	}
	recs, err := s.QueryAll(ctx, documentID, p)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, searchResultFrom(rec))
	}
	return out, nil
}

func (r AssessmentRecord) attributes() map[string]string {
	return map[string]string{
		"timestamp":             r.Timestamp,
		"market_overview":       r.MarketOverview,
		"applications":          r.Applications,
		"market_size":           r.MarketSize,
		"growth_drivers":        r.GrowthDrivers,
		"competitive_landscape": r.CompetitiveLandscape,
		"barriers_to_entry":     r.BarriersToEntry,
		"licensing_potential":   r.LicensingPotential,
		"development_stage":     r.DevelopmentStage,
		"regulatory_pathway":    r.RegulatoryPathway,
		"next_steps":            r.NextSteps,
		"summary":               r.Summary,
	}
}

func assessmentRecordFrom(rec Record) AssessmentRecord {
	return AssessmentRecord{
		DocumentID:           rec.DocumentID,
		Timestamp:            rec.Attributes["timestamp"],
		MarketOverview:       rec.Attributes["market_overview"],
		Applications:         rec.Attributes["applications"],
		MarketSize:           rec.Attributes["market_size"],
		GrowthDrivers:        rec.Attributes["growth_drivers"],
		CompetitiveLandscape: rec.Attributes["competitive_landscape"],
		BarriersToEntry:      rec.Attributes["barriers_to_entry"],
		LicensingPotential:   rec.Attributes["licensing_potential"],
		DevelopmentStage:     rec.Attributes["development_stage"],
		RegulatoryPathway:    rec.Attributes["regulatory_pathway"],
		NextSteps:            rec.Attributes["next_steps"],
		Summary:              rec.Attributes["summary"],
	}
}

func (s *Store) PutAssessmentRecord(ctx context.Context, r AssessmentRecord) error {
	if r.Timestamp == "" {
		r.Timestamp = SortTimestamp(time.Now())
	}
	return s.Put(ctx, r.DocumentID, SortPrefixAssessment+r.Timestamp, r.attributes())
}

func (s *Store) LatestAssessmentRecord(ctx context.Context, documentID string) (AssessmentRecord, bool, error) {
	rec, ok, err := s.QueryLatest(ctx, documentID, SortPrefixAssessment)
	if err != nil || !ok {
		return AssessmentRecord{}, ok, err
	}
	return assessmentRecordFrom(rec), true, nil
}

// ScoreValue parses a persisted score string back to a float for ranking.
// A malformed score ranks as zero rather than failing the read path.
func ScoreValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
