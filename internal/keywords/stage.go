// Package keywords implements the keyword extraction stage: one
// structured generation over the extracted document text, decoded into a
// KeywordRecord and written to the result store.
package keywords

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joelkehle/patent-novelty/internal/llm"
	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

const (
	MaxDocumentChars = 100000
	MinDocumentChars = 100

	StatusExtracted = "extracted"
)

type Stage struct {
	store *resultstore.Store
	exec  *llm.Executor
}

func NewStage(store *resultstore.Store, exec *llm.Executor) *Stage {
	return &Stage{store: store, exec: exec}
}

// Run executes one keyword extraction invocation. The record is written
// best-effort: a parse miss on any section degrades to that section's
// default rather than aborting the write.
func (s *Stage) Run(ctx context.Context, payload pipeline.Payload, runID string) pipeline.StageResult {
	stage := string(pipeline.StageKeywords)
	text := strings.TrimSpace(payload.ExtractedText)
	if len(text) < MinDocumentChars {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewMissingPrerequisiteError("extracted text is insufficient for keyword extraction"))
	}
	if len(text) > MaxDocumentChars {
		text = text[:MaxDocumentChars]
	}

	raw, err := s.exec.Generate(ctx, stage, buildPrompt(text))
	if err != nil {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewUpstreamError("keyword generation", err))
	}

	sections := parseSections(raw)
	defaulted := countDefaults(sections)
	if defaulted > 0 {
		log.Printf("novelty-keywords parse_fallback document_id=%s run_id=%s defaulted_sections=%d", payload.DocumentID, runID, defaulted)
	}

	record := resultstore.KeywordRecord{
		DocumentID:             payload.DocumentID,
		Title:                  sections.Title,
		TechnologyDescription:  sections.Description,
		TechnologyApplications: sections.Applications,
		Keywords:               sections.Keywords,
		Status:                 StatusExtracted,
	}
	if err := s.store.PutKeywordRecord(ctx, record); err != nil {
		var ue *resultstore.UnavailableError
		if errors.As(err, &ue) {
			return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewStoreError(err))
		}
		return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewInternalError(err.Error()))
	}
	return pipeline.SuccessResult(stage, payload.DocumentID, runID,
		fmt.Sprintf("keywords=%d defaulted_sections=%d", keywordCount(sections.Keywords), defaulted))
}

func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString(`Analyze the following invention disclosure and respond using exactly this
template. Use the labels verbatim, each on its own line, and put the
content for each section directly after its label. Do not add any other
sections or commentary.

TITLE:
A concise title for the invention.

TECHNOLOGY DESCRIPTION:
One paragraph describing the core mechanism or method.

TECHNOLOGY APPLICATIONS:
One paragraph describing the application domains and intended uses.

KEYWORDS:
A comma-separated list of 8-15 search keywords covering the core
mechanism, components, and application domains. Single words or short
phrases only.

DISCLOSURE:
`)
	b.WriteString(text)
	return b.String()
}

func countDefaults(s Sections) int {
	n := 0
	for _, v := range []string{s.Title, s.Description, s.Applications, s.Keywords} {
		if v == DefaultSection {
			n++
		}
	}
	return n
}

func keywordCount(keywords string) int {
	if keywords == DefaultSection {
		return 0
	}
	return len(strings.Split(keywords, ","))
}
