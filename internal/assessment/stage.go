// Package assessment implements the early commercial assessment stage.
// It is an independent pipeline branch: it reads the same extracted text
// as keyword extraction and has no ordering dependency on the search
// stages.
package assessment

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
)

type Stage struct {
	store *resultstore.Store
	exec  *llm.Executor
}

func NewStage(store *resultstore.Store, exec *llm.Executor) *Stage {
	return &Stage{store: store, exec: exec}
}

func (s *Stage) Run(ctx context.Context, payload pipeline.Payload, runID string) pipeline.StageResult {
	stage := string(pipeline.StageAssessment)
	text := strings.TrimSpace(payload.ExtractedText)
	if len(text) < MinDocumentChars {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewMissingPrerequisiteError("extracted text is insufficient for commercial assessment"))
	}
	if len(text) > MaxDocumentChars {
		text = text[:MaxDocumentChars]
	}

	raw, err := s.exec.Generate(ctx, stage, buildPrompt(text))
	if err != nil {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewUpstreamError("assessment generation", err))
	}

	record, defaulted := parseAssessment(raw)
	record.DocumentID = payload.DocumentID
	if defaulted > 0 {
		log.Printf("novelty-assessment parse_fallback document_id=%s run_id=%s defaulted_sections=%d", payload.DocumentID, runID, defaulted)
	}

	if err := s.store.PutAssessmentRecord(ctx, record); err != nil {
		var ue *resultstore.UnavailableError
		if errors.As(err, &ue) {
			return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewStoreError(err))
		}
		return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewInternalError(err.Error()))
	}
	return pipeline.SuccessResult(stage, payload.DocumentID, runID, fmt.Sprintf("defaulted_sections=%d", defaulted))
}

func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString(`Prepare an early commercial assessment of the following invention
disclosure. Respond using exactly this template, each label verbatim on
its own line, content directly after its label, no other sections or
commentary.

MARKET OVERVIEW:
APPLICATIONS:
MARKET SIZE:
GROWTH DRIVERS:
COMPETITIVE LANDSCAPE:
BARRIERS TO ENTRY:
LICENSING POTENTIAL:
DEVELOPMENT STAGE:
REGULATORY PATHWAY:
NEXT STEPS:
SUMMARY:

Each section is one short paragraph of conservative analysis. Do not
invent market figures; qualify estimates explicitly.

DISCLOSURE:
`)
	b.WriteString(text)
	return b.String()
}
