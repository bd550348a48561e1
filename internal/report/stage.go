package report

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/joelkehle/patent-novelty/internal/blobstore"
	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

// TopN is the number of reviewed results included per source section.
const TopN = 8

// NoveltyBlobKey and AssessmentBlobKey derive the blob keys the
// reports are written to. Existence of these blobs is the signal that
// report generation finished; polling clients check them directly.
func NoveltyBlobKey(documentID string) string    { return documentID + "_report" }
func AssessmentBlobKey(documentID string) string { return documentID + "_eca_report" }

type Stage struct {
	store    *resultstore.Store
	blobs    *blobstore.Store
	renderer Renderer
	now      func() time.Time
}

func NewStage(store *resultstore.Store, blobs *blobstore.Store, renderer Renderer) *Stage {
	return &Stage{store: store, blobs: blobs, renderer: renderer, now: time.Now}
}

// Run assembles the novelty and commercial-assessment reports. Each
// sub-report succeeds or fails on its own; the stage succeeds when at
// least one report was written.
func (s *Stage) Run(ctx context.Context, payload pipeline.Payload, runID string) pipeline.StageResult {
	stage := string(pipeline.StageReportAssembly)

	kw, kwOK, err := s.store.LatestKeywordRecord(ctx, payload.DocumentID)
	if err != nil {
		return storeFailure(stage, payload.DocumentID, runID, err)
	}
	var kwPtr *resultstore.KeywordRecord
	if kwOK {
		kwPtr = &kw
	}

	patents, err := s.selectResults(ctx, payload.DocumentID, resultstore.SortPrefixPatent)
	if err != nil {
		return storeFailure(stage, payload.DocumentID, runID, err)
	}
	articles, err := s.selectResults(ctx, payload.DocumentID, resultstore.SortPrefixArticle)
	if err != nil {
		return storeFailure(stage, payload.DocumentID, runID, err)
	}

	noveltyWritten := false
	if len(patents) == 0 && len(articles) == 0 {
		log.Printf("report-assembly novelty skipped document_id=%s run_id=%s reason=no_reviewed_results", payload.DocumentID, runID)
	} else {
		md := BuildNoveltyMarkdown(kwPtr, patents, articles, s.now())
		if err := s.writePDF(ctx, "Patent Novelty Report", md, NoveltyBlobKey(payload.DocumentID)); err != nil {
			log.Printf("report-assembly novelty failed document_id=%s run_id=%s error=%v", payload.DocumentID, runID, err)
		} else {
			noveltyWritten = true
		}
	}

	assessmentWritten := false
	assessment, aOK, err := s.store.LatestAssessmentRecord(ctx, payload.DocumentID)
	if err != nil {
		return storeFailure(stage, payload.DocumentID, runID, err)
	}
	if !aOK {
		log.Printf("report-assembly eca skipped document_id=%s run_id=%s reason=no_assessment_record", payload.DocumentID, runID)
	} else {
		md := BuildAssessmentMarkdown(kwPtr, assessment, s.now())
		if err := s.writePDF(ctx, "Early Commercial Assessment", md, AssessmentBlobKey(payload.DocumentID)); err != nil {
			log.Printf("report-assembly eca failed document_id=%s run_id=%s error=%v", payload.DocumentID, runID, err)
		} else {
			assessmentWritten = true
		}
	}

	if !noveltyWritten && !assessmentWritten {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewMissingPrerequisiteError("no reviewed search results and no commercial assessment; nothing to report"))
	}
	detail := fmt.Sprintf("novelty=%t eca=%t patents=%d articles=%d", noveltyWritten, assessmentWritten, len(patents), len(articles))
	log.Printf("report-assembly complete document_id=%s run_id=%s %s", payload.DocumentID, runID, detail)
	return pipeline.SuccessResult(stage, payload.DocumentID, runID, detail)
}

// selectResults returns the reviewed results for one source prefix:
// only rows marked add_to_report=Yes, highest score first, capped at
// TopN.
func (s *Stage) selectResults(ctx context.Context, documentID, sortPrefix string) ([]resultstore.SearchResult, error) {
	all, err := s.store.SearchResults(ctx, documentID, sortPrefix)
	if err != nil {
		return nil, err
	}
	selected := make([]resultstore.SearchResult, 0, len(all))
	for _, r := range all {
		if r.AddToReport == resultstore.ReviewYes {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		si, sj := resultstore.ScoreValue(selected[i].Score), resultstore.ScoreValue(selected[j].Score)
		if si != sj {
			return si > sj
		}
		return selected[i].ResultKey < selected[j].ResultKey
	})
	if len(selected) > TopN {
		selected = selected[:TopN]
	}
	return selected, nil
}

func (s *Stage) writePDF(ctx context.Context, title, markdown, blobKey string) error {
	pdf, err := s.renderer.Render(ctx, title, markdown)
	if err != nil {
		return fmt.Errorf("render %s: %w", blobKey, err)
	}
	if err := s.blobs.Put(blobKey, pdf); err != nil {
		return fmt.Errorf("store %s: %w", blobKey, err)
	}
	return nil
}

func storeFailure(stage, documentID, runID string, err error) pipeline.StageResult {
	return pipeline.FailureResult(stage, documentID, runID, pipeline.NewStoreError(err))
}
