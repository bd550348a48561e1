package pipeline

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	ActionSearchPatents  = "search_patents"
	ActionSearchArticles = "search_articles"
	ActionGenerateReport = "generate_report"
)

// timestampMarkerRe matches the job-scoped timestamp suffix injected into
// artifact path segments, e.g. "ROI2022-013-2025-08-29T14-03-11".
var timestampMarkerRe = regexp.MustCompile(`-\d{4}-`)

// TextLoader fetches the extracted-text artifact produced by the upstream
// document automation service.
type TextLoader interface {
	LoadExtractedText(ctx context.Context, artifactPath string) (string, error)
}

// Router maps inbound events to stage invocations with the correct
// ordering and identifiers.
type Router struct {
	invoker    Invoker
	texts      TextLoader
	interDelay time.Duration
}

func NewRouter(invoker Invoker, texts TextLoader, interDelay time.Duration) *Router {
	if interDelay <= 0 {
		interDelay = 2 * time.Second
	}
	return &Router{invoker: invoker, texts: texts, interDelay: interDelay}
}

// DocumentIDFromArtifactPath derives the stable document identity from an
// extraction artifact path of the form
// temp/<job>/<run>/<name>-<timestamp>/.../result.json. The name segment
// carries an injected timestamp suffix which is stripped at the year
// marker.
func DocumentIDFromArtifactPath(artifactPath string) (string, error) {
	segments := strings.Split(strings.Trim(artifactPath, "/"), "/")
	if len(segments) < 4 {
		return "", fmt.Errorf("artifact path too short: %q", artifactPath)
	}
	name := segments[3]
	if loc := timestampMarkerRe.FindStringIndex(name); loc != nil {
		name = name[:loc[0]]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty document id in artifact path %q", artifactPath)
	}
	return name, nil
}

// DocumentIDFromFilename derives the document identity from an uploaded
// PDF filename by stripping the extension.
func DocumentIDFromFilename(filename string) string {
	base := path.Base(strings.TrimSpace(filename))
	return strings.TrimSuffix(base, path.Ext(base))
}

// HandleExtractionCompleted routes a "text extraction completed" event:
// keyword extraction is invoked first, then commercial assessment after a
// short fixed delay. The branches are independent; neither waits for the
// other to complete, and a failure to invoke one does not suppress the
// sibling. Returns an error only if no downstream invocation succeeded.
func (r *Router) HandleExtractionCompleted(ctx context.Context, artifactPath string) (string, error) {
	documentID, err := DocumentIDFromArtifactPath(artifactPath)
	if err != nil {
		return "", err
	}
	text, err := r.texts.LoadExtractedText(ctx, artifactPath)
	if err != nil {
		return documentID, NewUpstreamError("load extracted text", err)
	}
	payload := Payload{DocumentID: documentID, ExtractedText: text}

	// Distinct run identifiers per branch so their invocations never
	// collide even when triggered from the same event.
	base := NewRunID("trigger")
	invoked := 0
	if err := r.invoker.Invoke(ctx, StageKeywords, payload, base+"-keywords"); err != nil {
		log.Printf("novelty-router invoke_failed stage=%s document_id=%s err=%v", StageKeywords, documentID, err)
	} else {
		invoked++
	}
	time.Sleep(r.interDelay)
	if err := r.invoker.Invoke(ctx, StageAssessment, payload, base+"-eca"); err != nil {
		log.Printf("novelty-router invoke_failed stage=%s document_id=%s err=%v", StageAssessment, documentID, err)
	} else {
		invoked++
	}

	if invoked == 0 {
		return documentID, NewInternalError("no downstream stage could be invoked")
	}
	if invoked == 1 {
		log.Printf("novelty-router partial_dispatch document_id=%s invoked=%d", documentID, invoked)
	}
	return documentID, nil
}

// HandleAction routes an explicit user-initiated action to exactly one
// stage with a fresh run identifier. The returned run ID means the
// invocation was accepted, not that processing completed.
func (r *Router) HandleAction(ctx context.Context, action, pdfFilename string) (string, error) {
	documentID := DocumentIDFromFilename(pdfFilename)
	if documentID == "" {
		return "", &Error{Code: CodeValidation, Message: "pdf_filename is required"}
	}

	var stage Stage
	var prefix string
	switch action {
	case ActionSearchPatents:
		stage, prefix = StagePatentSearch, "patent-search"
	case ActionSearchArticles:
		stage, prefix = StageArticleSearch, "article-search"
	case ActionGenerateReport:
		stage, prefix = StageReportAssembly, "report"
	default:
		return "", &Error{Code: CodeValidation, Message: fmt.Sprintf("unknown action %q", action)}
	}

	runID := NewRunID(prefix)
	if err := r.invoker.Invoke(ctx, stage, Payload{DocumentID: documentID}, runID); err != nil {
		return "", err
	}
	log.Printf("novelty-router action_accepted action=%s document_id=%s run_id=%s", action, documentID, runID)
	return runID, nil
}
