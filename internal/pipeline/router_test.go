package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type invocation struct {
	stage   Stage
	payload Payload
	runID   string
}

type fakeInvoker struct {
	calls   []invocation
	failFor map[Stage]error
}

func (f *fakeInvoker) Invoke(ctx context.Context, stage Stage, payload Payload, runID string) error {
	if err := f.failFor[stage]; err != nil {
		return err
	}
	f.calls = append(f.calls, invocation{stage: stage, payload: payload, runID: runID})
	return nil
}

type fakeTextLoader struct {
	text string
	err  error
}

func (f *fakeTextLoader) LoadExtractedText(ctx context.Context, artifactPath string) (string, error) {
	return f.text, f.err
}

func TestDocumentIDFromArtifactPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"temp/job-1/run-9/ROI2022-013-2025-08-29T14-03-11/pages/result.json", "ROI2022-013"},
		{"temp/job-1/run-9/X-2025-01-01/result.json", "X"},
		{"temp/job/run/PlainName/result.json", "PlainName"},
	}
	for _, c := range cases {
		got, err := DocumentIDFromArtifactPath(c.path)
		if err != nil {
			t.Fatalf("%s: %v", c.path, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %q want %q", c.path, got, c.want)
		}
	}
}

func TestDocumentIDFromArtifactPathTooShort(t *testing.T) {
	if _, err := DocumentIDFromArtifactPath("temp/job/result.json"); err == nil {
		t.Fatal("expected error for short path")
	}
}

func TestDocumentIDFromFilename(t *testing.T) {
	if got := DocumentIDFromFilename("ROI2022-013.pdf"); got != "ROI2022-013" {
		t.Fatalf("got %q", got)
	}
	if got := DocumentIDFromFilename("dir/Disclosure.v2.pdf"); got != "Disclosure.v2" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractionCompletedInvokesBothBranches(t *testing.T) {
	inv := &fakeInvoker{}
	r := NewRouter(inv, &fakeTextLoader{text: "the document text"}, time.Millisecond)

	id, err := r.HandleExtractionCompleted(context.Background(), "temp/j/r/ROI2022-013-2025-08-29T00-00-00/result.json")
	if err != nil {
		t.Fatal(err)
	}
	if id != "ROI2022-013" {
		t.Fatalf("unexpected document id %q", id)
	}
	if len(inv.calls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(inv.calls))
	}
	if inv.calls[0].stage != StageKeywords || inv.calls[1].stage != StageAssessment {
		t.Fatalf("wrong stage order: %v then %v", inv.calls[0].stage, inv.calls[1].stage)
	}
	for _, c := range inv.calls {
		if c.payload.DocumentID != "ROI2022-013" || c.payload.ExtractedText != "the document text" {
			t.Fatalf("bad payload %+v", c.payload)
		}
	}
	if !strings.HasSuffix(inv.calls[0].runID, "-keywords") {
		t.Fatalf("keyword run id missing suffix: %s", inv.calls[0].runID)
	}
	if !strings.HasSuffix(inv.calls[1].runID, "-eca") {
		t.Fatalf("assessment run id missing suffix: %s", inv.calls[1].runID)
	}
	kwBase := strings.TrimSuffix(inv.calls[0].runID, "-keywords")
	ecaBase := strings.TrimSuffix(inv.calls[1].runID, "-eca")
	if kwBase != ecaBase {
		t.Fatalf("branches should share a base run id: %s vs %s", kwBase, ecaBase)
	}
}

func TestExtractionCompletedSiblingFailureIsolated(t *testing.T) {
	inv := &fakeInvoker{failFor: map[Stage]error{StageKeywords: errors.New("boom")}}
	r := NewRouter(inv, &fakeTextLoader{text: "text"}, time.Millisecond)

	if _, err := r.HandleExtractionCompleted(context.Background(), "temp/j/r/D-2025-01-01/result.json"); err != nil {
		t.Fatalf("one surviving branch should not error: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0].stage != StageAssessment {
		t.Fatalf("expected only assessment invoked, got %+v", inv.calls)
	}
}

func TestExtractionCompletedAllBranchesFailed(t *testing.T) {
	inv := &fakeInvoker{failFor: map[Stage]error{
		StageKeywords:   errors.New("boom"),
		StageAssessment: errors.New("boom"),
	}}
	r := NewRouter(inv, &fakeTextLoader{text: "text"}, time.Millisecond)

	_, err := r.HandleExtractionCompleted(context.Background(), "temp/j/r/D-2025-01-01/result.json")
	if err == nil {
		t.Fatal("expected error when no branch could be invoked")
	}
	if CodeOf(err) != CodeInternal {
		t.Fatalf("expected internal code, got %s", CodeOf(err))
	}
}

func TestExtractionCompletedTextLoadFailure(t *testing.T) {
	inv := &fakeInvoker{}
	r := NewRouter(inv, &fakeTextLoader{err: errors.New("gone")}, time.Millisecond)

	_, err := r.HandleExtractionCompleted(context.Background(), "temp/j/r/D-2025-01-01/result.json")
	if err == nil {
		t.Fatal("expected error")
	}
	if CodeOf(err) != CodeUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %s", CodeOf(err))
	}
	if len(inv.calls) != 0 {
		t.Fatalf("no stage should be invoked without text, got %+v", inv.calls)
	}
}

func TestHandleActionRoutesToStage(t *testing.T) {
	cases := []struct {
		action string
		stage  Stage
		prefix string
	}{
		{ActionSearchPatents, StagePatentSearch, "patent-search-"},
		{ActionSearchArticles, StageArticleSearch, "article-search-"},
		{ActionGenerateReport, StageReportAssembly, "report-"},
	}
	for _, c := range cases {
		inv := &fakeInvoker{}
		r := NewRouter(inv, &fakeTextLoader{}, time.Millisecond)
		runID, err := r.HandleAction(context.Background(), c.action, "ROI2022-013.pdf")
		if err != nil {
			t.Fatalf("%s: %v", c.action, err)
		}
		if len(inv.calls) != 1 || inv.calls[0].stage != c.stage {
			t.Fatalf("%s: wrong invocation %+v", c.action, inv.calls)
		}
		if inv.calls[0].payload.DocumentID != "ROI2022-013" {
			t.Fatalf("%s: wrong document id %q", c.action, inv.calls[0].payload.DocumentID)
		}
		if !strings.HasPrefix(runID, c.prefix) {
			t.Fatalf("%s: run id %q missing prefix %q", c.action, runID, c.prefix)
		}
	}
}

func TestHandleActionUnknown(t *testing.T) {
	r := NewRouter(&fakeInvoker{}, &fakeTextLoader{}, time.Millisecond)
	_, err := r.HandleAction(context.Background(), "explode", "D.pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	if CodeOf(err) != CodeValidation {
		t.Fatalf("expected validation code, got %s", CodeOf(err))
	}
}

func TestNewRunIDShape(t *testing.T) {
	id := NewRunID("patent-search")
	parts := strings.Split(id, "-")
	if !strings.HasPrefix(id, "patent-search-") {
		t.Fatalf("missing prefix: %s", id)
	}
	if len(parts) < 4 {
		t.Fatalf("unexpected shape: %s", id)
	}
	if hexPart := parts[len(parts)-1]; len(hexPart) != 8 {
		t.Fatalf("expected 8 hex chars, got %q", hexPart)
	}
	if NewRunID("patent-search") == id {
		t.Fatal("run ids must be unique")
	}
}
