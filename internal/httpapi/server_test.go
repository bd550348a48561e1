package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/patent-novelty/internal/blobstore"
	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

type recordingInvoker struct {
	mu     sync.Mutex
	stages []pipeline.Stage
}

func (f *recordingInvoker) Invoke(ctx context.Context, stage pipeline.Stage, payload pipeline.Payload, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	return nil
}

type staticTextLoader struct{ text string }

func (f *staticTextLoader) LoadExtractedText(ctx context.Context, artifactPath string) (string, error) {
	return f.text, nil
}

type testEnv struct {
	server *httptest.Server
	store  *resultstore.Store
	blobs  *blobstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := resultstore.NewStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	blobs, err := blobstore.NewStore(t.TempDir(), "test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	router := pipeline.NewRouter(&recordingInvoker{}, &staticTextLoader{text: "extracted text"}, time.Millisecond)
	srv := httptest.NewServer(NewServer(store, blobs, router))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store, blobs: blobs}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func multipartUpload(t *testing.T, filename string, content []byte) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return mw.FormDataContentType(), &buf
}

func pdfBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, "%PDF-1.4\n")
	return data
}

func TestUploadAcceptsPDF(t *testing.T) {
	env := newTestEnv(t)
	contentType, body := multipartUpload(t, "ROI2022-013.pdf", pdfBytes(2048))
	resp, err := http.Post(env.server.URL+"/v1/upload", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	if out["document_id"] != "ROI2022-013" {
		t.Fatalf("document_id: %v", out["document_id"])
	}
	if !env.blobs.Exists("uploads/ROI2022-013.pdf") {
		t.Fatal("upload blob missing")
	}
}

func TestUploadSanitizesFilename(t *testing.T) {
	env := newTestEnv(t)
	contentType, body := multipartUpload(t, "../etc/some report.pdf", pdfBytes(2048))
	resp, err := http.Post(env.server.URL+"/v1/upload", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	if out["blob_key"] != "uploads/some_report.pdf" {
		t.Fatalf("blob_key: %v", out["blob_key"])
	}
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t)

	t.Run("not multipart", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/v1/upload", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})

	t.Run("too small", func(t *testing.T) {
		contentType, body := multipartUpload(t, "tiny.pdf", pdfBytes(100))
		resp, err := http.Post(env.server.URL+"/v1/upload", contentType, body)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})

	t.Run("wrong magic", func(t *testing.T) {
		content := make([]byte, 2048)
		copy(content, "PK\x03\x04")
		contentType, body := multipartUpload(t, "archive.pdf", content)
		resp, err := http.Post(env.server.URL+"/v1/upload", contentType, body)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/upload")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})
}

func TestExtractionCompletedAccepted(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/v1/extractions", map[string]string{
		"artifact_path": "temp/job/run/ROI2022-013-2025-08-29T14-03-11/result.json",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	if out["document_id"] != "ROI2022-013" {
		t.Fatalf("document_id: %v", out["document_id"])
	}
}

func TestExtractionCompletedRequiresArtifactPath(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/v1/extractions", map[string]string{"artifact_path": " "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestActionAccepted(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/v1/actions", map[string]string{
		"action":       pipeline.ActionSearchPatents,
		"pdf_filename": "ROI2022-013.pdf",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	runID, _ := out["run_id"].(string)
	if !strings.HasPrefix(runID, "patent-search-") {
		t.Fatalf("run_id: %q", runID)
	}
}

func TestActionUnknownRejected(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/v1/actions", map[string]string{
		"action":       "reticulate_splines",
		"pdf_filename": "ROI2022-013.pdf",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestResultsAggregation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	err := env.store.PutKeywordRecord(ctx, resultstore.KeywordRecord{
		DocumentID: "D1",
		Timestamp:  "2025-05-01T10:00:00.000Z",
		Title:      "Microfluidic Sorting Device",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.store.PutSearchResult(ctx, resultstore.SortPrefixPatent, resultstore.SearchResult{
		DocumentID: "D1", ResultKey: "US1", Title: "Patent One", Score: "0.900",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.server.URL + "/v1/documents/D1/results")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	if out["keywords"] == nil {
		t.Fatal("keywords record missing")
	}
	if out["assessment"] != nil {
		t.Fatal("assessment should be absent")
	}
	patents, ok := out["patent_results"].([]any)
	if !ok || len(patents) != 1 {
		t.Fatalf("patent_results: %v", out["patent_results"])
	}
	articles, ok := out["article_results"].([]any)
	if !ok || len(articles) != 0 {
		t.Fatalf("article_results: %v", out["article_results"])
	}
}

func TestReviewUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	err := env.store.PutSearchResult(ctx, resultstore.SortPrefixPatent, resultstore.SearchResult{
		DocumentID: "D1", ResultKey: "US1", Title: "Patent One", Score: "0.900",
	})
	if err != nil {
		t.Fatal(err)
	}
	sortKey := resultstore.SortPrefixPatent + "US1"

	resp := env.postJSON(t, "/v1/documents/D1/results/review", map[string]any{
		"sort_key": sortKey,
		"updates":  map[string]string{"add_to_report": resultstore.ReviewYes},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	results, err := env.store.SearchResults(ctx, "D1", resultstore.SortPrefixPatent)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AddToReport != resultstore.ReviewYes {
		t.Fatalf("add_to_report: %s", results[0].AddToReport)
	}
}

func TestReviewRejectsNonReviewableField(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	err := env.store.PutSearchResult(ctx, resultstore.SortPrefixPatent, resultstore.SearchResult{
		DocumentID: "D1", ResultKey: "US1", Score: "0.900",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := env.postJSON(t, "/v1/documents/D1/results/review", map[string]any{
		"sort_key": resultstore.SortPrefixPatent + "US1",
		"updates":  map[string]string{"score": "1.000"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestReportNotReady(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/v1/documents/D1/report")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	if out["ready"] != false {
		t.Fatalf("ready: %v", out["ready"])
	}
}

func TestReportRedirectAndDownload(t *testing.T) {
	env := newTestEnv(t)
	if err := env.blobs.Put("D1_report", []byte("%PDF fake report")); err != nil {
		t.Fatal(err)
	}

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(env.server.URL + "/v1/documents/D1/report")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if !strings.HasPrefix(location, "/v1/download?") {
		t.Fatalf("location: %q", location)
	}

	dl, err := http.Get(env.server.URL + location)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status: %d", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type: %s", ct)
	}
	data, _ := io.ReadAll(dl.Body)
	if string(data) != "%PDF fake report" {
		t.Fatalf("body: %q", data)
	}
}

func TestReportKinds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.blobs.Put("D1_eca_report", []byte("%PDF eca")); err != nil {
		t.Fatal(err)
	}

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(env.server.URL + "/v1/documents/D1/report?kind=eca")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("eca status: %d", resp.StatusCode)
	}

	bad, err := http.Get(env.server.URL + "/v1/documents/D1/report?kind=quarterly")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind status: %d", bad.StatusCode)
	}
}

func TestDownloadRejectsForgedToken(t *testing.T) {
	env := newTestEnv(t)
	if err := env.blobs.Put("D1_report", []byte("%PDF fake")); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(env.server.URL + "/v1/download?key=D1_report&expires=9999999999&sig=deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain.pdf", "plain.pdf"},
		{"with space.pdf", "with_space.pdf"},
		{"../../escape.pdf", "escape.pdf"},
		{`C:\docs\win.pdf`, "win.pdf"},
		{"mixed (1).pdf", "mixed__1_.pdf"},
	}
	for _, c := range cases {
		if got := SanitizeFilename(c.in); got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	out := decodeBody(t, resp)
	if out["ok"] != true {
		t.Fatalf("body: %v", out)
	}
}
