// Package httpapi exposes the pipeline over HTTP: document upload,
// extraction notifications, user actions, the review surface, and
// signed report downloads.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/joelkehle/patent-novelty/internal/blobstore"
	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/report"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

const (
	// MinUploadBytes rejects truncated uploads before they reach the
	// extraction service.
	MinUploadBytes = 1024
	// MaxUploadBytes bounds a single document upload.
	MaxUploadBytes = 50 << 20
)

var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type Server struct {
	store  *resultstore.Store
	blobs  *blobstore.Store
	router *pipeline.Router
	now    func() time.Time
}

func NewServer(store *resultstore.Store, blobs *blobstore.Store, router *pipeline.Router) http.Handler {
	s := &Server{store: store, blobs: blobs, router: router, now: time.Now}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/upload", s.handleUpload)
	mux.HandleFunc("/v1/extractions", s.handleExtractionCompleted)
	mux.HandleFunc("/v1/actions", s.handleAction)
	mux.HandleFunc("/v1/documents/", s.handleDocuments)
	mux.HandleFunc("/v1/download", s.handleDownload)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func writePipelineError(w http.ResponseWriter, err error) {
	code := pipeline.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case pipeline.CodeValidation:
		status = http.StatusBadRequest
	case pipeline.CodeMissingPrerequisite:
		status = http.StatusConflict
	case pipeline.CodeStoreUnavailable, pipeline.CodeUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

// SanitizeFilename restricts an uploaded filename to a safe character
// set and strips any path components.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return filenameSanitizer.ReplaceAllString(name, "_")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "multipart form required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "read upload: "+err.Error())
		return
	}
	if len(data) > MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, pipeline.CodeValidation, "upload exceeds size limit")
		return
	}
	if len(data) < MinUploadBytes {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, fmt.Sprintf("upload smaller than %d bytes", MinUploadBytes))
		return
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "upload is not a PDF")
		return
	}

	filename := SanitizeFilename(header.Filename)
	if filename == "" || filename == "_" {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "filename is required")
		return
	}
	blobKey := "uploads/" + filename
	if err := s.blobs.Put(blobKey, data); err != nil {
		writeError(w, http.StatusInternalServerError, pipeline.CodeInternal, "store upload: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":          true,
		"document_id": pipeline.DocumentIDFromFilename(filename),
		"blob_key":    blobKey,
	})
}

// handleExtractionCompleted is the webhook the extraction service calls
// once a document's text artifact is available.
func (s *Server) handleExtractionCompleted(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ArtifactPath string `json:"artifact_path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ArtifactPath) == "" {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "artifact_path is required")
		return
	}
	documentID, err := s.router.HandleExtractionCompleted(r.Context(), req.ArtifactPath)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":          true,
		"document_id": documentID,
		"status":      "accepted",
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Action      string `json:"action"`
		PDFFilename string `json:"pdf_filename"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "invalid JSON body")
		return
	}
	runID, err := s.router.HandleAction(r.Context(), strings.TrimSpace(req.Action), req.PDFFilename)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":     true,
		"run_id": runID,
		"status": "accepted",
	})
}

// handleDocuments dispatches the /v1/documents/{id}/... subtree.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
		http.NotFound(w, r)
		return
	}
	documentID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "results":
		s.handleResults(w, r, documentID)
	case len(parts) == 3 && parts[1] == "results" && parts[2] == "review":
		s.handleReview(w, r, documentID)
	case len(parts) == 2 && parts[1] == "report":
		s.handleReport(w, r, documentID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, documentID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	payload := map[string]any{"ok": true, "document_id": documentID}

	kw, ok, err := s.store.LatestKeywordRecord(ctx, documentID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.CodeStoreUnavailable, err.Error())
		return
	}
	if ok {
		payload["keywords"] = kw
	}
	assessment, ok, err := s.store.LatestAssessmentRecord(ctx, documentID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.CodeStoreUnavailable, err.Error())
		return
	}
	if ok {
		payload["assessment"] = assessment
	}
	patents, err := s.store.SearchResults(ctx, documentID, resultstore.SortPrefixPatent)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.CodeStoreUnavailable, err.Error())
		return
	}
	articles, err := s.store.SearchResults(ctx, documentID, resultstore.SortPrefixArticle)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.CodeStoreUnavailable, err.Error())
		return
	}
	payload["patent_results"] = patents
	payload["article_results"] = articles
	writeJSON(w, http.StatusOK, payload)
}

// handleReview applies the narrow reviewer update: only the
// add_to_report flag and the keyword list are mutable from outside.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, documentID string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		SortKey string            `json:"sort_key"`
		Updates map[string]string `json:"updates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SortKey) == "" || len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, "sort_key and updates are required")
		return
	}
	if err := s.store.UpdateReview(r.Context(), documentID, req.SortKey, req.Updates); err != nil {
		var unavailable *resultstore.UnavailableError
		if errors.As(err, &unavailable) {
			writeError(w, http.StatusServiceUnavailable, pipeline.CodeStoreUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReport reports readiness and redirects to a signed download.
// Blob existence is the completion signal, so a 404 here means the
// report run has not finished yet.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, documentID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	var blobKey string
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "novelty":
		blobKey = report.NoveltyBlobKey(documentID)
	case "eca", "assessment":
		blobKey = report.AssessmentBlobKey(documentID)
	default:
		writeError(w, http.StatusBadRequest, pipeline.CodeValidation, fmt.Sprintf("unknown report kind %q", kind))
		return
	}
	if !s.blobs.Exists(blobKey) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "ready": false})
		return
	}
	query, err := s.blobs.SignedQuery(blobKey, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, pipeline.CodeInternal, err.Error())
		return
	}
	http.Redirect(w, r, "/v1/download?"+query, http.StatusFound)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	key := q.Get("key")
	if !s.blobs.Verify(key, q.Get("expires"), q.Get("sig"), s.now()) {
		writeError(w, http.StatusForbidden, pipeline.CodeValidation, "invalid or expired download token")
		return
	}
	data, err := s.blobs.Get(key)
	if err != nil {
		writeError(w, http.StatusNotFound, pipeline.CodeValidation, "blob not found")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": s.now().UTC().Format(time.RFC3339)})
}
