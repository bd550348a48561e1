package searchstage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	PatentsViewBaseURL    = "https://search.patentsview.org"
	patentsViewPatentPath = "/api/v1/patent/"
)

type PatentsViewConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// PatentsViewClient is the patent search collaborator.
type PatentsViewClient struct {
	cfg PatentsViewConfig
}

func NewPatentsViewClient(cfg PatentsViewConfig) (*PatentsViewClient, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("PATENTSVIEW_API_KEY not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PatentsViewBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PatentsViewClient{cfg: cfg}, nil
}

func (c *PatentsViewClient) Name() string { return "patentsview" }

type patentAPIResponse struct {
	Error   bool             `json:"error"`
	Count   int              `json:"count"`
	Patents []map[string]any `json:"patents"`
}

func (c *PatentsViewClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	body := map[string]any{
		"q": map[string]any{"_or": []any{
			map[string]any{"_text_any": map[string]any{"patent_title": query}},
			map[string]any{"_text_any": map[string]any{"patent_abstract": query}},
		}},
		"f": []string{"patent_id", "patent_title", "patent_abstract", "patent_date", "assignees.assignee_organization"},
		"s": []map[string]string{{"patent_date": "desc"}, {"patent_id": "asc"}},
		"o": map[string]int{"size": limit},
	}

	resp, err := c.executeWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Patents))
	for _, raw := range resp.Patents {
		cand := Candidate{
			Identifier:    strings.TrimSpace(str(raw["patent_id"])),
			Title:         strings.TrimSpace(str(raw["patent_title"])),
			Abstract:      strings.TrimSpace(str(raw["patent_abstract"])),
			PublishedDate: strings.TrimSpace(str(raw["patent_date"])),
			Authors:       flattenAssignees(raw["assignees"]),
		}
		if cand.Identifier == "" {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func (c *PatentsViewClient) executeWithRetry(ctx context.Context, body map[string]any) (patentAPIResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, code, err := c.executeOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		// Client-side errors are not retriable; a bad query stays bad.
		if code == http.StatusBadRequest || code == http.StatusForbidden {
			return patentAPIResponse{}, err
		}
		if attempt < 3 {
			if serr := sleepBackoff(ctx, attempt); serr != nil {
				return patentAPIResponse{}, serr
			}
		}
	}
	return patentAPIResponse{}, lastErr
}

func (c *PatentsViewClient) executeOnce(ctx context.Context, body map[string]any) (patentAPIResponse, int, error) {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+patentsViewPatentPath, bytes.NewReader(payload))
	if err != nil {
		return patentAPIResponse{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return patentAPIResponse{}, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))

	if res.StatusCode >= 400 {
		return patentAPIResponse{}, res.StatusCode, fmt.Errorf("patentsview status code: %d body=%s", res.StatusCode, string(b))
	}
	var parsed patentAPIResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return patentAPIResponse{}, res.StatusCode, err
	}
	if parsed.Error {
		return patentAPIResponse{}, res.StatusCode, fmt.Errorf("patentsview error flag true body=%s", string(b))
	}
	return parsed, res.StatusCode, nil
}

func flattenAssignees(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		m, _ := item.(map[string]any)
		name := strings.Join(strings.Fields(str(m["assignee_organization"])), " ")
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func sleepBackoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
