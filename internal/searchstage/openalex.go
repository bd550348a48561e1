package searchstage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const OpenAlexBaseURL = "https://api.openalex.org/works"

type OpenAlexConfig struct {
	BaseURL string
	// Email is sent as the mailto parameter for polite-pool access.
	Email      string
	HTTPClient *http.Client
}

// OpenAlexClient is the literature search collaborator.
type OpenAlexClient struct {
	cfg OpenAlexConfig
}

func NewOpenAlexClient(cfg OpenAlexConfig) *OpenAlexClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenAlexBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAlexClient{cfg: cfg}
}

func (c *OpenAlexClient) Name() string { return "openalex" }

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	DOI                   string           `json:"doi"`
	PublicationDate       string           `json:"publication_date"`
	PublicationYear       int              `json:"publication_year"`
	Authorships           []openAlexAuthor `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

type openAlexAuthor struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

func (c *OpenAlexClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty openalex query")
	}
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	if limit > 200 {
		limit = 200
	}

	params := url.Values{
		"search":   {query},
		"per_page": {strconv.Itoa(limit)},
		"page":     {"1"},
	}
	if c.cfg.Email != "" {
		params.Set("mailto", c.cfg.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openalex request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openalex status code: %d", resp.StatusCode)
	}

	var parsed openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing openalex response: %w", err)
	}

	out := make([]Candidate, 0, len(parsed.Results))
	for _, work := range parsed.Results {
		cand := Candidate{
			Title:    work.Title,
			Abstract: reconstructAbstract(work.AbstractInvertedIndex),
		}
		// OpenAlex is DOI-centric; prefer the bare DOI as the natural
		// identifier and fall back to the work ID.
		if work.DOI != "" {
			cand.Identifier = strings.TrimPrefix(work.DOI, "https://doi.org/")
		} else {
			cand.Identifier = work.ID
		}
		if cand.Identifier == "" {
			continue
		}
		for _, a := range work.Authorships {
			if a.Author.DisplayName != "" {
				cand.Authors = append(cand.Authors, a.Author.DisplayName)
			}
		}
		if work.PublicationDate != "" {
			cand.PublishedDate = work.PublicationDate
		} else if work.PublicationYear > 0 {
			cand.PublishedDate = strconv.Itoa(work.PublicationYear)
		}
		out = append(out, cand)
	}
	return out, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The index maps each word to the positions where it appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}
	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })
	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}
