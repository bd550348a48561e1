package searchstage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAlexSearch(t *testing.T) {
	var gotQuery, gotMailto, gotPerPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = q.Get("search")
		gotMailto = q.Get("mailto")
		gotPerPage = q.Get("per_page")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"id":               "https://openalex.org/W1",
					"title":            "Microfluidic sorting of cells",
					"doi":              "https://doi.org/10.1000/xyz",
					"publication_date": "2022-08-01",
					"authorships": []map[string]any{
						{"author": map[string]any{"display_name": "J. Doe"}},
						{"author": map[string]any{"display_name": "K. Lee"}},
					},
					"abstract_inverted_index": map[string][]int{
						"sorting": {1}, "Cell": {0}, "chips": {2},
					},
				},
				{
					"id":               "https://openalex.org/W2",
					"title":            "No DOI work",
					"publication_year": 2019,
				},
			},
		})
	}))
	defer srv.Close()

	client := NewOpenAlexClient(OpenAlexConfig{BaseURL: srv.URL, Email: "office@example.edu"})
	candidates, err := client.Search(context.Background(), "microfluidic sorting", 25)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "microfluidic sorting" || gotMailto != "office@example.edu" || gotPerPage != "25" {
		t.Fatalf("request params: search=%q mailto=%q per_page=%q", gotQuery, gotMailto, gotPerPage)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	first := candidates[0]
	if first.Identifier != "10.1000/xyz" {
		t.Fatalf("expected bare DOI identifier, got %q", first.Identifier)
	}
	if first.Abstract != "Cell sorting chips" {
		t.Fatalf("reconstructed abstract: %q", first.Abstract)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "J. Doe" {
		t.Fatalf("authors: %v", first.Authors)
	}
	if first.PublishedDate != "2022-08-01" {
		t.Fatalf("published date: %q", first.PublishedDate)
	}

	second := candidates[1]
	if second.Identifier != "https://openalex.org/W2" {
		t.Fatalf("expected work id fallback, got %q", second.Identifier)
	}
	if second.PublishedDate != "2019" {
		t.Fatalf("expected year fallback, got %q", second.PublishedDate)
	}
}

func TestOpenAlexEmptyQueryRejected(t *testing.T) {
	client := NewOpenAlexClient(OpenAlexConfig{BaseURL: "http://unused"})
	if _, err := client.Search(context.Background(), "  ", 5); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestOpenAlexNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAlexClient(OpenAlexConfig{BaseURL: srv.URL})
	if _, err := client.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestReconstructAbstractEmpty(t *testing.T) {
	if got := reconstructAbstract(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
