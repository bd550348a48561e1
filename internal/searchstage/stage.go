// Package searchstage implements the shared search-stage state machine:
// load keywords, derive bounded query strategies, query an external
// search collaborator, score and deduplicate candidates, and persist a
// ranked result set. The patent and literature stages are the same
// machine with different clients.
package searchstage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/relevance"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
)

const (
	// MaxStrategies bounds external query attempts per invocation
	// regardless of result count. No implicit 4th strategy is attempted
	// when all explicit strategies return zero results.
	MaxStrategies = 3

	// TopN is how many ranked candidates are persisted per invocation.
	TopN = 5

	DefaultResultLimit = 20
)

// Candidate is one raw hit from an external search collaborator.
type Candidate struct {
	Identifier    string
	Title         string
	Abstract      string
	Authors       []string
	PublishedDate string
}

// SearchClient is the external search collaborator for one stage.
type SearchClient interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

type Stage struct {
	store       *resultstore.Store
	client      SearchClient
	stage       pipeline.Stage
	sortPrefix  string
	resultLimit int
}

// NewPatentStage builds the patent-search stage over the given client.
func NewPatentStage(store *resultstore.Store, client SearchClient, resultLimit int) *Stage {
	return newStage(store, client, pipeline.StagePatentSearch, resultstore.SortPrefixPatent, resultLimit)
}

// NewArticleStage builds the literature-search stage over the given client.
func NewArticleStage(store *resultstore.Store, client SearchClient, resultLimit int) *Stage {
	return newStage(store, client, pipeline.StageArticleSearch, resultstore.SortPrefixArticle, resultLimit)
}

func newStage(store *resultstore.Store, client SearchClient, stage pipeline.Stage, sortPrefix string, resultLimit int) *Stage {
	if resultLimit <= 0 {
		resultLimit = DefaultResultLimit
	}
	return &Stage{store: store, client: client, stage: stage, sortPrefix: sortPrefix, resultLimit: resultLimit}
}

// scored pairs a candidate with its relevance score and the strategy that
// most recently produced it.
type scored struct {
	candidate Candidate
	score     float64
	strategy  string
}

// Run executes one search invocation to a terminal state. Zero results is
// success; a failure record is returned only when nothing could be
// searched (missing keywords) or every strategy failed upstream.
func (s *Stage) Run(ctx context.Context, payload pipeline.Payload, runID string) pipeline.StageResult {
	stage := string(s.stage)

	kw, ok, err := s.store.LatestKeywordRecord(ctx, payload.DocumentID)
	if err != nil {
		return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewStoreError(err))
	}
	if !ok {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewMissingPrerequisiteError(fmt.Sprintf("no keyword record for document %s; run keyword extraction first", payload.DocumentID)))
	}

	strategies := DeriveStrategies(kw)
	if len(strategies) == 0 {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewMissingPrerequisiteError(fmt.Sprintf("keyword record for document %s has no usable keywords", payload.DocumentID)))
	}
	categories := BuildCategories(kw)

	byID := map[string]scored{}
	order := []string{}
	failed := 0
	for _, strat := range strategies {
		candidates, err := s.client.Search(ctx, strat.Query, s.resultLimit)
		if err != nil {
			failed++
			log.Printf("novelty-search query_failed stage=%s document_id=%s strategy=%s err=%v", stage, payload.DocumentID, strat.Name, err)
			continue
		}
		log.Printf("novelty-search query_done stage=%s document_id=%s strategy=%s hits=%d", stage, payload.DocumentID, strat.Name, len(candidates))
		for _, c := range candidates {
			if c.Identifier == "" {
				continue
			}
			// A later strategy's hit on a seen identifier updates in
			// place rather than duplicating.
			if _, seen := byID[c.Identifier]; !seen {
				order = append(order, c.Identifier)
			}
			byID[c.Identifier] = scored{
				candidate: c,
				score:     relevance.Score(c.Title+" "+c.Abstract, categories),
				strategy:  strat.Name,
			}
		}
	}
	if failed == len(strategies) {
		return pipeline.FailureResult(stage, payload.DocumentID, runID,
			pipeline.NewUpstreamError(fmt.Sprintf("%s collaborator unavailable: all %d strategies failed", s.client.Name(), failed), nil))
	}

	ranked := make([]scored, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, byID[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].candidate.Identifier < ranked[j].candidate.Identifier
	})
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}

	for _, r := range ranked {
		result := resultstore.SearchResult{
			DocumentID:         payload.DocumentID,
			ResultKey:          r.candidate.Identifier,
			Source:             s.client.Name(),
			Title:              r.candidate.Title,
			Abstract:           r.candidate.Abstract,
			Authors:            joinAuthors(r.candidate.Authors),
			PublishedDate:      r.candidate.PublishedDate,
			Score:              relevance.FormatScore(r.score),
			SearchStrategyUsed: r.strategy,
			AddToReport:        resultstore.ReviewNo,
		}
		if err := s.store.PutSearchResult(ctx, s.sortPrefix, result); err != nil {
			var ue *resultstore.UnavailableError
			if errors.As(err, &ue) {
				return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewStoreError(err))
			}
			return pipeline.FailureResult(stage, payload.DocumentID, runID, pipeline.NewInternalError(err.Error()))
		}
	}

	return pipeline.SuccessResult(stage, payload.DocumentID, runID,
		fmt.Sprintf("persisted=%d candidates=%d strategies=%d failed=%d", len(ranked), len(byID), len(strategies), failed))
}

func joinAuthors(authors []string) string {
	out := ""
	for i, a := range authors {
		if i >= 5 {
			break
		}
		if i > 0 {
			out += "; "
		}
		out += a
	}
	return out
}
