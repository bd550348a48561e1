// run-stage re-invokes a single pipeline stage for one document. It is
// the manual recovery path when a fire-and-forget run failed: re-runs
// are idempotent upserts, so repeating a stage is always safe.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/joelkehle/patent-novelty/internal/assessment"
	"github.com/joelkehle/patent-novelty/internal/blobstore"
	"github.com/joelkehle/patent-novelty/internal/keywords"
	"github.com/joelkehle/patent-novelty/internal/llm"
	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/report"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
	"github.com/joelkehle/patent-novelty/internal/searchstage"
)

func main() {
	var (
		stageName  = flag.String("stage", "", "Stage to run: keyword-extraction | commercial-assessment | patent-search | article-search | report-assembly")
		documentID = flag.String("document-id", "", "Document identifier (required unless -artifact is given)")
		artifact   = flag.String("artifact", "", "Extraction artifact path; derives the document id and loads text for the LLM stages")
		dbPath     = flag.String("db", "./novelty.db", "Path to the sqlite result store")
		blobDir    = flag.String("blob-dir", "./blobs", "Directory for report and upload blobs")
	)
	flag.Parse()

	stage := pipeline.Stage(strings.TrimSpace(*stageName))
	if stage == "" {
		log.Fatal("-stage is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, err := resultstore.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("open result store: %v", err)
	}
	defer store.Close()

	blobs, err := blobstore.NewStore(*blobDir, requiredEnv("BLOB_SIGNING_SECRET"), 0)
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}

	payload := pipeline.Payload{DocumentID: strings.TrimSpace(*documentID)}
	if strings.TrimSpace(*artifact) != "" {
		id, err := pipeline.DocumentIDFromArtifactPath(*artifact)
		if err != nil {
			log.Fatalf("derive document id: %v", err)
		}
		if payload.DocumentID == "" {
			payload.DocumentID = id
		}
		text, err := blobs.LoadExtractedText(ctx, *artifact)
		if err != nil {
			log.Fatalf("load extracted text: %v", err)
		}
		payload.ExtractedText = text
	}
	if payload.DocumentID == "" {
		log.Fatal("-document-id or -artifact is required")
	}

	fn, err := buildStage(stage, store, blobs)
	if err != nil {
		log.Fatal(err)
	}

	runID := pipeline.NewRunID("manual")
	log.Printf("run-stage start stage=%s document_id=%s run_id=%s", stage, payload.DocumentID, runID)
	result := fn(ctx, payload, runID)

	out, _ := json.MarshalIndent(result, "", "  ")
	os.Stdout.Write(append(out, '\n'))
	if !result.Success {
		os.Exit(1)
	}
}

func buildStage(stage pipeline.Stage, store *resultstore.Store, blobs *blobstore.Store) (pipeline.StageFunc, error) {
	switch stage {
	case pipeline.StageKeywords, pipeline.StageAssessment:
		caller, err := llm.NewAnthropicCallerFromEnv()
		if err != nil {
			return nil, err
		}
		exec := llm.NewExecutor(caller)
		if stage == pipeline.StageKeywords {
			return keywords.NewStage(store, exec).Run, nil
		}
		return assessment.NewStage(store, exec).Run, nil
	case pipeline.StagePatentSearch:
		client, err := searchstage.NewPatentsViewClient(searchstage.PatentsViewConfig{
			APIKey: requiredEnv("PATENTSVIEW_API_KEY"),
		})
		if err != nil {
			return nil, err
		}
		return searchstage.NewPatentStage(store, client, searchstage.DefaultResultLimit).Run, nil
	case pipeline.StageArticleSearch:
		client := searchstage.NewOpenAlexClient(searchstage.OpenAlexConfig{
			Email: strings.TrimSpace(os.Getenv("OPENALEX_MAILTO")),
		})
		return searchstage.NewArticleStage(store, client, searchstage.DefaultResultLimit).Run, nil
	case pipeline.StageReportAssembly:
		return report.NewStage(store, blobs, report.NewChromiumPDFRenderer()).Run, nil
	default:
		return nil, &pipeline.Error{Code: pipeline.CodeValidation, Message: "unknown stage " + string(stage)}
	}
}

func requiredEnv(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		log.Fatalf("missing required env var %s", name)
	}
	return v
}
