package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/patent-novelty/internal/assessment"
	"github.com/joelkehle/patent-novelty/internal/blobstore"
	"github.com/joelkehle/patent-novelty/internal/httpapi"
	"github.com/joelkehle/patent-novelty/internal/keywords"
	"github.com/joelkehle/patent-novelty/internal/llm"
	"github.com/joelkehle/patent-novelty/internal/pipeline"
	"github.com/joelkehle/patent-novelty/internal/report"
	"github.com/joelkehle/patent-novelty/internal/resultstore"
	"github.com/joelkehle/patent-novelty/internal/searchstage"
	"github.com/joelkehle/patent-novelty/internal/telemetry"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP listen address")
		dbPath  = flag.String("db", "./novelty.db", "Path to the sqlite result store")
		blobDir = flag.String("blob-dir", "./blobs", "Directory for report and upload blobs")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "patent-novelty")
	if err != nil {
		log.Fatalf("telemetry setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("telemetry shutdown failed: %v", err)
		}
	}()

	store, err := resultstore.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("open result store: %v", err)
	}
	defer store.Close()

	blobs, err := blobstore.NewStore(*blobDir, requiredEnv("BLOB_SIGNING_SECRET"), 0)
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}

	caller, err := llm.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatalf("configure anthropic client: %v", err)
	}
	exec := llm.NewExecutor(caller)

	patentClient, err := searchstage.NewPatentsViewClient(searchstage.PatentsViewConfig{
		APIKey: requiredEnv("PATENTSVIEW_API_KEY"),
	})
	if err != nil {
		log.Fatalf("configure patentsview client: %v", err)
	}
	articleClient := searchstage.NewOpenAlexClient(searchstage.OpenAlexConfig{
		Email: strings.TrimSpace(os.Getenv("OPENALEX_MAILTO")),
	})

	resultLimit := envInt("SEARCH_RESULT_LIMIT", searchstage.DefaultResultLimit)

	invoker := pipeline.NewLocalInvoker(time.Duration(envInt("STAGE_TIMEOUT_SECONDS", 600)) * time.Second)
	invoker.Register(pipeline.StageKeywords, keywords.NewStage(store, exec).Run)
	invoker.Register(pipeline.StageAssessment, assessment.NewStage(store, exec).Run)
	invoker.Register(pipeline.StagePatentSearch, searchstage.NewPatentStage(store, patentClient, resultLimit).Run)
	invoker.Register(pipeline.StageArticleSearch, searchstage.NewArticleStage(store, articleClient, resultLimit).Run)
	invoker.Register(pipeline.StageReportAssembly, report.NewStage(store, blobs, report.NewChromiumPDFRenderer()).Run)

	router := pipeline.NewRouter(invoker, blobs, 0)
	handler := httpapi.NewServer(store, blobs, router)

	log.Printf("novelty-server listening on %s db=%s blobs=%s model=%s", *addr, *dbPath, *blobDir, exec.ModelName())
	srv := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func requiredEnv(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		log.Fatalf("missing required env var %s", name)
	}
	return v
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Fatalf("env var %s must be a positive integer, got %q", name, raw)
	}
	return v
}
