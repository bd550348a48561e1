package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Stage string

const (
	StageKeywords       Stage = "keyword-extraction"
	StageAssessment     Stage = "commercial-assessment"
	StagePatentSearch   Stage = "patent-search"
	StageArticleSearch  Stage = "article-search"
	StageReportAssembly Stage = "report-assembly"
)

// Payload is what a stage invocation carries. Stages are stateless: they
// read everything else from the result store.
type Payload struct {
	DocumentID    string `json:"document_id"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

// StageFunc runs one stage invocation to completion and reports a
// structured result. It must not panic and must not return an error;
// failures are encoded in the StageResult.
type StageFunc func(ctx context.Context, payload Payload, runID string) StageResult

// Invoker dispatches a named stage with a payload and a unique run ID.
// Invocation is fire-and-forget: a nil return means "accepted", not
// "completed".
type Invoker interface {
	Invoke(ctx context.Context, stage Stage, payload Payload, runID string) error
}

// LocalInvoker runs registered stages on goroutines within this process.
type LocalInvoker struct {
	mu      sync.RWMutex
	stages  map[Stage]StageFunc
	timeout time.Duration
	wg      sync.WaitGroup
	tracer  trace.Tracer
}

func NewLocalInvoker(timeout time.Duration) *LocalInvoker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &LocalInvoker{
		stages:  map[Stage]StageFunc{},
		timeout: timeout,
		tracer:  otel.Tracer("patent-novelty/pipeline"),
	}
}

func (inv *LocalInvoker) Register(stage Stage, fn StageFunc) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.stages[stage] = fn
}

func (inv *LocalInvoker) Invoke(ctx context.Context, stage Stage, payload Payload, runID string) error {
	inv.mu.RLock()
	fn, ok := inv.stages[stage]
	inv.mu.RUnlock()
	if !ok {
		return NewConfigurationError(fmt.Sprintf("no handler registered for stage %s", stage))
	}
	if payload.DocumentID == "" {
		return &Error{Code: CodeValidation, Message: "document_id is required"}
	}

	// The stage runs detached from the caller's context deadline; the
	// invocation outlives the triggering request.
	link := trace.LinkFromContext(ctx)
	inv.wg.Add(1)
	go func() {
		defer inv.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), inv.timeout)
		defer cancel()
		runCtx, span := inv.tracer.Start(runCtx, "stage."+string(stage),
			trace.WithLinks(link),
			trace.WithAttributes(
				attribute.String("pipeline.document_id", payload.DocumentID),
				attribute.String("pipeline.run_id", runID),
			))
		defer span.End()
		started := time.Now()
		result := runStage(runCtx, fn, stage, payload, runID)
		if result.Success {
			span.SetStatus(codes.Ok, "")
			log.Printf("novelty-pipeline stage_done stage=%s document_id=%s run_id=%s elapsed_ms=%d detail=%q",
				stage, payload.DocumentID, runID, time.Since(started).Milliseconds(), result.Detail)
		} else {
			span.SetStatus(codes.Error, result.Error)
			span.SetAttributes(attribute.String("pipeline.error_code", result.ErrorCode))
			log.Printf("novelty-pipeline stage_failed stage=%s document_id=%s run_id=%s elapsed_ms=%d code=%s err=%q",
				stage, payload.DocumentID, runID, time.Since(started).Milliseconds(), result.ErrorCode, result.Error)
		}
	}()
	return nil
}

// runStage guards the stage boundary: a panicking stage becomes a failure
// result instead of taking down the process.
func runStage(ctx context.Context, fn StageFunc, stage Stage, payload Payload, runID string) (result StageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = FailureResult(string(stage), payload.DocumentID, runID, NewInternalError(fmt.Sprintf("stage panic: %v", r)))
		}
	}()
	return fn(ctx, payload, runID)
}

// Wait blocks until all in-flight invocations finish. Used on shutdown
// and in tests.
func (inv *LocalInvoker) Wait() {
	inv.wg.Wait()
}

// NewRunID builds a run identifier in the {prefix}-{millis}-{suffix} shape
// so concurrently triggered branches never collide.
func NewRunID(prefix string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UTC().UnixMilli(), hex.EncodeToString(b))
}
