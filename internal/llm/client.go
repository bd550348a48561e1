package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultModel = "claude-sonnet-4-20250514"

const systemPrompt = "You are a technology analyst for a university technology transfer office. " +
	"You produce conservative, structured outputs and do not invent facts. " +
	"Follow the requested output template exactly."

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

type failureClass int

const (
	failureTimeout failureClass = iota
	failureRateLimit
	failureServer
	failureClient
)

// TextGenerator is the opaque language capability the extraction stages
// call. Text in, text out.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model := strings.TrimSpace(os.Getenv("NOVELTY_LLM_MODEL"))
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: model}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// Executor wraps a TextGenerator with transport-level retries. Content
// interpretation stays in the calling stage; parse failures there degrade
// to defaults rather than retrying here.
type Executor struct {
	caller TextGenerator
}

func NewExecutor(caller TextGenerator) *Executor {
	return &Executor{caller: caller}
}

func (e *Executor) ModelName() string {
	if e == nil || e.caller == nil {
		return DefaultModel
	}
	return e.caller.ModelName()
}

func (e *Executor) Generate(ctx context.Context, stageName, prompt string) (string, error) {
	for attempt := 1; attempt <= 3; attempt++ {
		attemptStart := time.Now()
		log.Printf("novelty-llm attempt_start stage=%s attempt=%d", stageName, attempt)
		raw, err := e.caller.Generate(ctx, prompt)
		if err != nil {
			class := classifyTransportError(err)
			log.Printf("novelty-llm attempt_transport_error stage=%s attempt=%d class=%d elapsed_ms=%d err=%q",
				stageName, attempt, class, time.Since(attemptStart).Milliseconds(), err.Error())
			if class != failureClient && attempt < 3 {
				if serr := sleepCtx(ctx, backoffDelay(attempt)); serr != nil {
					return "", serr
				}
				continue
			}
			return "", fmt.Errorf("%s transport failure: %w", stageName, err)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			log.Printf("novelty-llm attempt_empty stage=%s attempt=%d elapsed_ms=%d", stageName, attempt, time.Since(attemptStart).Milliseconds())
			if attempt < 3 {
				continue
			}
			return "", fmt.Errorf("%s failed: empty response", stageName)
		}
		log.Printf("novelty-llm attempt_success stage=%s attempt=%d elapsed_ms=%d response_chars=%d",
			stageName, attempt, time.Since(attemptStart).Milliseconds(), len(raw))
		return raw, nil
	}
	return "", fmt.Errorf("%s failed after retries", stageName)
}

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	m := statusCodeRe.FindStringSubmatch(msg)
	if len(m) == 2 {
		switch {
		case strings.HasPrefix(m[1], "429"):
			return failureRateLimit
		case strings.HasPrefix(m[1], "5"):
			return failureServer
		case strings.HasPrefix(m[1], "4"):
			return failureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "status 429"):
		return failureRateLimit
	case strings.Contains(msg, "status 4"), strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
