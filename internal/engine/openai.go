package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/catalog"
	"github.com/querylens/backend/pkg/circuitbreaker"
	"github.com/querylens/backend/pkg/logger"
)

// OpenAIEngine calls a chat-completion model and decodes its output into a
// Candidate. Each call is bounded by attemptTimeout; the pipeline owns the
// retry loop and the overall deadline.
type OpenAIEngine struct {
	client         *openai.Client
	model          string
	temperature    float32
	maxTokens      int
	attemptTimeout time.Duration
	cb             *circuitbreaker.CircuitBreaker
}

func NewOpenAIEngine(apiKey, model string, temperature float32, maxTokens int, attemptTimeout time.Duration) *OpenAIEngine {
	cb := circuitbreaker.New("engine", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Language model engine initialized",
		zap.String("model", model),
		zap.Duration("attempt_timeout", attemptTimeout),
	)

	return &OpenAIEngine{
		client:         openai.NewClient(apiKey),
		model:          model,
		temperature:    temperature,
		maxTokens:      maxTokens,
		attemptTimeout: attemptTimeout,
		cb:             cb,
	}
}

func (e *OpenAIEngine) Interpret(ctx context.Context, req Request) (*Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req.Prompt, req.Grounding)},
	}

	var content string

	err := e.cb.Execute(ctx, func() error {
		var err error
		if req.ChunkSink != nil {
			content, err = e.completeStreaming(ctx, messages, req.ChunkSink)
		} else {
			content, err = e.complete(ctx, messages)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}

	candidate, err := DecodeCandidate(content)
	if err != nil {
		logger.Warn("Engine output failed candidate decoding", zap.Error(err))
		return nil, err
	}

	logger.Debug("Candidate decoded",
		zap.Int("entities", len(candidate.Entities)),
		zap.Int("filters", len(candidate.Filters)),
		zap.Float64("confidence", candidate.Confidence),
	)

	return candidate, nil
}

func (e *OpenAIEngine) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion had no choices", ErrMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) completeStreaming(ctx context.Context, messages []openai.ChatCompletionMessage, sink func(string)) (string, error) {
	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read completion stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		sink(delta)
	}

	return content.String(), nil
}

const systemPrompt = `You translate a natural-language request into a structured, read-only query proposal against the tables listed by the user.

Rules:
- Use ONLY tables and columns from the provided catalog.
- For enumerable columns, filter values must come from the listed allowed values.
- The sql field must be a single SELECT statement. Never emit INSERT, UPDATE, DELETE, DROP, TRUNCATE or ALTER.
- When a term could mean more than one thing, list it under ambiguities with the resolutions you considered.
- Operators: equals, not-equals, greater, greater-or-equal, less, less-or-equal, like, in, between, is-null, is-not-null.

Respond with a single JSON object and nothing else:
{"entities":[{"name":"...","table":"...","alias":""}],"columns":["..."],"filters":[{"field":"...","operator":"equals","value":"...","is_temporal":false}],"sql":"SELECT ...","explanation":"...","confidence":0.0,"ambiguities":[{"term":"...","candidates":["..."]}]}`

func buildUserPrompt(prompt string, grounding *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString("Catalog:\n")

	for _, table := range grounding.Tables() {
		fmt.Fprintf(&b, "- table %s\n", table.Name)
		for _, col := range table.Columns {
			fmt.Fprintf(&b, "  - %s (%s", col.Name, col.Type)
			if col.Required {
				b.WriteString(", required")
			}
			b.WriteString(")")
			if col.Enumerable && len(col.AllowedValues) > 0 {
				fmt.Fprintf(&b, " values: %s", strings.Join(col.AllowedValues, ", "))
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nRequest: %s\n", prompt)
	return b.String()
}
