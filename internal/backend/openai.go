package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/khanglvm/knowledge-router/internal/config"
)

const answerInstructions = "Answer the question using the provided context snippets when they are relevant. If the context does not cover the question, answer from general knowledge and say so."

// OpenAIBackend invokes an OpenAI-compatible chat completion endpoint.
// Local tiers point the client at a local server (Ollama, llama.cpp,
// vLLM) through the base URL; the cloud tier uses the hosted API.
type OpenAIBackend struct {
	client          openai.Client
	costPer1KTokens float64
}

// NewOpenAIBackend builds a backend from an endpoint declaration.
func NewOpenAIBackend(endpoint config.BackendEndpoint, costPer1KTokens float64) *OpenAIBackend {
	var opts []ooption.RequestOption
	if endpoint.BaseURL != "" {
		opts = append(opts, ooption.WithBaseURL(endpoint.BaseURL))
	}
	if endpoint.APIKeyEnv != "" {
		if key := os.Getenv(endpoint.APIKeyEnv); key != "" {
			opts = append(opts, ooption.WithAPIKey(key))
		}
	} else {
		// Local servers ignore the key but the client requires one.
		opts = append(opts, ooption.WithAPIKey("local"))
	}
	return &OpenAIBackend{
		client:          openai.NewClient(opts...),
		costPer1KTokens: costPer1KTokens,
	}
}

// Invoke runs one chat completion. Errors are classified into the
// package's typed failures.
func (b *OpenAIBackend) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(answerInstructions),
	}
	if len(inv.ContextSnippets) > 0 {
		var sb strings.Builder
		sb.WriteString("Context:\n")
		for i, s := range inv.ContextSnippets {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, s)
		}
		messages = append(messages, openai.SystemMessage(sb.String()))
	}
	messages = append(messages, openai.UserMessage(inv.Prompt))

	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(inv.ModelID),
		Messages: messages,
	})
	if err != nil {
		return Result{}, classifyError(inv.ModelID, err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("model %s returned no choices: %w", inv.ModelID, ErrModelRefused)
	}

	tokens := completion.Usage.TotalTokens
	return Result{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: tokens,
		CostUSD:    float64(tokens) / 1000.0 * b.costPer1KTokens,
	}, nil
}

// classifyError maps transport and API errors onto the typed failures.
func classifyError(modelID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("model %s: %w", modelID, ErrModelTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("model %s: %w", modelID, ErrModelTimeout)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("model %s: %w", modelID, ErrModelTimeout)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return fmt.Errorf("model %s (status %d): %w", modelID, apiErr.StatusCode, ErrModelUnavailable)
		case apiErr.StatusCode >= 400:
			return fmt.Errorf("model %s (status %d): %w", modelID, apiErr.StatusCode, ErrModelRefused)
		}
	}

	// Connection-level failures (refused, DNS) mean the endpoint is down.
	return fmt.Errorf("model %s: %v: %w", modelID, err, ErrModelUnavailable)
}
