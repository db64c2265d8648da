package autoreply

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrCompletionUnavailable wraps every failure of the completion backend.
var ErrCompletionUnavailable = errors.New("completion backend unavailable")

const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant

	defaultCompletionTimeout = 60 * time.Second
)

// Turn is one entry of the transcript sent to the model.
type Turn struct {
	Role    string
	Content string
}

// Completer produces a single reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}

// CompleterOptions configure an OpenAICompleter.
type CompleterOptions struct {
	// BaseURL is the server root, e.g. http://localhost:11434. The
	// OpenAI-compatible /v1 prefix is added when missing.
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAICompleter talks to an OpenAI-compatible chat completions endpoint,
// such as the one Ollama serves.
type OpenAICompleter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAICompleter creates a completer with a bounded request timeout.
func NewOpenAICompleter(opts CompleterOptions) *OpenAICompleter {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCompletionTimeout
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		// Ollama ignores the key but go-openai always sends one.
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = openAIBaseURL(opts.BaseURL)
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	return &OpenAICompleter{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletionUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrCompletionUnavailable)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrCompletionUnavailable)
	}
	return reply, nil
}

func openAIBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}
