// Package knowledge is the client side of the per-user knowledge base service.
// Indexing and retrieval live in that service.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoKnowledgeBase is returned when no knowledge service is configured.
var ErrNoKnowledgeBase = errors.New("knowledge base not configured")

const defaultRequestTimeout = 60 * time.Second

// Answer is a retrieval-augmented answer.
type Answer struct {
	Answer     string   `json:"answer"`
	UsedChunks []string `json:"usedChunks"`
}

// File is an indexed document of a user.
type File struct {
	Name   string `json:"file"`
	Chunks int    `json:"chunks"`
}

// Client calls the knowledge service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client. timeout bounds every request.
func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("component", "knowledge")),
	}
}

// Files lists the indexed documents of a user.
func (c *Client) Files(ctx context.Context, userID string) ([]File, error) {
	var files []File
	if err := c.do(ctx, http.MethodGet, c.userPath(userID, "files"), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// HasKnowledgeBase reports whether the user has at least one indexed document.
// Lookup failures read as no knowledge base.
func (c *Client) HasKnowledgeBase(ctx context.Context, userID string) bool {
	files, err := c.Files(ctx, userID)
	if err != nil {
		c.logger.Warn("list knowledge files failed", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}
	return len(files) > 0
}

// Answer asks the user's knowledge base a question.
func (c *Client) Answer(ctx context.Context, userID, question string) (Answer, error) {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return Answer{}, err
	}
	var out Answer
	if err := c.do(ctx, http.MethodPost, c.userPath(userID, "ask"), body, &out); err != nil {
		return Answer{}, err
	}
	if strings.TrimSpace(out.Answer) == "" {
		return Answer{}, fmt.Errorf("knowledge: empty answer")
	}
	return out, nil
}

func (c *Client) userPath(userID, action string) string {
	return c.baseURL + "/users/" + url.PathEscape(userID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("knowledge: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge: %s %s: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("knowledge: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("knowledge: %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("knowledge: decode response: %w", err)
	}
	return nil
}

// Nop is the knowledge base used when no service is configured.
type Nop struct{}

func (Nop) HasKnowledgeBase(context.Context, string) bool { return false }

func (Nop) Answer(context.Context, string, string) (Answer, error) {
	return Answer{}, ErrNoKnowledgeBase
}
