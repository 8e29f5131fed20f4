// Package ai talks to the hosted speech-to-text and chat-completion APIs.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

const (
	defaultChatModel = openai.GPT4oMini
	requestTimeout   = 60 * time.Second
)

// KeySource supplies the API key saved in the settings document.
type KeySource interface {
	Get() models.Settings
}

type Config struct {
	// APIKey is the environment fallback used when the settings document
	// has no key.
	APIKey    string
	BaseURL   string
	ChatModel string
}

// Client resolves the API key on every call so key changes apply
// immediately. All requests share one circuit breaker.
type Client struct {
	cfg     Config
	keys    KeySource
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg Config, keys KeySource, logger *zap.Logger) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: upstreamHealthy,
	})

	return &Client{
		cfg:     cfg,
		keys:    keys,
		http:    &http.Client{Timeout: requestTimeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Ready reports whether an API key is available.
func (c *Client) Ready() error {
	_, err := c.apiKey("openai")
	return err
}

// Transcribe sends the audio file at path to the speech-to-text API.
func (c *Client) Transcribe(ctx context.Context, path, model string) (string, error) {
	const op = "transcribe"

	api, err := c.client(op)
	if err != nil {
		return "", err
	}
	if !models.IsTranscriptionModel(model) {
		model = models.DefaultTranscriptionModel
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    model,
			FilePath: path,
			Format:   openai.AudioResponseFormatJSON,
		})
	})
	if err != nil {
		return "", classify(op, err)
	}
	return out.(openai.AudioResponse).Text, nil
}

// Summarize condenses a call transcript into a short summary.
func (c *Client) Summarize(ctx context.Context, lines []string) (string, error) {
	return c.complete(ctx, "summarize call", summaryPrompt, lines)
}

// ExtractTasks returns the action items found in a conversation.
func (c *Client) ExtractTasks(ctx context.Context, lines []string) ([]string, error) {
	text, err := c.complete(ctx, "extract tasks", taskPrompt, lines)
	if err != nil {
		return nil, err
	}
	return parseTasks(text), nil
}

func (c *Client) complete(ctx context.Context, op, system string, lines []string) (string, error) {
	if len(lines) == 0 {
		return "", apperr.Validation(op, errors.New("conversation is empty"))
	}

	api, err := c.client(op)
	if err != nil {
		return "", err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.ChatModel,
			Temperature: 0.2,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: strings.Join(lines, "\n")},
			},
		})
	})
	if err != nil {
		return "", classify(op, err)
	}

	resp := out.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return "", apperr.External(op, errors.New("empty completion"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) client(op string) (*openai.Client, error) {
	key, err := c.apiKey(op)
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(key)
	if c.cfg.BaseURL != "" {
		cfg.BaseURL = c.cfg.BaseURL
	}
	cfg.HTTPClient = c.http
	return openai.NewClientWithConfig(cfg), nil
}

// apiKey prefers the settings document over the environment.
func (c *Client) apiKey(op string) (string, error) {
	if c.keys != nil {
		if key := strings.TrimSpace(c.keys.Get().OpenAIAPIKey); key != "" {
			return key, nil
		}
	}
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		return key, nil
	}
	return "", apperr.Config(op, apperr.ErrMissingAPIKey)
}

// upstreamHealthy decides what counts against the breaker: only failures
// that point at the service, not at the request.
func upstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.External(op, fmt.Errorf("service temporarily unavailable: %w", err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Transport(op, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.External(op, fmt.Errorf("%d: %s", apiErr.HTTPStatusCode, apiErr.Message))
	}
	return apperr.External(op, err)
}
