package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for every stage.
const DefaultModelName = "gemini-2.5-flash"

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 60 * time.Second

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiClient is the Client backed by the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a client for one credential. An empty key fails
// with ErrAuth before any network call.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("NewGeminiClient: %w: API key is missing", ErrAuth)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// NewGeminiFactory returns a Factory that builds clients with the given
// model and timeout for each caller-supplied key.
func NewGeminiFactory(model string, timeout time.Duration) Factory {
	return func(ctx context.Context, apiKey string) (Client, error) {
		return NewGeminiClient(ctx, GeminiConfig{APIKey: apiKey, Model: model, Timeout: timeout})
	}
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.User}},
		},
	}

	resp, err := c.client.Models.GenerateContent(callCtx, c.model, contents, config)
	if err != nil {
		return "", classify(ctx, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("GeminiClient.Complete: %w: empty response from model", ErrUpstream)
	}
	return text, nil
}

// classify maps a transport or API error onto the package taxonomy. A
// cancelled parent context is returned as-is so callers see cancellation,
// not an upstream failure.
func classify(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil && errors.Is(parentErr, context.Canceled) {
		return fmt.Errorf("GeminiClient.Complete: %w", parentErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("GeminiClient.Complete: %w: %w", ErrUpstreamTimeout, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(apiErrPtr.Code, apiErrPtr.Message, err)
	}

	return fmt.Errorf("GeminiClient.Complete: %w: %w", ErrUpstream, err)
}

func classifyAPIError(code int, message string, err error) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("GeminiClient.Complete: %w: %w", ErrAuth, err)
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "api key"):
		return fmt.Errorf("GeminiClient.Complete: %w: %w", ErrAuth, err)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return fmt.Errorf("GeminiClient.Complete: %w: %w", ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("GeminiClient.Complete: %w: %w", ErrUpstream, err)
	}
}

var _ Client = (*GeminiClient)(nil)
