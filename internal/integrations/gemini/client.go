package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"legal-agent/internal/domain"
)

const (
	DefaultModel = "gemini-2.0-flash"

	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 1600
)

// KeySource supplies the API key.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StatusError carries the HTTP status of a rejected Gemini call.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates completions through the Gemini API. Like the
// OpenAI-compatible client it makes a single request per call.
type Client struct {
	baseURL     string
	model       string
	temperature float32
	maxTokens   int32
	httpClient  *http.Client
	keys        KeySource
}

type Option func(*Client)

// WithBaseURL points the client at a non-default endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = float32(t)
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = int32(n)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	c := &Client{
		model:      DefaultModel,
		maxTokens:  defaultMaxTokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
		keys:       keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete sends the prompt as one GenerateContent call.
func (c *Client) Complete(ctx context.Context, p domain.Prompt) (string, error) {
	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("gemini: resolve api key: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: create client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, toContents(p), c.generateConfig(p))
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", asStatusError(err))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty content in response")
	}
	return text, nil
}

func (c *Client) generateConfig(p domain.Prompt) *genai.GenerateContentConfig {
	temperature := c.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: c.maxTokens,
	}
	if strings.TrimSpace(p.System) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.System}}}
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// toContents maps chat messages onto Gemini roles. System messages inside the
// conversation are folded into user turns since Gemini only accepts user and
// model roles there.
func toContents(p domain.Prompt) []*genai.Content {
	contents := make([]*genai.Content, 0, len(p.Messages))
	for _, m := range p.Messages {
		role := string(genai.RoleUser)
		if m.Role == domain.ChatRoleAssistant {
			role = string(genai.RoleModel)
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents
}

func asStatusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &StatusError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code != 0 {
		return &StatusError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}
