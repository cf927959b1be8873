package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	// anthropicAPIURL is the Anthropic Messages API endpoint.
	anthropicAPIURL = "https://api.anthropic.com/v1/messages"

	// anthropicVersion is the API version header value.
	anthropicVersion = "2023-06-01"

	// defaultMaxOutput is used when a request carries no output budget.
	defaultMaxOutput = 8192
)

// AnthropicCaller implements Caller against the Anthropic Messages API.
// Per-call timeouts are the resilient layer's job; the HTTP client here
// carries no timeout of its own and relies on the request context.
type AnthropicCaller struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// AnthropicOption configures an AnthropicCaller.
type AnthropicOption func(*AnthropicCaller)

// WithBaseURL overrides the API endpoint, e.g. for a proxy or a test server.
func WithBaseURL(url string) AnthropicOption {
	return func(c *AnthropicCaller) {
		c.baseURL = url
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) AnthropicOption {
	return func(c *AnthropicCaller) {
		c.httpClient = client
	}
}

// NewAnthropicCaller creates a caller using the ANTHROPIC_API_KEY env var.
// Returns an error if the API key is not set.
func NewAnthropicCaller(opts ...AnthropicOption) (*AnthropicCaller, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	c := &AnthropicCaller{
		apiKey:     apiKey,
		baseURL:    anthropicAPIURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// messagesRequest is the Anthropic Messages API request structure.
type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the Anthropic Messages API response structure.
type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      apiUsage       `json:"usage"`
	Error      *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Call executes one inference request against the named model.
func (c *AnthropicCaller) Call(ctx context.Context, model string, req Request) (*Response, error) {
	maxTokens := req.MaxOutput
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutput
	}

	reqBody := messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Temperature > 0 {
		reqBody.Temperature = &req.Temperature
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var respData messagesResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if respData.Error != nil {
		return nil, fmt.Errorf("API error: %s", respData.Error.Message)
	}

	var text strings.Builder
	for _, block := range respData.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content: text.String(),
		Usage: Usage{
			PromptTokens:     respData.Usage.InputTokens,
			CompletionTokens: respData.Usage.OutputTokens,
		},
		FinishReason: finishReason(respData.StopReason),
	}, nil
}

// finishReason maps the endpoint's stop reason onto the pipeline's
// vocabulary. "length" marks truncation and fails the default gates.
func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "refusal":
		return "refusal"
	default:
		return stopReason
	}
}
