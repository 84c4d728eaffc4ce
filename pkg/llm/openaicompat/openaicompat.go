// Package openaicompat is the one concrete LLMProvider adapter shipped
// with this module: an OpenAI-compatible chat-completions client using
// JSON-schema-constrained output ("response_format": "json_schema"). It
// exists to exercise pkg/llm.LLMProvider end-to-end; the specific vendor
// adapter is otherwise an out-of-scope collaborator (spec.md section 1).
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/llm"
	"github.com/stepflowhq/stepflow/pkg/logger"
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// HTTPClient lets callers inject a timeout/transport; defaults to
	// http.DefaultClient if nil.
	HTTPClient *http.Client
}

// Client is an LLMProvider backed by an OpenAI-compatible HTTP endpoint.
type Client struct {
	cfg Config
}

// New constructs a Client. BaseURL and Model are required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openaicompat: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openaicompat: model is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg}, nil
}

func (c *Client) Name() string { return c.cfg.Model }

func (c *Client) Provider() llm.Provider { return llm.ProviderOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema jsonSchemaField `json:"json_schema"`
}

type jsonSchemaField struct {
	Name   string             `json:"name"`
	Schema *jsonschema.Schema `json:"schema"`
	Strict bool               `json:"strict"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateStructured sends the conversation to the configured endpoint
// with the schema embedded in response_format, and parses the single
// returned choice's content as a Decision.
func (c *Client) GenerateStructured(ctx context.Context, messages []llm.Message, schema *jsonschema.Schema, cfg *llm.GenerateConfig) (decision.Decision, error) {
	log := logger.GetLogger()

	reqMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := chatRequest{
		Model:    c.cfg.Model,
		Messages: reqMessages,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaField{
				Name:   "decision",
				Schema: schema,
				Strict: true,
			},
		},
	}
	if cfg != nil {
		body.Temperature = cfg.Temperature
		body.MaxTokens = cfg.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return decision.Decision{}, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	if cfg != nil && cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return decision.Decision{}, fmt.Errorf("openaicompat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return decision.Decision{}, fmt.Errorf("openaicompat: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return decision.Decision{}, fmt.Errorf("openaicompat: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decision.Decision{}, fmt.Errorf("openaicompat: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return decision.Decision{}, fmt.Errorf("openaicompat: unmarshal response envelope: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return decision.Decision{}, fmt.Errorf("openaicompat: no choices returned")
	}

	var out decision.Decision
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &out); err != nil {
		return decision.Decision{}, fmt.Errorf("openaicompat: parse decision: %w", err)
	}

	log.Debug("llm call completed", "model", c.cfg.Model, "duration", time.Since(start))
	return out, nil
}

var _ llm.LLMProvider = (*Client)(nil)
