package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// DefaultClaudeModel is used when no model is configured
const DefaultClaudeModel = "claude-3-haiku-20240307"

// ClaudeProvider calls the Anthropic messages API
type ClaudeProvider struct {
	client *anthropic.Client
	model  string
}

// NewClaudeProvider creates a Claude provider. The key falls back to ANTHROPIC_API_KEY.
func NewClaudeProvider(cfg Config) (*ClaudeProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("claude: %w", ErrMissingAPIKey)
	}

	clientOpts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: timeout(cfg)}),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultClaudeModel
	}

	return &ClaudeProvider{
		client: anthropic.NewClient(apiKey, clientOpts...),
		model:  model,
	}, nil
}

// Name returns the provider name
func (p *ClaudeProvider) Name() string {
	return string(Claude)
}

// GenerateText sends the prompt as a single user message and returns the first text block
func (p *ClaudeProvider) GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error) {
	o := applyOptions(p.model, opts)

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(o.Model),
		MaxTokens: o.MaxTokens,
		System:    o.System,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	}
	if o.Temperature != nil {
		req.Temperature = o.Temperature
	}

	resp, err := p.client.CreateMessages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("claude request failed: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil && *block.Text != "" {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("claude: %w", ErrEmptyResponse)
}
