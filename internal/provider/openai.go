package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured
const DefaultOpenAIModel = "gpt-3.5-turbo"

// OpenAIProvider calls the OpenAI chat completions API
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI provider. The key falls back to OPENAI_API_KEY.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout(cfg)}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return string(OpenAI)
}

// GenerateText sends the prompt as a single user message
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error) {
	o := applyOptions(p.model, opts)

	var messages []openai.ChatCompletionMessage
	if o.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:     o.Model,
		Messages:  messages,
		MaxTokens: o.MaxTokens,
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// DefaultTimeout bounds a single provider HTTP call
const DefaultTimeout = 120 * time.Second

func timeout(cfg Config) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Second
	}
	return DefaultTimeout
}
