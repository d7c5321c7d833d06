package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "gemma3:1b"
)

// OllamaProvider calls a local Ollama server
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider creates an Ollama provider
func NewOllamaProvider(cfg Config) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultOllamaModel
	}

	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return string(Ollama)
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// GenerateText calls /api/generate without streaming
func (p *OllamaProvider) GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error) {
	o := applyOptions(p.model, opts)

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.Model,
		Prompt: prompt,
		System: o.System,
		Stream: false,
		Options: &ollamaOptions{
			Temperature: o.Temperature,
			NumPredict:  o.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var generated ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &generated); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if generated.Error != "" {
		return "", fmt.Errorf("ollama error: %s", generated.Error)
	}
	if generated.Response == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return generated.Response, nil
}
