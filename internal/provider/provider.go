package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider generates free text for a prompt
type Provider interface {
	GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error)
	Name() string
}

// Kind identifies a provider variant
type Kind string

const (
	OpenAI Kind = "openai"
	Claude Kind = "claude"
	Ollama Kind = "ollama"
)

// Kinds returns every supported provider kind
func Kinds() []Kind {
	return []Kind{OpenAI, Claude, Ollama}
}

// ParseKind resolves a provider name, accepting "anthropic" for claude
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return OpenAI, nil
	case "claude", "anthropic":
		return Claude, nil
	case "ollama":
		return Ollama, nil
	}
	return "", fmt.Errorf("unknown provider %q", name)
}

// ErrMissingAPIKey is returned when a hosted provider has no API key
var ErrMissingAPIKey = errors.New("missing API key")

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("empty response from model")

// Options tune a single generation call
type Options struct {
	Model       string
	MaxTokens   int
	Temperature *float32
	System      string
}

// Option sets a generation option
type Option func(*Options)

// WithModel overrides the provider's default model
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithMaxTokens caps the response length
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float32) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithSystem sets a system prompt
func WithSystem(system string) Option {
	return func(o *Options) { o.System = system }
}

// DefaultMaxTokens is used when no limit is requested
const DefaultMaxTokens = 1024

func applyOptions(defaultModel string, opts []Option) Options {
	o := Options{Model: defaultModel, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Model == "" {
		o.Model = defaultModel
	}
	return o
}

// Config is the per-provider configuration block
type Config struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	Timeout      int    `yaml:"timeout"`
}

// New builds the provider variant for kind
func New(kind Kind, cfg Config) (Provider, error) {
	switch kind {
	case OpenAI:
		return NewOpenAIProvider(cfg)
	case Claude:
		return NewClaudeProvider(cfg)
	case Ollama:
		return NewOllamaProvider(cfg), nil
	}
	return nil, fmt.Errorf("unknown provider %q", kind)
}
