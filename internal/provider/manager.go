package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileConfig is the provider configuration file layout
type FileConfig struct {
	DefaultProvider string            `yaml:"default_provider"`
	Providers       map[string]Config `yaml:"providers"`
}

// ParseConfig decodes YAML after expanding ${VAR} references from the environment
func ParseConfig(data []byte) (FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to parse provider config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a provider configuration file
func LoadConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to read provider config: %w", err)
	}
	return ParseConfig(data)
}

// Manager holds the configured providers and the current default
type Manager struct {
	Logger *logrus.Logger

	mu        sync.RWMutex
	providers map[Kind]Provider
	current   Kind
}

// NewManager builds every configured provider. Providers other than the default
// that fail to build are skipped; a default that fails to build is an error.
func NewManager(cfg FileConfig, logger *logrus.Logger) (*Manager, error) {
	defaultKind := Ollama
	if cfg.DefaultProvider != "" {
		kind, err := ParseKind(cfg.DefaultProvider)
		if err != nil {
			return nil, err
		}
		defaultKind = kind
	}

	m := &Manager{Logger: logger, providers: make(map[Kind]Provider), current: defaultKind}

	configs := make(map[Kind]Config)
	for name, providerCfg := range cfg.Providers {
		kind, err := ParseKind(name)
		if err != nil {
			logger.Warningf("Ignoring provider config: %v", err)
			continue
		}
		configs[kind] = providerCfg
	}
	if _, ok := configs[defaultKind]; !ok {
		configs[defaultKind] = Config{}
	}

	for kind, providerCfg := range configs {
		p, err := New(kind, providerCfg)
		if err != nil {
			if kind == defaultKind {
				return nil, fmt.Errorf("default provider %s: %w", kind, err)
			}
			logger.Warningf("Skipping provider %s: %v", kind, err)
			continue
		}
		m.providers[kind] = p
	}

	logger.Infof("Using %s as default model provider", defaultKind)
	return m, nil
}

// NewManagerFromFile loads path, or uses an ollama-only default when path is empty
func NewManagerFromFile(path string, logger *logrus.Logger) (*Manager, error) {
	if path == "" {
		return NewManager(FileConfig{}, logger)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg, logger)
}

// Get returns the provider for kind
func (m *Manager) Get(kind Kind) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[kind]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", kind)
	}
	return p, nil
}

// Default returns the current default provider
func (m *Manager) Default() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[m.current]
}

// Current returns the kind of the current default provider
func (m *Manager) Current() Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set switches the default provider
func (m *Manager) Set(kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[kind]; !ok {
		return fmt.Errorf("provider %s is not configured", kind)
	}
	m.current = kind
	m.Logger.Infof("Switched default model provider to %s", kind)
	return nil
}

// List returns the configured provider kinds in name order
func (m *Manager) List() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]Kind, 0, len(m.providers))
	for kind := range m.providers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Ask sends prompt to the default provider
func (m *Manager) Ask(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return m.Default().GenerateText(ctx, prompt, opts...)
}

// GenerateText makes the manager usable wherever a single Provider is expected
func (m *Manager) GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return m.Ask(ctx, prompt, opts...)
}

// Name returns the current default provider's name
func (m *Manager) Name() string {
	return string(m.Current())
}
