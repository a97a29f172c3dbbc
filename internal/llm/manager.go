package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kyleking/fedquery/internal/logging"
)

// Manager handles multiple LLM providers with fallback strategies
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Service
	config    ManagerConfig
	logger    *logging.Logger
}

// ManagerConfig configures the LLM manager behavior
type ManagerConfig struct {
	DefaultProvider   string        `json:"default_provider"`
	FallbackProviders []string      `json:"fallback_providers"`
	RetryAttempts     int           `json:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	Timeout           time.Duration `json:"timeout"`
}

// NewManager creates a new LLM manager with the given configuration
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		providers: make(map[string]Service),
		config:    config,
		logger:    logging.GetLogger().WithField("component", "llm"),
	}
}

// RegisterProvider registers a new LLM provider
func (m *Manager) RegisterProvider(name string, service Service) error {
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	if service == nil {
		return errors.New("service cannot be nil")
	}

	m.mu.Lock()
	m.providers[name] = service
	m.mu.Unlock()

	return nil
}

// Generate tries the default provider then each fallback, retrying each one
func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	order := append([]string{m.config.DefaultProvider}, m.config.FallbackProviders...)

	var lastErr error

	for _, name := range order {
		m.mu.RLock()
		provider, exists := m.providers[name]
		m.mu.RUnlock()

		if !exists {
			continue
		}

		response, err := m.tryProvider(ctx, provider, prompt)
		if err == nil {
			return response, nil
		}

		lastErr = err
		m.logger.WithField("provider", name).WithError(err).Warn("LLM provider failed")

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return "", errors.New("no LLM providers registered")
	}

	return "", fmt.Errorf("all LLM providers failed: %w", lastErr)
}

// tryProvider calls provider with exponential backoff between attempts
func (m *Manager) tryProvider(ctx context.Context, provider Service, prompt string) (string, error) {
	var response string

	policy := backoff.NewExponentialBackOff()
	if m.config.RetryDelay > 0 {
		policy.InitialInterval = m.config.RetryDelay
	}

	attempts := m.config.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	op := func() error {
		var err error

		response, err = provider.Generate(ctx, prompt)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts)), ctx))
	if err != nil {
		return "", fmt.Errorf("provider %s failed after %d attempts: %w", provider.Name(), attempts+1, err)
	}

	return response, nil
}

// Name reports the default provider
func (m *Manager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if provider, ok := m.providers[m.config.DefaultProvider]; ok {
		return provider.Name()
	}

	return "llm-manager"
}

// GetAvailableProviders returns the registered provider names in sorted order
func (m *Manager) GetAvailableProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	providers := make([]string, 0, len(m.providers))
	for name := range m.providers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	return providers
}

// IsProviderRegistered checks if a provider is registered
func (m *Manager) IsProviderRegistered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.providers[name]

	return exists
}

// DefaultManagerConfig returns a sensible default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultProvider:   ProviderOllama,
		FallbackProviders: []string{ProviderGemini},
		RetryAttempts:     2,
		RetryDelay:        500 * time.Millisecond,
		Timeout:           time.Minute,
	}
}
