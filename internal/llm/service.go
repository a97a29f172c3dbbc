package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/kyleking/fedquery/internal/config"
)

// Service defines the interface for text generation providers
type Service interface {
	// Generate returns the model completion for prompt
	Generate(ctx context.Context, prompt string) (string, error)

	// Name identifies the provider in logs and errors
	Name() string
}

// Provider constants
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// NewServiceFromConfig builds a Manager with the configured provider registered
func NewServiceFromConfig(ctx context.Context, cfg config.LLMConfig) (*Manager, error) {
	managerConfig := DefaultManagerConfig()
	managerConfig.DefaultProvider = strings.ToLower(cfg.Provider)
	managerConfig.FallbackProviders = nil
	managerConfig.RetryAttempts = cfg.RetryAttempts
	managerConfig.Timeout = cfg.TimeoutDuration()

	manager := NewManager(managerConfig)

	var (
		service Service
		err     error
	)

	switch managerConfig.DefaultProvider {
	case ProviderOllama:
		service = NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.TimeoutDuration())
	case ProviderGemini:
		service, err = NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	if err := manager.RegisterProvider(managerConfig.DefaultProvider, service); err != nil {
		return nil, err
	}

	return manager, nil
}
