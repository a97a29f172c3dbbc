package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kyleking/fedquery/internal/config"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbedding generates an embedding for the given text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GetDimensions returns the dimensionality of embeddings produced by this provider
	GetDimensions() int

	// IsEnabled returns whether the provider is enabled and ready to use
	IsEnabled() bool

	// GetName returns the provider name for identification
	GetName() string
}

// ErrDisabled is returned by providers that are switched off
var ErrDisabled = errors.New("embedding provider is disabled")

// NewProvider builds the configured provider wrapped with retries and dimension checks
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	var (
		provider Provider
		err      error
	)

	switch strings.ToLower(cfg.Provider) {
	case "hash", "local":
		provider = NewHashProvider(cfg.Dimensions)
	case "ollama":
		provider = NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.TimeoutDuration())
	case "gemini":
		provider, err = NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	case "disabled", "none":
		return &DisabledProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	if provider.GetDimensions() != cfg.Dimensions {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d",
			cfg.Dimensions, provider.GetDimensions())
	}

	return NewRetryingProvider(provider, DefaultRetryAttempts), nil
}

// checkDimensions guards against providers that silently change model output
func checkDimensions(p Provider, vec []float32) error {
	if len(vec) != p.GetDimensions() {
		return fmt.Errorf("%s returned %d dimensions, expected %d", p.GetName(), len(vec), p.GetDimensions())
	}

	return nil
}

// normalize scales vec to unit length in place
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	if sum == 0 {
		return vec
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}

	return vec
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DisabledProvider is a no-op provider for when embeddings are disabled
type DisabledProvider struct{}

func (p *DisabledProvider) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrDisabled
}

func (p *DisabledProvider) GetDimensions() int {
	return 0
}

func (p *DisabledProvider) IsEnabled() bool {
	return false
}

func (p *DisabledProvider) GetName() string {
	return "disabled"
}
