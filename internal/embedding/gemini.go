package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider embeds text with the Gemini embedding API
type GeminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(ctx context.Context, apiKey, model string, dimensions int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required for gemini provider")
	}

	if model == "" {
		model = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: model, dimensions: dimensions}, nil
}

func (p *GeminiProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	dims := int32(p.dimensions)

	resp, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("gemini returned no embeddings")
	}

	vec := resp.Embeddings[0].Values
	if err := checkDimensions(p, vec); err != nil {
		return nil, err
	}

	return vec, nil
}

func (p *GeminiProvider) GetDimensions() int {
	return p.dimensions
}

func (p *GeminiProvider) IsEnabled() bool {
	return p.client != nil
}

func (p *GeminiProvider) GetName() string {
	return "gemini:" + p.model
}
