package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider calls a local Ollama server's embeddings endpoint
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewOllamaProvider creates an Ollama-backed provider
func NewOllamaProvider(baseURL, model string, dimensions int, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed ollamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", parsed.Error)
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}

	if err := checkDimensions(p, vec); err != nil {
		return nil, err
	}

	return vec, nil
}

func (p *OllamaProvider) GetDimensions() int {
	return p.dimensions
}

func (p *OllamaProvider) IsEnabled() bool {
	return p.model != ""
}

func (p *OllamaProvider) GetName() string {
	return "ollama:" + p.model
}
