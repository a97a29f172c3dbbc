package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const trigramWeight = 0.5

// HashProvider produces deterministic feature-hashed embeddings without a model.
// Words and their character trigrams are hashed into signed buckets, so texts
// sharing vocabulary (including plural/singular forms) land close together.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hashing provider with the given dimensionality
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 384
	}

	return &HashProvider{dimensions: dimensions}
}

func (p *HashProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dimensions)

	for _, token := range Tokenize(text) {
		p.add(vec, "w:"+token, 1)

		padded := "^" + token + "$"
		for i := 0; i+3 <= len(padded); i++ {
			p.add(vec, "t:"+padded[i:i+3], trigramWeight)
		}
	}

	return normalize(vec), nil
}

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(p.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}

	vec[idx] += weight
}

func (p *HashProvider) GetDimensions() int {
	return p.dimensions
}

func (p *HashProvider) IsEnabled() bool {
	return true
}

func (p *HashProvider) GetName() string {
	return "hash"
}

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit; underscores also split, so column names contribute their parts.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
