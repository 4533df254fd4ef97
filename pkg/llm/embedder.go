package llm

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// DefaultEmbeddingDimensions matches the Atlas vector index.
const DefaultEmbeddingDimensions = 768

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai: empty embedding input")
	}
	var resp embeddingResponse
	req := embeddingRequest{Model: e.model, Input: []string{text}, Dimensions: e.dimensions}
	if err := postJSON(ctx, e.client, e.baseURL+"/embeddings", e.apiKey, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: no embeddings returned")
	}
	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("openai: expected %d dimensions, got %d", e.dimensions, len(vec))
	}
	return vec, nil
}

// HashEmbedder is a deterministic bag-of-words embedder. Each lowercased
// token is hashed into a signed bucket and the result is L2-normalised, so
// texts sharing words land close together. It needs no network and is used
// for local runs and tests.
type HashEmbedder struct {
	Dimensions int
}

func NewHashEmbedder(dimensions int) HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return HashEmbedder{Dimensions: dimensions}
}

func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultEmbeddingDimensions
	}
	vec := make([]float32, dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		hf := fnv.New64a()
		_, _ = hf.Write([]byte(tok))
		sum := hf.Sum64()
		idx := int(sum % uint64(dims))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
