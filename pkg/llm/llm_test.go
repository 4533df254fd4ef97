package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Len(t, req.Messages, 2)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Your order qualifies."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "sk-test", "gpt-4o-mini")
	resp, err := c.Chat(context.Background(), []Message{
		System("be brief"),
		User("explain"),
	}, &SamplingOptions{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "Your order qualifies.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer empty":
			_, _ = w.Write([]byte(`{"choices":[]}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
		}
	}))
	defer srv.Close()
	ctx := context.Background()
	msgs := []Message{{Role: "user", Content: "hi"}}

	_, err := NewOpenAIClient(srv.URL, "sk", "m").Chat(ctx, msgs, nil)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
	assert.Equal(t, "openai: status 429: rate limited", serr.Error())
	assert.True(t, serr.Retryable())
	assert.False(t, (&StatusError{Provider: "openai", StatusCode: http.StatusUnauthorized}).Retryable())

	_, err = NewOpenAIClient(srv.URL, "empty", "m").Chat(ctx, msgs, nil)
	assert.ErrorContains(t, err, "empty choices")

	_, err = NewOpenAIClient(srv.URL, "sk", "m").Chat(ctx, nil, nil)
	assert.ErrorContains(t, err, "must not be empty")
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"cold food"}, req.Input)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3],"index":0}]}`))
	}))
	defer srv.Close()

	vec, err := NewOpenAIEmbedder(srv.URL, "", "text-embedding-3-small", 3).Embed(context.Background(), "cold food")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	_, err = NewOpenAIEmbedder(srv.URL, "", "m", 768).Embed(context.Background(), "cold food")
	assert.ErrorContains(t, err, "expected 768 dimensions")

	_, err = NewOpenAIEmbedder(srv.URL, "", "m", 0).Embed(context.Background(), "  ")
	assert.Error(t, err)
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	h := NewHashEmbedder(0)

	a, err := h.Embed(ctx, "Cold food delivered")
	require.NoError(t, err)
	assert.Len(t, a, DefaultEmbeddingDimensions)

	b, err := h.Embed(ctx, "cold FOOD, delivered!")
	require.NoError(t, err)
	assert.Equal(t, a, b, "tokenisation ignores case and punctuation")

	var sum float64
	for _, x := range a {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)

	empty, err := h.Embed(ctx, "")
	require.NoError(t, err)
	for _, x := range empty {
		assert.Zero(t, x)
	}
}
