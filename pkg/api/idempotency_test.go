package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + string(rune('0'+n)) + `}`))
	})
}

func post(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/refund/process", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysSuccessfulResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	h := NewIdempotency(NewMemoryIdempotencyStore(ctx, time.Hour)).Middleware(countingHandler(&calls, http.StatusOK))

	first := post(h, "k1", `{"orderId":"o1","amount":8}`)
	second := post(h, "k1", `{ "amount": 8, "orderId": "o1" }`)

	assert.Equal(t, int32(1), calls.Load(), "handler runs once")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))
}

func TestIdempotency_KeyReuseWithDifferentBody(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	h := NewIdempotency(NewMemoryIdempotencyStore(ctx, time.Hour)).Middleware(countingHandler(&calls, http.StatusOK))

	post(h, "k1", `{"orderId":"o1"}`)
	w := post(h, "k1", `{"orderId":"o2"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_FailuresAreNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	h := NewIdempotency(NewMemoryIdempotencyStore(ctx, time.Hour)).Middleware(countingHandler(&calls, http.StatusBadGateway))

	post(h, "k1", `{}`)
	post(h, "k1", `{}`)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	h := NewIdempotency(NewMemoryIdempotencyStore(ctx, time.Hour)).Middleware(countingHandler(&calls, http.StatusOK))

	post(h, "", `{}`)
	post(h, "", `{}`)
	assert.Equal(t, int32(2), calls.Load())
}

type brokenIdempotencyStore struct{}

func (brokenIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	return nil, false, errors.New("connection reset")
}

func (brokenIdempotencyStore) Put(ctx context.Context, key string, resp CachedResponse) error {
	return nil
}

func TestIdempotency_StoreErrorFailsClosed(t *testing.T) {
	var calls atomic.Int32
	h := NewIdempotency(brokenIdempotencyStore{}).Middleware(countingHandler(&calls, http.StatusOK))

	w := post(h, "k1", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, calls.Load())
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("POST", "/x", []byte(`{"b":1,"a":[1,2]}`))
	b := Fingerprint("POST", "/x", []byte("{\n  \"a\": [1, 2],\n  \"b\": 1\n}"))
	assert.Equal(t, a, b, "canonical JSON ignores key order and whitespace")

	assert.NotEqual(t, a, Fingerprint("POST", "/y", []byte(`{"b":1,"a":[1,2]}`)))
	assert.NotEqual(t, a, Fingerprint("POST", "/x", []byte(`{"b":2,"a":[1,2]}`)))
	assert.Len(t, Fingerprint("POST", "/x", []byte("not json")), 64)
}

// TestRedisIdempotencyStore runs against a live Redis. Skipped when none is
// reachable.
func TestRedisIdempotencyStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	s := NewRedisIdempotencyStore(client, time.Minute)
	key := "test-" + time.Now().Format(time.RFC3339Nano)

	_, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, key, CachedResponse{StatusCode: 200, Body: []byte(`{}`), Fingerprint: "fp", CachedAt: time.Now()}))
	got, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fp", got.Fingerprint)
	assert.Equal(t, []byte(`{}`), got.Body)
}
