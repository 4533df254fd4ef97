package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/AbhayRathi/AgenticRefunds/pkg/keylock"
)

// DefaultIdempotencyTTL is how long a replayable response is kept.
const DefaultIdempotencyTTL = 24 * time.Hour

// CachedResponse is a previously-seen response for idempotent replay.
type CachedResponse struct {
	StatusCode  int         `json:"status_code"`
	Header      http.Header `json:"header"`
	Body        []byte      `json:"body"`
	Fingerprint string      `json:"fingerprint"`
	CachedAt    time.Time   `json:"cached_at"`
}

// IdempotencyStore defines the interface for idempotency backends.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Put(ctx context.Context, key string, resp CachedResponse) error
}

// MemoryIdempotencyStore holds cached responses keyed by idempotency key (in-memory).
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]CachedResponse
	ttl     time.Duration
}

// NewMemoryIdempotencyStore creates an in-memory store. Expired entries are
// swept until ctx is done.
func NewMemoryIdempotencyStore(ctx context.Context, ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	s := &MemoryIdempotencyStore{
		entries: make(map[string]CachedResponse),
		ttl:     ttl,
	}
	go s.cleanup(ctx)
	return s
}

func (s *MemoryIdempotencyStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.entries {
				if now.Sub(v.CachedAt) > s.ttl {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	cached, exists := s.entries[key]
	s.mu.RUnlock()

	if exists && time.Since(cached.CachedAt) < s.ttl {
		return &cached, true, nil
	}
	return nil, false, nil
}

func (s *MemoryIdempotencyStore) Put(ctx context.Context, key string, resp CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = resp
	return nil
}

// Fingerprint identifies a request by method, path and the canonical (RFC
// 8785) form of its JSON body, so key order and whitespace do not matter.
// Bodies that are not JSON are hashed as-is.
func Fingerprint(method, path string, body []byte) string {
	canonical := body
	if len(bytes.TrimSpace(body)) > 0 {
		if c, err := jcs.Transform(body); err == nil {
			canonical = c
		}
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// responseCapture wraps http.ResponseWriter to capture the response.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays responses to POST requests carrying an
// Idempotency-Key header. Requests with the same key run one at a time; a
// key reused with a different body is rejected with 409. Only 2xx responses
// are cached, so failed settlements can be retried under the same key.
type Idempotency struct {
	store  IdempotencyStore
	locks  keylock.Map
	logger *slog.Logger
}

func NewIdempotency(store IdempotencyStore) *Idempotency {
	return &Idempotency{store: store, logger: slog.Default().With("component", "idempotency")}
}

func (m *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", "Request body exceeds 1MB")
				return
			}
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fp := Fingerprint(r.Method, r.URL.Path, body)

		unlock := m.locks.Lock(key)
		defer unlock()

		cached, found, err := m.store.Get(r.Context(), key)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "idempotency lookup failed", "error", err)
			WriteErrorR(w, r, http.StatusServiceUnavailable, "Service Unavailable", "Idempotency store unavailable")
			return
		}
		if found {
			if cached.Fingerprint != fp {
				WriteConflict(w, "Idempotency-Key was already used with a different request")
				return
			}
			for k, vals := range cached.Header {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(capture, r)

		if capture.statusCode >= 200 && capture.statusCode < 300 {
			header := make(http.Header)
			header.Set("Content-Type", w.Header().Get("Content-Type"))
			err := m.store.Put(context.WithoutCancel(r.Context()), key, CachedResponse{
				StatusCode:  capture.statusCode,
				Header:      header,
				Body:        capture.body.Bytes(),
				Fingerprint: fp,
				CachedAt:    time.Now(),
			})
			if err != nil {
				m.logger.WarnContext(r.Context(), "idempotency store write failed", "error", err)
			}
		}
	})
}
