package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// MemoryPolicyStore is an in-process corpus with brute-force cosine search.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]policy.RefundPolicy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]policy.RefundPolicy)}
}

func (s *MemoryPolicyStore) Search(ctx context.Context, vector Embedding, limit int) ([]policy.RefundPolicy, error) {
	qnorm := norm(vector)
	if qnorm == 0 {
		return nil, ErrZeroVector
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		p     policy.RefundPolicy
		score float64
	}
	candidates := make([]scored, 0, len(s.policies))
	for _, p := range s.policies {
		if len(p.Embedding) != len(vector) {
			return nil, fmt.Errorf("store: policy %s has %d dimensions, query has %d", p.ID, len(p.Embedding), len(vector))
		}
		candidates = append(candidates, scored{p: p, score: cosine(vector, p.Embedding, qnorm)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].p.ID < candidates[j].p.ID
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]policy.RefundPolicy, len(candidates))
	for i, c := range candidates {
		out[i] = c.p
	}
	return out, nil
}

func (s *MemoryPolicyStore) ListAll(ctx context.Context, limit int) ([]policy.RefundPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]policy.RefundPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryPolicyStore) Upsert(ctx context.Context, policies []policy.RefundPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range policies {
		s.policies[p.ID] = p
	}
	return nil
}

func (s *MemoryPolicyStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies), nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q, p []float32, qnorm float64) float64 {
	pnorm := norm(p)
	if pnorm == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(p[i])
	}
	return dot / (qnorm * pnorm)
}
