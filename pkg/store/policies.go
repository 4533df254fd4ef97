// Package store persists the refund engine's read models: the refund policy
// corpus with its embeddings, and settlement receipts.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// Embedding is a dense text vector.
type Embedding []float32

// ErrZeroVector is returned by similarity search when the query carries no
// signal, e.g. after an embedder failure.
var ErrZeroVector = errors.New("store: zero query vector")

// PolicyStore holds refund policies for similarity retrieval.
type PolicyStore interface {
	// Search returns up to limit policies ordered by similarity to vector.
	Search(ctx context.Context, vector Embedding, limit int) ([]policy.RefundPolicy, error)
	// ListAll returns up to limit policies in stable id order.
	ListAll(ctx context.Context, limit int) ([]policy.RefundPolicy, error)
	// Upsert inserts or replaces policies by id.
	Upsert(ctx context.Context, policies []policy.RefundPolicy) error
	Count(ctx context.Context) (int, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PolicyText is the text a policy is embedded from.
func PolicyText(p policy.RefundPolicy) string {
	return p.Title + ". " + p.Description
}

// SeedIfEmpty embeds and inserts policies when the store has none. It
// returns the number of policies written.
func SeedIfEmpty(ctx context.Context, s PolicyStore, e Embedder, policies []policy.RefundPolicy) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: count policies: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	return SyncPolicies(ctx, s, e, policies)
}

// SyncPolicies embeds policies and upserts them by id, replacing stored
// versions. It returns the number of policies written.
func SyncPolicies(ctx context.Context, s PolicyStore, e Embedder, policies []policy.RefundPolicy) (int, error) {
	embedded, err := EmbedPolicies(ctx, e, policies)
	if err != nil {
		return 0, err
	}
	if err := s.Upsert(ctx, embedded); err != nil {
		return 0, fmt.Errorf("store: upsert policies: %w", err)
	}
	return len(embedded), nil
}

// EmbedPolicies returns copies of policies with embeddings filled in where
// missing.
func EmbedPolicies(ctx context.Context, e Embedder, policies []policy.RefundPolicy) ([]policy.RefundPolicy, error) {
	out := make([]policy.RefundPolicy, len(policies))
	for i, p := range policies {
		if len(p.Embedding) == 0 {
			vec, err := e.Embed(ctx, PolicyText(p))
			if err != nil {
				return nil, fmt.Errorf("store: embed policy %s: %w", p.ID, err)
			}
			p.Embedding = vec
		}
		out[i] = p
	}
	return out, nil
}
