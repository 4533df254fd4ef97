package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// Retrieval is the outcome of a candidate lookup. When Fallback is set the
// similarity search failed with Cause and Policies came from ListAll.
type Retrieval struct {
	Policies []policy.RefundPolicy
	Fallback bool
	Cause    error
}

// FallbackRetriever fails open: any search error degrades to ListAll with
// the same limit.
type FallbackRetriever struct {
	store  PolicyStore
	logger *slog.Logger
}

func NewFallbackRetriever(s PolicyStore) *FallbackRetriever {
	return &FallbackRetriever{store: s, logger: slog.Default().With("component", "retriever")}
}

// Retrieve returns an error only when both search and the fallback listing
// fail.
func (r *FallbackRetriever) Retrieve(ctx context.Context, vector Embedding, limit int) (Retrieval, error) {
	policies, err := r.store.Search(ctx, vector, limit)
	if err == nil {
		return Retrieval{Policies: policies}, nil
	}

	r.logger.WarnContext(ctx, "policy search failed, listing corpus", "error", err, "limit", limit)
	all, listErr := r.store.ListAll(ctx, limit)
	if listErr != nil {
		return Retrieval{Fallback: true, Cause: err}, fmt.Errorf("store: retrieve policies: search: %v: list: %w", err, listErr)
	}
	return Retrieval{Policies: all, Fallback: true, Cause: err}, nil
}
