package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// PGVectorPolicyStore keeps the corpus in Postgres with the pgvector
// extension.
type PGVectorPolicyStore struct {
	db *sql.DB
}

func NewPGVectorPolicyStore(db *sql.DB) *PGVectorPolicyStore {
	return &PGVectorPolicyStore{db: db}
}

const pgvectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS refund_policies (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	conditions JSONB NOT NULL,
	refund_percentage DOUBLE PRECISION NOT NULL,
	embedding vector
);
`

// Init creates the extension and table if needed.
func (p *PGVectorPolicyStore) Init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, pgvectorSchema); err != nil {
		return fmt.Errorf("store: migrate refund_policies: %w", err)
	}
	return nil
}

// vectorLiteral formats v as a pgvector literal, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (p *PGVectorPolicyStore) Search(ctx context.Context, vector Embedding, limit int) ([]policy.RefundPolicy, error) {
	if norm(vector) == 0 {
		return nil, ErrZeroVector
	}
	query := `
		SELECT id, title, description, conditions, refund_percentage
		FROM refund_policies
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	return scanPolicies(rows)
}

func (p *PGVectorPolicyStore) ListAll(ctx context.Context, limit int) ([]policy.RefundPolicy, error) {
	query := `
		SELECT id, title, description, conditions, refund_percentage
		FROM refund_policies
		ORDER BY id
		LIMIT $1
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.db.QueryContext(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	return scanPolicies(rows)
}

func (p *PGVectorPolicyStore) Upsert(ctx context.Context, policies []policy.RefundPolicy) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO refund_policies (id, title, description, conditions, refund_percentage, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			conditions = EXCLUDED.conditions,
			refund_percentage = EXCLUDED.refund_percentage,
			embedding = EXCLUDED.embedding
	`
	for _, pol := range policies {
		conds, err := json.Marshal(pol.Conditions)
		if err != nil {
			return fmt.Errorf("store: marshal conditions of %s: %w", pol.ID, err)
		}
		var vec any
		if len(pol.Embedding) > 0 {
			vec = vectorLiteral(pol.Embedding)
		}
		if _, err := tx.ExecContext(ctx, query, pol.ID, pol.Title, pol.Description, string(conds), pol.RefundPercentage, vec); err != nil {
			return fmt.Errorf("store: upsert policy %s: %w", pol.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (p *PGVectorPolicyStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM refund_policies").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count policies: %w", err)
	}
	return n, nil
}

func scanPolicies(rows *sql.Rows) ([]policy.RefundPolicy, error) {
	defer func() { _ = rows.Close() }()

	out := make([]policy.RefundPolicy, 0)
	for rows.Next() {
		var (
			pol   policy.RefundPolicy
			conds []byte
		)
		if err := rows.Scan(&pol.ID, &pol.Title, &pol.Description, &conds, &pol.RefundPercentage); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		if err := json.Unmarshal(conds, &pol.Conditions); err != nil {
			return nil, fmt.Errorf("store: decode conditions of %s: %w", pol.ID, err)
		}
		out = append(out, pol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate policies: %w", err)
	}
	return out, nil
}
