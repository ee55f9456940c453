package claimsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ace-labs/ace/internal/claims"
)

// PGSource is the pgvector-backed ClaimSource: verified claims from past
// adjudications are stored with an embedding, and the cross-reference lens
// retrieves the nearest ones by cosine distance.
type PGSource struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
	limit    int
}

// NewPGSource builds a PGSource over an existing pool. A nil embedder falls
// back to the deterministic HashEmbedder.
func NewPGSource(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) *PGSource {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGSource{pool: pool, embedder: embedder, logger: logger, limit: 10}
}

// Record persists a verified claim so future adjudications can cross-reference
// it. Called by the orchestrator after publication, never mid-cycle.
func (s *PGSource) Record(ctx context.Context, claimText string) error {
	emb, err := s.embedder.Embed(ctx, claimText)
	if err != nil {
		return fmt.Errorf("claimsource: embed claim: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO historical_claims (id, claim_text, embedding)
		VALUES ($1, $2, $3)`,
		uuid.New(), claimText, pgvector.NewVector(emb),
	)
	if err != nil {
		return fmt.Errorf("claimsource: record claim: %w", err)
	}
	return nil
}

// Find returns historical claims nearest to the keyword set, ordered by
// cosine distance via pgvector's <=> operator.
func (s *PGSource) Find(ctx context.Context, keywords []string) ([]claims.HistoricalClaim, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	emb, err := s.embedder.Embed(ctx, strings.Join(keywords, " "))
	if err != nil {
		return nil, fmt.Errorf("claimsource: embed keywords: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, claim_text
		FROM historical_claims
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(emb), s.limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claimsource: find claims: %w", err)
	}
	defer rows.Close()

	var out []claims.HistoricalClaim
	for rows.Next() {
		var id uuid.UUID
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("claimsource: scan claim: %w", err)
		}
		out = append(out, claims.HistoricalClaim{ID: id.String(), Text: text})
	}
	return out, rows.Err()
}

// Similarity scores two claim texts by embedding both and taking cosine
// similarity locally, avoiding a round trip for pairwise comparisons.
func (s *PGSource) Similarity(ctx context.Context, a, b string) (float64, error) {
	ea, err := s.embedder.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("claimsource: embed: %w", err)
	}
	eb, err := s.embedder.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("claimsource: embed: %w", err)
	}
	return cosine(ea, eb), nil
}

var _ claims.ClaimSource = (*PGSource)(nil)
