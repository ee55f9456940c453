package claimsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ace-labs/ace/internal/claims"
)

// QdrantConfig holds the connection settings for the optional Qdrant-backed
// historical-claim index.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6334" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantSource is the high-volume alternative to PGSource: the same
// ClaimSource contract served by a Qdrant collection instead of a pgvector
// column. Deployments with millions of historical claims point the
// cross-reference lens here and keep Postgres for the provenance ledger only.
type QdrantSource struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	embedder   Embedder
	logger     *slog.Logger
	limit      uint64
}

// parseQdrantURL extracts host, port, and TLS flag. The REST port 6333 is
// mapped to the gRPC port 6334 the client speaks.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("claimsource: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("claimsource: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

// NewQdrantSource connects to Qdrant via gRPC.
func NewQdrantSource(cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantSource, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("claimsource: connect to qdrant at %s:%d: %w", host, port, err)
	}
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantSource{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		embedder:   embedder,
		logger:     logger,
		limit:      10,
	}, nil
}

// EnsureCollection creates the claim collection if absent, cosine distance.
func (s *QdrantSource) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("claimsource: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("claimsource: create collection %q: %w", s.collection, err)
	}
	s.logger.Info("claimsource: created qdrant collection", "collection", s.collection, "dims", s.dims)
	return nil
}

// Record upserts one claim into the collection.
func (s *QdrantSource) Record(ctx context.Context, claimText string) error {
	emb, err := s.embedder.Embed(ctx, claimText)
	if err != nil {
		return fmt.Errorf("claimsource: embed claim: %w", err)
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectorsDense(emb),
			Payload: qdrant.NewValueMap(map[string]any{"claim_text": claimText}),
		}},
	})
	if err != nil {
		return fmt.Errorf("claimsource: upsert claim: %w", err)
	}
	return nil
}

// Find queries the collection for the claims nearest the keyword embedding.
func (s *QdrantSource) Find(ctx context.Context, keywords []string) ([]claims.HistoricalClaim, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	emb, err := s.embedder.Embed(ctx, joinKeywords(keywords))
	if err != nil {
		return nil, fmt.Errorf("claimsource: embed keywords: %w", err)
	}
	limit := s.limit
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(emb),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("claimsource: qdrant query: %w", err)
	}

	out := make([]claims.HistoricalClaim, 0, len(scored))
	for _, sp := range scored {
		id := sp.Id.GetUuid()
		if id == "" {
			continue
		}
		text := ""
		if payload := sp.Payload; payload != nil {
			if v, ok := payload["claim_text"]; ok {
				text = v.GetStringValue()
			}
		}
		out = append(out, claims.HistoricalClaim{ID: id, Text: text})
	}
	return out, nil
}

// Similarity embeds both texts and compares locally, same as PGSource.
func (s *QdrantSource) Similarity(ctx context.Context, a, b string) (float64, error) {
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

func joinKeywords(keywords []string) string {
	out := ""
	for i, k := range keywords {
		if i > 0 {
			out += " "
		}
		out += k
	}
	return out
}

var _ claims.ClaimSource = (*QdrantSource)(nil)
