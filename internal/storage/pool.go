// Package storage provides the PostgreSQL-backed append-only store behind
// C6 (internal/provenance): connection pooling via pgxpool, and the
// Append/Get methods that satisfy provenance.Store. The pooling and
// migration-running shape is grounded on the teacher repo's internal/storage
// package; ACE drops the teacher's LISTEN/NOTIFY and pgvector-COPY paths
// entirely since a signed, append-only verdict ledger needs neither pub/sub
// fan-out nor vector columns (see DESIGN.md).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
)

// DB wraps a pgxpool.Pool for the provenance_records table.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool. dsn should point to PgBouncer
// (or directly to Postgres in dev).
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// Close shuts down the connection pool.
func (db *DB) Close() { db.pool.Close() }

// Append persists a signed provenance record, retrying serialization and
// deadlock failures with jittered backoff. Append-only: a duplicate
// verdict_id (which should never happen since IDs are freshly minted UUIDs)
// is reported as a non-retryable error rather than silently overwritten.
func (db *DB) Append(ctx context.Context, rec provenance.StoredRecord) error {
	links, err := json.Marshal(rec.Record.EvidenceLinks)
	if err != nil {
		return fmt.Errorf("storage: marshal evidence_links: %w", err)
	}
	checkpoints, err := json.Marshal(rec.Record.CAWSCheckpointStatusMap)
	if err != nil {
		return fmt.Errorf("storage: marshal caws_checkpoint_status_map: %w", err)
	}

	err = WithRetry(ctx, 3, 100*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO provenance_records (
				verdict_id, commit_hash, verdict_timestamp,
				signature_algorithm, signature_base64, public_key_base64,
				evidence_links, caws_checkpoint_status_map, git_trailer, payload
			) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.Record.VerdictID, rec.Record.CommitHash, rec.Record.Timestamp,
			rec.Record.Signature.Algorithm, rec.Record.Signature.SignatureBase64, rec.Record.Signature.PublicKeyBase64,
			links, checkpoints, rec.Record.GitTrailer, rec.Payload,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("storage: verdict_id %s already published: %w", rec.Record.VerdictID, err)
		}
		return fmt.Errorf("storage: append provenance record: %w", err)
	}
	return nil
}

// Get fetches a previously appended record by verdict_id.
func (db *DB) Get(ctx context.Context, verdictID string) (provenance.StoredRecord, error) {
	var (
		rec                    provenance.StoredRecord
		commitHash             *string
		linksJSON, cpJSON      []byte
	)
	row := db.pool.QueryRow(ctx, `
		SELECT verdict_id, commit_hash, verdict_timestamp,
		       signature_algorithm, signature_base64, public_key_base64,
		       evidence_links, caws_checkpoint_status_map, git_trailer, payload
		FROM provenance_records WHERE verdict_id = $1`, verdictID)

	if err := row.Scan(
		&rec.Record.VerdictID, &commitHash, &rec.Record.Timestamp,
		&rec.Record.Signature.Algorithm, &rec.Record.Signature.SignatureBase64, &rec.Record.Signature.PublicKeyBase64,
		&linksJSON, &cpJSON, &rec.Record.GitTrailer, &rec.Payload,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return provenance.StoredRecord{}, fmt.Errorf("storage: verdict_id %s: %w", verdictID, ErrNotFound)
		}
		return provenance.StoredRecord{}, fmt.Errorf("storage: get provenance record: %w", err)
	}
	if commitHash != nil {
		rec.Record.CommitHash = *commitHash
	}
	if err := json.Unmarshal(linksJSON, &rec.Record.EvidenceLinks); err != nil {
		return provenance.StoredRecord{}, fmt.Errorf("storage: unmarshal evidence_links: %w", err)
	}
	rec.Record.CAWSCheckpointStatusMap = map[string]model.CAWSCheckpoint{}
	if err := json.Unmarshal(cpJSON, &rec.Record.CAWSCheckpointStatusMap); err != nil {
		return provenance.StoredRecord{}, fmt.Errorf("storage: unmarshal caws_checkpoint_status_map: %w", err)
	}
	return rec, nil
}
