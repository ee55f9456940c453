package provenance

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/resilience"
)

// StoredRecord is what the append-only Store persists: the public
// ProvenanceRecord plus the exact canonical bytes the signature covers, so a
// later Verify call can re-check the signature without reconstructing the
// verdict from scratch.
type StoredRecord struct {
	Record  model.ProvenanceRecord
	Payload []byte
}

// Store is the ProvenanceStore outbound collaborator (§6): an append-only
// key→record store. Implementations must never overwrite or delete an
// entry once Append succeeds.
type Store interface {
	Append(ctx context.Context, rec StoredRecord) error
	Get(ctx context.Context, verdictID string) (StoredRecord, error)
}

// Publisher is C6. It mints a provenance_id, canonicalizes and signs the
// verdict, and hands the signed record to an append-only Store, retrying
// transient store failures per §4.5's ExternalService policy.
type Publisher struct {
	store  Store
	signer *Signer
	retry  map[acerr.ErrorCategory]resilience.RetryPolicy
	log    *slog.Logger
}

// NewPublisher builds a Publisher over the given Store and Signer.
func NewPublisher(store Store, signer *Signer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, signer: signer, retry: resilience.DefaultRetryPolicies(), log: logger}
}

// Publish signs and persists verdict, returning its newly minted
// provenance_id. verdict.ProvenanceID is set on the copy that gets signed;
// verdict.Timestamp is signed as the caller supplied it. Callers should use
// the returned ID (and the verdict they already hold) rather than re-reading
// it back from Publish.
func (p *Publisher) Publish(ctx context.Context, verdict model.ArbiterVerdict, checkpoints map[string]model.CAWSCheckpoint) (string, error) {
	verdictID := "CAWS-VERDICT-" + uuid.NewString()
	verdict.ProvenanceID = verdictID

	payload, err := Canonicalize(verdict)
	if err != nil {
		return "", err
	}
	sig := p.signer.Sign(payload)

	rec := StoredRecord{
		Record: model.ProvenanceRecord{
			VerdictID: verdictID,
			Timestamp: verdict.Timestamp,
			Signature: model.SignatureRecord{
				Algorithm:       "Ed25519",
				SignatureBase64: base64.StdEncoding.EncodeToString(sig),
				PublicKeyBase64: base64.StdEncoding.EncodeToString(p.signer.PublicKey()),
			},
			EvidenceLinks:           buildEvidenceLinks(verdict.EvidenceManifest),
			CAWSCheckpointStatusMap: checkpoints,
			GitTrailer:              fmt.Sprintf("CAWS-Verdict-Id: %s", verdictID),
		},
		Payload: payload,
	}

	err = resilience.WithRetry(ctx, p.retry, func(ctx context.Context) error {
		if err := p.store.Append(ctx, rec); err != nil {
			return acerr.NewExternalServiceError("provenance-store", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("provenance: publish %s: %w", verdictID, err)
	}

	p.log.Info("provenance: verdict published", "verdict_id", verdictID, "status", verdict.Status, "debate_rounds", verdict.DebateRounds)
	return verdictID, nil
}

func buildEvidenceLinks(manifest *model.EvidenceManifest) []model.EvidenceLink {
	if manifest == nil {
		return nil
	}
	var links []model.EvidenceLink
	for _, r := range manifest.VerificationResults {
		for _, e := range r.Evidence {
			links = append(links, model.EvidenceLink{
				EvidenceID:         e.ID,
				ClaimID:            e.ClaimID,
				VerificationStatus: r.Status,
			})
		}
	}
	return links
}

// TamperedError is returned by Verify when a record's signature does not
// validate against its own published public key — the canonical bytes or
// signature were altered after publication.
type TamperedError struct {
	VerdictID string
}

func (e *TamperedError) Error() string {
	return fmt.Sprintf("provenance: verdict %s failed signature verification (tampered)", e.VerdictID)
}

// VerifyResult is the outcome of re-validating a published record.
type VerifyResult struct {
	Verified bool
	Record   model.ProvenanceRecord
}

// Verify fetches the stored record for verdictID and validates the signature
// over its stored canonical bytes against the record's own published public
// key; the bytes are not re-derived from a verdict. A mismatch returns a
// *TamperedError, per §4.6.
func Verify(ctx context.Context, store Store, verdictID string) (VerifyResult, error) {
	sp, err := store.Get(ctx, verdictID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("provenance: fetch %s: %w", verdictID, err)
	}

	pubBytes, err := base64.StdEncoding.DecodeString(sp.Record.Signature.PublicKeyBase64)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("provenance: decode public key: %w", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sp.Record.Signature.SignatureBase64)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("provenance: decode signature: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(pubBytes), sp.Payload, sigBytes) {
		return VerifyResult{}, &TamperedError{VerdictID: verdictID}
	}
	return VerifyResult{Verified: true, Record: sp.Record}, nil
}

// CheckpointFailures reports the A1..A9 checkpoints that did not pass,
// sorted for deterministic log output — used by callers building a
// human-readable waiver-required reason from a checkpoint map.
func CheckpointFailures(checkpoints map[string]model.CAWSCheckpoint) []string {
	var failed []string
	for _, id := range sortedKeys(checkpoints) {
		if checkpoints[id].Status == "fail" {
			failed = append(failed, id)
		}
	}
	return failed
}
