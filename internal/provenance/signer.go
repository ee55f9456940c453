// Package provenance implements C6, the Provenance Publisher: it persists
// the verdict, mints a cryptographically signed handle suitable for a git
// commit trailer, and verifies that handle against tampering. Key loading
// is grounded on internal/auth's Ed25519 JWT key loader in the teacher repo
// (same PEM shapes, same "generate ephemeral pair if unset" fallback);
// scripts/genkey mints the on-disk keys this package loads.
package provenance

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
)

// Signer holds the Ed25519 keypair C6 signs canonicalized verdicts with.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEphemeralSigner generates a fresh keypair, for development and tests
// where no persistent signing key is configured. Every restart invalidates
// previously published signatures' verifiability against a freshly-started
// verifier that only trusts its own in-memory key — callers that need
// stable verification across restarts must use LoadSignerFromFiles.
func NewEphemeralSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("provenance: generate ephemeral keypair: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// LoadSignerFromFiles reads an Ed25519 keypair from PKCS8/PKIX PEM files, the
// same shape scripts/genkey writes. If either path is empty, it falls back
// to an ephemeral keypair and logs a warning, mirroring the teacher's JWT
// manager fallback.
func LoadSignerFromFiles(privPath, pubPath string, logger *slog.Logger) (*Signer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if privPath == "" || pubPath == "" {
		logger.Warn("provenance: no signing key files configured, generating ephemeral keypair (not for production)")
		return NewEphemeralSigner()
	}

	privPEM, err := os.ReadFile(privPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("provenance: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("provenance: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("provenance: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("provenance: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(pubPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("provenance: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("provenance: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("provenance: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("provenance: public key is not Ed25519")
	}

	if derived := edPriv.Public().(ed25519.PublicKey); string(derived) != string(edPub) {
		return nil, fmt.Errorf("provenance: private and public key files do not match")
	}

	return &Signer{priv: edPriv, pub: edPub}, nil
}

// Sign returns the raw Ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}

// PublicKey returns the Ed25519 public key bytes verifiers check against.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}
