// Package arbitration implements C5, the Arbitration Controller: it drives
// the adjudication cycle (Pleading, Examination, Deliberation, Judging,
// Verdict, Publication), runs the multi-output debate protocol when worker
// outputs compete, and applies the resilience policies of spec §4.5 around
// every outbound collaborator call.
package arbitration

import (
	"time"

	"github.com/ace-labs/ace/internal/council"
)

// Config is C5's slice of the startup config surface (spec §6). It is an
// immutable value passed at construction; live reloads swap the whole value
// atomically rather than mutating it in place.
type Config struct {
	Council               council.Config
	EnableClaimExtraction bool
	EnableDebateProtocol  bool
	MaxDebateRounds       int
	MinVerdictConfidence  float64
	MaxAdjudicationTime   time.Duration
	DebateRoundTimeout    time.Duration
}

// DefaultConfig matches the defaults enumerated in §6.
func DefaultConfig() Config {
	return Config{
		Council:               council.DefaultConfig(),
		EnableClaimExtraction: true,
		EnableDebateProtocol:  true,
		MaxDebateRounds:       3,
		MinVerdictConfidence:  0.8,
		MaxAdjudicationTime:   300 * time.Second,
		DebateRoundTimeout:    60 * time.Second,
	}
}
