package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 0.7, cfg.ConsensusThreshold)
	assert.Equal(t, 3, cfg.MinJudgesRequired)
	assert.True(t, cfg.WeightBySpecialization)
	assert.Equal(t, "Weighted", cfg.DissentHandling)
	assert.Equal(t, 0.2, cfg.DissentThreshold)
	assert.Equal(t, "MostConservative", cfg.RiskAggregation)
	assert.True(t, cfg.EnableClaimExtraction)
	assert.True(t, cfg.EnableDebateProtocol)
	assert.Equal(t, 3, cfg.MaxDebateRounds)
	assert.Equal(t, 0.8, cfg.MinVerdictConfidence)
	assert.Equal(t, 300*time.Second, cfg.MaxAdjudicationTime)
	assert.Equal(t, 30*time.Second, cfg.JudgeTimeout)
	assert.Equal(t, 60*time.Second, cfg.CriticalJudgeTimeout)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 3, cfg.BreakerSuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.BreakerRecoveryTimeout)
	assert.Equal(t, 100, cfg.CorefCacheSize)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ACE_PORT", "9090")
	t.Setenv("ACE_CONSENSUS_THRESHOLD", "0.85")
	t.Setenv("ACE_DISSENT_HANDLING", "Strict")
	t.Setenv("ACE_MAX_ADJUDICATION_TIME", "2m")
	t.Setenv("ACE_ENABLE_DEBATE_PROTOCOL", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 0.85, cfg.ConsensusThreshold)
	assert.Equal(t, "Strict", cfg.DissentHandling)
	assert.Equal(t, 2*time.Minute, cfg.MaxAdjudicationTime)
	assert.False(t, cfg.EnableDebateProtocol)
}

// Malformed values are rejected, and every malformed variable is reported in
// one pass rather than first-error-wins.
func TestLoad_AccumulatesErrors(t *testing.T) {
	t.Setenv("ACE_PORT", "not-a-number")
	t.Setenv("ACE_MAX_ADJUDICATION_TIME", "sideways")
	t.Setenv("ACE_ENABLE_CLAIM_EXTRACTION", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACE_PORT")
	assert.Contains(t, err.Error(), "ACE_MAX_ADJUDICATION_TIME")
	assert.Contains(t, err.Error(), "ACE_ENABLE_CLAIM_EXTRACTION")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold out of range", func(c *Config) { c.ConsensusThreshold = 1.5 }, "ACE_CONSENSUS_THRESHOLD"},
		{"bad dissent mode", func(c *Config) { c.DissentHandling = "Anarchic" }, "ACE_DISSENT_HANDLING"},
		{"bad risk aggregation", func(c *Config) { c.RiskAggregation = "Optimistic" }, "ACE_RISK_AGGREGATION"},
		{"zero judges", func(c *Config) { c.MinJudgesRequired = 0 }, "ACE_MIN_JUDGES_REQUIRED"},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_CORSList(t *testing.T) {
	t.Setenv("ACE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
}
