package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ace-labs/ace/internal/arbitration"
	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
	"github.com/ace-labs/ace/internal/storage"
	"github.com/ace-labs/ace/internal/testutil"
)

type memStore struct {
	mu   sync.Mutex
	recs map[string]provenance.StoredRecord
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]provenance.StoredRecord{}}
}

func (s *memStore) Append(_ context.Context, rec provenance.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Record.VerdictID] = rec
	return nil
}

func (s *memStore) Get(_ context.Context, verdictID string) (provenance.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[verdictID]
	if !ok {
		return provenance.StoredRecord{}, fmt.Errorf("verdict_id %s: %w", verdictID, storage.ErrNotFound)
	}
	return rec, nil
}

type approvingRunner struct{}

func (approvingRunner) Run(_ context.Context, _ model.JudgeType, _ judges.ReviewContext) (model.JudgeVerdict, error) {
	return model.JudgeVerdict{
		Kind:         model.VerdictApprove,
		Confidence:   0.9,
		Reasoning:    "the change is narrowly scoped and the tests cover the new behavior",
		QualityScore: 0.9,
	}, nil
}

func testServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeTesting}
	pool := judges.New(roster, approvingRunner{}, judges.WithDeadlines(time.Second, 2*time.Second))

	signer, err := provenance.NewEphemeralSigner()
	require.NoError(t, err)
	store := newMemStore()
	publisher := provenance.NewPublisher(store, signer, testutil.TestLogger())

	cfg := arbitration.DefaultConfig()
	cfg.EnableClaimExtraction = false
	cfg.EnableDebateProtocol = false
	controller := arbitration.New(pool, nil, publisher, cfg, arbitration.WithLogger(testutil.TestLogger()))

	srv := New(ServerConfig{
		Controller:          controller,
		Store:               store,
		Logger:              testutil.TestLogger(),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, store
}

func adjudicateBody(t *testing.T) []byte {
	t.Helper()
	body := map[string]any{
		"working_spec": map[string]any{
			"id":            uuid.NewString(),
			"title":         "cache eviction",
			"description":   "general change",
			"risk_tier":     3,
			"change_budget": map[string]any{"max_files": 50, "max_loc": 2000},
			"scope":         map[string]any{"included_globs": []string{"src/**", "tests/**"}},
			"acceptance_criteria": []map[string]any{
				{"given": "a cached entry", "when": "its TTL expires", "then": "it is evicted"},
			},
		},
		"worker_outputs": []map[string]any{{
			"worker_id": "worker-1",
			"task_id":   "task-42",
			"content":   "The cache layer evicts entries after expiry.",
			"diff_stats": map[string]any{
				"files_changed": 2,
				"lines_changed": 80,
				"touched_paths": []string{"src/a.rs", "tests/a_test.rs"},
			},
		}},
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

func TestHandleAdjudicate(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/adjudicate", bytes.NewReader(adjudicateBody(t)))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Data model.ArbiterVerdict `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusApproved, resp.Data.Status)
	assert.Equal(t, "task-42", resp.Data.TaskID)
	assert.Regexp(t, `^CAWS-VERDICT-`, resp.Data.ProvenanceID)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHandleAdjudicate_BadRequests(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/adjudicate", bytes.NewReader([]byte("{nope")))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid working spec", func(t *testing.T) {
		body := []byte(`{"working_spec": {"id":"` + uuid.NewString() + `","risk_tier":9}, "worker_outputs": []}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/adjudicate", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("no worker outputs", func(t *testing.T) {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(adjudicateBody(t), &payload))
		payload["worker_outputs"] = []any{}
		body, err := json.Marshal(payload)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/adjudicate", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestHandleWaiverPreview(t *testing.T) {
	srv, _ := testServer(t)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(adjudicateBody(t), &payload))
	body, err := json.Marshal(map[string]any{
		"working_spec": payload["working_spec"],
		"diff_stats": map[string]any{
			"files_changed": 60,
			"lines_changed": 100,
			"touched_paths": []string{"src/a.rs"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/waivers/preview", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Data struct {
			Violations []violationDTO `json:"violations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.Violations)
}

func TestHandleVerify(t *testing.T) {
	srv, _ := testServer(t)

	// Publish a verdict first.
	req := httptest.NewRequest(http.MethodPost, "/v1/adjudicate", bytes.NewReader(adjudicateBody(t)))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data model.ArbiterVerdict `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	t.Run("verifies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/verify/"+resp.Data.ProvenanceID, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"verified":true`)
	})

	t.Run("record fetch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/verdicts/"+resp.Data.ProvenanceID, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "CAWS-Verdict-Id")
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/verify/CAWS-VERDICT-missing", nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "breaker_states")
	assert.Contains(t, rr.Body.String(), `"version":"test"`)
}
