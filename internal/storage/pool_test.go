package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
	"github.com/ace-labs/ace/internal/storage"
	"github.com/ace-labs/ace/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func storedRecord(verdictID string) provenance.StoredRecord {
	return provenance.StoredRecord{
		Record: model.ProvenanceRecord{
			VerdictID: verdictID,
			Timestamp: time.Now().UTC().Truncate(time.Microsecond),
			Signature: model.SignatureRecord{
				Algorithm:       "Ed25519",
				SignatureBase64: "c2lnbmF0dXJl",
				PublicKeyBase64: "cHVibGlj",
			},
			EvidenceLinks: []model.EvidenceLink{
				{EvidenceID: "e1", ClaimID: "c1", VerificationStatus: model.StatusVerified},
			},
			CAWSCheckpointStatusMap: map[string]model.CAWSCheckpoint{
				"A1": {Description: "acceptance criteria present", Status: "pass"},
			},
			GitTrailer: "CAWS-Verdict-Id: " + verdictID,
		},
		Payload: []byte(`{"task_id":"task-42"}`),
	}
}

func TestAppendGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	id := "CAWS-VERDICT-" + uuid.NewString()

	require.NoError(t, testDB.Append(ctx, storedRecord(id)))

	got, err := testDB.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.Record.VerdictID)
	assert.Equal(t, "Ed25519", got.Record.Signature.Algorithm)
	assert.Equal(t, []byte(`{"task_id":"task-42"}`), got.Payload)
	require.Len(t, got.Record.EvidenceLinks, 1)
	assert.Equal(t, model.StatusVerified, got.Record.EvidenceLinks[0].VerificationStatus)
	assert.Equal(t, "pass", got.Record.CAWSCheckpointStatusMap["A1"].Status)
}

// The store is append-only: a duplicate verdict_id is an error, never an
// overwrite.
func TestAppendIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	id := "CAWS-VERDICT-" + uuid.NewString()

	require.NoError(t, testDB.Append(ctx, storedRecord(id)))

	dup := storedRecord(id)
	dup.Payload = []byte(`{"task_id":"tampered"}`)
	err := testDB.Append(ctx, dup)
	require.Error(t, err)

	got, err := testDB.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"task_id":"task-42"}`), got.Payload, "original payload must survive the duplicate append")
}

func TestGetMissingIsNotFound(t *testing.T) {
	_, err := testDB.Get(context.Background(), "CAWS-VERDICT-"+uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// Publishing through the real Publisher against Postgres and verifying the
// signature closes the loop end to end.
func TestPublishVerifyAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	signer, err := provenance.NewEphemeralSigner()
	require.NoError(t, err)
	pub := provenance.NewPublisher(testDB, signer, testutil.TestLogger())

	id, err := pub.Publish(ctx, model.ArbiterVerdict{
		TaskID:        "task-pg",
		WorkingSpecID: uuid.New(),
		Status:        model.StatusApproved,
		Confidence:    0.9,
		Timestamp:     time.Now().UTC(),
	}, map[string]model.CAWSCheckpoint{"A1": {Description: "acceptance criteria present", Status: "pass"}})
	require.NoError(t, err)

	result, err := provenance.Verify(ctx, testDB, id)
	require.NoError(t, err)
	assert.True(t, result.Verified)
}
