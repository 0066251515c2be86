// Copyright 2025 Witness Protocol
//
// These tests exercise Store against a real Postgres instance. They run
// only when WITNESS_TEST_DB is set: without it TestMain exits before any
// test runs, and when it is set, a failure to connect or migrate panics.
// The driver is not mocked, following the teacher's database-test
// convention.

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/store"
)

var testClient *Client

func TestMain(m *testing.M) {
	connStr := os.Getenv("WITNESS_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	client, err := NewClient(Config{DatabaseURL: connStr})
	if err != nil {
		panic("connect to test database: " + err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.MigrateUp(ctx); err != nil {
		panic("migrate test database: " + err.Error())
	}
	testClient = client

	code := m.Run()
	client.Close()
	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	if testClient == nil {
		t.Skip("WITNESS_TEST_DB not configured")
	}
	return New(testClient, nil)
}

func fingerprintFor(t *testing.T, seed byte) [attestation.FingerprintSize]byte {
	t.Helper()
	var fp [attestation.FingerprintSize]byte
	for i := range fp {
		fp[i] = seed
	}
	return fp
}

func TestPutAttestationIfAbsent_FirstCallInsertsSecondCallReturnsExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fp := fingerprintFor(t, 0x11)

	att, err := attestation.New(fp, time.Now().Unix(), "test-network", 1)
	require.NoError(t, err)
	bundle, err := attestation.NewMultiSigBundle([]attestation.WitnessSignature{{WitnessID: "w1", Signature: "aa"}})
	require.NoError(t, err)
	signed := attestation.SignedAttestation{Attestation: *att, Signatures: *bundle}

	first, inserted, err := st.PutAttestationIfAbsent(ctx, fp, signed, 2)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, signed.Attestation.Sequence, first.Attestation.Sequence)

	second, insertedAgain, err := st.PutAttestationIfAbsent(ctx, fp, signed, 2)
	require.NoError(t, err)
	assert.False(t, insertedAgain)
	assert.Equal(t, first.Attestation.Sequence, second.Attestation.Sequence)

	seq, err := st.LatestSeq(ctx, "test-network")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestGetAttestation_NotFoundBeforeInsert(t *testing.T) {
	st := newTestStore(t)
	fp := fingerprintFor(t, 0x22)

	_, err := st.GetAttestation(context.Background(), fp)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutBatch_RoundTripsMembersAndAnchors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	fp := fingerprintFor(t, 0x33)
	now := time.Now()
	batch := store.Batch{
		NetworkID: "test-network",
		BatchID:   uint64(now.UnixNano()),
		OpenedAt:  now.Add(-time.Minute).Unix(),
		ClosedAt:  now.Unix(),
		Members:   [][attestation.FingerprintSize]byte{fp},
	}
	require.NoError(t, st.PutBatch(ctx, batch))

	got, err := st.GetBatch(ctx, batch.NetworkID, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.Members, got.Members)

	containing, err := st.GetBatchContaining(ctx, batch.NetworkID, fp)
	require.NoError(t, err)
	assert.Equal(t, batch.BatchID, containing.BatchID)

	receipt := store.ExternalAnchorReceipt{Provider: "null", Opaque: []byte("noop")}
	require.NoError(t, st.AppendExternalAnchorReceipt(ctx, batch.NetworkID, batch.BatchID, receipt))

	withReceipt, err := st.GetBatch(ctx, batch.NetworkID, batch.BatchID)
	require.NoError(t, err)
	require.Len(t, withReceipt.ExternalAnchors, 1)
	assert.Equal(t, receipt, withReceipt.ExternalAnchors[0])
}

func TestGetBatchContaining_NotFound(t *testing.T) {
	st := newTestStore(t)
	fp := fingerprintFor(t, 0x44)

	_, err := st.GetBatchContaining(context.Background(), "test-network", fp)
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
}
