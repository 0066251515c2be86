package quorum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/signing/bls"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
	"github.com/witnessnet/witness/pkg/store/memory"
	"github.com/witnessnet/witness/pkg/witness"
)

type fakeBatch struct {
	appended [][attestation.FingerprintSize]byte
}

func (f *fakeBatch) Append(networkID string, fingerprint [attestation.FingerprintSize]byte) {
	f.appended = append(f.appended, fingerprint)
}

// ed25519WitnessServer wraps a witness.Node as an httptest server speaking
// the same wire protocol as cmd/witness.
func ed25519WitnessServer(t *testing.T, id, networkID string) (*httptest.Server, []byte) {
	t.Helper()
	kp, err := ed25519sig.Generate()
	require.NoError(t, err)
	node := witness.New(witness.Config{WitnessID: id, NetworkID: networkID}, witness.NewEd25519Signer(id, kp), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sign", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Hash      string `json:"hash"`
			Timestamp int64  `json:"timestamp"`
			NetworkID string `json:"network_id"`
			Sequence  uint64 `json:"sequence"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fp, err := attestation.FingerprintFromHex(body.Hash)
		require.NoError(t, err)

		result, err := node.Sign(witness.SignRequest{
			Fingerprint: fp,
			Timestamp:   body.Timestamp,
			NetworkID:   body.NetworkID,
			Sequence:    body.Sequence,
		})
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"witness_id": result.WitnessID,
			"signature":  hex.EncodeToString(result.Signature),
		})
	})
	return httptest.NewServer(mux), kp.PublicKey()
}

func newAggregator(t *testing.T, witnessCount, threshold int) (*Aggregator, *fakeBatch, *memory.Store) {
	t.Helper()
	networkID := "mainnet"
	st := memory.New()
	batch := &fakeBatch{}

	var witnesses []WitnessConfig
	for i := 0; i < witnessCount; i++ {
		srv, pub := ed25519WitnessServer(t, witnessIDFor(i), networkID)
		t.Cleanup(srv.Close)
		witnesses = append(witnesses, WitnessConfig{WitnessID: witnessIDFor(i), PublicKey: pub, Endpoint: srv.URL})
	}

	agg, err := New(Config{
		NetworkID:      networkID,
		Scheme:         signing.Ed25519,
		Threshold:      threshold,
		Witnesses:      witnesses,
		WitnessTimeout: time.Second,
		TotalTimeout:   2 * time.Second,
	}, st, batch, nil)
	require.NoError(t, err)
	return agg, batch, st
}

func witnessIDFor(i int) string {
	return string(rune('a' + i))
}

func TestTimestamp_ThresholdMet(t *testing.T) {
	agg, batch, st := newAggregator(t, 3, 2)
	ctx := context.Background()

	var fingerprint [attestation.FingerprintSize]byte
	fingerprint[0] = 0x42

	signed, err := agg.Timestamp(ctx, fingerprint)
	require.NoError(t, err)
	assert.Equal(t, attestation.MultiSig, signed.Signatures.Kind)
	assert.GreaterOrEqual(t, signed.Signatures.SignerCount(), 2)
	assert.Len(t, batch.appended, 1)

	stored, err := st.GetAttestation(ctx, fingerprint)
	require.NoError(t, err)
	assert.Equal(t, signed.Attestation.Sequence, stored.Attestation.Sequence)
}

func TestTimestamp_Idempotent(t *testing.T) {
	agg, batch, _ := newAggregator(t, 3, 2)
	ctx := context.Background()

	var fingerprint [attestation.FingerprintSize]byte
	fingerprint[0] = 0x07

	first, err := agg.Timestamp(ctx, fingerprint)
	require.NoError(t, err)
	second, err := agg.Timestamp(ctx, fingerprint)
	require.NoError(t, err)

	assert.Equal(t, first.Attestation.Sequence, second.Attestation.Sequence)
	assert.Len(t, batch.appended, 1, "second call must not re-append to the batch")
}

func TestTimestamp_SequencesAreDenseAcrossCommits(t *testing.T) {
	agg, _, st := newAggregator(t, 3, 2)
	ctx := context.Background()

	var sequences []uint64
	for i := 0; i < 4; i++ {
		var fingerprint [attestation.FingerprintSize]byte
		fingerprint[0] = byte(i + 1)
		signed, err := agg.Timestamp(ctx, fingerprint)
		require.NoError(t, err)
		sequences = append(sequences, signed.Attestation.Sequence)
	}

	assert.Equal(t, []uint64{1, 2, 3, 4}, sequences)

	latest, err := st.LatestSeq(ctx, "mainnet")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), latest)
}

func TestTimestamp_InsufficientSignatures(t *testing.T) {
	networkID := "mainnet"
	st := memory.New()
	batch := &fakeBatch{}

	srv, pub := ed25519WitnessServer(t, "a", networkID)
	t.Cleanup(srv.Close)

	// Second witness endpoint is unreachable.
	witnesses := []WitnessConfig{
		{WitnessID: "a", PublicKey: pub, Endpoint: srv.URL},
		{WitnessID: "b", PublicKey: pub, Endpoint: "http://127.0.0.1:1"},
	}

	agg, err := New(Config{
		NetworkID:      networkID,
		Scheme:         signing.Ed25519,
		Threshold:      2,
		Witnesses:      witnesses,
		WitnessTimeout: 200 * time.Millisecond,
		TotalTimeout:   400 * time.Millisecond,
	}, st, batch, nil)
	require.NoError(t, err)

	var fingerprint [attestation.FingerprintSize]byte
	fingerprint[0] = 0x09

	_, err = agg.Timestamp(context.Background(), fingerprint)
	assert.ErrorIs(t, err, ErrInsufficientSignatures)
	assert.Empty(t, batch.appended)
}

func TestAssemble_BLSAggregatesAndOrdersSignersByConfig(t *testing.T) {
	networkID := "mainnet"
	sk1, pk1, err := bls.Generate()
	require.NoError(t, err)
	sk2, pk2, err := bls.Generate()
	require.NoError(t, err)

	witnesses := []WitnessConfig{
		{WitnessID: "z-witness", PublicKey: pk1.Bytes()},
		{WitnessID: "a-witness", PublicKey: pk2.Bytes()},
	}

	agg, err := New(Config{
		NetworkID: networkID,
		Scheme:    signing.BLS,
		Threshold: 2,
		Witnesses: witnesses,
	}, memory.New(), &fakeBatch{}, nil)
	require.NoError(t, err)

	var fingerprint [attestation.FingerprintSize]byte
	fingerprint[0] = 0x11
	att, err := attestation.New(fingerprint, 1700000000, networkID, 1)
	require.NoError(t, err)
	payload, err := att.Encode()
	require.NoError(t, err)

	sig1 := sk1.Sign(payload)
	sig2 := sk2.Sign(payload)

	results := []witnessResult{
		{witnessID: "a-witness", signature: sig2.Bytes()},
		{witnessID: "z-witness", signature: sig1.Bytes()},
	}

	signed, err := agg.assemble(*att, results)
	require.NoError(t, err)
	assert.Equal(t, attestation.Aggregated, signed.Signatures.Kind)
	// signer order must follow configuration order (z-witness, a-witness),
	// not lexicographic order.
	assert.Equal(t, []string{"z-witness", "a-witness"}, signed.Signatures.Signers)

	aggBytes, err := hex.DecodeString(signed.Signatures.Aggregated)
	require.NoError(t, err)
	aggSig, err := bls.SignatureFromBytes(aggBytes)
	require.NoError(t, err)
	assert.True(t, bls.VerifyAggregate(aggSig, []*bls.PublicKey{pk1, pk2}, payload))
}
