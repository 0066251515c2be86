// Copyright 2025 Witness Protocol
package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/batchmgr"
	"github.com/witnessnet/witness/pkg/config"
	"github.com/witnessnet/witness/pkg/quorum"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
	"github.com/witnessnet/witness/pkg/store/memory"
	"github.com/witnessnet/witness/pkg/witness"
)

// ed25519WitnessServer wraps a witness.Node as an httptest server speaking
// the wire protocol cmd/witness serves, mirroring pkg/quorum's test helper.
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

// newTestServer builds a full in-process gateway stack (3 witnesses,
// threshold 2, memory store) and returns its Server and store for
// assertions.
func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	const networkID = "testnet"
	st := memory.New()

	var witnesses []quorum.WitnessConfig
	var topoWitnesses []config.WitnessTopology
	for _, id := range []string{"a", "b", "c"} {
		srv, pub := ed25519WitnessServer(t, id, networkID)
		t.Cleanup(srv.Close)
		witnesses = append(witnesses, quorum.WitnessConfig{WitnessID: id, PublicKey: pub, Endpoint: srv.URL})
		topoWitnesses = append(topoWitnesses, config.WitnessTopology{WitnessID: id, Endpoint: srv.URL, PublicKey: hex.EncodeToString(pub)})
	}

	topo := &config.NetworkTopology{
		NetworkID:       networkID,
		SignatureScheme: string(signing.Ed25519),
		Threshold:       2,
		Witnesses:       topoWitnesses,
	}

	batches := batchmgr.New(st, nil, nil)
	require.NoError(t, batches.Start(context.Background(), batchmgr.NetworkConfig{NetworkID: networkID, Period: time.Hour}))
	t.Cleanup(batches.Stop)

	agg, err := quorum.New(quorum.Config{
		NetworkID:      networkID,
		Scheme:         signing.Ed25519,
		Threshold:      2,
		Witnesses:      witnesses,
		WitnessTimeout: time.Second,
		TotalTimeout:   2 * time.Second,
	}, st, batches, nil)
	require.NoError(t, err)

	metrics := NewMetricsRegistry(prometheus.NewRegistry())
	return NewServer(networkID, topo, agg, batches, st, metrics, nil), st
}

func TestHandleTimestamp_CommitsAndReturnsBundle(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	body, _ := json.Marshal(timestampRequest{Hash: hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))})
	resp, err := http.Post(srv.URL+"/v1/timestamp", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var signed attestation.SignedAttestation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&signed))
	assert.GreaterOrEqual(t, signed.Signatures.SignerCount(), 2)
}

func TestHandleGetTimestamp_NotFoundBeforeCommit(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/timestamp/" + hex.EncodeToString(bytes.Repeat([]byte{0x99}, 32)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleVerify_RoundTripsACommittedAttestation(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	hash := hex.EncodeToString(bytes.Repeat([]byte{0x07}, 32))
	tsBody, _ := json.Marshal(timestampRequest{Hash: hash})
	tsResp, err := http.Post(srv.URL+"/v1/timestamp", "application/json", bytes.NewReader(tsBody))
	require.NoError(t, err)
	var signed attestation.SignedAttestation
	require.NoError(t, json.NewDecoder(tsResp.Body).Decode(&signed))
	tsResp.Body.Close()

	verifyBody, err := json.Marshal(signed)
	require.NoError(t, err)
	verifyResp, err := http.Post(srv.URL+"/v1/verify", "application/json", bytes.NewReader(verifyBody))
	require.NoError(t, err)
	defer verifyResp.Body.Close()
	assert.Equal(t, http.StatusOK, verifyResp.StatusCode)
}

func TestHandleVerify_RejectsTamperedAttestation(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	hash := hex.EncodeToString(bytes.Repeat([]byte{0x08}, 32))
	tsBody, _ := json.Marshal(timestampRequest{Hash: hash})
	tsResp, err := http.Post(srv.URL+"/v1/timestamp", "application/json", bytes.NewReader(tsBody))
	require.NoError(t, err)
	var signed attestation.SignedAttestation
	require.NoError(t, json.NewDecoder(tsResp.Body).Decode(&signed))
	tsResp.Body.Close()

	signed.Attestation.Sequence += 1 // tamper

	verifyBody, err := json.Marshal(signed)
	require.NoError(t, err)
	verifyResp, err := http.Post(srv.URL+"/v1/verify", "application/json", bytes.NewReader(verifyBody))
	require.NoError(t, err)
	defer verifyResp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, verifyResp.StatusCode)
}

func TestHandleProof_NotFoundBeforeCommit(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/proof/" + hex.EncodeToString(bytes.Repeat([]byte{0xaa}, 32)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleProof_PendingWhileBatchOpen(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	hash := hex.EncodeToString(bytes.Repeat([]byte{0xbb}, 32))
	tsBody, _ := json.Marshal(timestampRequest{Hash: hash})
	tsResp, err := http.Post(srv.URL+"/v1/timestamp", "application/json", bytes.NewReader(tsBody))
	require.NoError(t, err)
	tsResp.Body.Close()

	resp, err := http.Get(srv.URL + "/v1/proof/" + hash)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "pending", body["status"])
}

func TestHandleProof_FoundReturnsLowercaseHexWireShape(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	hash := hex.EncodeToString(bytes.Repeat([]byte{0xcc}, 32))
	tsBody, _ := json.Marshal(timestampRequest{Hash: hash})
	tsResp, err := http.Post(srv.URL+"/v1/timestamp", "application/json", bytes.NewReader(tsBody))
	require.NoError(t, err)
	tsResp.Body.Close()

	_, err = s.batches.Flush(context.Background(), "testnet")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/proof/" + hash)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "batch_id")
	assert.Contains(t, decoded, "merkle_root")
	assert.Contains(t, decoded, "proof")

	root, ok := decoded["merkle_root"].(string)
	require.True(t, ok)
	assert.Equal(t, strings.ToLower(root), root)
	_, err = hex.DecodeString(root)
	assert.NoError(t, err)

	steps, ok := decoded["proof"].([]any)
	require.True(t, ok)
	for _, raw := range steps {
		step, ok := raw.(map[string]any)
		require.True(t, ok)
		side, ok := step["side"].(string)
		require.True(t, ok)
		assert.Contains(t, []string{"L", "R"}, side)
		sibling, ok := step["sibling"].(string)
		require.True(t, ok)
		_, err := hex.DecodeString(sibling)
		assert.NoError(t, err)
	}
}

func TestHandleConfig_ReturnsTopology(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var topo config.NetworkTopology
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&topo))
	assert.Equal(t, "testnet", topo.NetworkID)
	assert.Len(t, topo.Witnesses, 3)
}

func TestHandleHealth_OK(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
