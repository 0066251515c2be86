// Copyright 2025 Witness Protocol
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/batchmgr"
	"github.com/witnessnet/witness/pkg/merkle"
	"github.com/witnessnet/witness/pkg/verify"
)

type timestampRequest struct {
	Hash string `json:"hash"`
}

// handleTimestamp implements POST /v1/timestamp: submit a fingerprint for
// threshold-signed timestamping, blocking until committed or the
// aggregator's deadline is reached.
func (s *Server) handleTimestamp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, kindBadRequest, "method not allowed")
		return
	}

	var req timestampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, kindBadRequest, "malformed request body")
		return
	}
	fingerprint, err := attestation.FingerprintFromHex(req.Hash)
	if err != nil {
		writeJSONError(w, kindBadRequest, err.Error())
		return
	}

	signed, err := s.aggregator.Timestamp(r.Context(), fingerprint)
	if err != nil {
		s.metrics.timestampRequests.WithLabelValues("error").Inc()
		writeErr(w, err)
		return
	}
	s.metrics.timestampRequests.WithLabelValues("ok").Inc()
	s.metrics.signaturesCollected.Add(float64(signed.Signatures.SignerCount()))
	writeJSON(w, http.StatusOK, signed)
}

// handleGetTimestamp implements GET /v1/timestamp/:hash: look up a
// previously committed attestation without re-running the quorum path.
func (s *Server) handleGetTimestamp(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/v1/timestamp/")
	fingerprint, err := attestation.FingerprintFromHex(hash)
	if err != nil {
		writeJSONError(w, kindBadRequest, err.Error())
		return
	}

	signed, err := s.store.GetAttestation(r.Context(), fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// handleVerify implements POST /v1/verify: independently confirm a
// SignedAttestation carries threshold-valid witness signatures per the
// server's network topology, without consulting the store.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, kindBadRequest, "method not allowed")
		return
	}

	var signed attestation.SignedAttestation
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		writeJSONError(w, kindBadRequest, "malformed request body")
		return
	}

	if err := verify.Verify(s.topology, signed); err != nil {
		writeJSONError(w, kindVerificationFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// handleProof implements GET /v1/proof/:hash: report a fingerprint's
// batch-inclusion state — pending, not found, or a Merkle inclusion proof.
func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/v1/proof/")
	fingerprint, err := attestation.FingerprintFromHex(hash)
	if err != nil {
		writeJSONError(w, kindBadRequest, err.Error())
		return
	}

	result, err := s.batches.Proof(r.Context(), s.networkID, fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}

	switch result.Status {
	case batchmgr.ProofFound:
		writeJSON(w, http.StatusOK, newProofResponse(result))
	case batchmgr.ProofPending:
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
	default:
		writeJSONError(w, kindNotFound, "no batch contains this fingerprint")
	}
}

// proofStepWire renders a merkle.ProofStep the way §6 documents it: a
// lowercase-hex sibling and side as "L"/"R" rather than the domain
// type's numeric byte array and bool.
type proofStepWire struct {
	Sibling string `json:"sibling"`
	Side    string `json:"side"`
}

// proofResponse is the §6 wire shape for a found proof:
// { batch_id, merkle_root, proof: [{sibling, side}] }.
type proofResponse struct {
	BatchID    uint64          `json:"batch_id"`
	MerkleRoot string          `json:"merkle_root"`
	Proof      []proofStepWire `json:"proof"`
}

func newProofResponse(result *batchmgr.ProofResult) proofResponse {
	steps := make([]proofStepWire, len(result.Proof))
	for i, step := range result.Proof {
		side := "L"
		if step.Side == merkle.Right {
			side = "R"
		}
		steps[i] = proofStepWire{Sibling: hex.EncodeToString(step.Sibling[:]), Side: side}
	}
	return proofResponse{
		BatchID:    result.BatchID,
		MerkleRoot: hex.EncodeToString(result.MerkleRoot[:]),
		Proof:      steps,
	}
}

// handleAnchors implements GET /v1/anchors/:hash: report the cross-network
// and external-anchor receipts for the batch that committed a fingerprint.
func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/v1/anchors/")
	fingerprint, err := attestation.FingerprintFromHex(hash)
	if err != nil {
		writeJSONError(w, kindBadRequest, err.Error())
		return
	}

	batch, err := s.store.GetBatchContaining(r.Context(), s.networkID, fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// handleConfig implements GET /v1/config: expose the network's public
// topology so clients and peer gateways can discover witnesses, the
// signature scheme, and threshold without an out-of-band document.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.topology)
}

type federationAnchorRequest struct {
	NetworkID  string `json:"network_id"`
	BatchID    uint64 `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	ClosedAt   int64  `json:"closed_at"`
}

// handleFederationAnchor implements POST /v1/federation/anchor: a peer
// network's closed-batch merkle root is treated as an ordinary fingerprint
// and timestamped through this network's own quorum pipeline, per
// spec.md's cross-anchoring design.
func (s *Server) handleFederationAnchor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, kindBadRequest, "method not allowed")
		return
	}

	var req federationAnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, kindBadRequest, "malformed request body")
		return
	}
	rootBytes, err := hex.DecodeString(req.MerkleRoot)
	if err != nil {
		writeJSONError(w, kindBadRequest, "malformed merkle_root")
		return
	}
	fingerprint, err := attestation.FingerprintFromBytes(rootBytes)
	if err != nil {
		writeJSONError(w, kindBadRequest, err.Error())
		return
	}

	signed, err := s.aggregator.Timestamp(r.Context(), fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "network_id": s.networkID})
}
