// Copyright 2025 Witness Protocol
//
// HTTP client for the witness signer's POST /v1/sign endpoint. Modeled on
// the teacher's HTTPPeerManager (pkg/batch/peer_manager.go), adapted from
// a peer-voting-power broadcaster into a single-purpose sign-request client.

package quorum

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/witnessnet/witness/pkg/attestation"
)

// WitnessConfig describes one configured witness: its identity, public
// key, and where to reach it.
type WitnessConfig struct {
	WitnessID string
	PublicKey []byte
	Endpoint  string // base URL, e.g. "http://witness-1:8090"
}

type signRequestBody struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	NetworkID string `json:"network_id"`
	Sequence  uint64 `json:"sequence"`
}

type signResponseBody struct {
	WitnessID string `json:"witness_id"`
	Signature string `json:"signature"`
}

// WitnessClient issues signing requests to a single witness over HTTP.
type WitnessClient struct {
	cfg        WitnessConfig
	httpClient *http.Client
}

// NewWitnessClient builds a client for cfg with the given per-request
// timeout (T_witness).
func NewWitnessClient(cfg WitnessConfig, timeout time.Duration) *WitnessClient {
	return &WitnessClient{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Sign calls POST /v1/sign on the witness and returns its raw signature
// bytes. The caller is responsible for verifying the signature against
// cfg.PublicKey.
func (c *WitnessClient) Sign(ctx context.Context, att *attestation.Attestation) ([]byte, error) {
	body := signRequestBody{
		Hash:      att.Hex(),
		Timestamp: att.Timestamp,
		NetworkID: att.NetworkID,
		Sequence:  att.Sequence,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("quorum: marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/sign", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("quorum: build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quorum: witness %s unreachable: %w", c.cfg.WitnessID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quorum: witness %s returned %d: %s", c.cfg.WitnessID, resp.StatusCode, string(msg))
	}

	var out signResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("quorum: decode witness response: %w", err)
	}
	if out.WitnessID != c.cfg.WitnessID {
		return nil, fmt.Errorf("quorum: witness identity mismatch: got %q, want %q", out.WitnessID, c.cfg.WitnessID)
	}

	sig, err := hex.DecodeString(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("quorum: decode signature hex: %w", err)
	}
	return sig, nil
}
