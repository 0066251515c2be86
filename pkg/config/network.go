// Copyright 2025 Witness Protocol
//
// Network topology (witnesses, threshold, scheme, federation peers,
// external anchors) is operator-authored, static per deployment, and
// loaded once at startup — a natural fit for a plain JSON document read
// with encoding/json, per spec.md §6 ("Network config file... Stored as
// JSON").

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// WitnessTopology describes one witness as it appears in the network
// config file: where to reach it and which public key to verify its
// signatures against.
type WitnessTopology struct {
	WitnessID string `json:"witness_id"`
	Endpoint  string `json:"endpoint"`
	PublicKey string `json:"public_key"` // hex
}

// PeerTopology describes one federation peer network.
type PeerTopology struct {
	NetworkID string `json:"network_id"`
	Endpoint  string `json:"endpoint"`
}

// ExternalAnchorTopology names an external anchor provider configured for
// this network. Providers themselves are pluggable (pkg/extanchor); this
// is purely the operator's declaration of which ones are wired in.
type ExternalAnchorTopology struct {
	Provider string `json:"provider"`
}

// NetworkTopology is the full network config document: spec.md §6's
// `(network_id, signature_scheme, threshold k, witnesses, federation?,
// external_anchors?)` tuple.
type NetworkTopology struct {
	NetworkID        string                   `json:"network_id"`
	SignatureScheme  string                   `json:"signature_scheme"`
	Threshold        int                      `json:"threshold"`
	Witnesses        []WitnessTopology        `json:"witnesses"`
	FederationPeers  []PeerTopology           `json:"federation_peers,omitempty"`
	ExternalAnchors  []ExternalAnchorTopology `json:"external_anchors,omitempty"`
	BatchPeriodSecs  int                      `json:"batch_period_seconds,omitempty"`
}

// LoadNetwork reads and validates a network topology document from path.
func LoadNetwork(path string) (*NetworkTopology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read network config %s: %w", path, err)
	}

	var topo NetworkTopology
	if err := json.Unmarshal(raw, &topo); err != nil {
		return nil, fmt.Errorf("config: parse network config %s: %w", path, err)
	}

	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("config: network config %s: %w", path, err)
	}
	return &topo, nil
}

// Validate checks the invariants spec.md §3 names: `1 ≤ k ≤ N`, a known
// signature scheme, and at least one witness.
func (t *NetworkTopology) Validate() error {
	if t.NetworkID == "" {
		return fmt.Errorf("network_id is required")
	}
	if t.SignatureScheme != "ed25519" && t.SignatureScheme != "bls" {
		return fmt.Errorf("signature_scheme %q is not one of ed25519, bls", t.SignatureScheme)
	}
	n := len(t.Witnesses)
	if n == 0 {
		return fmt.Errorf("at least one witness is required")
	}
	if t.Threshold < 1 || t.Threshold > n {
		return fmt.Errorf("threshold %d must satisfy 1 <= k <= %d", t.Threshold, n)
	}
	seen := make(map[string]struct{}, n)
	for _, w := range t.Witnesses {
		if w.WitnessID == "" {
			return fmt.Errorf("witness with empty witness_id")
		}
		if _, dup := seen[w.WitnessID]; dup {
			return fmt.Errorf("duplicate witness_id %q", w.WitnessID)
		}
		seen[w.WitnessID] = struct{}{}
	}
	return nil
}
