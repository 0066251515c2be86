// Copyright 2025 Witness Protocol
//
// Package store defines the persistence contract (C8): a transactional
// mapping from fingerprint to signed attestation, and from batch id to
// {root, members, cross-anchors}, mediating all cross-task contention on
// "has this fingerprint been timestamped".

package store

import (
	"context"
	"errors"
	"time"

	"github.com/witnessnet/witness/pkg/attestation"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrBatchNotFound = errors.New("store: batch not found")
)

// CrossAnchor is a peer network's signed attestation over this network's
// merkle_root, bound to the batch that produced the root.
type CrossAnchor struct {
	PeerNetworkID string                        `json:"peer_network_id"`
	PeerBatchID   *uint64                        `json:"peer_batch_id,omitempty"`
	Signed        attestation.SignedAttestation `json:"signed_attestation_over_merkle_root"`
}

// ExternalAnchorReceipt is an external anchor provider's opaque
// acknowledgement for a closed batch, stored alongside its cross-anchors.
type ExternalAnchorReceipt struct {
	Provider string `json:"provider"`
	Opaque   []byte `json:"opaque"`
}

// Batch is a closed batch record: the ordered members whose attestations
// were persisted between opened_at and closed_at, and the merkle root
// derived from them.
type Batch struct {
	BatchID         uint64                               `json:"batch_id"`
	NetworkID       string                               `json:"network_id"`
	OpenedAt        int64                                `json:"opened_at"`
	ClosedAt        int64                                `json:"closed_at"`
	MerkleRoot      [32]byte                             `json:"-"`
	Members         [][attestation.FingerprintSize]byte  `json:"-"`
	CrossAnchors    []CrossAnchor                        `json:"cross_anchors"`
	ExternalAnchors []ExternalAnchorReceipt              `json:"external_anchors"`
}

// Event is published on every successful persisted attestation, feeding
// the /ws/events real-time subscription stream.
type Event struct {
	Fingerprint [attestation.FingerprintSize]byte
	Signed      attestation.SignedAttestation
	At          time.Time
}

// Store is the C8 contract. Implementations (memory, postgres) must make
// get/put-if-absent atomic per fingerprint and advance the per-network
// sequence counter under the same logical transaction.
type Store interface {
	// GetAttestation returns the signed attestation for fingerprint, or
	// ErrNotFound.
	GetAttestation(ctx context.Context, fingerprint [attestation.FingerprintSize]byte) (*attestation.SignedAttestation, error)

	// PutAttestationIfAbsent inserts signed keyed by its fingerprint and
	// advances the network's sequence counter to nextSeqAfter. If a
	// record for the fingerprint already exists, the existing record is
	// returned unchanged and the counter is left untouched (idempotent
	// dedup).
	PutAttestationIfAbsent(ctx context.Context, fingerprint [attestation.FingerprintSize]byte, signed attestation.SignedAttestation, nextSeqAfter uint64) (stored *attestation.SignedAttestation, inserted bool, err error)

	// LatestSeq returns the current sequence counter value for networkID
	// (0 if the network has never had an attestation persisted).
	LatestSeq(ctx context.Context, networkID string) (uint64, error)

	// PutBatch inserts a closed batch atomically with its members.
	PutBatch(ctx context.Context, batch Batch) error

	// GetBatch looks up a closed batch by (networkID, batchID).
	GetBatch(ctx context.Context, networkID string, batchID uint64) (*Batch, error)

	// GetBatchContaining finds the closed batch, if any, that counts
	// fingerprint among its members.
	GetBatchContaining(ctx context.Context, networkID string, fingerprint [attestation.FingerprintSize]byte) (*Batch, error)

	// LatestBatchID returns the highest persisted batch id for networkID
	// (0 if no batch has ever been closed), letting the batch manager
	// resume numbering after a restart.
	LatestBatchID(ctx context.Context, networkID string) (uint64, error)

	// AppendCrossAnchor idempotently appends a cross-anchor to the batch
	// keyed by (batchID, peerNetworkID).
	AppendCrossAnchor(ctx context.Context, networkID string, batchID uint64, anchor CrossAnchor) error

	// AppendExternalAnchorReceipt idempotently appends an external anchor
	// provider's receipt to the batch, keyed by (batchID, provider).
	AppendExternalAnchorReceipt(ctx context.Context, networkID string, batchID uint64, receipt ExternalAnchorReceipt) error

	// Subscribe registers a channel that receives every freshly persisted
	// attestation event. The returned function unregisters it.
	Subscribe(ch chan<- Event) (unsubscribe func())
}
