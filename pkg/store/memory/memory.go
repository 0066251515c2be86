// Copyright 2025 Witness Protocol
//
// Package memory is an in-memory store.Store implementation, used by
// tests and single-process deployments. Modeled on the teacher's
// MemoryKV pattern: a single sync.RWMutex guarding plain Go maps.

package memory

import (
	"context"
	"sync"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/store"
)

type batchKey struct {
	networkID string
	batchID   uint64
}

// Store is a sync.RWMutex-guarded implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	attestations   map[[attestation.FingerprintSize]byte]attestation.SignedAttestation
	seqByNetwork   map[string]uint64
	batches        map[batchKey]*store.Batch
	memberIndex    map[string]map[[attestation.FingerprintSize]byte]uint64 // networkID -> fingerprint -> batchID
	highestBatchID map[string]uint64

	subscribers map[chan<- store.Event]struct{}
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		attestations:   make(map[[attestation.FingerprintSize]byte]attestation.SignedAttestation),
		seqByNetwork:   make(map[string]uint64),
		batches:        make(map[batchKey]*store.Batch),
		memberIndex:    make(map[string]map[[attestation.FingerprintSize]byte]uint64),
		highestBatchID: make(map[string]uint64),
		subscribers:    make(map[chan<- store.Event]struct{}),
	}
}

func (s *Store) GetAttestation(ctx context.Context, fingerprint [attestation.FingerprintSize]byte) (*attestation.SignedAttestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sa, ok := s.attestations[fingerprint]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sa, nil
}

func (s *Store) PutAttestationIfAbsent(ctx context.Context, fingerprint [attestation.FingerprintSize]byte, signed attestation.SignedAttestation, nextSeqAfter uint64) (*attestation.SignedAttestation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.attestations[fingerprint]; ok {
		return &existing, false, nil
	}

	s.attestations[fingerprint] = signed
	s.seqByNetwork[signed.Attestation.NetworkID] = nextSeqAfter

	s.publishLocked(store.Event{Fingerprint: fingerprint, Signed: signed})

	return &signed, true, nil
}

func (s *Store) LatestSeq(ctx context.Context, networkID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seqByNetwork[networkID], nil
}

func (s *Store) PutBatch(ctx context.Context, batch store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey{networkID: batch.NetworkID, batchID: batch.BatchID}
	stored := batch
	s.batches[key] = &stored

	idx, ok := s.memberIndex[batch.NetworkID]
	if !ok {
		idx = make(map[[attestation.FingerprintSize]byte]uint64)
		s.memberIndex[batch.NetworkID] = idx
	}
	for _, m := range batch.Members {
		idx[m] = batch.BatchID
	}

	if batch.BatchID > s.highestBatchID[batch.NetworkID] {
		s.highestBatchID[batch.NetworkID] = batch.BatchID
	}
	return nil
}

func (s *Store) LatestBatchID(ctx context.Context, networkID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestBatchID[networkID], nil
}

func (s *Store) GetBatch(ctx context.Context, networkID string, batchID uint64) (*store.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchKey{networkID: networkID, batchID: batchID}]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *Store) GetBatchContaining(ctx context.Context, networkID string, fingerprint [attestation.FingerprintSize]byte) (*store.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.memberIndex[networkID]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	batchID, ok := idx[fingerprint]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	b := s.batches[batchKey{networkID: networkID, batchID: batchID}]
	copied := *b
	return &copied, nil
}

func (s *Store) AppendCrossAnchor(ctx context.Context, networkID string, batchID uint64, anchor store.CrossAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchKey{networkID: networkID, batchID: batchID}]
	if !ok {
		return store.ErrBatchNotFound
	}
	for _, existing := range b.CrossAnchors {
		if existing.PeerNetworkID == anchor.PeerNetworkID {
			return nil // idempotent
		}
	}
	b.CrossAnchors = append(b.CrossAnchors, anchor)
	return nil
}

func (s *Store) AppendExternalAnchorReceipt(ctx context.Context, networkID string, batchID uint64, receipt store.ExternalAnchorReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchKey{networkID: networkID, batchID: batchID}]
	if !ok {
		return store.ErrBatchNotFound
	}
	for _, existing := range b.ExternalAnchors {
		if existing.Provider == receipt.Provider {
			return nil // idempotent
		}
	}
	b.ExternalAnchors = append(b.ExternalAnchors, receipt)
	return nil
}

func (s *Store) Subscribe(ch chan<- store.Event) func() {
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

// publishLocked fans out ev to subscribers without blocking on a slow
// reader; callers must hold s.mu.
func (s *Store) publishLocked(ev store.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
