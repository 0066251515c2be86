// Copyright 2025 Witness Protocol
//
// Package batchmgr implements the per-network batch manager (C6): an
// OPEN/CLOSED state machine that accumulates timestamped fingerprints,
// periodically (or on explicit flush) snapshots and closes the open
// batch into a Merkle-rooted store.Batch, and reopens a fresh one.
// Modeled on the teacher's batch Collector/Scheduler pair (pkg/batch):
// an in-memory active batch guarded by a mutex, with a background
// ticker triggering periodic closes.

package batchmgr

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/merkle"
	"github.com/witnessnet/witness/pkg/store"
)

const DefaultPeriod = 60 * time.Second

var ErrUnknownNetwork = errors.New("batchmgr: unknown network")

// ProofStatus is the outcome of a Proof lookup.
type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofNotFound ProofStatus = "not_found"
	ProofFound    ProofStatus = "found"
)

// ProofResult carries a fingerprint's batch-inclusion state.
type ProofResult struct {
	Status     ProofStatus
	BatchID    uint64
	MerkleRoot [32]byte
	Proof      []merkle.ProofStep
}

// Anchorer is C7: invoked with a freshly closed batch so its merkle root
// can be submitted to peer networks. Invoked without the network's lock
// held, so a slow or unreachable peer never stalls new timestamps.
type Anchorer interface {
	AnchorBatch(ctx context.Context, batch store.Batch)
}

// NetworkConfig configures one network's batch cadence.
type NetworkConfig struct {
	NetworkID string
	Period    time.Duration
}

func (c NetworkConfig) withDefaults() NetworkConfig {
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	return c
}

// openBatch is the in-memory state of a network's currently accumulating
// batch, mirroring the teacher's activeBatch.
type openBatch struct {
	batchID  uint64
	openedAt time.Time
	members  [][attestation.FingerprintSize]byte
}

// networkState is one network's full batch-manager state: its lock, its
// open batch, and its cadence.
type networkState struct {
	mu     sync.Mutex
	cfg    NetworkConfig
	open   *openBatch
	stopCh chan struct{}
}

// Manager runs one independent batch state machine per configured network.
type Manager struct {
	store    store.Store
	anchorer Anchorer
	logger   *log.Logger

	mu       sync.RWMutex
	networks map[string]*networkState

	wg sync.WaitGroup
}

// New constructs a Manager. Call Start for each configured network once
// store access is ready (it loads the highest persisted batch id and
// opens the next one); call Stop to halt all tickers. Stop does not flush
// the open batches.
func New(st store.Store, anchorer Anchorer, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[BatchManager] ", log.LstdFlags)
	}
	return &Manager{store: st, anchorer: anchorer, logger: logger, networks: make(map[string]*networkState)}
}

// Start opens (or resumes) networkID's batch and launches its periodic
// flush loop. ctx cancellation stops the loop.
func (m *Manager) Start(ctx context.Context, cfg NetworkConfig) error {
	cfg = cfg.withDefaults()

	highest, err := m.store.LatestBatchID(ctx, cfg.NetworkID)
	if err != nil {
		return fmt.Errorf("batchmgr: load latest batch id for %s: %w", cfg.NetworkID, err)
	}

	ns := &networkState{
		cfg:    cfg,
		open:   &openBatch{batchID: highest + 1, openedAt: time.Now()},
		stopCh: make(chan struct{}),
	}

	m.mu.Lock()
	m.networks[cfg.NetworkID] = ns
	m.mu.Unlock()

	m.logger.Printf("opened batch %d for network %s (period=%s)", ns.open.batchID, cfg.NetworkID, cfg.Period)

	m.wg.Add(1)
	go m.run(ctx, ns)
	return nil
}

// Stop halts every network's flush loop and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	for _, ns := range m.networks {
		close(ns.stopCh)
	}
	m.mu.RUnlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, ns *networkState) {
	defer m.wg.Done()

	ticker := time.NewTicker(ns.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ns.stopCh:
			return
		case <-ticker.C:
			if _, err := m.closeAndReopen(ctx, ns); err != nil {
				m.logger.Printf("periodic flush of network %s failed: %v", ns.cfg.NetworkID, err)
			}
		}
	}
}

// Append adds fingerprint to networkID's currently open batch. Implements
// quorum.BatchAppender.
func (m *Manager) Append(networkID string, fingerprint [attestation.FingerprintSize]byte) {
	ns, ok := m.network(networkID)
	if !ok {
		m.logger.Printf("append to unknown network %s dropped", networkID)
		return
	}

	ns.mu.Lock()
	ns.open.members = append(ns.open.members, fingerprint)
	m.logger.Printf("appended fingerprint=%x to open batch %d (network=%s, size=%d)",
		fingerprint, ns.open.batchID, networkID, len(ns.open.members))
	ns.mu.Unlock()
}

// Flush explicitly closes networkID's open batch (if non-empty) and opens
// a fresh one, returning the closed batch. A nil result with no error
// means there was nothing to flush.
func (m *Manager) Flush(ctx context.Context, networkID string) (*store.Batch, error) {
	ns, ok := m.network(networkID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, networkID)
	}
	return m.closeAndReopen(ctx, ns)
}

// closeAndReopen atomically snapshots the open batch, computes its Merkle
// root, persists it, and opens a fresh batch — all before releasing the
// network lock. The anchorer is invoked afterward, outside the lock.
func (m *Manager) closeAndReopen(ctx context.Context, ns *networkState) (*store.Batch, error) {
	ns.mu.Lock()
	current := ns.open
	if len(current.members) == 0 {
		ns.mu.Unlock()
		return nil, nil // no empty batches written
	}

	tree, err := merkle.Build(current.members)
	if err != nil {
		ns.mu.Unlock()
		return nil, fmt.Errorf("batchmgr: build merkle tree: %w", err)
	}

	closed := store.Batch{
		BatchID:    current.batchID,
		NetworkID:  ns.cfg.NetworkID,
		OpenedAt:   current.openedAt.Unix(),
		ClosedAt:   time.Now().Unix(),
		MerkleRoot: tree.Root(),
		Members:    current.members,
	}

	if err := m.store.PutBatch(ctx, closed); err != nil {
		ns.mu.Unlock()
		return nil, fmt.Errorf("batchmgr: persist batch %d: %w", closed.BatchID, err)
	}

	ns.open = &openBatch{batchID: current.batchID + 1, openedAt: time.Now()}
	ns.mu.Unlock()

	m.logger.Printf("closed batch %d for network %s (members=%d, root=%x)",
		closed.BatchID, closed.NetworkID, len(closed.Members), closed.MerkleRoot)

	if m.anchorer != nil {
		go m.anchorer.AnchorBatch(ctx, closed)
	}

	return &closed, nil
}

// Proof reports the inclusion status of fingerprint within networkID: it
// may still be sitting in the open (unflushed) batch, already closed with
// a Merkle proof, or entirely unknown.
func (m *Manager) Proof(ctx context.Context, networkID string, fingerprint [attestation.FingerprintSize]byte) (*ProofResult, error) {
	if ns, ok := m.network(networkID); ok {
		ns.mu.Lock()
		for _, member := range ns.open.members {
			if member == fingerprint {
				ns.mu.Unlock()
				return &ProofResult{Status: ProofPending}, nil
			}
		}
		ns.mu.Unlock()
	}

	batch, err := m.store.GetBatchContaining(ctx, networkID, fingerprint)
	if errors.Is(err, store.ErrBatchNotFound) {
		return &ProofResult{Status: ProofNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("batchmgr: lookup batch containing fingerprint: %w", err)
	}

	tree, err := merkle.Build(batch.Members)
	if err != nil {
		return nil, fmt.Errorf("batchmgr: rebuild merkle tree: %w", err)
	}
	steps, _, err := tree.ProofFor(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("batchmgr: generate proof: %w", err)
	}

	return &ProofResult{
		Status:     ProofFound,
		BatchID:    batch.BatchID,
		MerkleRoot: batch.MerkleRoot,
		Proof:      steps,
	}, nil
}

func (m *Manager) network(networkID string) (*networkState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.networks[networkID]
	return ns, ok
}
