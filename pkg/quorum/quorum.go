// Copyright 2025 Witness Protocol
//
// Package quorum implements the aggregator (C5): the core state machine
// that turns a client's timestamp request into a threshold-signed
// attestation. Per request: dedup probe, sequence allocation, parallel
// fan-out to witnesses, threshold collection with tie-breaking, bundle
// assembly, and persist+emit — all under a per-fingerprint shard lock.

package quorum

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/signing/bls"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
	"github.com/witnessnet/witness/pkg/store"
)

const (
	DefaultWitnessTimeout = 2 * time.Second
	DefaultTotalTimeout   = 5 * time.Second
	shardCount            = 256
)

var ErrInsufficientSignatures = errors.New("quorum: insufficient signatures before deadline")

// Config is the network-level configuration a network's Aggregator is
// built from: its signature scheme, threshold, and the ordered witness
// set (order matters for BLS's signer list, per spec).
type Config struct {
	NetworkID      string
	Scheme         signing.Scheme
	Threshold      int
	Witnesses      []WitnessConfig
	WitnessTimeout time.Duration
	TotalTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.WitnessTimeout == 0 {
		c.WitnessTimeout = DefaultWitnessTimeout
	}
	if c.TotalTimeout == 0 {
		c.TotalTimeout = DefaultTotalTimeout
	}
	return c
}

// BatchAppender receives each newly committed fingerprint, with its
// network id, for that network's current open batch (C6 consumes this).
type BatchAppender interface {
	Append(networkID string, fingerprint [attestation.FingerprintSize]byte)
}

// Aggregator is the C5 state machine for a single network.
type Aggregator struct {
	cfg      Config
	store    store.Store
	batch    BatchAppender
	logger   *log.Logger
	verifier verifier
	clients  map[string]*WitnessClient

	shardLocks [shardCount]sync.Mutex
}

// verifier is the subset of signing.Verifier/signing.Aggregator this
// package needs, satisfied by ed25519sig.Verifier and bls.Verifier.
type verifier interface {
	Verify(publicKey, signature, message []byte) bool
}

// aggregatingVerifier additionally supports BLS-style aggregation.
type aggregatingVerifier interface {
	verifier
	AggregateSignatures(signatures [][]byte) ([]byte, error)
}

// New constructs an Aggregator for one network.
func New(cfg Config, st store.Store, batch BatchAppender, logger *log.Logger) (*Aggregator, error) {
	cfg = cfg.withDefaults()
	if cfg.Threshold < 1 || cfg.Threshold > len(cfg.Witnesses) {
		return nil, fmt.Errorf("quorum: threshold %d invalid for %d witnesses", cfg.Threshold, len(cfg.Witnesses))
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Quorum] ", log.LstdFlags)
	}

	var v verifier
	switch cfg.Scheme {
	case signing.Ed25519:
		v = ed25519sig.NewVerifier()
	case signing.BLS:
		v = bls.NewVerifier()
	default:
		return nil, fmt.Errorf("%w: %q", signing.ErrUnknownScheme, cfg.Scheme)
	}

	clients := make(map[string]*WitnessClient, len(cfg.Witnesses))
	for _, w := range cfg.Witnesses {
		clients[w.WitnessID] = NewWitnessClient(w, cfg.WitnessTimeout)
	}

	return &Aggregator{cfg: cfg, store: st, batch: batch, logger: logger, verifier: v, clients: clients}, nil
}

func (a *Aggregator) shardLock(fingerprint [attestation.FingerprintSize]byte) *sync.Mutex {
	return &a.shardLocks[fingerprint[0]]
}

type witnessResult struct {
	witnessID string
	signature []byte
}

// Timestamp runs the full C5 state machine for fingerprint, returning the
// committed SignedAttestation or ErrInsufficientSignatures.
func (a *Aggregator) Timestamp(ctx context.Context, fingerprint [attestation.FingerprintSize]byte) (*attestation.SignedAttestation, error) {
	lock := a.shardLock(fingerprint)
	lock.Lock()
	defer lock.Unlock()

	// 1. Dedup probe.
	if existing, err := a.store.GetAttestation(ctx, fingerprint); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("quorum: dedup probe: %w", err)
	}

	// 2. Allocation.
	latest, err := a.store.LatestSeq(ctx, a.cfg.NetworkID)
	if err != nil {
		return nil, fmt.Errorf("quorum: latest seq: %w", err)
	}
	sequence := latest + 1
	timestamp := attestation.Now()

	att, err := attestation.New(fingerprint, timestamp, a.cfg.NetworkID, sequence)
	if err != nil {
		return nil, fmt.Errorf("quorum: build attestation: %w", err)
	}
	payload, err := att.Encode()
	if err != nil {
		return nil, fmt.Errorf("quorum: encode attestation: %w", err)
	}

	// 3-4. Fan-out and threshold collection.
	results, err := a.collect(ctx, att, payload)
	if err != nil {
		return nil, err
	}

	// 5. Assembly.
	signed, err := a.assemble(*att, results)
	if err != nil {
		return nil, fmt.Errorf("quorum: assemble bundle: %w", err)
	}

	// 6. Persist and emit.
	stored, inserted, err := a.store.PutAttestationIfAbsent(ctx, fingerprint, *signed, sequence)
	if err != nil {
		return nil, fmt.Errorf("quorum: persist: %w", err)
	}
	if inserted {
		a.batch.Append(a.cfg.NetworkID, fingerprint)
		a.logger.Printf("timestamped fingerprint=%x sequence=%d signers=%d", fingerprint, sequence, stored.Signatures.SignerCount())
	}
	return stored, nil
}

// collect fans the sign request out to every configured witness with a
// per-request deadline, verifies each returned signature, and returns as
// soon as threshold distinct valid signatures are held (or fails when the
// overall deadline elapses first).
func (a *Aggregator) collect(ctx context.Context, att *attestation.Attestation, payload []byte) ([]witnessResult, error) {
	totalCtx, cancel := context.WithTimeout(ctx, a.cfg.TotalTimeout)
	defer cancel()

	resultCh := make(chan witnessResult, len(a.cfg.Witnesses))
	for _, w := range a.cfg.Witnesses {
		w := w
		client := a.clients[w.WitnessID]
		go func() {
			sig, err := client.Sign(totalCtx, att)
			if err != nil {
				a.logger.Printf("witness %s failed: %v", w.WitnessID, err)
				return
			}
			if !a.verifier.Verify(w.PublicKey, sig, payload) {
				a.logger.Printf("witness %s returned invalid signature", w.WitnessID)
				return
			}
			select {
			case resultCh <- witnessResult{witnessID: w.WitnessID, signature: sig}:
			case <-totalCtx.Done():
			}
		}()
	}

	valid := make(map[string][]byte)
	for {
		select {
		case r := <-resultCh:
			valid[r.witnessID] = r.signature
			if len(valid) >= a.cfg.Threshold {
				cancel() // stop outstanding in-flight requests
				return selectThreshold(valid, a.cfg.Threshold), nil
			}
		case <-totalCtx.Done():
			return nil, fmt.Errorf("%w: got %d of %d required", ErrInsufficientSignatures, len(valid), a.cfg.Threshold)
		}
	}
}

// selectThreshold retains the lexicographically smallest `threshold`
// witness_ids when more than threshold valid signatures arrived in a
// burst, for reproducibility across retries.
func selectThreshold(valid map[string][]byte, threshold int) []witnessResult {
	ids := make([]string, 0, len(valid))
	for id := range valid {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > threshold {
		ids = ids[:threshold]
	}

	out := make([]witnessResult, len(ids))
	for i, id := range ids {
		out[i] = witnessResult{witnessID: id, signature: valid[id]}
	}
	return out
}

// assemble builds the SignatureBundle per scheme: MultiSig for Ed25519,
// a single aggregate for BLS with signers enumerated in configuration
// order (not lexicographic order, which is only used for tie-breaking
// selection).
func (a *Aggregator) assemble(att attestation.Attestation, results []witnessResult) (*attestation.SignedAttestation, error) {
	switch a.cfg.Scheme {
	case signing.Ed25519:
		sigs := make([]attestation.WitnessSignature, len(results))
		for i, r := range results {
			sigs[i] = attestation.WitnessSignature{WitnessID: r.witnessID, Signature: fmt.Sprintf("%x", r.signature)}
		}
		bundle, err := attestation.NewMultiSigBundle(sigs)
		if err != nil {
			return nil, err
		}
		return &attestation.SignedAttestation{Attestation: att, Signatures: *bundle}, nil

	case signing.BLS:
		agg, ok := a.verifier.(aggregatingVerifier)
		if !ok {
			return nil, signing.ErrAggregationUnsup
		}

		selected := make(map[string][]byte, len(results))
		for _, r := range results {
			selected[r.witnessID] = r.signature
		}

		sigBytes := make([][]byte, 0, len(results))
		signers := make([]string, 0, len(results))
		for _, w := range a.cfg.Witnesses {
			if sig, ok := selected[w.WitnessID]; ok {
				sigBytes = append(sigBytes, sig)
				signers = append(signers, w.WitnessID)
			}
		}

		aggregated, err := agg.AggregateSignatures(sigBytes)
		if err != nil {
			return nil, fmt.Errorf("aggregate signatures: %w", err)
		}

		bundle, err := attestation.NewAggregatedBundle(aggregated, signers)
		if err != nil {
			return nil, err
		}
		return &attestation.SignedAttestation{Attestation: att, Signatures: *bundle}, nil

	default:
		return nil, fmt.Errorf("%w: %q", signing.ErrUnknownScheme, a.cfg.Scheme)
	}
}
