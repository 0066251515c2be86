// Copyright 2025 Witness Protocol
//
// Package federation implements cross-network anchoring (C7): once a
// network's batch manager closes a batch, its merkle root is submitted
// to every configured peer network's POST /v1/federation/anchor, where
// it is treated as an ordinary fingerprint and timestamped through the
// peer's own quorum pipeline. Missing cross-anchors are tolerated, never
// fatal — this package only ever logs and retries, it never blocks a
// network's own timestamping path. Modeled on the teacher's
// HTTPPeerManager (pkg/batch/peer_manager.go): a bounded HTTP client
// broadcasting to a configured peer list, with per-peer liveness
// tracking and retry.

package federation

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/store"
)

const (
	DefaultPeerTimeout     = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultMaxOutstanding  = 32
	DefaultRetryBaseDelay  = 500 * time.Millisecond
)

// PeerConfig describes one peer network reachable for cross-anchoring.
type PeerConfig struct {
	NetworkID string
	Endpoint  string // base URL, e.g. "http://witness-testnet:8080"
}

// Config configures an Anchorer's retry and concurrency bounds.
type Config struct {
	// Peers maps a local network id to the list of peer networks it
	// cross-anchors into.
	Peers          map[string][]PeerConfig
	PeerTimeout    time.Duration
	MaxRetries     int
	MaxOutstanding int
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PeerTimeout == 0 {
		c.PeerTimeout = DefaultPeerTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxOutstanding == 0 {
		c.MaxOutstanding = DefaultMaxOutstanding
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return c
}

// anchorRequestBody is the POST /v1/federation/anchor payload.
type anchorRequestBody struct {
	NetworkID  string `json:"network_id"`
	BatchID    uint64 `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	ClosedAt   int64  `json:"closed_at"`
}

// Anchorer submits closed batches to every configured peer network. It
// satisfies batchmgr.Anchorer.
type Anchorer struct {
	cfg        Config
	store      store.Store
	httpClient *http.Client
	logger     *log.Logger
	sem        chan struct{}
}

// New constructs an Anchorer.
func New(cfg Config, st store.Store, logger *log.Logger) *Anchorer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[Federation] ", log.LstdFlags)
	}
	return &Anchorer{
		cfg:        cfg,
		store:      st,
		httpClient: &http.Client{Timeout: cfg.PeerTimeout},
		logger:     logger,
		sem:        make(chan struct{}, cfg.MaxOutstanding),
	}
}

// AnchorBatch submits batch's merkle root to every peer network configured
// for batch.NetworkID, in parallel, each bounded by MaxOutstanding total
// in-flight submissions across the whole Anchorer. Failures are logged
// and never returned — a missing cross-anchor is tolerated per policy.
func (a *Anchorer) AnchorBatch(ctx context.Context, batch store.Batch) {
	peers := a.cfg.Peers[batch.NetworkID]
	if len(peers) == 0 {
		return
	}

	for _, peer := range peers {
		peer := peer
		select {
		case a.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-a.sem }()
			a.submitWithRetry(ctx, peer, batch)
		}()
	}
}

func (a *Anchorer) submitWithRetry(ctx context.Context, peer PeerConfig, batch store.Batch) {
	delay := a.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
			delay *= 2
		}

		signed, err := a.submitOnce(ctx, peer, batch)
		if err == nil {
			a.persist(ctx, batch, peer, signed)
			return
		}
		lastErr = err
		a.logger.Printf("anchor to peer %s attempt %d/%d failed: %v", peer.NetworkID, attempt+1, a.cfg.MaxRetries+1, err)
	}
	a.logger.Printf("anchor to peer %s abandoned for batch %d/%s after %d attempts: %v",
		peer.NetworkID, batch.BatchID, batch.NetworkID, a.cfg.MaxRetries+1, lastErr)
}

func (a *Anchorer) submitOnce(ctx context.Context, peer PeerConfig, batch store.Batch) (*attestation.SignedAttestation, error) {
	body := anchorRequestBody{
		NetworkID:  batch.NetworkID,
		BatchID:    batch.BatchID,
		MerkleRoot: hex.EncodeToString(batch.MerkleRoot[:]),
		ClosedAt:   batch.ClosedAt,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("federation: marshal anchor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.Endpoint+"/v1/federation/anchor", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("federation: build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federation: peer %s unreachable: %w", peer.NetworkID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("federation: peer %s returned %d: %s", peer.NetworkID, resp.StatusCode, string(msg))
	}

	var signed attestation.SignedAttestation
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return nil, fmt.Errorf("federation: decode peer %s response: %w", peer.NetworkID, err)
	}
	return &signed, nil
}

func (a *Anchorer) persist(ctx context.Context, batch store.Batch, peer PeerConfig, signed *attestation.SignedAttestation) {
	anchor := store.CrossAnchor{PeerNetworkID: peer.NetworkID, Signed: *signed}
	if err := a.store.AppendCrossAnchor(ctx, batch.NetworkID, batch.BatchID, anchor); err != nil {
		a.logger.Printf("persist cross anchor from peer %s for batch %d/%s failed: %v",
			peer.NetworkID, batch.BatchID, batch.NetworkID, err)
		return
	}
	a.logger.Printf("anchored batch %d/%s into peer %s at sequence %d",
		batch.BatchID, batch.NetworkID, peer.NetworkID, signed.Attestation.Sequence)
}
