// Copyright 2025 Witness Protocol
//
// Package extanchor specifies the abstract contract for external anchor
// providers (Internet Archive, DNS TXT, CT-log, public-blockchain RPC):
// third-party systems a closed batch's merkle root can be submitted to
// for independent corroboration. No concrete provider ships here — per
// spec, providers are pluggable and need not be reimplemented. Only a
// NullProvider exists, for wiring the gateway and tests without a real
// external dependency.
package extanchor

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ErrProviderUnavailable is returned by a Provider when the external
// system could not be reached. Callers must treat this as non-fatal:
// external anchor failures never fail a client request and never
// invalidate a closed batch.
var ErrProviderUnavailable = errors.New("extanchor: provider unavailable")

// Receipt is the opaque acknowledgement an external provider returns for
// a submitted batch. Its shape is provider-specific (a transaction hash,
// a TXT record name, a CT-log SCT); callers persist it verbatim
// alongside the batch's cross-anchors.
type Receipt struct {
	Provider string `json:"provider"`
	Opaque   []byte `json:"opaque"`
}

// ProviderProof is whatever evidence a provider can produce, after the
// fact, that it anchored a given batch id. Like Receipt, its contents
// are provider-specific.
type ProviderProof struct {
	Provider string `json:"provider"`
	Opaque   []byte `json:"opaque"`
}

// Provider is the abstract external-anchor submission contract (spec.md
// §6): submit a closed batch's root for corroboration, and later fetch
// proof that the submission was honored. Implementations talk to
// whatever transport the underlying system requires (RPC, DNS, HTTP)
// and must not block a client's own timestamp request — Submit is
// always called after a batch has already closed, never inline with
// C5's aggregation path.
type Provider interface {
	// Name identifies the provider, used as Receipt.Provider and in logs.
	Name() string

	// Submit anchors merkleRoot for (networkID, batchID) closed at
	// closedAt (unix seconds). Returns ErrProviderUnavailable (wrapped)
	// on any failure reaching or being accepted by the external system.
	Submit(ctx context.Context, networkID string, batchID uint64, merkleRoot [32]byte, closedAt int64) (*Receipt, error)

	// Proof returns whatever corroborating evidence the provider can
	// produce for a previously submitted batch.
	Proof(ctx context.Context, networkID string, batchID uint64) (*ProviderProof, error)
}

// NullProvider is a no-op Provider: every Submit succeeds with an empty
// receipt, every Proof reports unavailable. It exists so the gateway can
// be wired and tested with the extanchor stage present but harmless,
// without depending on any real external system.
type NullProvider struct {
	logger *log.Logger
}

// NewNullProvider constructs a NullProvider.
func NewNullProvider(logger *log.Logger) *NullProvider {
	if logger == nil {
		logger = log.New(log.Writer(), "[ExtAnchor] ", log.LstdFlags)
	}
	return &NullProvider{logger: logger}
}

func (p *NullProvider) Name() string { return "null" }

func (p *NullProvider) Submit(ctx context.Context, networkID string, batchID uint64, merkleRoot [32]byte, closedAt int64) (*Receipt, error) {
	p.logger.Printf("null-submit batch %d/%s root=%x (no external system configured)", batchID, networkID, merkleRoot)
	return &Receipt{Provider: p.Name()}, nil
}

func (p *NullProvider) Proof(ctx context.Context, networkID string, batchID uint64) (*ProviderProof, error) {
	return nil, fmt.Errorf("%w: null provider never anchors", ErrProviderUnavailable)
}
