// Copyright 2025 Witness Protocol
//
// Package witness implements the stateless signer node (C4): given a
// fingerprint, timestamp, network id, and sequence, it either signs the
// canonical attestation encoding or rejects the request per policy.
// Witnesses hold no persistent record of prior signings; the gateway's
// quorum aggregator is the source of truth for dedup and sequencing.

package witness

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/signing/bls"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
)

const DefaultMaxClockSkewSeconds = 300

var (
	ErrNetworkIDMismatch = errors.New("witness: network_id does not match configured network")
	ErrClockSkew         = errors.New("witness: timestamp outside allowed clock skew")
	ErrBadFingerprint    = errors.New("witness: fingerprint must be exactly 32 bytes")
)

// Signer wraps a single key pair (Ed25519 or BLS) behind the uniform
// signing.KeyPair contract so the node doesn't need to branch on scheme.
type Signer struct {
	ID      string
	Scheme  signing.Scheme
	keyPair interface {
		PublicKey() []byte
		Sign(message []byte) ([]byte, error)
	}
}

// NewEd25519Signer wraps an ed25519sig.KeyPair as a Signer.
func NewEd25519Signer(id string, kp *ed25519sig.KeyPair) *Signer {
	return &Signer{ID: id, Scheme: signing.Ed25519, keyPair: kp}
}

// blsKeyPairAdapter adapts bls.PrivateKey to the signing.KeyPair shape
// used internally (bls.PrivateKey.Sign returns *bls.Signature, not bytes).
type blsKeyPairAdapter struct {
	sk *bls.PrivateKey
	pk *bls.PublicKey
}

func (a *blsKeyPairAdapter) PublicKey() []byte { return a.pk.Bytes() }
func (a *blsKeyPairAdapter) Sign(message []byte) ([]byte, error) {
	return a.sk.Sign(message).Bytes(), nil
}

// NewBLSSigner wraps a bls.PrivateKey/PublicKey pair as a Signer.
func NewBLSSigner(id string, sk *bls.PrivateKey, pk *bls.PublicKey) *Signer {
	return &Signer{ID: id, Scheme: signing.BLS, keyPair: &blsKeyPairAdapter{sk: sk, pk: pk}}
}

// PublicKey returns the signer's raw public key bytes.
func (s *Signer) PublicKey() []byte { return s.keyPair.PublicKey() }

// Config holds a witness node's fixed, operator-configured state.
type Config struct {
	WitnessID           string
	NetworkID           string
	MaxClockSkewSeconds int64
	Now                 func() int64 // injectable clock, defaults to time.Now
}

// Node is a stateless witness signer.
type Node struct {
	cfg    Config
	signer *Signer
	logger *log.Logger
}

// New constructs a witness Node. A nil logger defaults to the package
// convention of a bracketed, named stdlib logger.
func New(cfg Config, signer *Signer, logger *log.Logger) *Node {
	if cfg.MaxClockSkewSeconds == 0 {
		cfg.MaxClockSkewSeconds = DefaultMaxClockSkewSeconds
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Witness] ", log.LstdFlags)
	}
	return &Node{cfg: cfg, signer: signer, logger: logger}
}

// SignRequest is the input to Sign: (fingerprint, timestamp, network_id, sequence).
type SignRequest struct {
	Fingerprint [attestation.FingerprintSize]byte
	Timestamp   int64
	NetworkID   string
	Sequence    uint64
}

// SignResult is (witness_id, signature) on success.
type SignResult struct {
	WitnessID string
	Signature []byte
}

// Sign validates req against policy and, if accepted, signs the canonical
// encoding of the implied attestation.
//
// Policy: reject network_id mismatch, reject clock skew beyond
// max_clock_skew_seconds, reject malformed fingerprint; otherwise sign.
func (n *Node) Sign(req SignRequest) (*SignResult, error) {
	if req.NetworkID != n.cfg.NetworkID {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrNetworkIDMismatch, req.NetworkID, n.cfg.NetworkID)
	}

	now := n.cfg.Now()
	skew := req.Timestamp - now
	if skew < 0 {
		skew = -skew
	}
	if skew > n.cfg.MaxClockSkewSeconds {
		return nil, fmt.Errorf("%w: |%d - %d| = %ds > %ds", ErrClockSkew, req.Timestamp, now, skew, n.cfg.MaxClockSkewSeconds)
	}

	// req.Fingerprint is a [32]byte array, so the "exactly 32 bytes" check
	// is enforced by the type system at the HTTP decoding boundary.
	att, err := attestation.New(req.Fingerprint, req.Timestamp, req.NetworkID, req.Sequence)
	if err != nil {
		return nil, fmt.Errorf("witness: build attestation: %w", err)
	}

	payload, err := att.Encode()
	if err != nil {
		return nil, fmt.Errorf("witness: encode attestation: %w", err)
	}

	sig, err := n.signer.keyPair.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("witness: sign: %w", err)
	}

	n.logger.Printf("signed fingerprint=%x sequence=%d network=%s", req.Fingerprint, req.Sequence, req.NetworkID)

	return &SignResult{WitnessID: n.cfg.WitnessID, Signature: sig}, nil
}

// PublicKey exposes the witness's public key for config distribution.
func (n *Node) PublicKey() []byte { return n.signer.PublicKey() }

// Scheme reports which signature scheme this witness uses.
func (n *Node) Scheme() signing.Scheme { return n.signer.Scheme }
