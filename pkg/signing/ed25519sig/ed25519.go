// Copyright 2025 Witness Protocol
//
// Package ed25519sig implements the signing.Verifier/signing.KeyPair
// contract over crypto/ed25519. Ed25519 does not support signature
// aggregation; quorum bundles are a MultiSig list of (witness_id,
// signature) pairs for this scheme.

package ed25519sig

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/witnessnet/witness/pkg/signing"
)

var (
	ErrBadPublicKeySize  = errors.New("ed25519sig: public key must be 32 bytes")
	ErrBadPrivateKeySize = errors.New("ed25519sig: private key must be 64 bytes")
)

// KeyPair holds an Ed25519 signing identity.
type KeyPair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Generate creates a new random Ed25519 key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ed25519sig: generate key: %w", err)
	}
	return &KeyPair{private: priv, public: pub}, nil
}

// FromPrivateKeyBytes loads a key pair from a 64-byte Ed25519 private key.
func FromPrivateKeyBytes(b []byte) (*KeyPair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrBadPrivateKeySize
	}
	priv := ed25519.PrivateKey(append([]byte(nil), b...))
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{private: priv, public: pub}, nil
}

// Scheme identifies this as the Ed25519 scheme.
func (k *KeyPair) Scheme() signing.Scheme { return signing.Ed25519 }

// PublicKey returns the 32-byte Ed25519 public key.
func (k *KeyPair) PublicKey() []byte { return append([]byte(nil), k.public...) }

// PrivateKeyBytes returns the 64-byte private key for secure storage.
func (k *KeyPair) PrivateKeyBytes() []byte { return append([]byte(nil), k.private...) }

// Sign signs message with this key pair's private key.
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.private, message), nil
}

// Verifier implements signing.Verifier for Ed25519.
type Verifier struct{}

// NewVerifier returns a stateless Ed25519 verifier.
func NewVerifier() *Verifier { return &Verifier{} }

func (Verifier) Scheme() signing.Scheme { return signing.Ed25519 }

// Verify checks signature against publicKey and message. Malformed inputs
// are treated as verification failures, not errors, matching ed25519's own
// convention.
func (Verifier) Verify(publicKey, signature, message []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
