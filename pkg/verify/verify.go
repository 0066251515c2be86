// Copyright 2025 Witness Protocol
//
// Package verify implements standalone verification of a SignedAttestation
// (spec.md's POST /v1/verify): given only a network's public topology, any
// party can independently confirm a bundle carries at least threshold
// distinct, valid witness signatures over the attestation's canonical
// encoding, without trusting the gateway that served it.
package verify

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/config"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/signing/bls"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
)

var (
	ErrUnknownWitness        = errors.New("verify: signature from witness not in topology")
	ErrInvalidSignature      = errors.New("verify: signature failed cryptographic verification")
	ErrBelowThreshold        = errors.New("verify: fewer than threshold valid distinct signatures")
	ErrNetworkMismatch       = errors.New("verify: attestation network_id does not match topology")
	ErrUnsupportedBundleKind = errors.New("verify: bundle kind does not match topology's signature scheme")
)

// Verify checks signed against topo's witness set and scheme, returning nil
// only if at least topo.Threshold distinct configured witnesses produced a
// valid signature over signed.Attestation's canonical encoding.
func Verify(topo *config.NetworkTopology, signed attestation.SignedAttestation) error {
	if signed.Attestation.NetworkID != topo.NetworkID {
		return fmt.Errorf("%w: attestation=%q topology=%q", ErrNetworkMismatch, signed.Attestation.NetworkID, topo.NetworkID)
	}

	keys := make(map[string][]byte, len(topo.Witnesses))
	for _, w := range topo.Witnesses {
		pk, err := hex.DecodeString(w.PublicKey)
		if err != nil {
			return fmt.Errorf("verify: decode public key for witness %s: %w", w.WitnessID, err)
		}
		keys[w.WitnessID] = pk
	}

	switch topo.SignatureScheme {
	case string(signing.Ed25519):
		return verifyMultiSig(signed, keys, ed25519sig.NewVerifier(), topo.Threshold)
	case string(signing.BLS):
		return verifyAggregated(signed, keys, topo)
	default:
		return fmt.Errorf("%w: %q", signing.ErrUnknownScheme, topo.SignatureScheme)
	}
}

type ed25519Verifier interface {
	Verify(publicKey, signature, message []byte) bool
}

func verifyMultiSig(signed attestation.SignedAttestation, keys map[string][]byte, v ed25519Verifier, threshold int) error {
	if signed.Signatures.Kind != attestation.MultiSig {
		return fmt.Errorf("%w: got %q", ErrUnsupportedBundleKind, signed.Signatures.Kind)
	}
	payload, err := signed.Attestation.Encode()
	if err != nil {
		return fmt.Errorf("verify: encode attestation: %w", err)
	}

	seen := make(map[string]struct{}, len(signed.Signatures.MultiSig))
	for _, ws := range signed.Signatures.MultiSig {
		pk, ok := keys[ws.WitnessID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownWitness, ws.WitnessID)
		}
		sig, err := hex.DecodeString(ws.Signature)
		if err != nil {
			return fmt.Errorf("verify: decode signature from %s: %w", ws.WitnessID, err)
		}
		if !v.Verify(pk, sig, payload) {
			return fmt.Errorf("%w: witness %s", ErrInvalidSignature, ws.WitnessID)
		}
		seen[ws.WitnessID] = struct{}{}
	}
	if len(seen) < threshold {
		return fmt.Errorf("%w: have %d need %d", ErrBelowThreshold, len(seen), threshold)
	}
	return nil
}

func verifyAggregated(signed attestation.SignedAttestation, keys map[string][]byte, topo *config.NetworkTopology) error {
	if signed.Signatures.Kind != attestation.Aggregated {
		return fmt.Errorf("%w: got %q", ErrUnsupportedBundleKind, signed.Signatures.Kind)
	}
	if len(signed.Signatures.Signers) < topo.Threshold {
		return fmt.Errorf("%w: have %d need %d", ErrBelowThreshold, len(signed.Signatures.Signers), topo.Threshold)
	}

	payload, err := signed.Attestation.Encode()
	if err != nil {
		return fmt.Errorf("verify: encode attestation: %w", err)
	}
	aggSig, err := hex.DecodeString(signed.Signatures.Aggregated)
	if err != nil {
		return fmt.Errorf("verify: decode aggregated signature: %w", err)
	}

	pubKeys := make([][]byte, 0, len(signed.Signatures.Signers))
	seen := make(map[string]struct{}, len(signed.Signatures.Signers))
	for _, signer := range signed.Signatures.Signers {
		pk, ok := keys[signer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownWitness, signer)
		}
		if _, dup := seen[signer]; dup {
			continue
		}
		seen[signer] = struct{}{}
		pubKeys = append(pubKeys, pk)
	}
	if len(seen) < topo.Threshold {
		return fmt.Errorf("%w: have %d need %d", ErrBelowThreshold, len(seen), topo.Threshold)
	}

	verifier := bls.Verifier{}
	if !verifier.VerifyAggregate(aggSig, pubKeys, payload) {
		return fmt.Errorf("%w: aggregate signature", ErrInvalidSignature)
	}
	return nil
}
