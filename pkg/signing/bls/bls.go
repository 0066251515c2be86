// Copyright 2025 Witness Protocol
//
// Package bls implements the signing.Verifier/signing.Aggregator
// contract over BLS12-381, using gnark-crypto. Public keys live on G1
// (48-byte compressed) and signatures on G2 (96-byte compressed), the
// convention spec.md's wire sizes require.

package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/witnessnet/witness/pkg/signing"
)

// DomainAttestation is the domain separation tag mixed into every signed
// message, preventing cross-protocol signature reuse.
const DomainAttestation = "WITNESS_ATTESTATION_V1"

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func initialize() {
	initOnce.Do(func() {
		g1GenPoint, g2GenPoint, _, _ := bls12381.Generators()
		g1Gen = g1GenPoint
		g2Gen = g2GenPoint
	})
}

var (
	ErrBadPrivateKeySize = errors.New("bls: private key must be 32 bytes")
	ErrBadPublicKeySize  = fmt.Errorf("bls: public key must be %d bytes", signing.BLSPublicKeySize)
	ErrBadSignatureSize  = fmt.Errorf("bls: signature must be %d bytes", signing.BLSSignatureSize)
	ErrNoSignatures      = errors.New("bls: no signatures to aggregate")
	ErrNoPublicKeys      = errors.New("bls: no public keys to aggregate")
)

// PrivateKey is a BLS12-381 scalar in Fr.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a point on G1 (48-byte compressed encoding).
type PublicKey struct {
	point bls12381.G1Affine
}

// Signature is a point on G2 (96-byte compressed encoding).
type Signature struct {
	point bls12381.G2Affine
}

// Generate creates a new random BLS key pair.
func Generate() (*PrivateKey, *PublicKey, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("bls: generate random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PrivateKeyFromBytes loads a 32-byte scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	initialize()
	if len(b) != 32 {
		return nil, ErrBadPrivateKeySize
	}
	var sk fr.Element
	sk.SetBytes(b)
	return &PrivateKey{scalar: sk}, nil
}

// PublicKeyFromBytes loads a 48-byte compressed G1 point.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	initialize()
	if len(b) != signing.BLSPublicKeySize {
		return nil, ErrBadPublicKeySize
	}
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return nil, fmt.Errorf("bls: decode public key: %w", err)
	}
	return &PublicKey{point: p}, nil
}

// SignatureFromBytes loads a 96-byte compressed G2 point.
func SignatureFromBytes(b []byte) (*Signature, error) {
	initialize()
	if len(b) != signing.BLSSignatureSize {
		return nil, ErrBadSignatureSize
	}
	var p bls12381.G2Affine
	if _, err := p.SetBytes(b); err != nil {
		return nil, fmt.Errorf("bls: decode signature: %w", err)
	}
	return &Signature{point: p}, nil
}

// Bytes returns the 32-byte scalar.
func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PublicKey derives pk = sk * G1.
func (sk *PrivateKey) PublicKey() *PublicKey {
	initialize()
	var pk bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g1Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign computes sig = sk * H(domain || message) on G2.
func (sk *PrivateKey) Sign(message []byte) *Signature {
	h := hashToG2(domainMessage(DomainAttestation, message))
	var sig bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// Bytes returns the 48-byte compressed G1 encoding.
func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// Hex returns the public key as lowercase hex.
func (pk *PublicKey) Hex() string { return hex.EncodeToString(pk.Bytes()) }

// Equal reports whether two public keys are the same point.
func (pk *PublicKey) Equal(other *PublicKey) bool { return pk.point.Equal(&other.point) }

// Verify checks e(sk*G1, H(msg)) == e(G1, sig) via pairing, i.e.
// e(pk, H(msg)) == e(G1, sig).
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	initialize()
	h := hashToG2(domainMessage(DomainAttestation, message))

	var negG1 bls12381.G1Affine
	negG1.Neg(&g1Gen)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{pk.point, negG1},
		[]bls12381.G2Affine{h, sig.point},
	)
	if err != nil {
		return false
	}
	return ok
}

// Bytes returns the 96-byte compressed G2 encoding.
func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// Hex returns the signature as lowercase hex.
func (sig *Signature) Hex() string { return hex.EncodeToString(sig.Bytes()) }

// AggregateSignatures sums signature points on G2.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}
	var acc bls12381.G2Jac
	acc.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var j bls12381.G2Jac
		j.FromAffine(&s.point)
		acc.AddAssign(&j)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&acc)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys sums public key points on G1.
func AggregatePublicKeys(pubKeys []*PublicKey) (*PublicKey, error) {
	if len(pubKeys) == 0 {
		return nil, ErrNoPublicKeys
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&pubKeys[0].point)
	for _, p := range pubKeys[1:] {
		var j bls12381.G1Jac
		j.FromAffine(&p.point)
		acc.AddAssign(&j)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	return &PublicKey{point: result}, nil
}

// VerifyAggregate verifies aggSig against the aggregate of pubKeys, all of
// whom must have signed the identical message.
func VerifyAggregate(aggSig *Signature, pubKeys []*PublicKey, message []byte) bool {
	aggPk, err := AggregatePublicKeys(pubKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

func domainMessage(domain string, message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(message)
	return h.Sum(nil)
}

// hashToG2 maps a message to a point on G2 via hash-and-pray, falling back
// to scalar multiplication of the generator on repeated misses.
func hashToG2(message []byte) bls12381.G2Affine {
	h := sha256.New()
	h.Write([]byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_"))
	h.Write(message)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(h.Sum(nil))
		binary.Write(h2, binary.BigEndian, counter)
		digest := h2.Sum(nil)

		var point bls12381.G2Affine
		if _, err := point.SetBytes(digest); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(digest)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)

		var result bls12381.G2Affine
		result.ScalarMultiplication(&g2Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}

		counter++
		if counter > 1000 {
			return g2Gen
		}
	}
}

// Verifier implements signing.Aggregator for BLS.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

func (Verifier) Scheme() signing.Scheme { return signing.BLS }

func (Verifier) Verify(publicKey, signature, message []byte) bool {
	pk, err := PublicKeyFromBytes(publicKey)
	if err != nil {
		return false
	}
	sig, err := SignatureFromBytes(signature)
	if err != nil {
		return false
	}
	return pk.Verify(sig, message)
}

func (Verifier) AggregateSignatures(signatures [][]byte) ([]byte, error) {
	sigs := make([]*Signature, len(signatures))
	for i, b := range signatures {
		s, err := SignatureFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("bls: aggregate signatures: signature %d: %w", i, err)
		}
		sigs[i] = s
	}
	agg, err := AggregateSignatures(sigs)
	if err != nil {
		return nil, err
	}
	return agg.Bytes(), nil
}

func (Verifier) AggregatePublicKeys(publicKeys [][]byte) ([]byte, error) {
	pks := make([]*PublicKey, len(publicKeys))
	for i, b := range publicKeys {
		p, err := PublicKeyFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("bls: aggregate public keys: key %d: %w", i, err)
		}
		pks[i] = p
	}
	agg, err := AggregatePublicKeys(pks)
	if err != nil {
		return nil, err
	}
	return agg.Bytes(), nil
}

func (Verifier) VerifyAggregate(aggSig []byte, publicKeys [][]byte, message []byte) bool {
	sig, err := SignatureFromBytes(aggSig)
	if err != nil {
		return false
	}
	pks := make([]*PublicKey, len(publicKeys))
	for i, b := range publicKeys {
		p, err := PublicKeyFromBytes(b)
		if err != nil {
			return false
		}
		pks[i] = p
	}
	return VerifyAggregate(sig, pks, message)
}
