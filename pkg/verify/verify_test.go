package verify

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/config"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
)

func buildSigned(t *testing.T, kps map[string]*ed25519sig.KeyPair, networkID string, signers []string) attestation.SignedAttestation {
	t.Helper()
	var fp [attestation.FingerprintSize]byte
	fp[0] = 0x11

	att, err := attestation.New(fp, 1700000000, networkID, 1)
	require.NoError(t, err)
	payload, err := att.Encode()
	require.NoError(t, err)

	var sigs []attestation.WitnessSignature
	for _, id := range signers {
		sig, err := kps[id].Sign(payload)
		require.NoError(t, err)
		sigs = append(sigs, attestation.WitnessSignature{WitnessID: id, Signature: hex.EncodeToString(sig)})
	}
	bundle, err := attestation.NewMultiSigBundle(sigs)
	require.NoError(t, err)
	return attestation.SignedAttestation{Attestation: *att, Signatures: *bundle}
}

func topologyFor(kps map[string]*ed25519sig.KeyPair, networkID string, threshold int) *config.NetworkTopology {
	var witnesses []config.WitnessTopology
	for id, kp := range kps {
		witnesses = append(witnesses, config.WitnessTopology{WitnessID: id, PublicKey: hex.EncodeToString(kp.PublicKey())})
	}
	return &config.NetworkTopology{
		NetworkID:       networkID,
		SignatureScheme: string(signing.Ed25519),
		Threshold:       threshold,
		Witnesses:       witnesses,
	}
}

func generateKeys(t *testing.T, ids ...string) map[string]*ed25519sig.KeyPair {
	t.Helper()
	kps := make(map[string]*ed25519sig.KeyPair, len(ids))
	for _, id := range ids {
		kp, err := ed25519sig.Generate()
		require.NoError(t, err)
		kps[id] = kp
	}
	return kps
}

func TestVerify_AcceptsThresholdValidSignatures(t *testing.T) {
	kps := generateKeys(t, "a", "b", "c")
	topo := topologyFor(kps, "mainnet", 2)
	signed := buildSigned(t, kps, "mainnet", []string{"a", "b"})

	assert.NoError(t, Verify(topo, signed))
}

func TestVerify_RejectsBelowThreshold(t *testing.T) {
	kps := generateKeys(t, "a", "b", "c")
	topo := topologyFor(kps, "mainnet", 2)
	signed := buildSigned(t, kps, "mainnet", []string{"a"})

	err := Verify(topo, signed)
	assert.ErrorIs(t, err, ErrBelowThreshold)
}

func TestVerify_RejectsUnknownWitness(t *testing.T) {
	kps := generateKeys(t, "a", "b")
	topo := topologyFor(map[string]*ed25519sig.KeyPair{"a": kps["a"]}, "mainnet", 1)
	signed := buildSigned(t, kps, "mainnet", []string{"a", "b"})

	err := Verify(topo, signed)
	assert.ErrorIs(t, err, ErrUnknownWitness)
}

func TestVerify_RejectsNetworkMismatch(t *testing.T) {
	kps := generateKeys(t, "a", "b")
	topo := topologyFor(kps, "mainnet", 1)
	signed := buildSigned(t, kps, "testnet", []string{"a"})

	err := Verify(topo, signed)
	assert.ErrorIs(t, err, ErrNetworkMismatch)
}
