package attestation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMultiSigBundle_SortsByWitnessID(t *testing.T) {
	bundle, err := NewMultiSigBundle([]WitnessSignature{
		{WitnessID: "w3", Signature: "aa"},
		{WitnessID: "w1", Signature: "bb"},
		{WitnessID: "w2", Signature: "cc"},
	})
	require.NoError(t, err)

	require.Len(t, bundle.MultiSig, 3)
	assert.Equal(t, "w1", bundle.MultiSig[0].WitnessID)
	assert.Equal(t, "w2", bundle.MultiSig[1].WitnessID)
	assert.Equal(t, "w3", bundle.MultiSig[2].WitnessID)
	assert.Equal(t, 3, bundle.SignerCount())
}

func TestNewMultiSigBundle_RejectsEmpty(t *testing.T) {
	_, err := NewMultiSigBundle(nil)
	assert.ErrorIs(t, err, ErrEmptyBundle)
}

func TestNewAggregatedBundle(t *testing.T) {
	bundle, err := NewAggregatedBundle([]byte{0x01, 0x02, 0x03}, []string{"w1", "w2"})
	require.NoError(t, err)
	assert.Equal(t, "010203", bundle.Aggregated)
	assert.Equal(t, 2, bundle.SignerCount())
}

func TestSignedAttestation_JSONRoundTrip(t *testing.T) {
	a, err := New(testFingerprint(), 1700000000, "mainnet", 1)
	require.NoError(t, err)

	bundle, err := NewMultiSigBundle([]WitnessSignature{{WitnessID: "w1", Signature: "ab"}})
	require.NoError(t, err)

	sa := SignedAttestation{Attestation: *a, Signatures: *bundle}

	data, err := json.Marshal(sa)
	require.NoError(t, err)

	var decoded SignedAttestation
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, sa.Attestation.Equal(&decoded.Attestation))
	assert.Equal(t, sa.Signatures.Kind, decoded.Signatures.Kind)
	assert.Equal(t, sa.Signatures.MultiSig, decoded.Signatures.MultiSig)
}
