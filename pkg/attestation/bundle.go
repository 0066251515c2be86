package attestation

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
)

// BundleKind distinguishes the two shapes a SignatureBundle can take.
type BundleKind string

const (
	MultiSig   BundleKind = "multisig"
	Aggregated BundleKind = "aggregated"
)

var (
	ErrUnknownBundleKind = errors.New("attestation: unknown signature bundle kind")
	ErrEmptyBundle       = errors.New("attestation: signature bundle has no signers")
)

// WitnessSignature is a single witness's signature over the canonical
// encoding of an Attestation.
type WitnessSignature struct {
	WitnessID string `json:"witness_id"`
	Signature string `json:"signature"` // lowercase hex
}

// SignatureBundle carries either a list of individual signatures
// (Ed25519) or a single aggregated signature plus the ordered list of
// contributing witness ids (BLS).
type SignatureBundle struct {
	Kind BundleKind `json:"kind"`

	// MultiSig is populated when Kind == MultiSig, ordered by
	// lexicographic witness_id.
	MultiSig []WitnessSignature `json:"multisig,omitempty"`

	// Aggregated and Signers are populated when Kind == Aggregated.
	// Aggregated is the lowercase-hex 96-byte aggregate BLS signature;
	// Signers enumerates participating witness ids in configuration order.
	Aggregated string   `json:"aggregated,omitempty"`
	Signers    []string `json:"signers,omitempty"`
}

// NewMultiSigBundle sorts sigs by witness_id and returns a MultiSig bundle.
func NewMultiSigBundle(sigs []WitnessSignature) (*SignatureBundle, error) {
	if len(sigs) == 0 {
		return nil, ErrEmptyBundle
	}
	sorted := append([]WitnessSignature(nil), sigs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WitnessID < sorted[j].WitnessID })
	return &SignatureBundle{Kind: MultiSig, MultiSig: sorted}, nil
}

// NewAggregatedBundle builds a BLS-aggregated bundle. signers must already
// be ordered per the network's witness configuration order.
func NewAggregatedBundle(aggregated []byte, signers []string) (*SignatureBundle, error) {
	if len(signers) == 0 {
		return nil, ErrEmptyBundle
	}
	return &SignatureBundle{
		Kind:       Aggregated,
		Aggregated: hex.EncodeToString(aggregated),
		Signers:    append([]string(nil), signers...),
	}, nil
}

// SignerCount returns the number of contributing witnesses regardless of
// bundle kind.
func (b *SignatureBundle) SignerCount() int {
	switch b.Kind {
	case MultiSig:
		return len(b.MultiSig)
	case Aggregated:
		return len(b.Signers)
	default:
		return 0
	}
}

// SignedAttestation is an Attestation plus its SignatureBundle. Immutable
// after issuance.
type SignedAttestation struct {
	Attestation Attestation     `json:"attestation"`
	Signatures  SignatureBundle `json:"signatures"`
}

// wireSignedAttestation nests the attestation and the signatures bundle
// under their own keys, matching the §6 API response shape
// `{ attestation, signatures }`.
type wireSignedAttestation struct {
	Attestation Attestation     `json:"attestation"`
	Signatures  SignatureBundle `json:"signatures"`
}

func (s SignedAttestation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignedAttestation(s))
}

func (s *SignedAttestation) UnmarshalJSON(data []byte) error {
	var w wireSignedAttestation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Attestation = w.Attestation
	s.Signatures = w.Signatures
	return nil
}
