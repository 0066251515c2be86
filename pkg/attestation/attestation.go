// Copyright 2025 Witness Protocol
//
// Package attestation defines the unsigned attestation payload, its
// canonical binary encoding, and the signed/bundled wire forms shared by
// witnesses, the quorum aggregator, and the persistence store.

package attestation

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FingerprintSize is the fixed length of a content fingerprint.
const FingerprintSize = 32

var (
	ErrBadFingerprintLen = errors.New("attestation: fingerprint must be exactly 32 bytes")
	ErrNetworkIDTooLong  = errors.New("attestation: network_id exceeds 65535 bytes")
	ErrShortEncoding     = errors.New("attestation: encoded attestation too short")
	ErrTrailingBytes     = errors.New("attestation: trailing bytes after decoding attestation")
)

// Attestation is the unsigned tuple (fingerprint, unix_seconds, network_id,
// sequence). It carries no identity of its own; signing binds a witness to
// this exact tuple via the canonical encoding below.
type Attestation struct {
	Fingerprint [FingerprintSize]byte
	Timestamp   int64 // unix seconds
	NetworkID   string
	Sequence    uint64
}

// New validates and constructs an Attestation.
func New(fingerprint [FingerprintSize]byte, timestamp int64, networkID string, sequence uint64) (*Attestation, error) {
	if len(networkID) > 0xFFFF {
		return nil, ErrNetworkIDTooLong
	}
	return &Attestation{
		Fingerprint: fingerprint,
		Timestamp:   timestamp,
		NetworkID:   networkID,
		Sequence:    sequence,
	}, nil
}

// FingerprintFromBytes validates and copies a raw 32-byte fingerprint.
func FingerprintFromBytes(b []byte) ([FingerprintSize]byte, error) {
	var out [FingerprintSize]byte
	if len(b) != FingerprintSize {
		return out, ErrBadFingerprintLen
	}
	copy(out[:], b)
	return out, nil
}

// FingerprintFromHex decodes a 64-char lowercase hex string into a
// fingerprint.
func FingerprintFromHex(s string) ([FingerprintSize]byte, error) {
	var out [FingerprintSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("attestation: decode fingerprint hex: %w", err)
	}
	return FingerprintFromBytes(b)
}

// Hex renders the fingerprint as lowercase hex.
func (a *Attestation) Hex() string {
	return hex.EncodeToString(a.Fingerprint[:])
}

// Encode produces the canonical big-endian wire form:
//
//	fingerprint(32) || unix_seconds_u64(8) || seq_u64(8) || network_id_len_u16(2) || network_id_bytes
//
// All on-wire forms (JSON included) must round-trip through this form
// byte-identically before signing or verifying.
func (a *Attestation) Encode() ([]byte, error) {
	if len(a.NetworkID) > 0xFFFF {
		return nil, ErrNetworkIDTooLong
	}

	buf := make([]byte, 0, FingerprintSize+8+8+2+len(a.NetworkID))
	buf = append(buf, a.Fingerprint[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(a.Timestamp))
	buf = append(buf, ts[:]...)

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], a.Sequence)
	buf = append(buf, seq[:]...)

	var nlen [2]byte
	binary.BigEndian.PutUint16(nlen[:], uint16(len(a.NetworkID)))
	buf = append(buf, nlen[:]...)
	buf = append(buf, a.NetworkID...)

	return buf, nil
}

// Decode parses the canonical binary form produced by Encode.
func Decode(b []byte) (*Attestation, error) {
	const fixedLen = FingerprintSize + 8 + 8 + 2
	if len(b) < fixedLen {
		return nil, ErrShortEncoding
	}

	a := &Attestation{}
	copy(a.Fingerprint[:], b[0:FingerprintSize])
	off := FingerprintSize

	a.Timestamp = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	a.Sequence = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	nlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	if len(b)-off < nlen {
		return nil, ErrShortEncoding
	}
	a.NetworkID = string(b[off : off+nlen])
	off += nlen

	if off != len(b) {
		return nil, ErrTrailingBytes
	}
	return a, nil
}

// wireAttestation is the JSON shape using spec-mandated field names.
type wireAttestation struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	NetworkID string `json:"network_id"`
	Sequence  uint64 `json:"sequence"`
}

// MarshalJSON emits {"hash","timestamp","network_id","sequence"} exactly.
func (a Attestation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAttestation{
		Hash:      hex.EncodeToString(a.Fingerprint[:]),
		Timestamp: a.Timestamp,
		NetworkID: a.NetworkID,
		Sequence:  a.Sequence,
	})
}

// UnmarshalJSON parses {"hash","timestamp","network_id","sequence"}.
func (a *Attestation) UnmarshalJSON(data []byte) error {
	var w wireAttestation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fp, err := FingerprintFromHex(w.Hash)
	if err != nil {
		return err
	}
	a.Fingerprint = fp
	a.Timestamp = w.Timestamp
	a.NetworkID = w.NetworkID
	a.Sequence = w.Sequence
	return nil
}

// Equal compares two attestations by their canonical encoding.
func (a *Attestation) Equal(other *Attestation) bool {
	ab, err1 := a.Encode()
	bb, err2 := other.Encode()
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Now is the injectable clock used by callers performing skew checks;
// kept here so witness and quorum code share one definition of "now".
func Now() int64 { return time.Now().Unix() }
