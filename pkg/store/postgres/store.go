package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/store"
)

// Store implements store.Store over a *Client. In-process subscribers
// (for the /ws/events stream) are kept in memory alongside the database,
// exactly like the teacher keeps process-local caches beside durable
// repositories.
type Store struct {
	client *Client
	logger *log.Logger

	mu          sync.Mutex
	subscribers map[chan<- store.Event]struct{}
}

// New wraps client as a store.Store.
func New(client *Client, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[Store] ", log.LstdFlags)
	}
	return &Store{client: client, logger: logger, subscribers: make(map[chan<- store.Event]struct{})}
}

func (s *Store) GetAttestation(ctx context.Context, fingerprint [attestation.FingerprintSize]byte) (*attestation.SignedAttestation, error) {
	row := s.client.db.QueryRowContext(ctx,
		`SELECT network_id, unix_seconds, sequence, signatures_json FROM attestations WHERE fingerprint = $1`,
		fingerprint[:])

	var networkID string
	var unixSeconds int64
	var sequence uint64
	var sigJSON []byte
	if err := row.Scan(&networkID, &unixSeconds, &sequence, &sigJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get attestation: %w", err)
	}

	return assembleSignedAttestation(fingerprint, unixSeconds, networkID, sequence, sigJSON)
}

func (s *Store) PutAttestationIfAbsent(ctx context.Context, fingerprint [attestation.FingerprintSize]byte, signed attestation.SignedAttestation, nextSeqAfter uint64) (*attestation.SignedAttestation, bool, error) {
	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT network_id, unix_seconds, sequence, signatures_json FROM attestations WHERE fingerprint = $1 FOR UPDATE`,
		fingerprint[:])

	var networkID string
	var unixSeconds int64
	var sequence uint64
	var sigJSON []byte
	err = row.Scan(&networkID, &unixSeconds, &sequence, &sigJSON)
	switch {
	case err == nil:
		existing, assembleErr := assembleSignedAttestation(fingerprint, unixSeconds, networkID, sequence, sigJSON)
		if assembleErr != nil {
			return nil, false, assembleErr
		}
		return existing, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, fmt.Errorf("postgres: probe attestation: %w", err)
	}

	sigJSON, err = json.Marshal(signed.Signatures)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: marshal signatures: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO attestations (fingerprint, network_id, unix_seconds, sequence, signatures_json) VALUES ($1, $2, $3, $4, $5)`,
		fingerprint[:], signed.Attestation.NetworkID, signed.Attestation.Timestamp, signed.Attestation.Sequence, sigJSON)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: insert attestation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO network_sequences (network_id, next_seq) VALUES ($1, $2)
		 ON CONFLICT (network_id) DO UPDATE SET next_seq = EXCLUDED.next_seq`,
		signed.Attestation.NetworkID, nextSeqAfter)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: advance sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("postgres: commit: %w", err)
	}

	s.publish(store.Event{Fingerprint: fingerprint, Signed: signed})
	return &signed, true, nil
}

func (s *Store) LatestSeq(ctx context.Context, networkID string) (uint64, error) {
	var seq uint64
	err := s.client.db.QueryRowContext(ctx, `SELECT next_seq FROM network_sequences WHERE network_id = $1`, networkID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: latest seq: %w", err)
	}
	return seq, nil
}

func (s *Store) PutBatch(ctx context.Context, batch store.Batch) error {
	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	members := make([][]byte, len(batch.Members))
	for i, m := range batch.Members {
		members[i] = append([]byte(nil), m[:]...)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (network_id, batch_id, opened_at, closed_at, merkle_root, members) VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.NetworkID, batch.BatchID, batch.OpenedAt, batch.ClosedAt, batch.MerkleRoot[:], memberArrayLiteral(members))
	if err != nil {
		return fmt.Errorf("postgres: insert batch: %w", err)
	}

	for _, m := range batch.Members {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO batch_members (network_id, batch_id, fingerprint) VALUES ($1, $2, $3)`,
			batch.NetworkID, batch.BatchID, m[:])
		if err != nil {
			return fmt.Errorf("postgres: insert batch member: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetBatch(ctx context.Context, networkID string, batchID uint64) (*store.Batch, error) {
	return s.scanBatch(ctx, `WHERE network_id = $1 AND batch_id = $2`, networkID, batchID)
}

func (s *Store) GetBatchContaining(ctx context.Context, networkID string, fingerprint [attestation.FingerprintSize]byte) (*store.Batch, error) {
	var batchID uint64
	err := s.client.db.QueryRowContext(ctx,
		`SELECT batch_id FROM batch_members WHERE network_id = $1 AND fingerprint = $2`,
		networkID, fingerprint[:]).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find batch for fingerprint: %w", err)
	}
	return s.GetBatch(ctx, networkID, batchID)
}

func (s *Store) LatestBatchID(ctx context.Context, networkID string) (uint64, error) {
	var batchID uint64
	err := s.client.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(batch_id), 0) FROM batches WHERE network_id = $1`, networkID).Scan(&batchID)
	if err != nil {
		return 0, fmt.Errorf("postgres: latest batch id: %w", err)
	}
	return batchID, nil
}

func (s *Store) scanBatch(ctx context.Context, whereClause string, args ...any) (*store.Batch, error) {
	query := `SELECT network_id, batch_id, opened_at, closed_at, merkle_root FROM batches ` + whereClause
	row := s.client.db.QueryRowContext(ctx, query, args...)

	var b store.Batch
	var rootBytes []byte
	if err := row.Scan(&b.NetworkID, &b.BatchID, &b.OpenedAt, &b.ClosedAt, &rootBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBatchNotFound
		}
		return nil, fmt.Errorf("postgres: scan batch: %w", err)
	}
	copy(b.MerkleRoot[:], rootBytes)

	members, err := s.client.db.QueryContext(ctx,
		`SELECT u.m FROM batches, unnest(batches.members) WITH ORDINALITY AS u(m, ord)
		 WHERE batches.network_id = $1 AND batches.batch_id = $2 ORDER BY u.ord`, b.NetworkID, b.BatchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan batch members: %w", err)
	}
	defer members.Close()
	for members.Next() {
		var fpBytes []byte
		if err := members.Scan(&fpBytes); err != nil {
			return nil, err
		}
		var fp [attestation.FingerprintSize]byte
		copy(fp[:], fpBytes)
		b.Members = append(b.Members, fp)
	}

	anchors, err := s.client.db.QueryContext(ctx,
		`SELECT peer_network_id, peer_batch_id, signed_attestation_json FROM cross_anchors WHERE network_id = $1 AND batch_id = $2`,
		b.NetworkID, b.BatchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan cross anchors: %w", err)
	}
	defer anchors.Close()
	for anchors.Next() {
		var anchor store.CrossAnchor
		var peerBatchID sql.NullInt64
		var signedJSON []byte
		if err := anchors.Scan(&anchor.PeerNetworkID, &peerBatchID, &signedJSON); err != nil {
			return nil, err
		}
		if peerBatchID.Valid {
			v := uint64(peerBatchID.Int64)
			anchor.PeerBatchID = &v
		}
		if err := json.Unmarshal(signedJSON, &anchor.Signed); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal cross anchor: %w", err)
		}
		b.CrossAnchors = append(b.CrossAnchors, anchor)
	}

	receipts, err := s.client.db.QueryContext(ctx,
		`SELECT provider, opaque FROM external_anchors WHERE network_id = $1 AND batch_id = $2`,
		b.NetworkID, b.BatchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan external anchors: %w", err)
	}
	defer receipts.Close()
	for receipts.Next() {
		var r store.ExternalAnchorReceipt
		if err := receipts.Scan(&r.Provider, &r.Opaque); err != nil {
			return nil, err
		}
		b.ExternalAnchors = append(b.ExternalAnchors, r)
	}

	return &b, nil
}

func (s *Store) AppendCrossAnchor(ctx context.Context, networkID string, batchID uint64, anchor store.CrossAnchor) error {
	signedJSON, err := json.Marshal(anchor.Signed)
	if err != nil {
		return fmt.Errorf("postgres: marshal cross anchor: %w", err)
	}

	var peerBatchID any
	if anchor.PeerBatchID != nil {
		peerBatchID = *anchor.PeerBatchID
	}

	_, err = s.client.db.ExecContext(ctx,
		`INSERT INTO cross_anchors (network_id, batch_id, peer_network_id, peer_batch_id, signed_attestation_json)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (network_id, batch_id, peer_network_id) DO NOTHING`,
		networkID, batchID, anchor.PeerNetworkID, peerBatchID, signedJSON)
	if err != nil {
		return fmt.Errorf("postgres: append cross anchor: %w", err)
	}
	return nil
}

func (s *Store) AppendExternalAnchorReceipt(ctx context.Context, networkID string, batchID uint64, receipt store.ExternalAnchorReceipt) error {
	_, err := s.client.db.ExecContext(ctx,
		`INSERT INTO external_anchors (network_id, batch_id, provider, opaque)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (network_id, batch_id, provider) DO NOTHING`,
		networkID, batchID, receipt.Provider, receipt.Opaque)
	if err != nil {
		return fmt.Errorf("postgres: append external anchor receipt: %w", err)
	}
	return nil
}

func (s *Store) Subscribe(ch chan<- store.Event) func() {
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

func (s *Store) publish(ev store.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func assembleSignedAttestation(fingerprint [attestation.FingerprintSize]byte, unixSeconds int64, networkID string, sequence uint64, sigJSON []byte) (*attestation.SignedAttestation, error) {
	att, err := attestation.New(fingerprint, unixSeconds, networkID, sequence)
	if err != nil {
		return nil, fmt.Errorf("postgres: rebuild attestation: %w", err)
	}

	var bundle attestation.SignatureBundle
	if err := json.Unmarshal(sigJSON, &bundle); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal signatures: %w", err)
	}

	return &attestation.SignedAttestation{Attestation: *att, Signatures: bundle}, nil
}

// memberArrayLiteral renders a Postgres bytea[] array literal for the
// `members` column on batches (a denormalized copy kept alongside the
// normalized batch_members rows used for lookups).
func memberArrayLiteral(members [][]byte) string {
	if len(members) == 0 {
		return "{}"
	}
	out := "{"
	for i, m := range members {
		if i > 0 {
			out += ","
		}
		out += `"\\x`
		const hextable = "0123456789abcdef"
		for _, b := range m {
			out += string(hextable[b>>4]) + string(hextable[b&0x0f])
		}
		out += `"`
	}
	out += "}"
	return out
}
