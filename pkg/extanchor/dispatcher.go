package extanchor

import (
	"context"
	"log"
	"time"

	"github.com/witnessnet/witness/pkg/store"
)

const DefaultSubmitTimeout = 30 * time.Second

// Dispatcher fans a closed batch out to every configured Provider and
// persists the resulting receipts. It satisfies batchmgr.Anchorer, so it
// can be combined with federation's Anchorer via batchmgr.FanOut.
type Dispatcher struct {
	providers     []Provider
	store         store.Store
	logger        *log.Logger
	submitTimeout time.Duration
}

// NewDispatcher constructs a Dispatcher over providers. An empty provider
// list makes AnchorBatch a no-op.
func NewDispatcher(providers []Provider, st store.Store, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[ExtAnchor] ", log.LstdFlags)
	}
	return &Dispatcher{providers: providers, store: st, logger: logger, submitTimeout: DefaultSubmitTimeout}
}

// AnchorBatch submits batch's merkle root to every configured provider in
// parallel. Provider failures are logged only — external anchor failures
// never fail a client request and never invalidate a closed batch.
func (d *Dispatcher) AnchorBatch(ctx context.Context, batch store.Batch) {
	for _, p := range d.providers {
		p := p
		go d.submit(ctx, p, batch)
	}
}

func (d *Dispatcher) submit(ctx context.Context, p Provider, batch store.Batch) {
	ctx, cancel := context.WithTimeout(ctx, d.submitTimeout)
	defer cancel()

	receipt, err := p.Submit(ctx, batch.NetworkID, batch.BatchID, batch.MerkleRoot, batch.ClosedAt)
	if err != nil {
		d.logger.Printf("submit to provider %s failed for batch %d/%s: %v", p.Name(), batch.BatchID, batch.NetworkID, err)
		return
	}

	stored := store.ExternalAnchorReceipt{Provider: receipt.Provider, Opaque: receipt.Opaque}
	if err := d.store.AppendExternalAnchorReceipt(ctx, batch.NetworkID, batch.BatchID, stored); err != nil {
		d.logger.Printf("persist receipt from provider %s for batch %d/%s failed: %v", p.Name(), batch.BatchID, batch.NetworkID, err)
		return
	}
	d.logger.Printf("anchored batch %d/%s via provider %s", batch.BatchID, batch.NetworkID, p.Name())
}
