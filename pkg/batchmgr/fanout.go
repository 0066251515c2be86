package batchmgr

import (
	"context"

	"github.com/witnessnet/witness/pkg/store"
)

// fanOutAnchorer invokes every wrapped Anchorer for a closed batch, one
// after another in the order given; AnchorBatch returns once the last of
// them has returned.
type fanOutAnchorer struct {
	anchorers []Anchorer
}

// FanOut combines multiple Anchorers (e.g. federation's cross-network
// anchorer and an external-anchor dispatcher) into the single Anchorer a
// Manager is constructed with.
func FanOut(anchorers ...Anchorer) Anchorer {
	return &fanOutAnchorer{anchorers: anchorers}
}

func (f *fanOutAnchorer) AnchorBatch(ctx context.Context, batch store.Batch) {
	for _, a := range f.anchorers {
		a.AnchorBatch(ctx, batch)
	}
}
