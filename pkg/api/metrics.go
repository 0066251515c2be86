// Copyright 2025 Witness Protocol
//
// /metrics exposes Prometheus counters for the quantities spec.md's
// testable properties care about: request outcomes, signatures
// collected per commit, and batches closed.
package api

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/witnessnet/witness/pkg/batchmgr"
	"github.com/witnessnet/witness/pkg/store"
)

// MetricsRegistry holds every counter the gateway reports. Construct one
// per process with NewMetricsRegistry, before building the batch manager,
// so the same instance can both wrap the anchorer (WrapAnchorer) and be
// handed to NewServer.
type MetricsRegistry struct {
	timestampRequests   *prometheus.CounterVec
	signaturesCollected prometheus.Counter
	batchesClosed       prometheus.Counter
}

// NewMetricsRegistry registers the gateway's counters with registerer (nil
// defaults to prometheus.DefaultRegisterer).
func NewMetricsRegistry(registerer prometheus.Registerer) *MetricsRegistry {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &MetricsRegistry{
		timestampRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "witness_timestamp_requests_total",
			Help: "Total POST /v1/timestamp requests by outcome.",
		}, []string{"outcome"}),
		signaturesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "witness_signatures_collected_total",
			Help: "Total witness signatures carried by committed attestations.",
		}),
		batchesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "witness_batches_closed_total",
			Help: "Total batches closed and dispatched for anchoring.",
		}),
	}
}

// meteredAnchorer wraps a batchmgr.Anchorer so every batch close is
// counted before delegating to the real anchorer (federation, external,
// or a batchmgr.FanOut of both).
type meteredAnchorer struct {
	next    batchmgr.Anchorer
	metrics *MetricsRegistry
}

// WrapAnchorer decorates next so every AnchorBatch call increments
// metrics' batchesClosed counter exactly once per closed batch.
func WrapAnchorer(next batchmgr.Anchorer, metrics *MetricsRegistry) batchmgr.Anchorer {
	return &meteredAnchorer{next: next, metrics: metrics}
}

func (m *meteredAnchorer) AnchorBatch(ctx context.Context, batch store.Batch) {
	m.metrics.batchesClosed.Inc()
	if m.next != nil {
		m.next.AnchorBatch(ctx, batch)
	}
}
