// Copyright 2025 Witness Protocol
package api

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/witnessnet/witness/pkg/batchmgr"
	"github.com/witnessnet/witness/pkg/config"
	"github.com/witnessnet/witness/pkg/quorum"
	"github.com/witnessnet/witness/pkg/store"
)

// Server wires the quorum aggregator, batch manager, store, and network
// topology of one network into the HTTP/websocket API spec.md §6 names.
type Server struct {
	networkID  string
	topology   *config.NetworkTopology
	aggregator *quorum.Aggregator
	batches    *batchmgr.Manager
	store      store.Store
	hub        *eventHub
	metrics    *MetricsRegistry
	logger     *log.Logger
}

// NewServer constructs a Server for one network. metrics, if nil, is
// constructed against the default Prometheus registerer; pass the same
// *MetricsRegistry used to build the gateway's anchorer (via WrapAnchorer)
// so /metrics reports batch closes from the same counter.
func NewServer(networkID string, topology *config.NetworkTopology, aggregator *quorum.Aggregator, batches *batchmgr.Manager, st store.Store, metrics *MetricsRegistry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = NewMetricsRegistry(nil)
	}
	hub := newEventHub(logger)
	hub.subscribeStore(st)
	return &Server{
		networkID:  networkID,
		topology:   topology,
		aggregator: aggregator,
		batches:    batches,
		store:      st,
		hub:        hub,
		metrics:    metrics,
		logger:     logger,
	}
}

// Routes builds the full API mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/timestamp", s.handleTimestamp)
	mux.HandleFunc("/v1/timestamp/", s.handleGetTimestamp)
	mux.HandleFunc("/v1/verify", s.handleVerify)
	mux.HandleFunc("/v1/proof/", s.handleProof)
	mux.HandleFunc("/v1/anchors/", s.handleAnchors)
	mux.HandleFunc("/v1/config", s.handleConfig)
	mux.HandleFunc("/v1/federation/anchor", s.handleFederationAnchor)
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s.withRequestID(mux)
}
