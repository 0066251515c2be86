// Copyright 2025 Witness Protocol
//
// The gateway binary runs one network's full pipeline: the quorum
// aggregator (C5), the batch manager (C6), cross-network federation and
// external anchoring (C7), the persistence store (C8), and the HTTP/
// websocket API (§6) clients and peer gateways talk to.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/witnessnet/witness/pkg/api"
	"github.com/witnessnet/witness/pkg/batchmgr"
	"github.com/witnessnet/witness/pkg/config"
	"github.com/witnessnet/witness/pkg/extanchor"
	"github.com/witnessnet/witness/pkg/federation"
	"github.com/witnessnet/witness/pkg/quorum"
	"github.com/witnessnet/witness/pkg/signing"
	"github.com/witnessnet/witness/pkg/store"
	"github.com/witnessnet/witness/pkg/store/memory"
	"github.com/witnessnet/witness/pkg/store/postgres"
)

func main() {
	logger := log.New(log.Writer(), "[Gateway] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	topo, err := config.LoadNetwork(cfg.NetworkConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	st, err := buildStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	anchorer, err := buildAnchorer(topo, st, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	metrics := api.NewMetricsRegistry(nil)
	batches := batchmgr.New(st, api.WrapAnchorer(anchorer, metrics), logger)

	quorumCfg, err := buildQuorumConfig(topo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	aggregator, err := quorum.New(quorumCfg, st, batches, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	period := cfg.BatchPeriod
	if topo.BatchPeriodSecs > 0 {
		period = time.Duration(topo.BatchPeriodSecs) * time.Second
	}
	if err := batches.Start(ctx, batchmgr.NetworkConfig{NetworkID: topo.NetworkID, Period: period}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer batches.Stop()

	apiServer := api.NewServer(topo.NetworkID, topo, aggregator, batches, st, metrics, logger)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: apiServer.Routes()}

	go func() {
		logger.Printf("listening on %s network_id=%s scheme=%s threshold=%d/%d",
			cfg.ListenAddr, topo.NetworkID, topo.SignatureScheme, topo.Threshold, len(topo.Witnesses))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
}

func buildStore(cfg *config.GatewayConfig, logger *log.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		client, err := postgres.NewClient(postgres.Config{DatabaseURL: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := client.MigrateUp(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.New(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// buildAnchorer wires cross-network federation and any configured
// external anchor providers into a single batchmgr.Anchorer. A network
// with neither configured gets a batchmgr.FanOut over zero anchorers,
// which does nothing when a batch closes.
func buildAnchorer(topo *config.NetworkTopology, st store.Store, logger *log.Logger) (batchmgr.Anchorer, error) {
	var anchorers []batchmgr.Anchorer

	if len(topo.FederationPeers) > 0 {
		peers := make([]federation.PeerConfig, 0, len(topo.FederationPeers))
		for _, p := range topo.FederationPeers {
			peers = append(peers, federation.PeerConfig{NetworkID: p.NetworkID, Endpoint: p.Endpoint})
		}
		anchorers = append(anchorers, federation.New(federation.Config{
			Peers: map[string][]federation.PeerConfig{topo.NetworkID: peers},
		}, st, logger))
	}

	providers := make([]extanchor.Provider, 0, len(topo.ExternalAnchors))
	for _, p := range topo.ExternalAnchors {
		switch p.Provider {
		case "null":
			providers = append(providers, extanchor.NewNullProvider(logger))
		default:
			return nil, fmt.Errorf("unknown external anchor provider %q", p.Provider)
		}
	}
	if len(providers) > 0 {
		anchorers = append(anchorers, extanchor.NewDispatcher(providers, st, logger))
	}

	return batchmgr.FanOut(anchorers...), nil
}

func buildQuorumConfig(topo *config.NetworkTopology) (quorum.Config, error) {
	scheme := signing.Scheme(topo.SignatureScheme)
	if !scheme.IsValid() {
		return quorum.Config{}, fmt.Errorf("%w: %q", signing.ErrUnknownScheme, topo.SignatureScheme)
	}

	witnesses := make([]quorum.WitnessConfig, 0, len(topo.Witnesses))
	for _, w := range topo.Witnesses {
		pub, err := hex.DecodeString(w.PublicKey)
		if err != nil {
			return quorum.Config{}, fmt.Errorf("decode public key for witness %s: %w", w.WitnessID, err)
		}
		witnesses = append(witnesses, quorum.WitnessConfig{WitnessID: w.WitnessID, PublicKey: pub, Endpoint: w.Endpoint})
	}

	return quorum.Config{
		NetworkID: topo.NetworkID,
		Scheme:    scheme,
		Threshold: topo.Threshold,
		Witnesses: witnesses,
	}, nil
}
