// Copyright 2025 Witness Protocol
//
// The witness binary runs a single stateless signer node (C4): it
// exposes POST /v1/sign and, given --generate-key, prints a new signing
// key pair and exits without starting a server.

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/signing/bls"
	"github.com/witnessnet/witness/pkg/signing/ed25519sig"
	"github.com/witnessnet/witness/pkg/witness"
)

func main() {
	var (
		generateKey = flag.Bool("generate-key", false, "generate a new signing key pair and exit")
		useBLS      = flag.Bool("bls", false, "use BLS12-381 instead of Ed25519 (with --generate-key or as the serving scheme)")
		listenAddr  = flag.String("listen", ":8090", "HTTP listen address")
		witnessID   = flag.String("witness-id", "", "this witness's identifier (required to serve)")
		networkID   = flag.String("network-id", "", "network id this witness signs for (required to serve)")
		keyHex      = flag.String("key", "", "hex-encoded private key (required to serve)")
		maxSkew     = flag.Int64("max-clock-skew", witness.DefaultMaxClockSkewSeconds, "maximum accepted clock skew in seconds")
		showHelp    = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *generateKey {
		if err := runGenerateKey(*useBLS); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	if *witnessID == "" || *networkID == "" || *keyHex == "" {
		fmt.Fprintln(os.Stderr, "Error: --witness-id, --network-id, and --key are required")
		flag.Usage()
		os.Exit(2)
	}

	node, err := buildNode(*witnessID, *networkID, *keyHex, *useBLS, *maxSkew)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger := log.New(log.Writer(), "[Witness] ", log.LstdFlags)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sign", handleSign(node, logger))
	mux.HandleFunc("/health", handleHealth)

	logger.Printf("listening on %s witness_id=%s network_id=%s scheme=%s", *listenAddr, *witnessID, *networkID, node.Scheme())
	if err := http.ListenAndServe(*listenAddr, mux); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

func runGenerateKey(useBLS bool) error {
	if useBLS {
		sk, pk, err := bls.Generate()
		if err != nil {
			return fmt.Errorf("generate BLS key: %w", err)
		}
		fmt.Printf("scheme: bls\nprivate_key: %s\npublic_key: %s\n", hex.EncodeToString(sk.Bytes()), pk.Hex())
		return nil
	}

	kp, err := ed25519sig.Generate()
	if err != nil {
		return fmt.Errorf("generate Ed25519 key: %w", err)
	}
	fmt.Printf("scheme: ed25519\nprivate_key: %s\npublic_key: %s\n",
		hex.EncodeToString(kp.PrivateKeyBytes()), hex.EncodeToString(kp.PublicKey()))
	return nil
}

func buildNode(witnessID, networkID, keyHex string, useBLS bool, maxSkew int64) (*witness.Node, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode --key: %w", err)
	}

	cfg := witness.Config{WitnessID: witnessID, NetworkID: networkID, MaxClockSkewSeconds: maxSkew}

	if useBLS {
		sk, err := bls.PrivateKeyFromBytes(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("load BLS private key: %w", err)
		}
		signer := witness.NewBLSSigner(witnessID, sk, sk.PublicKey())
		return witness.New(cfg, signer, nil), nil
	}

	kp, err := ed25519sig.FromPrivateKeyBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("load Ed25519 private key: %w", err)
	}
	signer := witness.NewEd25519Signer(witnessID, kp)
	return witness.New(cfg, signer, nil), nil
}

// signRequestBody is the wire shape of POST /v1/sign:
// {hash, timestamp, network_id, sequence}.
type signRequestBody struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	NetworkID string `json:"network_id"`
	Sequence  uint64 `json:"sequence"`
}

type signResponseBody struct {
	WitnessID string `json:"witness_id"`
	Signature string `json:"signature"`
}

func handleSign(node *witness.Node, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body signRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		fingerprint, err := attestation.FingerprintFromHex(body.Hash)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := node.Sign(witness.SignRequest{
			Fingerprint: fingerprint,
			Timestamp:   body.Timestamp,
			NetworkID:   body.NetworkID,
			Sequence:    body.Sequence,
		})
		if err != nil {
			logger.Printf("sign rejected: %v", err)
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(signResponseBody{
			WitnessID: result.WitnessID,
			Signature: hex.EncodeToString(result.Signature),
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
