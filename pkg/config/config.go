// Copyright 2025 Witness Protocol
//
// Package config holds environment-driven process configuration for the
// gateway binary and for a witness node (the witness binary itself reads
// command-line flags instead), and the JSON network-topology loader
// (network.go). Modeled on the teacher's pkg/config/config.go: a flat
// struct populated by Load(), validated separately by Validate() so
// callers can distinguish "parsed" from "safe to start serving".

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// GatewayConfig holds the gateway binary's process configuration. Network
// topology (witnesses, threshold, scheme, federation peers) is loaded
// separately from NetworkConfigPath via LoadNetwork.
type GatewayConfig struct {
	ListenAddr        string
	StoreDriver       string // "memory" or "postgres"
	DatabaseURL       string
	NetworkConfigPath string
	BatchPeriod       time.Duration
	LogLevel          string
}

// Load reads the gateway's configuration from environment variables.
func Load() (*GatewayConfig, error) {
	cfg := &GatewayConfig{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		StoreDriver:       getEnv("STORE_DRIVER", "memory"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		NetworkConfigPath: getEnv("NETWORK_CONFIG_PATH", ""),
		BatchPeriod:       getEnvDuration("BATCH_PERIOD", 60*time.Second),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate fails closed on configuration a gateway must never start
// without: which network topology to serve, and (for the postgres
// driver) where to find the database.
func (c *GatewayConfig) Validate() error {
	var problems []string

	if c.NetworkConfigPath == "" {
		problems = append(problems, "NETWORK_CONFIG_PATH is required but not set")
	}

	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER %q is not one of memory, postgres", c.StoreDriver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("gateway configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// WitnessConfig holds a witness node's environment-driven configuration:
// its identity, which network it signs for, and where its signing key
// lives. cmd/witness does not use it; that binary takes these settings
// from command-line flags.
// SigningKeyPath carries no default — a witness with no key configured
// must fail to start, never silently run unsigned.
type WitnessConfig struct {
	WitnessID      string
	ListenAddr     string
	NetworkID      string
	Scheme         string // "ed25519" or "bls"
	SigningKeyPath string
	MaxClockSkew   time.Duration
	LogLevel       string
}

// LoadWitness reads a witness node's configuration from environment
// variables.
func LoadWitness() (*WitnessConfig, error) {
	cfg := &WitnessConfig{
		WitnessID:      getEnv("WITNESS_ID", ""),
		ListenAddr:     getEnv("LISTEN_ADDR", ":9000"),
		NetworkID:      getEnv("NETWORK_ID", ""),
		Scheme:         getEnv("SIGNING_SCHEME", "ed25519"),
		SigningKeyPath: getEnv("SIGNING_KEY_PATH", ""),
		MaxClockSkew:   getEnvDuration("MAX_CLOCK_SKEW", 5*time.Minute),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate fails closed on the security-bearing fields a witness must
// never default: its identity, the network it is bound to, and its
// signing key.
func (c *WitnessConfig) Validate() error {
	var problems []string

	if c.WitnessID == "" {
		problems = append(problems, "WITNESS_ID is required but not set")
	}
	if c.NetworkID == "" {
		problems = append(problems, "NETWORK_ID is required but not set")
	}
	if c.SigningKeyPath == "" {
		problems = append(problems, "SIGNING_KEY_PATH is required but not set")
	}
	if c.Scheme != "ed25519" && c.Scheme != "bls" {
		problems = append(problems, fmt.Sprintf("SIGNING_SCHEME %q is not one of ed25519, bls", c.Scheme))
	}

	if len(problems) > 0 {
		return fmt.Errorf("witness configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

