// Copyright 2025 Witness Protocol
//
// Package api implements the HTTP API (spec.md §6): the JSON endpoints
// clients, peer gateways, and operators use to submit timestamps, verify
// attestations, fetch inclusion proofs, and watch commits in real time.
// Modeled on the teacher's pkg/server: one handler type per concern, a
// shared writeJSONError helper, and a single net/http.ServeMux wired up
// in Routes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/witnessnet/witness/pkg/quorum"
	"github.com/witnessnet/witness/pkg/store"
)

// kind classifies an internal error into one of the error kinds spec.md
// §7 names, driving both the HTTP status and the JSON error body.
type kind string

const (
	kindBadRequest             kind = "BadRequest"
	kindInsufficientSignatures kind = "InsufficientSignatures"
	kindNotFound               kind = "NotFound"
	kindVerificationFailed     kind = "VerificationFailed"
	kindConflict               kind = "Conflict"
	kindInternal               kind = "Internal"
)

func statusFor(k kind) int {
	switch k {
	case kindBadRequest:
		return http.StatusBadRequest
	case kindInsufficientSignatures:
		return http.StatusServiceUnavailable
	case kindNotFound:
		return http.StatusNotFound
	case kindVerificationFailed:
		return http.StatusUnprocessableEntity
	case kindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// classify maps an error returned by the domain packages to an error
// kind, per spec.md §7's propagation policy: store failures are always
// fatal, witness fan-out timeouts surface as InsufficientSignatures,
// unknown lookups as NotFound.
func classify(err error) kind {
	switch {
	case errors.Is(err, quorum.ErrInsufficientSignatures):
		return kindInsufficientSignatures
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrBatchNotFound):
		return kindNotFound
	default:
		return kindInternal
	}
}

// writeJSONError writes {"error": kind, "message": message} at the status
// the kind maps to.
func writeJSONError(w http.ResponseWriter, k kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(k))
	json.NewEncoder(w).Encode(map[string]string{"error": string(k), "message": message})
}

// writeErr classifies err and writes the corresponding JSON error.
func writeErr(w http.ResponseWriter, err error) {
	writeJSONError(w, classify(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
