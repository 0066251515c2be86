package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_TimestampSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/timestamp", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-gateway", srv.URL, "timestamp", "aa"}, &stdout, &stderr)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "ok")
}

func TestRun_GetNotFoundReturnsFailureCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "NotFound"})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-gateway", srv.URL, "get", "aa"}, &stdout, &stderr)
	assert.Equal(t, exitFailedOrNotFound, code)
}

func TestRun_UnknownSubcommandIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bogus"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
}

func TestRun_NoArgsIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
}

func TestRun_NetworkErrorReturnsExitNetworkError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-gateway", "http://127.0.0.1:1", "config"}, &stdout, &stderr)
	assert.Equal(t, exitNetworkError, code)
}
