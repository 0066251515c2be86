// Copyright 2025 Witness Protocol
package api

import (
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// withRequestID assigns every request a UUID, echoed back on the response
// and included in the server's access log line, so a client-reported
// failure can be located in the gateway's own logs.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		s.logger.Printf("request_id=%s %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
