// Copyright 2025 Witness Protocol
//
// GET /ws/events streams every signed attestation as it is committed.
// Modeled on the nochat.io messaging-service hub: a mutex-guarded set of
// per-client buffered channels receives every broadcast message, and a
// client whose send buffer is full is dropped rather than blocking the
// broadcaster.

package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/witnessnet/witness/pkg/attestation"
	"github.com/witnessnet/witness/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const clientSendBuffer = 16

// eventHub fans out committed attestations to every subscribed websocket
// client.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan attestation.SignedAttestation]struct{}
	logger  *log.Logger
}

func newEventHub(logger *log.Logger) *eventHub {
	if logger == nil {
		logger = log.New(log.Writer(), "[EventsHub] ", log.LstdFlags)
	}
	return &eventHub{clients: make(map[chan attestation.SignedAttestation]struct{}), logger: logger}
}

// subscribeStore wires the hub into the store's publish/subscribe
// mechanism, converting store.Event into the wire SignedAttestation the
// hub broadcasts.
func (h *eventHub) subscribeStore(st store.Store) func() {
	ch := make(chan store.Event, 64)
	unsubscribe := st.Subscribe(ch)
	go func() {
		for ev := range ch {
			h.broadcast(ev.Signed)
		}
	}()
	return unsubscribe
}

func (h *eventHub) broadcast(signed attestation.SignedAttestation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- signed:
		default:
			h.logger.Printf("dropping slow websocket client")
			delete(h.clients, client)
			close(client)
		}
	}
}

func (h *eventHub) register() chan attestation.SignedAttestation {
	ch := make(chan attestation.SignedAttestation, clientSendBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unregister(ch chan attestation.SignedAttestation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// handleEvents upgrades the connection and streams every subsequently
// committed attestation until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := s.hub.register()
	defer s.hub.unregister(ch)

	for signed := range ch {
		if err := conn.WriteJSON(signed); err != nil {
			return
		}
	}
}
