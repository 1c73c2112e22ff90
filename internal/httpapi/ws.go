package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/negotiation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

const (
	wsWriteTimeout = 10 * time.Second
	// slow consumers get cut off rather than allowed to stall the session
	wsSendBuffer = 32
)

// handleWS streams negotiation updates for one booking over a websocket.
// The client receives the current state immediately, then one message per
// applied tick or user action.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	coord, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for booking "+id)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "booking_id", id, "error", err)
		return
	}

	send := make(chan negotiation.Update, wsSendBuffer)
	send <- coord.View()

	dropped := make(chan struct{})
	var dropOnce sync.Once
	unsubscribe := coord.Subscribe(func(u negotiation.Update) {
		select {
		case send <- u:
		default:
			// consumer is not keeping up; close it and let it reconnect
			dropOnce.Do(func() { close(dropped) })
		}
	})

	// reader: we accept no client messages, but reading is what surfaces
	// the peer closing the connection
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		conn.Close()
	}()

	for {
		select {
		case u := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(u); err != nil {
				s.logger.Debug("websocket write failed", "booking_id", id, "error", err)
				return
			}
		case <-dropped:
			s.logger.Warn("websocket consumer too slow, dropping", "booking_id", id)
			return
		case <-gone:
			return
		}
	}
}
