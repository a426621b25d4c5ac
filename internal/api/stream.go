package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wallet-sync/internal/store"
)

const streamWriteTimeout = 10 * time.Second

// StreamMessage is one frame on /v1/stream. The first frame is a hello
// carrying the current revision; every committed change follows in order.
type StreamMessage struct {
	Type     string        `json:"type"`
	Revision uint64        `json:"revision"`
	Change   *store.Change `json:"change,omitempty"`
}

// handleStream upgrades to a websocket and forwards store changes. Clients
// read the snapshot for data; frames only say what moved.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		s.logger.WithError(err).Debug("stream upgrade failed")
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	log := s.logger.WithField("remote", r.RemoteAddr)
	log.Debug("stream client connected")

	pongWait := 2 * s.config.PingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// reader: drain client frames so pongs and close are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg StreamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(msg)
	}

	if err := write(StreamMessage{Type: "hello", Revision: s.store.Snapshot().Revision()}); err != nil {
		return
	}

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "store closed"))
				return
			}
			if err := write(StreamMessage{Type: "change", Revision: change.Revision, Change: &change}); err != nil {
				log.WithError(err).Debug("stream write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			log.Debug("stream client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
