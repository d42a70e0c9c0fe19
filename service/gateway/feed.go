package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const feedPingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleApprovalFeed streams gate events (approval.requested,
// decision.created) over a websocket until the client disconnects.
func (s *Service) handleApprovalFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", err, nil)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.gate.Subscribe(ctx)

	// Drain client frames so closes are noticed promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"topic": "ping"}); err != nil {
				return
			}
		}
	}
}
