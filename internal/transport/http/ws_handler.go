// Package http exposes the read-only operations endpoint: a health check and
// a websocket stream of leaderboard updates.
package http

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/app"
	"tg-quiz-bot/internal/domain"
)

type LeaderboardHandler struct {
	feed     *app.LeaderboardFeed
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewLeaderboardHandler(feed *app.LeaderboardFeed, log zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		feed: feed,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string             `json:"type"`
	Payload domain.Leaderboard `json:"payload"`
}

// ServeWS streams the current leaderboard on connect and an update after
// every credit until the client goes away.
func (h *LeaderboardHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// the stream is write-only; reads only detect the client closing
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case board, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "leaderboard", Payload: board}); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				return
			}
		case <-done:
			return
		}
	}
}
