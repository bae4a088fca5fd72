package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/overseer/internal/journal"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS streams journal events to a websocket client as they
// are emitted. An optional ?domain= query scopes the subscription.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS already handled by the router
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	domain := r.URL.Query().Get("domain")
	s.log.Info().Str("domain", domain).Msg("Websocket client connected")

	// Buffered so a slow client drops events instead of blocking Emit.
	events := make(chan *journal.ChangeEvent, 100)
	observer := journal.ObserverFunc(func(ev *journal.ChangeEvent) {
		select {
		case events <- ev:
		default:
			s.log.Warn().Str("type", ev.Type).Msg("Websocket channel full, dropping event")
		}
	})

	var unsubscribe func()
	if domain != "" {
		unsubscribe = s.journal.Subscribe(domain, observer)
	} else {
		unsubscribe = s.journal.SubscribeAll(observer)
	}
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Websocket client disconnected")
			return
		case ev := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Websocket write failed, closing")
				return
			}
		}
	}
}
