// stream.go - WebSocket push of ledger events.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"zerosync/internal/node"
)

const (
	// WriteWait is the time allowed to write one frame.
	WriteWait = 10 * time.Second
	// PongWait is how long the connection may stay silent before it is considered dead.
	PongWait = 60 * time.Second
	// PingPeriod must be shorter than PongWait.
	PingPeriod = (PongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribe upgrades the request and pushes every event from :index on as a JSON text frame
// until the client goes away.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, b Bindings) {
	start, err := b.Index(":index")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := s.log.With().Str("client", clientAddr(r)).Uint64("start", start).Logger()
	log.Debug().Msg("subscriber connected")

	// The server's read timeout would otherwise fire on the hijacked connection.
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	// Reader: the client sends nothing but control frames; any read error ends the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := s.svc.Subscribe(ctx, start)
	ping := time.NewTicker(PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("subscriber disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, err := node.EncodeJSON(ev)
			if err != nil {
				log.Error().Err(err).Uint64("index", ev.Index).Msg("failed to encode event")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Err(err).Msg("failed to push event")
				}
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait)); err != nil {
				return
			}
		}
	}
}
