package server

import (
	"context"
	"net/http"
	"path"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"waveline/internal/app"
	"waveline/internal/domain"
	"waveline/internal/engine"
	"waveline/internal/engine/auth"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerStream serves a websocket that pushes orchestrator events as they
// are published and a status frame on every tick. Slow clients lose events
// rather than stall the orchestrator.
func registerStream(r chi.Router, basePath string, a *app.App, cfg AuthConfig) {
	every := time.Second
	if a.Config != nil && a.Config.Server.StatusEveryMS > 0 {
		every = time.Duration(a.Config.Server.StatusEveryMS) * time.Millisecond
	}
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		if err := requirePermission(req.Context(), auth.PermWaveRead); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			cfg.logger().Printf("stream: upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		events := make(chan domain.Event, streamBuffer)
		var dropped atomic.Int64
		unsubscribe := a.Orchestrator.Subscribe(engine.ObserverFunc(func(ev domain.Event) {
			select {
			case events <- ev:
			default:
				dropped.Add(1)
			}
		}))
		defer unsubscribe()

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(frame StreamFrame) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			return conn.WriteJSON(frame) == nil
		}
		status := func() bool {
			st := a.Orchestrator.Status()
			return write(StreamFrame{Kind: "status", Status: &st})
		}

		if !status() {
			return
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if n := dropped.Load(); n > 0 {
					cfg.logger().Printf("WARNING: stream: dropped %d events for a slow client", n)
				}
				return
			case ev := <-events:
				if !write(StreamFrame{Kind: "event", Event: &ev}) {
					return
				}
			case <-ticker.C:
				if !status() {
					return
				}
			}
		}
	})
}
