package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/kalisio/k2/internal/adapters/nats"
	"github.com/kalisio/k2/internal/pkg/metrics"
)

// wsMessage is sent from client to follow or drop a profile request.
type wsMessage struct {
	Action    string `json:"action"` // "watch" | "unwatch"
	RequestID string `json:"request_id"`
}

// WebSocketHandler returns a handler that relays progress and completion
// events of profile requests to connected clients.
// Clients send JSON: {"action":"watch","request_id":"<X-Request-ID of the POST>"}
// or connect with ?request_id=... to watch one request straight away.
func WebSocketHandler(nc *nats.Conn) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		remoteAddr := c.RemoteAddr().String()
		log := slog.Default().With("remote", remoteAddr)
		log.Info("ws client connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		type watchEntry struct{ cancel context.CancelFunc }
		var mu sync.Mutex // guards writes and watches
		watches := make(map[string]*watchEntry)

		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		watch := func(id string) {
			mu.Lock()
			if _, exists := watches[id]; exists {
				mu.Unlock()
				_ = writeJSON(map[string]string{"status": "already watching", "request_id": id})
				return
			}
			wctx, wcancel := context.WithCancel(ctx)
			entry := &watchEntry{cancel: wcancel}
			watches[id] = entry
			mu.Unlock()

			updates, err := natsadapter.Watch(wctx, nc, id)
			if err != nil {
				mu.Lock()
				delete(watches, id)
				mu.Unlock()
				wcancel()
				_ = writeJSON(map[string]string{"error": "watch failed: " + err.Error()})
				return
			}
			_ = writeJSON(map[string]string{"status": "watching", "request_id": id})

			go func() {
				defer func() {
					mu.Lock()
					if watches[id] == entry {
						delete(watches, id)
					}
					mu.Unlock()
					wcancel()
				}()
				for u := range updates {
					if err := writeJSON(u); err != nil {
						return
					}
				}
			}()
		}

		if nc == nil {
			_ = writeJSON(map[string]string{"error": "progress events are not available"})
			return
		}

		if id := c.Query("request_id"); id != "" {
			watch(id)
		}

		// Keep-alive ping
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}
			if m.RequestID == "" {
				_ = writeJSON(map[string]string{"error": "request_id is required"})
				continue
			}

			switch m.Action {
			case "watch", "subscribe":
				watch(m.RequestID)
			case "unwatch", "unsubscribe":
				mu.Lock()
				entry, exists := watches[m.RequestID]
				delete(watches, m.RequestID)
				mu.Unlock()
				if !exists {
					_ = writeJSON(map[string]string{"error": "not watching " + m.RequestID})
					continue
				}
				entry.cancel()
				_ = writeJSON(map[string]string{"status": "unwatched", "request_id": m.RequestID})
			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
			}
		}

		log.Info("ws client disconnected")
	}
}
