package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pbaille/followup/internal/domain"
)

const (
	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

// Hub fans engine changes out to websocket subscribers. Slow
// subscribers miss changes rather than blocking the engine.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan domain.Change]struct{}
	logger *slog.Logger

	// OriginPatterns are passed to websocket.Accept.
	OriginPatterns []string
}

// NewHub creates an empty hub. A nil logger means slog.Default at the
// time of logging.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[chan domain.Change]struct{}), logger: logger}
}

func (h *Hub) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// Publish implements engine.Publisher.
func (h *Hub) Publish(c domain.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (<-chan domain.Change, func()) {
	ch := make(chan domain.Change, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// ServeHTTP upgrades the request and streams changes as JSON until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.log().Warn("ws_accept_failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(r.Context())
	changes, unsubscribe := h.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case c := <-changes:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, c)
			cancel()
			if err != nil {
				h.log().Debug("ws_write_failed", "error", err)
				return
			}
		}
	}
}
