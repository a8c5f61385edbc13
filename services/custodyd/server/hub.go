package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"vestvault/core/events"
	"vestvault/core/types"
)

const (
	wsWriteTimeout     = 10 * time.Second
	subscriberBacklog  = 64
	closeReasonBacklog = "subscriber too slow"
)

type subscriber struct {
	filter string
	ch     chan *types.Event
}

// Hub fans committed events out to websocket subscribers. Emit never blocks;
// subscribers that fall behind are disconnected.
type Hub struct {
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(e events.Event) {
	payload := events.ToPayload(e)
	if payload == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.filter != "" && !strings.HasPrefix(payload.Type, sub.filter) {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (h *Hub) subscribe(filter string) *subscriber {
	sub := &subscriber{filter: filter, ch: make(chan *types.Event, subscriberBacklog)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Subscribers reports the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// The optional "type" query parameter filters by event type prefix.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := h.subscribe(strings.TrimSpace(r.URL.Query().Get("type")))
	defer h.unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sub); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			h.logger.Debug("websocket stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusPolicyViolation, closeReasonBacklog)
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.ch:
			if !ok {
				return errSubscriberDropped
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, payload *types.Event) error {
	data, err := json.Marshal(eventView{Type: payload.Type, Attributes: payload.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
