package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"curvemarket/core/events"
	"curvemarket/core/types"
	"curvemarket/observability/metrics"
)

const (
	wsWriteTimeout  = 10 * time.Second
	subscriberQueue = 64
)

// eventPayload is satisfied by the typed event structs that can render a
// wire-level record.
type eventPayload interface {
	Event() *types.Event
}

// EventHub fans emitted engine events out to websocket subscribers and keeps
// the Prometheus gauges in sync with committed state. It satisfies
// events.Emitter so it can be handed straight to the engine.
type EventHub struct {
	mu      sync.Mutex
	subs    map[chan *types.Event]struct{}
	metrics *metrics.MarketMetrics
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs:    make(map[chan *types.Event]struct{}),
		metrics: metrics.Market(),
	}
}

// Emit implements events.Emitter. Slow subscribers are skipped rather than
// allowed to stall the engine.
func (h *EventHub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	h.record(evt)
	payload, ok := evt.(eventPayload)
	if !ok {
		return
	}
	wire := payload.Event()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- wire:
		default:
		}
	}
}

func (h *EventHub) record(evt events.Event) {
	switch e := evt.(type) {
	case events.BuyExecuted:
		h.metrics.RecordTrade("buy", e.Amount, e.Fee, e.NewSupply)
	case events.SellExecuted:
		h.metrics.RecordTrade("sell", e.Amount, e.Fee, e.NewSupply)
	case events.FeesWithdrawn:
		h.metrics.RecordWithdrawal()
	}
}

// Subscribe registers a new listener. The returned cancel function must be
// called to release it.
func (h *EventHub) Subscribe() (<-chan *types.Event, func()) {
	sub := make(chan *types.Event, subscriberQueue)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
	return sub, cancel
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	sub, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
