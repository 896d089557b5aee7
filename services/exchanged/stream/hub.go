// Package stream pushes committed exchange events to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"nhooyr.io/websocket"

	"nftswap/core/events"
	"nftswap/native/exchange"
)

const (
	defaultBuffer = 64
	writeTimeout  = 10 * time.Second
)

// Message is the JSON frame written to subscribers.
type Message struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Filter selects the events a subscriber receives. Zero values match
// everything.
type Filter struct {
	Types  []string
	Trader common.Address
}

var traderKeys = []string{"trader", "makerTrader", "takerTrader", "recipient"}

func (f Filter) match(msg Message) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == msg.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Trader == (common.Address{}) {
		return true
	}
	want := f.Trader.Hex()
	for _, key := range traderKeys {
		if msg.Attributes[key] == want {
			return true
		}
	}
	return false
}

type subscriber struct {
	filter Filter
	ch     chan Message
}

// Hub fans committed events out to live subscribers. Slow subscribers lose
// messages instead of blocking the exchange. Hub implements events.Emitter.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	seq     uint64
	buffer  int
	closed  bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[uint64]*subscriber), buffer: buffer, logger: logger}
}

// Emit forwards exchange events to every matching subscriber.
func (h *Hub) Emit(evt events.Event) {
	payload, ok := exchange.Unwrap(evt)
	if !ok {
		return
	}
	attrs := make(map[string]string, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs[k] = v
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	msg := Message{Seq: h.seq, Type: payload.Type, Attributes: attrs}
	for id, sub := range h.subs {
		if !sub.filter.match(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.dropped.Add(1)
			h.logger.Debug("stream subscriber lagging", "subscriber", id, "type", msg.Type)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// once the subscriber is done; the channel is closed by cancel or Close.
func (h *Hub) Subscribe(filter Filter) (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Message, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscriber{filter: filter, ch: ch}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many messages were discarded for lagging subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams matching events
// until either side goes away. Query parameters: types (comma separated) and
// trader.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Streams outlive the server's request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.Subscribe(filter)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := pump(ctx, conn, updates); err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		h.logger.Debug("stream write failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func pump(ctx context.Context, conn *websocket.Conn, updates <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, t)
		}
	}
	if raw := strings.TrimSpace(q.Get("trader")); raw != "" {
		if !common.IsHexAddress(raw) {
			return Filter{}, filterError("invalid trader address")
		}
		f.Trader = common.HexToAddress(raw)
	}
	return f, nil
}
