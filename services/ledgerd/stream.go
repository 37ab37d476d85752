package ledgerd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"aqualedger/core/events"
	"aqualedger/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamMessage is the JSON frame written to websocket subscribers.
type StreamMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type subscriber struct {
	ch     chan StreamMessage
	types  map[string]struct{}
	closed bool
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// Hub fans ledger events out to websocket subscribers. A subscriber that
// falls a full buffer behind is disconnected.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	origins []string
}

var _ events.Emitter = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, now: time.Now, subs: make(map[*subscriber]struct{}), origins: []string{"*"}}
}

// Emit implements events.Emitter. It never blocks the ledger.
func (h *Hub) Emit(e events.Event) {
	if e == nil {
		return
	}
	msg := StreamMessage{Type: e.EventType(), Timestamp: h.now().UTC()}
	if attributed, ok := e.(events.Attributed); ok {
		msg.Attributes = attributed.Attributes()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(msg.Type) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("dropping slow stream subscriber", slog.String("event", msg.Type))
			h.removeLocked(sub)
		}
	}
}

// Subscribe registers a subscriber interested in the given event types, or all
// types when none are given.
func (h *Hub) Subscribe(types []string) (<-chan StreamMessage, func()) {
	sub := &subscriber{ch: make(chan StreamMessage, subscriberBuffer)}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			if sub.types == nil {
				sub.types = make(map[string]struct{})
			}
			sub.types[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	observability.HTTP().StreamOpened()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			h.removeLocked(sub)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) removeLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub)
	close(sub.ch)
	observability.HTTP().StreamClosed()
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

// AllowOrigins restricts cross-origin upgrades to the given browser origins,
// the same list the CORS middleware echoes. An empty list allows any origin.
// Same-host upgrades are always accepted.
func (h *Hub) AllowOrigins(origins []string) {
	patterns := originPatterns(origins)
	h.mu.Lock()
	h.origins = patterns
	h.mu.Unlock()
}

// originPatterns turns origins such as https://app.example.org into the host
// patterns websocket.Accept matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		patterns = append(patterns, origin)
	}
	if len(patterns) == 0 {
		return []string{"*"}
	}
	return patterns
}

// ServeHTTP upgrades the request and streams events until the client goes away
// or the hub drops it. ?types=a,b filters by event type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var types []string
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		types = strings.Split(raw, ",")
	}
	h.mu.Lock()
	origins := h.origins
	h.mu.Unlock()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.Subscribe(types)
	defer cancel()

	// Reads are only drained to notice the client closing.
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, updates <-chan StreamMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
			}
			if err := writeStreamMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
