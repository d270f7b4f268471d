// Package syncbus fans events out between the intake surface and the ER
// dashboard. Local subscribers always receive events synchronously;
// attached transports carry them to other nodes, best effort.
package syncbus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler receives events. Handlers must not block.
type Handler func(Event)

// Transport carries events between nodes. Start delivers inbound events to
// the sink until the context ends or Close is called.
type Transport interface {
	Publish(ctx context.Context, e Event) error
	Start(ctx context.Context, sink func(Event)) error
	Close() error
}

// Bus is the local event hub. Safe for concurrent use.
type Bus struct {
	source string
	logger *slog.Logger

	mu         sync.Mutex
	handlers   map[EventType]map[int]Handler
	nextID     int
	transports []Transport
	closed     bool
}

// New creates a bus with a unique source id and the given transports.
// Transports may be empty; the bus then only serves local subscribers.
func New(logger *slog.Logger, transports ...Transport) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		source:     generateSourceID(),
		logger:     logger,
		handlers:   make(map[EventType]map[int]Handler),
		transports: transports,
	}
}

func generateSourceID() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("node_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("node_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}

// Source returns this bus's node id.
func (b *Bus) Source() string { return b.source }

// Start begins receiving from the transports. Events originating from this
// bus are dropped before dispatch.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	transports := append([]Transport(nil), b.transports...)
	b.mu.Unlock()

	for _, t := range transports {
		if err := t.Start(ctx, b.receive); err != nil {
			return fmt.Errorf("start transport: %w", err)
		}
	}
	return nil
}

func (b *Bus) receive(e Event) {
	if e.Source == b.source {
		return
	}
	b.dispatch(e)
}

// Subscribe registers a handler for one event type and returns a function
// that removes exactly that handler. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[t], id)
	}
}

// Publish stamps and delivers an event. Local subscribers are served first,
// synchronously, regardless of transport health; transport failures are
// logged and swallowed.
func (b *Bus) Publish(ctx context.Context, t EventType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	e := Event{
		Type:        t,
		Data:        raw,
		TimestampMs: time.Now().UnixMilli(),
		Source:      b.source,
	}

	b.dispatch(e)

	b.mu.Lock()
	transports := append([]Transport(nil), b.transports...)
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}

	for _, tr := range transports {
		if err := tr.Publish(ctx, e); err != nil {
			b.logger.Warn("transport publish failed", "type", string(t), "error", err)
		}
	}
	return nil
}

// dispatch runs every handler registered for the event's type. A panicking
// handler does not stop the others.
func (b *Bus) dispatch(e Event) {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers[e.Type]))
	for _, h := range b.handlers[e.Type] {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		b.safeCall(h, e)
	}
}

func (b *Bus) safeCall(h Handler, e Event) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Error("event handler panic", "type", string(e.Type), "panic", v)
		}
	}()
	h(e)
}

// Close detaches transports and drops all handlers. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	transports := b.transports
	b.transports = nil
	b.handlers = make(map[EventType]map[int]Handler)
	b.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			b.logger.Warn("transport close failed", "error", err)
		}
	}
}
