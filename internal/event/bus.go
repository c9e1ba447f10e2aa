// Package event provides the in-process pub/sub event bus using watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Handler receives a published event. Returning an error marks the
// handler as failed for that event; delivery to other handlers is
// unaffected.
type Handler func(ctx context.Context, e SessionEvent) error

// handlerEntry wraps a handler with an ID for unsubscription.
type handlerEntry struct {
	id uint64
	fn Handler
}

// Bus fans out typed events to subscribers. Dispatch to individual
// handlers is concurrent and failure-isolated; Publish waits for all
// handlers before returning, so sequential Publish calls from one
// producer are dispatched in call order.
type Bus struct {
	mu sync.RWMutex

	// Watermill gochannel carries a serialized copy of every event,
	// keyed by event type, for middleware or raw stream consumers.
	pubsub *gochannel.GoChannel

	subscribers map[EventType][]handlerEntry
	global      []handlerEntry

	log    zerolog.Logger
	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]handlerEntry),
		log:         log,
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], handlerEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a handler for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, handlerEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish assigns the event an ID and timestamp if unset, dispatches it
// to all type-specific and global handlers concurrently, and waits for
// every handler to return. A handler failure or panic is logged and
// does not affect the other handlers or the returned event.
func (b *Bus) Publish(ctx context.Context, e SessionEvent) *SessionEvent {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return &e
	}
	subs := make([]Handler, 0, len(b.subscribers[e.Type])+len(b.global))
	for _, entry := range b.subscribers[e.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(fn Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().
						Str("event", string(e.Type)).
						Str("eventID", e.ID).
						Any("panic", r).
						Msg("event handler panicked")
				}
			}()
			if err := fn(ctx, e); err != nil {
				b.log.Warn().
					Err(err).
					Str("event", string(e.Type)).
					Str("eventID", e.ID).
					Msg("event handler failed")
			}
		}(sub)
	}
	wg.Wait()

	b.publishRaw(e)

	return &e
}

// publishRaw mirrors the event onto the watermill channel keyed by type.
func (b *Bus) publishRaw(e SessionEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.log.Warn().Err(err).Str("eventID", e.ID).Msg("event not mirrored to raw stream")
		return
	}
	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("sessionID", e.SessionID)
	if err := b.pubsub.Publish(string(e.Type), msg); err != nil {
		b.log.Warn().Err(err).Str("eventID", e.ID).Msg("raw stream publish failed")
	}
}

// Messages returns the raw watermill stream for an event type. Useful
// for consumers that want backpressure instead of callback dispatch.
func (b *Bus) Messages(ctx context.Context, eventType EventType) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, string(eventType))
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]handlerEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
