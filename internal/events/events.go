// Package events carries the two change signals the stats view listens to:
// "record changed" (action, hash, timestamp) and "storage changed".
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Action describes what happened to a record.
type Action string

const (
	ActionCreated   Action = "created"
	ActionVerified  Action = "verified"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionImported  Action = "imported"
	ActionConfirmed Action = "confirmed"
)

// Kind names the signal.
type Kind string

const (
	KindRecordChanged  Kind = "record_changed"
	KindStorageChanged Kind = "storage_changed"
)

// RecordChanged is emitted after a record is written.
type RecordChanged struct {
	Action    Action    `json:"action"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is the envelope delivered to subscribers and written to Kafka.
type Notification struct {
	Kind   Kind           `json:"kind"`
	Record *RecordChanged `json:"record,omitempty"`
}

// Publisher emits change signals. Implementations must not block the caller on
// slow consumers.
type Publisher interface {
	PublishRecordChanged(ctx context.Context, ev RecordChanged) error
	PublishStorageChanged(ctx context.Context) error
}

// Observer hands out subscriptions. The returned cancel func releases it.
type Observer interface {
	Subscribe(buffer int) (<-chan Notification, func())
}

// Bus is an in-process fan-out Publisher and Observer. Delivery is best effort:
// a subscriber whose buffer is full misses the signal, which is acceptable for
// consumers that recompute from the store on every signal.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Notification
	next   int
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]chan Notification), logger: logger}
}

func (b *Bus) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) PublishRecordChanged(ctx context.Context, ev RecordChanged) error {
	b.Publish(ctx, Notification{Kind: KindRecordChanged, Record: &ev})
	return nil
}

func (b *Bus) PublishStorageChanged(ctx context.Context) error {
	b.Publish(ctx, Notification{Kind: KindStorageChanged})
	return nil
}

// Publish delivers n to every subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.DebugContext(ctx, "change notification dropped", "subscriber", id, "kind", n.Kind)
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Fanout publishes to several publishers, returning the first error after
// attempting all of them.
type Fanout []Publisher

func (f Fanout) PublishRecordChanged(ctx context.Context, ev RecordChanged) error {
	var first error
	for _, p := range f {
		if err := p.PublishRecordChanged(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) PublishStorageChanged(ctx context.Context) error {
	var first error
	for _, p := range f {
		if err := p.PublishStorageChanged(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every signal.
type Discard struct{}

func (Discard) PublishRecordChanged(context.Context, RecordChanged) error { return nil }

func (Discard) PublishStorageChanged(context.Context) error { return nil }
