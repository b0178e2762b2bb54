// Package events fans ledger activity out to external observers.
//
// The ledger calls the Bus hook after every append; the Bus queues the event
// and a single goroutine hands it to each Sink. Delivery is best effort and
// never affects the append that produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeEntryAppended     = "ledger.entry_appended"
	TypeLedgerCompromised = "ledger.compromised"
)

// Event is the envelope delivered to sinks.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Entry     *ledger.Entry     `json:"entry,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Sink receives events from the Bus.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// defaultQueueSize bounds the number of events waiting for delivery.
const defaultQueueSize = 1024

// Bus queues events and delivers them to its sinks in order.
type Bus struct {
	sinks  []Sink
	queue  chan Event
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	logger *zap.Logger
}

// NewBus creates a Bus and starts its delivery goroutine.
func NewBus(logger *zap.Logger, sinks ...Sink) *Bus {
	b := &Bus{
		sinks:  sinks,
		queue:  make(chan Event, defaultQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go b.run()
	return b
}

// Hook returns an AppendHook that publishes every appended entry.
func (b *Bus) Hook() ledger.AppendHook {
	return func(_ context.Context, e ledger.Entry) {
		b.Emit(Event{
			Type:      TypeEntryAppended,
			Timestamp: time.Now().UTC(),
			Entry:     &e,
		})
	}
}

// Dispatch publishes a payload-only event, e.g. a watchdog alert.
func (b *Bus) Dispatch(_ context.Context, eventType string, payload map[string]string) {
	b.Emit(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Emit queues ev. It never blocks: when the queue is full the event is
// dropped and logged.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("events: queue full, dropping event", zap.String("type", ev.Type))
	}
}

// Close stops accepting events and waits until queued ones are delivered
// or ctx expires.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for ev := range b.queue {
		for _, s := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Publish(ctx, ev); err != nil {
				b.logger.Warn("events: publish failed",
					zap.String("sink", s.Name()),
					zap.String("type", ev.Type),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}
