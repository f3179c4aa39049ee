// Package messaging carries progression, clan and integrity events from
// command handlers to subscribers such as the websocket hub and the cache
// evictor. The in-memory bus serves one process; the Redis bus relays
// events between processes over Pub/Sub.
package messaging

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrNilHandler     = errors.New("handler cannot be nil")
	ErrNilEvent       = errors.New("event cannot be nil")
)

// anyEvent keys handlers registered with SubscribeAll.
const anyEvent shared.EventType = "*"

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs each handler on a pooled goroutine. Ordering between
	// events is then lost, so the server keeps it off.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers. Default 10.
	WorkerPoolSize int

	Logger *slog.Logger
}

// InMemoryEventBus implements shared.EventBus inside one process.
//
// In sync mode handlers run on the publisher's goroutine: type-specific
// handlers first, then catch-all handlers, each in subscription order.
// Handler errors are logged and counted, never returned to the publisher.
type InMemoryEventBus struct {
	log   *slog.Logger
	stats *BusStats

	async bool
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	subs   map[shared.EventType][]shared.EventHandler
	closed bool
}

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	return &InMemoryEventBus{
		log:   cfg.Logger,
		stats: newBusStats(),
		async: cfg.AsyncMode,
		slots: make(chan struct{}, cfg.WorkerPoolSize),
		subs:  make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(anyEvent, handler)
}

func (b *InMemoryEventBus) add(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs[key] = append(b.subs[key], handler)
	b.log.Debug("handler subscribed", "event_type", key)
	return nil
}

// Publish hands event to its handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed, all := b.subs[event.EventType()], b.subs[anyEvent]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(all))
	handlers = append(append(handlers, typed...), all...)
	if b.async {
		// Registered under the read lock so Close cannot miss it.
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.stats.published(event.EventType())

	for _, h := range handlers {
		if b.async {
			go b.runPooled(event, h)
			continue
		}
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) runPooled(event shared.Event, h shared.EventHandler) {
	defer b.wg.Done()
	b.slots <- struct{}{}
	defer func() { <-b.slots }()
	b.run(event, h)
}

func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := h(event)
	b.stats.handled(time.Since(start), err)
	if err != nil {
		b.log.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}

// Close rejects further use and waits for every queued async handler.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Debug("event bus closed")
	return nil
}

// Stats returns the live counters.
func (b *InMemoryEventBus) Stats() *BusStats { return b.stats }

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// BusStats counts publishes and handler outcomes.
type BusStats struct {
	mu        sync.Mutex
	byType    map[shared.EventType]int64
	runs      atomic.Int64
	failures  atomic.Int64
	busyNanos atomic.Int64
}

func newBusStats() *BusStats {
	return &BusStats{byType: make(map[shared.EventType]int64)}
}

func (s *BusStats) published(t shared.EventType) {
	s.mu.Lock()
	s.byType[t]++
	s.mu.Unlock()
}

func (s *BusStats) handled(d time.Duration, err error) {
	s.runs.Add(1)
	s.busyNanos.Add(int64(d))
	if err != nil {
		s.failures.Add(1)
	}
}

// Published returns how many events of a type were published.
func (s *BusStats) Published(t shared.EventType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byType[t]
}

// Runs returns how many handler invocations completed.
func (s *BusStats) Runs() int64 { return s.runs.Load() }

// Failures returns how many handler invocations returned an error.
func (s *BusStats) Failures() int64 { return s.failures.Load() }

// Busy returns the total time spent inside handlers.
func (s *BusStats) Busy() time.Duration { return time.Duration(s.busyNanos.Load()) }
