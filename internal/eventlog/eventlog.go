// Package eventlog implements the append-only, per-run event log: the
// single source of truth every other component reads and writes.
//
// Appends are serialized; an append durably persists the event before it
// becomes visible, then publishes it to live subscribers. Subscriber
// delivery is decoupled from the append path: each subscriber owns a
// bounded channel and a slow subscriber loses events rather than
// blocking producers (a late subscriber can always replay full history
// via Query).
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/google/uuid"
)

// subscriberBuffer bounds the per-subscriber delivery queue.
const subscriberBuffer = 256

// Storage is the durable backend for events.
type Storage interface {
	AppendEvent(ev events.Event) error
	Events(runID string) ([]events.Event, error)
	DeleteRun(runID string) error
}

// Log is the append-only event log.
type Log struct {
	storage Storage

	mu      sync.RWMutex
	memory  []events.Event
	subs    map[int]chan events.Event
	nextSub int
}

// New creates an event log over the given storage.
func New(storage Storage) *Log {
	return &Log{
		storage: storage,
		subs:    make(map[int]chan events.Event),
	}
}

// Append assigns an id and timestamp if absent, durably persists the
// event, appends it in memory, and publishes it to live subscribers.
// A storage failure is returned to the caller and the event is not
// published.
func (l *Log) Append(ev events.Event) (events.Event, error) {
	if ev.Payload == nil {
		return events.Event{}, fmt.Errorf("cannot append event without payload")
	}
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	if err := l.storage.AppendEvent(ev); err != nil {
		return events.Event{}, err
	}

	l.mu.Lock()
	l.memory = append(l.memory, ev)
	for id, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is falling behind; drop rather than stall.
			logging.EngineWarn("event log subscriber %d dropped event %s", id, ev.ID)
		}
	}
	l.mu.Unlock()

	return ev, nil
}

// Events returns a snapshot of the in-memory log (this process's
// appends, all runs, in append order).
func (l *Log) Events() []events.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]events.Event, len(l.memory))
	copy(out, l.memory)
	return out
}

// Query returns all durably stored events, or those of one run when
// runID is non-empty, ordered by timestamp with insertion order breaking
// ties.
func (l *Log) Query(runID string) ([]events.Event, error) {
	return l.storage.Events(runID)
}

// DeleteRun irreversibly removes a run's events from storage and memory.
func (l *Log) DeleteRun(runID string) error {
	if err := l.storage.DeleteRun(runID); err != nil {
		return err
	}

	l.mu.Lock()
	kept := l.memory[:0]
	for _, ev := range l.memory {
		if ev.RunID != runID {
			kept = append(kept, ev)
		}
	}
	l.memory = kept
	l.mu.Unlock()
	return nil
}

// Subscribe registers a live event consumer. The returned cancel
// function must be called to release the subscription; after cancel the
// channel is closed.
func (l *Log) Subscribe() (<-chan events.Event, func()) {
	ch := make(chan events.Event, subscriberBuffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
