// Package events fans controller and monitor output out to subscribers.
package events

import (
	"sync"
	"time"
)

// Type event type
type Type string

const (
	TypeSummary     Type = "summary"
	TypeWorkerStats Type = "worker_stats"
	TypeJobs        Type = "jobs"
	TypeFault       Type = "fault"
	TypeScaled      Type = "scaled"
)

// Source names the component that raised an event
type Source string

const (
	SourcePool       Source = "pool"
	SourceJobMonitor Source = "jobmonitor"
)

// Event one outbound notification
type Event struct {
	Type      Type        `json:"type"`
	Source    Source      `json:"source"`
	Workspace string      `json:"workspace,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Time      time.Time   `json:"time"`
}

// Fault payload of a fault event
type Fault struct {
	Message string `json:"message"`
}

// Broadcaster best-effort fan-out: a subscriber whose buffer is full misses the event
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer events
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe returns a receive channel and the function that closes it
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends v to every subscriber without blocking
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribers number of live subscriptions
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel; later Publish calls are no-ops
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Bus event broadcaster shared by the pool controller and the job monitor
type Bus = Broadcaster[Event]

// NewBus creates an event bus
func NewBus() *Bus {
	return NewBroadcaster[Event](64)
}

// Emit stamps and publishes an event; a nil bus drops it
func Emit(b *Bus, typ Type, src Source, workspace string, data interface{}) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Type:      typ,
		Source:    src,
		Workspace: workspace,
		Data:      data,
		Time:      time.Now(),
	})
}
