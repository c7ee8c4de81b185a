package workspace

import (
	"sync"
)

// Observers delivers deltas to registered listeners on a dedicated goroutine,
// in publish order, so that listeners may call back into the workspace.
type Observers struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	queue     []Delta
	wake      chan struct{}
	done      chan struct{}
	pending   sync.WaitGroup
	closed    bool
}

// NewObservers creates and starts a dispatcher
func NewObservers() *Observers {
	o := &Observers{
		listeners: make(map[int]Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go o.run()
	return o
}

// Add registers a listener
func (o *Observers) Add(l Listener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

// Publish queues a delta; empty deltas are dropped
func (o *Observers) Publish(d Delta) {
	if len(d.Added) == 0 && len(d.Removed) == 0 {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, d)
	o.pending.Add(1)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Settle blocks until every published delta has been delivered
func (o *Observers) Settle() {
	o.pending.Wait()
}

// Close stops delivery; queued deltas are discarded
func (o *Observers) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	n := len(o.queue)
	o.queue = nil
	o.mu.Unlock()

	for i := 0; i < n; i++ {
		o.pending.Done()
	}
	close(o.done)
}

func (o *Observers) run() {
	for {
		select {
		case <-o.done:
			return
		case <-o.wake:
		}

		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			d := o.queue[0]
			o.queue = o.queue[1:]
			listeners := make([]Listener, 0, len(o.listeners))
			for _, l := range o.listeners {
				listeners = append(listeners, l)
			}
			o.mu.Unlock()

			for _, l := range listeners {
				l(d)
			}
			o.pending.Done()
		}
	}
}
