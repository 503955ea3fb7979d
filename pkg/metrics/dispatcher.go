package metrics

import "sync"

// Observer receives metrics records.
type Observer func(AgentMetrics)

// Dispatcher delivers records to observers on a single goroutine, in the
// order they were emitted. Emit never blocks and never drops.
type Dispatcher struct {
	mu        sync.Mutex
	observers []Observer
	queue     []AgentMetrics
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Subscribe registers fn for every record emitted after the call.
func (d *Dispatcher) Subscribe(fn Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
}

// Emit queues m for delivery. Records emitted after Close are discarded.
func (d *Dispatcher) Emit(m AgentMetrics) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, m)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close delivers everything already queued, then stops the goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			m := d.queue[0]
			d.queue = d.queue[1:]
			observers := append([]Observer(nil), d.observers...)
			d.mu.Unlock()

			for _, fn := range observers {
				fn(m)
			}
		}
	}
}
