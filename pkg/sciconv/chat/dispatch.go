package chat

import (
	"sync"
)

// event is one queued notification: exactly one of message or connection is
// set.
type event struct {
	message    *InboundEnvelope
	connection *ConnectionEvent
}

// dispatcher delivers events on a single goroutine in the order they were
// enqueued. The queue is unbounded so producers, which may hold the client
// lock, never block.
type dispatcher struct {
	deliver func(event)

	mu     sync.Mutex
	queue  []event
	closed bool

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newDispatcher(deliver func(event)) *dispatcher {
	return &dispatcher{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// start begins delivering in a background goroutine.
func (d *dispatcher) start() *dispatcher {
	d.wg.Add(1)
	go d.run()
	return d
}

// enqueue appends ev to the queue. Events enqueued after close are dropped.
func (d *dispatcher) enqueue(ev event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done:
			// deliver whatever was queued before close
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.queue = nil
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = event{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(ev)
	}
}

// pending returns the number of events not yet delivered.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// close stops accepting events, delivers the ones already queued and waits
// for the delivery goroutine to exit. It must not be called from a listener.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}
