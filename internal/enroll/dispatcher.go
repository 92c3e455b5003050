package enroll

import (
	"sync"
	"sync/atomic"
)

// DefaultDispatcherQueue is the event buffer used when none is given.
const DefaultDispatcherQueue = 256

// Dispatcher delivers ProgressEvents to subscribers on its own goroutine.
// Publish never blocks: when the queue is full the event is dropped and
// counted.
type Dispatcher struct {
	queue chan ProgressEvent

	// closeMu guards queue against send-after-close.
	closeMu sync.RWMutex
	closed  bool

	subMu  sync.RWMutex
	subs   map[int]func(ProgressEvent)
	nextID int

	logger  Logger
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewDispatcher starts a dispatcher with a queue of size events.
func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultDispatcherQueue
	}
	d := &Dispatcher{
		queue:  make(chan ProgressEvent, size),
		subs:   make(map[int]func(ProgressEvent)),
		logger: noopLogger{},
	}

	d.wg.Add(1)
	go d.loop()
	return d
}

// SetLogger sets the logger. Call before publishing.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Subscribe registers fn and returns a function that removes it.
// Subscribers run sequentially on the dispatcher goroutine and should
// return quickly.
func (d *Dispatcher) Subscribe(fn func(ProgressEvent)) (unsubscribe func()) {
	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

// Publish queues ev for delivery.
func (d *Dispatcher) Publish(ev ProgressEvent) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close delivers the queued events and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev ProgressEvent) {
	d.subMu.RLock()
	subs := make([]func(ProgressEvent), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.subMu.RUnlock()

	for _, fn := range subs {
		d.call(fn, ev)
	}
}

func (d *Dispatcher) call(fn func(ProgressEvent), ev ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("progress subscriber panicked", "panic", r)
		}
	}()
	fn(ev)
}
