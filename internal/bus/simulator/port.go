package simulator

import (
	"sync"
	"time"
)

// Port is one open handle on a simulated bus. It satisfies the port
// interface of the transport package.
type Port struct {
	bus *Bus

	mu          sync.Mutex
	rx          []byte
	readTimeout time.Duration

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newPort(b *Bus) *Port {
	return &Port{
		bus:    b,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (p *Port) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Write delivers one request frame to the bus. The reply, if any, becomes
// readable immediately.
func (p *Port) Write(frame []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	if p.bus.takeFailure() {
		return 0, ErrInjectedIO
	}

	reply := p.bus.handle(frame)
	if len(reply) > 0 {
		p.mu.Lock()
		p.rx = append(p.rx, reply...)
		p.mu.Unlock()

		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return len(frame), nil
}

// Read returns buffered reply bytes, waiting up to the read timeout.
// It returns 0 and a nil error when the timeout elapses.
func (p *Port) Read(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	if p.bus.takeFailure() {
		return 0, ErrInjectedIO
	}

	if n := p.drain(buf); n > 0 {
		return n, nil
	}

	p.mu.Lock()
	timeout := p.readTimeout
	p.mu.Unlock()
	if timeout <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.notify:
		return p.drain(buf), nil
	case <-timer.C:
		return 0, nil
	case <-p.closed:
		return 0, ErrClosed
	}
}

func (p *Port) drain(buf []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	return n
}

// SetReadTimeout sets the wait of the next reads.
func (p *Port) SetReadTimeout(t time.Duration) error {
	if p.isClosed() {
		return ErrClosed
	}
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

// ResetInputBuffer drops unread reply bytes.
func (p *Port) ResetInputBuffer() error {
	if p.isClosed() {
		return ErrClosed
	}
	p.mu.Lock()
	p.rx = nil
	p.mu.Unlock()
	return nil
}

// ResetOutputBuffer is a no-op; writes are delivered synchronously.
func (p *Port) ResetOutputBuffer() error {
	if p.isClosed() {
		return ErrClosed
	}
	return nil
}

// Close closes the port. Further calls return ErrClosed from every
// operation except Close itself.
func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
