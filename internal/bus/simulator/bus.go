package simulator

import (
	"sync"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/rtu"
)

// Defaults for a simulated bus.
const (
	DefaultRebootSilence = 300 * time.Millisecond
	DefaultFeedDelay     = 500 * time.Millisecond
)

// Config holds simulated bus behaviour.
type Config struct {
	// RebootSilence is how long a sensor stays silent after the reboot command.
	RebootSilence time.Duration

	// Factory, when set, builds the next factory-default device. It is
	// called with a 1-based sequence number whenever address 1 has been
	// free for FeedDelay. Returning nil stops feeding.
	Factory func(seq int) *Device

	// FeedDelay is the time between address 1 becoming free and the next
	// device being plugged in.
	FeedDelay time.Duration
}

// Bus is an in-memory shared bus.
type Bus struct {
	cfg Config

	mu       sync.Mutex
	devices  []*Device
	writes   []rtu.Request
	failIO   int
	openErr  error
	opens    int
	fed      int
	freeAt   time.Time
	draining bool
}

// New creates an empty bus.
func New(cfg Config) *Bus {
	if cfg.RebootSilence <= 0 {
		cfg.RebootSilence = DefaultRebootSilence
	}
	if cfg.FeedDelay <= 0 {
		cfg.FeedDelay = DefaultFeedDelay
	}
	return &Bus{cfg: cfg}
}

// Attach plugs d into the bus immediately.
func (b *Bus) Attach(d *Device) {
	b.AttachAfter(d, 0)
}

// AttachAfter plugs d into the bus; it stays silent for delay.
func (b *Bus) AttachAfter(d *Device, delay time.Duration) {
	d.mu.Lock()
	d.appearAt = time.Now().Add(delay)
	d.mu.Unlock()

	b.mu.Lock()
	b.devices = append(b.devices, d)
	b.mu.Unlock()
}

// Detach unplugs d.
func (b *Bus) Detach(d *Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, dev := range b.devices {
		if dev == d {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			return
		}
	}
}

// Devices returns the attached devices in attach order.
func (b *Bus) Devices() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Device(nil), b.devices...)
}

// Writes returns every write request that reached at least one device.
func (b *Bus) Writes() []rtu.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]rtu.Request(nil), b.writes...)
}

// FailNextIO makes the next n port reads or writes fail with ErrInjectedIO.
func (b *Bus) FailNextIO(n int) {
	b.mu.Lock()
	b.failIO = n
	b.mu.Unlock()
}

// SetOpenError makes Open fail with err until it is cleared with nil.
func (b *Bus) SetOpenError(err error) {
	b.mu.Lock()
	b.openErr = err
	b.mu.Unlock()
}

// Opens returns how many ports were opened.
func (b *Bus) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Open returns a new port on the bus.
func (b *Bus) Open(name string) (*Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		return nil, ErrNoSuchPort
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opens++
	return newPort(b), nil
}

func (b *Bus) takeFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failIO > 0 {
		b.failIO--
		return true
	}
	return false
}

// handle delivers a request frame to every device and returns the reply
// the master sees, or nil when nobody answered.
func (b *Bus) handle(frame []byte) []byte {
	now := time.Now()

	req, err := rtu.DecodeRequest(frame)
	if err != nil {
		return nil
	}

	b.mu.Lock()
	b.feed(now)
	var responders []*Device
	for _, d := range b.devices {
		if d.answers(req.Unit, now) {
			responders = append(responders, d)
		}
	}
	if len(responders) > 0 && req.Function != rtu.FuncReadHoldingRegisters {
		b.writes = append(b.writes, req)
	}
	b.mu.Unlock()

	var reply []byte
	for _, d := range responders {
		reply = d.apply(req, now, b.cfg.RebootSilence)
	}
	if len(responders) > 1 && len(reply) > 0 {
		// Overlapping transmissions corrupt the frame.
		reply[len(reply)-1] ^= 0xFF
	}
	return reply
}

// feed plugs in the next factory device once address 1 has been free for
// FeedDelay. Callers hold b.mu.
func (b *Bus) feed(now time.Time) {
	if b.cfg.Factory == nil || b.draining {
		return
	}

	for _, d := range b.devices {
		if d.occupies(FactoryAddress, now) {
			b.freeAt = time.Time{}
			return
		}
	}

	if b.freeAt.IsZero() {
		b.freeAt = now.Add(b.cfg.FeedDelay)
		return
	}
	if now.Before(b.freeAt) {
		return
	}

	b.fed++
	d := b.cfg.Factory(b.fed)
	if d == nil {
		b.draining = true
		return
	}
	b.devices = append(b.devices, d)
	b.freeAt = time.Time{}
}
