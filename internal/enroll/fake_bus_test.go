package enroll

import (
	"context"
	"sync"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

// busWrite is one recorded write.
type busWrite struct {
	unit   byte
	reg    uint16
	values []uint16
}

// fakeBus is a register-level Bus. Presence per unit is decided by a
// function of the number of presence probes sent to that unit so far;
// type-register fallbacks reuse the last decision.
type fakeBus struct {
	mu sync.Mutex

	present  map[byte]func(probe int) bool
	regs     map[byte]map[uint16]uint16
	probes   map[byte]int
	lastLive map[byte]bool

	// identifier returns the identifier for the nth read at unit.
	identifier func(unit byte, n int) uint32
	idReads    map[byte]int

	writes   []busWrite
	writeErr map[uint16]error
	onWrite  func(w busWrite)

	readyErr error
	flushes  int
	scopes   []transport.Timing
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		present:  make(map[byte]func(int) bool),
		regs:     make(map[byte]map[uint16]uint16),
		probes:   make(map[byte]int),
		lastLive: make(map[byte]bool),
		idReads:  make(map[byte]int),
		writeErr: make(map[uint16]error),
	}
}

func always(int) bool { return true }
func never(int) bool  { return false }

// after reports presence once d has passed since start.
func after(start time.Time, d time.Duration) func(int) bool {
	return func(int) bool { return time.Since(start) >= d }
}

func (b *fakeBus) setPresent(unit byte, fn func(int) bool) {
	b.mu.Lock()
	b.present[unit] = fn
	b.mu.Unlock()
}

func (b *fakeBus) setReg(unit byte, reg, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.regs[unit] == nil {
		b.regs[unit] = make(map[uint16]uint16)
	}
	b.regs[unit][reg] = value
}

func (b *fakeBus) reg(unit byte, reg uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[unit][reg]
}

func (b *fakeBus) alive(unit byte, reg uint16) bool {
	fn := b.present[unit]
	if fn == nil {
		return false
	}
	if reg == RegPresence {
		b.probes[unit]++
		b.lastLive[unit] = fn(b.probes[unit])
		return b.lastLive[unit]
	}
	if reg == RegDeviceType {
		return b.lastLive[unit]
	}
	return fn(b.probes[unit])
}

func (b *fakeBus) ReadHolding(ctx context.Context, unit byte, reg, count uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.readyErr != nil {
		return nil, b.readyErr
	}
	if !b.alive(unit, reg) {
		return nil, transport.ErrTimeout
	}

	if reg == RegIdentifier && b.identifier != nil {
		b.idReads[unit]++
		id := b.identifier(unit, b.idReads[unit])
		if count == 2 {
			return []uint16{uint16(id >> 16), uint16(id)}, nil
		}
		return []uint16{uint16(id)}, nil
	}

	values := make([]uint16, count)
	for i := range values {
		r := reg + uint16(i)
		v, ok := b.regs[unit][r]
		if !ok && (r == RegPresence || r == RegDeviceType) {
			v = 1
		}
		values[i] = v
	}
	return values, nil
}

func (b *fakeBus) record(ctx context.Context, w busWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.readyErr != nil {
		b.mu.Unlock()
		return b.readyErr
	}
	if err := b.writeErr[w.reg]; err != nil {
		b.mu.Unlock()
		return err
	}
	b.writes = append(b.writes, w)
	if b.regs[w.unit] == nil {
		b.regs[w.unit] = make(map[uint16]uint16)
	}
	for i, v := range w.values {
		b.regs[w.unit][w.reg+uint16(i)] = v
	}
	hook := b.onWrite
	b.mu.Unlock()

	if hook != nil {
		hook(w)
	}
	return nil
}

func (b *fakeBus) WriteSingle(ctx context.Context, unit byte, reg, value uint16) error {
	return b.record(ctx, busWrite{unit: unit, reg: reg, values: []uint16{value}})
}

func (b *fakeBus) WriteMultiple(ctx context.Context, unit byte, reg uint16, values []uint16) error {
	return b.record(ctx, busWrite{unit: unit, reg: reg, values: append([]uint16(nil), values...)})
}

func (b *fakeBus) WithScopedTiming(ctx context.Context, t transport.Timing, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.scopes = append(b.scopes, t)
	b.mu.Unlock()
	return fn(ctx)
}

func (b *fakeBus) Flush() {
	b.mu.Lock()
	b.flushes++
	b.mu.Unlock()
}

func (b *fakeBus) Ready() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readyErr
}

func (b *fakeBus) recordedWrites() []busWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busWrite(nil), b.writes...)
}

func (b *fakeBus) writesTo(reg uint16) []busWrite {
	var out []busWrite
	for _, w := range b.recordedWrites() {
		if w.reg == reg {
			out = append(out, w)
		}
	}
	return out
}

func (b *fakeBus) identifierReads(unit byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idReads[unit]
}

// fastSensorConfig is the sensor timing scaled down for tests.
func fastSensorConfig() SensorConfig {
	return SensorConfig{
		PollInterval:                15 * time.Millisecond,
		StableWindow:                45 * time.Millisecond,
		PresenceTimeout:             35 * time.Millisecond,
		IdentifierTimeout:           40 * time.Millisecond,
		IdentifierAttempts:          6,
		IdentifierTimeoutAfterMove:  60 * time.Millisecond,
		IdentifierAttemptsAfterMove: 8,
		IdentifierWords:             2,
		FrameGap:                    27 * time.Millisecond,
		RebootSettle:                112 * time.Millisecond,
		GoneTimeout:                 450 * time.Millisecond,
		AliveTimeout:                350 * time.Millisecond,
	}
}

// fastLightConfig is the light timing scaled down for tests.
func fastLightConfig() LightConfig {
	return LightConfig{
		PollInterval:    15 * time.Millisecond,
		StableWindow:    45 * time.Millisecond,
		PresenceTimeout: 35 * time.Millisecond,
		FrameGap:        27 * time.Millisecond,
		VerifyTimeout:   150 * time.Millisecond,
	}
}

// recordingSink captures events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
	hook   func(ProgressEvent)
}

func (s *recordingSink) Publish(ev ProgressEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (s *recordingSink) all() []ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProgressEvent(nil), s.events...)
}

// countingSink records identifier flushes.
type countingSink struct {
	mu      sync.Mutex
	calls   int
	records []IdentifierRecord
	err     error
}

func (s *countingSink) PersistIdentifiers(_ context.Context, records []IdentifierRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.records = append(s.records, records...)
	return s.err
}

func (s *countingSink) snapshot() (int, []IdentifierRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]IdentifierRecord(nil), s.records...)
}

// staticSource serves fixed targets.
type staticSource struct {
	sensors []SensorTarget
	lights  []LightTarget
	err     error
}

func (s *staticSource) LoadSensorTargets(context.Context) ([]SensorTarget, error) {
	return append([]SensorTarget(nil), s.sensors...), s.err
}

func (s *staticSource) LoadLightTargets(context.Context) ([]LightTarget, error) {
	return append([]LightTarget(nil), s.lights...), s.err
}

func noEmit(Phase) {}
