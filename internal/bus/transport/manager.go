package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/rtu"
)

// maxFrameSize is the largest RTU frame on the wire.
const maxFrameSize = 256

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Logger defines the logging interface for the transport manager.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the manager settings. Zero values fall back to defaults.
type Config struct {
	// Timing is installed on every Connect.
	Timing Timing

	// WatchdogInterval is how often a closed port is reopened.
	WatchdogInterval time.Duration

	// ReadSlice bounds one port read between context checks.
	ReadSlice time.Duration

	// Open opens the port. Defaults to SerialOpener.
	Open OpenFunc
}

// Stats holds transport counters.
type Stats struct {
	Transactions uint64 `json:"transactions"`
	Failures     uint64 `json:"failures"`
	Retries      uint64 `json:"retries"`
	Timeouts     uint64 `json:"timeouts"`
	CRCErrors    uint64 `json:"crc_errors"`
	Exceptions   uint64 `json:"exceptions"`
	PortFailures uint64 `json:"port_failures"`
	Reopens      uint64 `json:"reopens"`
}

// Health is a snapshot of the manager for status displays.
type Health struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Stats     Stats  `json:"stats"`
}

// Manager owns the serial port and serializes every transaction on it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Register operations acquire the gate for one transaction including
//     its retries. The watchdog and Flush only try-acquire it.
type Manager struct {
	cfg Config

	// gate is the single bus permit.
	gate chan struct{}

	// lifeMu serializes Connect and Disconnect.
	lifeMu sync.Mutex

	mu        sync.RWMutex
	port      Port
	portName  string
	connected bool
	timing    Timing
	lastErr   error
	done      *closeOnce

	wg sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	transactions atomic.Uint64
	failures     atomic.Uint64
	retries      atomic.Uint64
	timeouts     atomic.Uint64
	crcErrors    atomic.Uint64
	exceptions   atomic.Uint64
	portFailures atomic.Uint64
	reopens      atomic.Uint64
}

// New creates a disconnected manager.
func New(cfg Config) *Manager {
	cfg.Timing = cfg.Timing.withDefaults(DefaultTiming())
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.ReadSlice <= 0 {
		cfg.ReadSlice = defaultReadSlice
	}
	if cfg.Open == nil {
		cfg.Open = SerialOpener
	}

	return &Manager{
		cfg:    cfg,
		gate:   make(chan struct{}, 1),
		timing: cfg.Timing,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	defer m.loggerMu.Unlock()
	m.logger = logger
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// Connect opens portName and starts the watchdog.
//
// Connecting while already connected first disconnects. On failure the
// error is kept in LastError and the returned error wraps ErrOpenFailed.
//
// Parameters:
//   - ctx: Context for cancellation while waiting for the gate
//   - portName: Host serial port, e.g. "/dev/ttyUSB0" or "COM3"
//
// Returns:
//   - error: nil once the port is open
func (m *Manager) Connect(ctx context.Context, portName string) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if err := m.disconnectLocked(); err != nil {
		m.getLogger().Warn("closing previous port failed", "error", err)
	}

	if portName == "" {
		err := fmt.Errorf("%w: no port name", ErrOpenFailed)
		m.setLastError(err)
		return err
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	port, err := m.cfg.Open(portName)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %w", ErrOpenFailed, portName, err)
		m.setLastError(wrapped)
		return wrapped
	}

	done := newCloseOnce()

	m.mu.Lock()
	m.port = port
	m.portName = portName
	m.connected = true
	m.timing = m.cfg.Timing
	m.lastErr = nil
	m.done = done
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watchdog(done)

	m.getLogger().Info("bus connected", "port", portName, "baud", BaudRate)
	return nil
}

// Disconnect stops the watchdog, waits for an in-flight transaction and
// closes the port. Calling it when not connected is a no-op.
func (m *Manager) Disconnect() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.disconnectLocked()
}

func (m *Manager) disconnectLocked() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = false
	done := m.done
	name := m.portName
	m.mu.Unlock()

	done.Close()
	m.wg.Wait()

	// Blocking acquire: the running transaction finishes first.
	m.gate <- struct{}{}
	defer m.release()

	m.mu.Lock()
	port := m.port
	m.port = nil
	m.mu.Unlock()

	m.getLogger().Info("bus disconnected", "port", name)

	if port != nil {
		if err := port.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", name, err)
		}
	}
	return nil
}

// Ready returns ErrNotConnected unless Connect succeeded and Disconnect
// has not been called since.
func (m *Manager) Ready() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the manager is connected.
func (m *Manager) IsConnected() bool {
	return m.Ready() == nil
}

// PortName returns the name of the last connected port.
func (m *Manager) PortName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portName
}

// LastError returns the most recent open or I/O failure, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Timing returns the connection timing. Scoped overrides do not change
// it; see TimingFor.
func (m *Manager) Timing() Timing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timing
}

// Stats returns a snapshot of the transport counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Transactions: m.transactions.Load(),
		Failures:     m.failures.Load(),
		Retries:      m.retries.Load(),
		Timeouts:     m.timeouts.Load(),
		CRCErrors:    m.crcErrors.Load(),
		Exceptions:   m.exceptions.Load(),
		PortFailures: m.portFailures.Load(),
		Reopens:      m.reopens.Load(),
	}
}

// Health returns connection state, last error and counters together.
func (m *Manager) Health() Health {
	h := Health{
		Connected: m.IsConnected(),
		Port:      m.PortName(),
		Stats:     m.Stats(),
	}
	if err := m.LastError(); err != nil {
		h.LastError = err.Error()
	}
	return h
}

type scopedTimingKey struct{}

// WithScopedTiming runs fn with t in effect for every transaction issued
// with the context fn receives. Zero timeouts in t are taken from the
// connection timing. The override lives in that context only, so it ends
// with fn on every exit path and never leaks into transactions of other
// callers. A nested scope replaces the outer one.
func (m *Manager) WithScopedTiming(ctx context.Context, t Timing, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, scopedTimingKey{}, t.withDefaults(m.Timing())))
}

// TimingFor returns the timing a transaction issued with ctx uses: the
// innermost scoped override, or the connection timing.
func (m *Manager) TimingFor(ctx context.Context) Timing {
	if t, ok := ctx.Value(scopedTimingKey{}).(Timing); ok {
		return t
	}
	return m.Timing()
}

// ReadHolding reads count holding registers starting at register (FC03).
func (m *Manager) ReadHolding(ctx context.Context, unit byte, register, count uint16) ([]uint16, error) {
	return m.transact(ctx, rtu.ReadHoldingRegisters(unit, register, count))
}

// WriteSingle writes one holding register (FC06).
func (m *Manager) WriteSingle(ctx context.Context, unit byte, register, value uint16) error {
	_, err := m.transact(ctx, rtu.WriteSingleRegister(unit, register, value))
	return err
}

// WriteMultiple writes consecutive holding registers (FC16).
func (m *Manager) WriteMultiple(ctx context.Context, unit byte, register uint16, values []uint16) error {
	_, err := m.transact(ctx, rtu.WriteMultipleRegisters(unit, register, values))
	return err
}

// Flush discards pending input and output when the bus is idle. It never
// blocks and ignores errors.
func (m *Manager) Flush() {
	if !m.tryAcquire() {
		return
	}
	defer m.release()

	m.mu.RLock()
	port := m.port
	m.mu.RUnlock()
	if port == nil {
		return
	}

	_ = port.ResetInputBuffer()  //nolint:errcheck // best effort
	_ = port.ResetOutputBuffer() //nolint:errcheck // best effort
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) tryAcquire() bool {
	select {
	case m.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manager) release() {
	<-m.gate
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// transact runs one request with its retries while holding the gate.
func (m *Manager) transact(ctx context.Context, req rtu.Request) ([]uint16, error) {
	frame, err := req.Encode()
	if err != nil {
		return nil, err
	}

	if err := m.Ready(); err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	timing := m.TimingFor(ctx)
	m.mu.RLock()
	connected, port := m.connected, m.port
	m.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}
	if port == nil {
		return nil, ErrPortClosed
	}

	m.transactions.Add(1)

	var lastErr error
	for attempt := 0; attempt <= timing.Retries; attempt++ {
		if attempt > 0 {
			m.retries.Add(1)
		}

		values, err := m.exchange(ctx, port, req, frame, timing)
		if err == nil {
			return values, nil
		}
		lastErr = err
		m.count(err)

		if !retryable(err) {
			break
		}
		m.getLogger().Debug("bus transaction failed", "request", req.String(), "attempt", attempt+1, "error", err)
	}

	m.failures.Add(1)
	return nil, lastErr
}

// exchange writes one frame and reads the reply in ReadSlice steps.
func (m *Manager) exchange(ctx context.Context, port Port, req rtu.Request, frame []byte, timing Timing) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_ = port.ResetInputBuffer() //nolint:errcheck // stale bytes are caught by the CRC check

	start := time.Now()
	if _, err := port.Write(frame); err != nil {
		return nil, m.portFailed(port, err)
	}
	if elapsed := time.Since(start); elapsed > timing.WriteTimeout {
		return nil, fmt.Errorf("%w: write took %s", ErrTimeout, elapsed)
	}

	buf := make([]byte, 0, maxFrameSize)
	chunk := make([]byte, maxFrameSize)
	deadline := time.Now().Add(timing.ReadTimeout)

	for {
		want := req.ExpectedLength(buf)
		if len(buf) >= want {
			return req.ParseResponse(buf[:want])
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if len(buf) == 0 {
				return nil, fmt.Errorf("%w: no reply from unit %d", ErrTimeout, req.Unit)
			}
			return nil, fmt.Errorf("%w: partial reply from unit %d (%d of %d bytes)", ErrTimeout, req.Unit, len(buf), want)
		}

		if err := port.SetReadTimeout(min(remaining, m.cfg.ReadSlice)); err != nil {
			return nil, m.portFailed(port, err)
		}
		n, err := port.Read(chunk[:want-len(buf)])
		if err != nil {
			return nil, m.portFailed(port, err)
		}
		buf = append(buf, chunk[:n]...)
	}
}

// portFailed marks the port closed after an I/O error so the watchdog
// reopens it.
func (m *Manager) portFailed(port Port, err error) error {
	m.mu.Lock()
	if m.port == port {
		m.port = nil
	}
	m.lastErr = err
	name := m.portName
	m.mu.Unlock()

	_ = port.Close() //nolint:errcheck // port is already failing

	m.portFailures.Add(1)
	m.getLogger().Warn("serial port failed, marked closed", "port", name, "error", err)
	return fmt.Errorf("%w: %w", ErrPortClosed, err)
}

func (m *Manager) count(err error) {
	var exc *rtu.ExceptionError
	switch {
	case errors.Is(err, ErrTimeout):
		m.timeouts.Add(1)
	case errors.Is(err, rtu.ErrCRCMismatch):
		m.crcErrors.Add(1)
	case errors.As(err, &exc):
		m.exceptions.Add(1)
	}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, rtu.ErrCRCMismatch) ||
		errors.Is(err, rtu.ErrMalformedFrame) ||
		errors.Is(err, rtu.ErrUnexpectedUnit)
}
