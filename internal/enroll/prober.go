package enroll

import (
	"context"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

// defaultPollInterval is used when a wait is started without an interval.
const defaultPollInterval = 60 * time.Millisecond

// minStablePolls is the fewest consecutive alive polls that count as
// stable, whatever the window.
const minStablePolls = 2

// WaitOptions configures WaitStable.
type WaitOptions struct {
	// Window is the contiguous alive time required.
	Window time.Duration

	// Interval is the poll period. Each alive poll adds Interval to the
	// accumulated alive time; any dead poll resets it. At least
	// minStablePolls consecutive alive polls are required.
	Interval time.Duration

	// ProbeTimeout is the read/write timeout of each CheckAlive.
	ProbeTimeout time.Duration

	// Timeout bounds the wait. Zero waits until success, skip or cancel.
	Timeout time.Duration

	// Skip ends the wait with ErrSkipped. Nil disables skipping.
	Skip <-chan struct{}

	// Flush discards stale port bytes before each probe.
	Flush bool
}

// Prober answers presence questions over a Bus.
type Prober struct {
	bus Bus
	cfg ProbeConfig
}

// NewProber creates a Prober.
func NewProber(bus Bus, cfg ProbeConfig) *Prober {
	return &Prober{bus: bus, cfg: cfg}
}

// CheckAlive reads the presence register at address with a scoped timeout
// and no retries. When that read fails, a type-register value > 0 also
// counts as alive.
//
// Bus failures mean "not alive" and are not returned. Only cancellation and
// transport.ErrNotConnected are returned as errors.
func (p *Prober) CheckAlive(ctx context.Context, address byte, timeout time.Duration) (bool, error) {
	var alive bool
	t := transport.Timing{ReadTimeout: timeout, WriteTimeout: timeout, Retries: 0}

	err := p.bus.WithScopedTiming(ctx, t, func(ctx context.Context) error {
		_, err := p.bus.ReadHolding(ctx, address, p.cfg.PresenceRegister, 1)
		if err == nil {
			alive = true
			return nil
		}
		if isFatal(ctx, err) {
			return err
		}

		values, err := p.bus.ReadHolding(ctx, address, p.cfg.TypeRegister, 1)
		if err != nil {
			if isFatal(ctx, err) {
				return err
			}
			return nil
		}
		alive = len(values) == 1 && values[0] > 0
		return nil
	})
	if err != nil {
		return false, fatalErr(ctx, err)
	}
	return alive, nil
}

// WaitStable polls CheckAlive until address has been alive for
// opts.Window without interruption, and for no fewer than two polls in a
// row.
//
// Returns:
//   - true, nil: the stable window was reached
//   - false, nil: opts.Timeout elapsed first
//   - false, ErrSkipped: the skip channel fired
//   - false, ctx.Err(): the context was cancelled
func (p *Prober) WaitStable(ctx context.Context, address byte, opts WaitOptions) (bool, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	var (
		stable time.Duration
		streak int
	)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		select {
		case <-opts.Skip:
			return false, ErrSkipped
		default:
		}

		if opts.Flush {
			p.bus.Flush()
		}

		alive, err := p.CheckAlive(ctx, address, opts.ProbeTimeout)
		if err != nil {
			return false, err
		}
		if alive {
			stable += interval
			streak++
			if stable >= opts.Window && streak >= minStablePolls {
				return true, nil
			}
		} else {
			stable, streak = 0, 0
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleep(ctx, interval, opts.Skip); err != nil {
			return false, err
		}
	}
}

// WaitGone polls address until it stops answering or timeout elapses.
// It reports whether the address went silent.
func (p *Prober) WaitGone(ctx context.Context, address byte, timeout, interval, probeTimeout time.Duration) (bool, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		alive, err := p.CheckAlive(ctx, address, probeTimeout)
		if err != nil {
			return false, err
		}
		if !alive {
			return true, nil
		}
		if err := sleep(ctx, interval, nil); err != nil {
			return false, err
		}
	}
	return false, nil
}
