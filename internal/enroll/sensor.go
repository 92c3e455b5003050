package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

// SensorEnroller runs the sensor state machine:
//
//	WaitingForDefault → ReadingIdentity → AdjustingAuxiliary →
//	CheckingCollision → WritingAddress → AwaitingHandover →
//	VerifyingNewAddress → Done
type SensorEnroller struct {
	bus    Bus
	prober *Prober
	probe  ProbeConfig
	cfg    SensorConfig
	logger Logger
}

// NewSensorEnroller creates a SensorEnroller.
func NewSensorEnroller(bus Bus, prober *Prober, probe ProbeConfig, cfg SensorConfig) *SensorEnroller {
	if cfg.IdentifierWords != 2 {
		cfg.IdentifierWords = 1
	}
	return &SensorEnroller{
		bus:    bus,
		prober: prober,
		probe:  probe,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (e *SensorEnroller) SetLogger(logger Logger) {
	e.logger = logger
}

// Enroll provisions the next factory-default sensor as t.
//
// The returned error is non-nil only for run-fatal conditions: context
// cancellation and a disconnected bus. Everything else is reported through
// the Outcome.
func (e *SensorEnroller) Enroll(ctx context.Context, t SensorTarget, skip <-chan struct{}, emit func(Phase)) (Outcome, error) {
	def := e.probe.DefaultAddress
	var out Outcome

	emit(PhaseWaitingForDefault)
	_, err := e.prober.WaitStable(ctx, def, WaitOptions{
		Window:       e.cfg.StableWindow,
		Interval:     e.cfg.PollInterval,
		ProbeTimeout: e.cfg.PresenceTimeout,
		Skip:         skip,
		Flush:        true,
	})
	if errors.Is(err, ErrSkipped) {
		out.Status = StatusSkipped
		return out, nil
	}
	if err != nil {
		return out, err
	}

	emit(PhaseReadingIdentity)
	e.bus.Flush()
	id, err := e.readIdentifier(ctx, def, e.cfg.IdentifierAttempts, e.cfg.IdentifierTimeout)
	if err != nil {
		return out, err
	}
	out.Identifier = id

	if t.Buzzer != BuzzerUnchanged {
		emit(PhaseAdjustingAuxiliary)
		if err := e.adjustBuzzer(ctx, def, t.Buzzer); err != nil {
			if isFatal(ctx, err) {
				return out, fatalErr(ctx, err)
			}
			out.warn(fmt.Errorf("buzzer: %w", err))
		}
	}

	emit(PhaseCheckingCollision)
	occupied, err := e.prober.CheckAlive(ctx, t.Address, e.cfg.PresenceTimeout)
	if err != nil {
		return out, err
	}
	if occupied {
		out.fail(notef(ErrAddressOccupied, "address %d already occupied", t.Address))
		return out, nil
	}

	emit(PhaseWritingAddress)
	if err := sleep(ctx, e.cfg.FrameGap, nil); err != nil {
		return out, err
	}
	if err := e.bus.WriteSingle(ctx, def, RegNewAddress, uint16(t.Address)); err != nil {
		if isFatal(ctx, err) {
			return out, fatalErr(ctx, err)
		}
		out.fail(fmt.Errorf("writing address %d: %w", t.Address, err))
		return out, nil
	}
	e.logger.Info("sensor address written", "from", def, "to", t.Address)

	if err := sleep(ctx, e.cfg.FrameGap, nil); err != nil {
		return out, err
	}
	if err := e.bus.WriteSingle(ctx, def, RegReboot, RebootCommand); err != nil {
		if isFatal(ctx, err) {
			return out, fatalErr(ctx, err)
		}
		out.fail(fmt.Errorf("reboot command: %w", err))
		return out, nil
	}
	if err := sleep(ctx, e.cfg.RebootSettle, nil); err != nil {
		return out, err
	}

	emit(PhaseAwaitingHandover)
	gone, err := e.prober.WaitGone(ctx, def, e.cfg.GoneTimeout, e.cfg.PollInterval, e.cfg.PresenceTimeout)
	if err != nil {
		return out, err
	}
	if !gone {
		out.warn(notef(ErrHandover, "address %d still answering after reboot", def))
		e.logger.Warn("handover: default address still answering", "target", t.Address)
	}

	if err := sleep(ctx, e.cfg.FrameGap, nil); err != nil {
		return out, err
	}

	emit(PhaseVerifyingNewAddress)
	ok, err := e.prober.WaitStable(ctx, t.Address, WaitOptions{
		Window:       e.cfg.StableWindow,
		Interval:     e.cfg.PollInterval,
		ProbeTimeout: e.cfg.PresenceTimeout,
		Timeout:      e.cfg.AliveTimeout,
	})
	if err != nil {
		return out, err
	}
	if !ok {
		out.fail(notef(ErrVerification, "new address %d not responding stably", t.Address))
		return out, nil
	}

	if out.Identifier == 0 {
		emit(PhaseReadingIdentity)
		id, err := e.readIdentifier(ctx, t.Address, e.cfg.IdentifierAttemptsAfterMove, e.cfg.IdentifierTimeoutAfterMove)
		if err != nil {
			return out, err
		}
		out.Identifier = id
	}
	if out.Identifier == 0 {
		out.warn(notef(ErrIdentifierUnavailable, "serial number not readable"))
	}

	out.Status = StatusOK
	return out, nil
}

// readIdentifier makes up to attempts reads of the identifier and returns
// the first non-zero value, or 0 once the budget is spent.
func (e *SensorEnroller) readIdentifier(ctx context.Context, address byte, attempts int, timeout time.Duration) (uint32, error) {
	t := transport.Timing{ReadTimeout: timeout, WriteTimeout: timeout, Retries: 0}
	words := uint16(e.cfg.IdentifierWords) //nolint:gosec // 1 or 2

	for i := range attempts {
		var id uint32
		err := e.bus.WithScopedTiming(ctx, t, func(ctx context.Context) error {
			values, err := e.bus.ReadHolding(ctx, address, RegIdentifier, words)
			if err != nil {
				return err
			}
			id = combineWords(values)
			return nil
		})
		if isFatal(ctx, err) {
			return 0, fatalErr(ctx, err)
		}
		if err == nil && id > 0 {
			return id, nil
		}
		if err != nil {
			e.logger.Debug("identifier read failed", "address", address, "attempt", i+1, "error", err)
		}

		if i < attempts-1 {
			if err := sleep(ctx, e.cfg.PollInterval, nil); err != nil {
				return 0, err
			}
		}
	}
	return 0, nil
}

// adjustBuzzer sets or clears the buzzer bit with a read-modify-write,
// writing only when the bit has to change.
func (e *SensorEnroller) adjustBuzzer(ctx context.Context, address byte, mode BuzzerMode) error {
	var current uint16
	t := transport.Timing{ReadTimeout: e.cfg.PresenceTimeout, WriteTimeout: e.cfg.PresenceTimeout, Retries: 0}
	err := e.bus.WithScopedTiming(ctx, t, func(ctx context.Context) error {
		values, err := e.bus.ReadHolding(ctx, address, RegStatusFlags, 1)
		if err != nil {
			return err
		}
		current = values[0]
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading status flags: %w", err)
	}

	desired := current
	switch mode {
	case BuzzerDisable:
		desired &^= buzzerBit
	case BuzzerEnable:
		desired |= buzzerBit
	}
	if desired == current {
		e.logger.Debug("buzzer already set", "mode", mode)
		return nil
	}

	if err := e.bus.WriteSingle(ctx, address, RegStatusFlags, desired); err != nil {
		return fmt.Errorf("writing status flags: %w", err)
	}
	e.logger.Info("buzzer adjusted", "mode", mode, "flags", desired)
	return nil
}

func combineWords(values []uint16) uint32 {
	var v uint32
	for _, w := range values {
		v = v<<16 | uint32(w)
	}
	return v
}
