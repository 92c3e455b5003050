package enroll

import (
	"context"
	"errors"
	"fmt"
)

// LightEnroller runs the light state machine:
//
//	WaitingForDefault → CheckingCollision → WritingAddressBlock →
//	SettingTimeout → SoftVerify → Done
//
// Lights do not reboot on reassignment, so a failed verify is only a warning.
type LightEnroller struct {
	bus    Bus
	prober *Prober
	probe  ProbeConfig
	cfg    LightConfig
	logger Logger
}

// NewLightEnroller creates a LightEnroller.
func NewLightEnroller(bus Bus, prober *Prober, probe ProbeConfig, cfg LightConfig) *LightEnroller {
	return &LightEnroller{
		bus:    bus,
		prober: prober,
		probe:  probe,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (e *LightEnroller) SetLogger(logger Logger) {
	e.logger = logger
}

// Enroll provisions the next factory-default light as t. Errors are
// returned only for cancellation and a disconnected bus.
func (e *LightEnroller) Enroll(ctx context.Context, t LightTarget, skip <-chan struct{}, emit func(Phase)) (Outcome, error) {
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

	emit(PhaseCheckingCollision)
	occupied, err := e.prober.CheckAlive(ctx, t.Address, e.cfg.PresenceTimeout)
	if err != nil {
		return out, err
	}
	if occupied {
		out.fail(notef(ErrAddressOccupied, "address %d already occupied", t.Address))
		return out, nil
	}

	emit(PhaseWritingAddressBlock)
	if err := sleep(ctx, e.cfg.FrameGap, nil); err != nil {
		return out, err
	}
	block := []uint16{0, uint16(t.Address), LightBaud, LightSecurityKey}
	if err := e.bus.WriteMultiple(ctx, def, RegLightBlock, block); err != nil {
		if isFatal(ctx, err) {
			return out, fatalErr(ctx, err)
		}
		out.fail(fmt.Errorf("writing address block for %d: %w", t.Address, err))
		return out, nil
	}
	e.logger.Info("light address written", "from", def, "to", t.Address)

	emit(PhaseSettingTimeout)
	if err := sleep(ctx, e.cfg.FrameGap, nil); err != nil {
		return out, err
	}
	mode := NormalizeTimeoutMode(int(t.TimeoutMode))
	if err := e.bus.WriteSingle(ctx, t.Address, RegTimeoutMode, mode); err != nil {
		if isFatal(ctx, err) {
			return out, fatalErr(ctx, err)
		}
		out.warn(fmt.Errorf("timeout mode %d: %w", mode, err))
	}

	emit(PhaseSoftVerify)
	ok, err := e.prober.WaitStable(ctx, t.Address, WaitOptions{
		Window:       e.cfg.StableWindow,
		Interval:     e.cfg.PollInterval,
		ProbeTimeout: e.cfg.PresenceTimeout,
		Timeout:      e.cfg.VerifyTimeout,
	})
	if err != nil {
		return out, err
	}
	if !ok {
		out.warn(notef(ErrVerification, "new address %d did not confirm", t.Address))
		e.logger.Warn("light soft verify failed", "address", t.Address)
	}

	out.Status = StatusOK
	return out, nil
}
