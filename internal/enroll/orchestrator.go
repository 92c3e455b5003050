package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Notes written by the orchestrator itself.
const (
	noteNotSelected = "not selected"
	noteSkipped     = "skipped by operator"
	noteAborted     = "aborted"
)

// Session is the input of one run. The orchestrator owns the target
// slices for the duration of Run.
type Session struct {
	RunID   string
	Sensors []SensorTarget
	Lights  []LightTarget

	// Skip ends the current item's wait for presence. May be nil.
	Skip *SkipSignal

	// Events receives every state change. May be nil.
	Events EventSink
}

// Report is the result of one run.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Sensors     []SensorTarget
	Lights      []LightTarget
	Identifiers []IdentifierRecord

	// Cancelled is set when the run context was cancelled.
	Cancelled bool

	// Persisted is set when the identifiers reached the Sink.
	Persisted  bool
	PersistErr error
}

// Orchestrator runs sessions: every sensor, then every light, then one
// identifier flush.
type Orchestrator struct {
	bus    Bus
	sensor *SensorEnroller
	light  *LightEnroller
	sink   Sink
	logger Logger
}

// NewOrchestrator creates an Orchestrator. sink may be nil.
func NewOrchestrator(bus Bus, sensor *SensorEnroller, light *LightEnroller, sink Sink) *Orchestrator {
	return &Orchestrator{
		bus:    bus,
		sensor: sensor,
		light:  light,
		sink:   sink,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// Run enrolls the session's selected targets in order.
//
// A bus that is not ready fails the run before any target is touched.
// Cancellation marks the current item Fail("aborted"), leaves the rest
// pending and suppresses persistence. Other run-fatal errors stop the run
// but the identifiers collected so far are still persisted.
func (o *Orchestrator) Run(ctx context.Context, s *Session) (report Report, err error) {
	report = Report{RunID: s.RunID, StartedAt: time.Now()}
	defer func() {
		report.Sensors = append([]SensorTarget(nil), s.Sensors...)
		report.Lights = append([]LightTarget(nil), s.Lights...)
	}()

	if readyErr := o.bus.Ready(); readyErr != nil {
		report.FinishedAt = time.Now()
		return report, fmt.Errorf("bus not ready: %w", readyErr)
	}

	skip := s.Skip.C()
	var runErr error

	for i := range s.Sensors {
		t := &s.Sensors[i]
		if err := o.runSensor(ctx, s, t, skip, &report); err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil {
		for i := range s.Lights {
			t := &s.Lights[i]
			if err := o.runLight(ctx, s, t, skip); err != nil {
				runErr = err
				break
			}
		}
	}

	if runErr != nil && isCancel(runErr) {
		report.Cancelled = true
		o.logger.Info("run cancelled, identifiers not persisted", "run_id", s.RunID, "identifiers", len(report.Identifiers))
	} else {
		o.persist(ctx, &report)
	}

	report.FinishedAt = time.Now()
	return report, runErr
}

func (o *Orchestrator) runSensor(ctx context.Context, s *Session, t *SensorTarget, skip <-chan struct{}, report *Report) error {
	ref := targetRef{class: ClassSensor, index: t.Index, row: t.Row, address: t.Address}

	if !t.Selected {
		t.Status, t.Note = StatusSkipped, noteNotSelected
		o.emit(s, ref, t.Status, PhaseSkipped, t.Identifier, t.Note, 0)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	t.Status = StatusActive
	emit := func(ph Phase) { o.emit(s, ref, StatusActive, ph, 0, "", 0) }

	out, err := o.sensor.Enroll(ctx, *t, skip, emit)
	elapsed := time.Since(start)
	if err != nil {
		t.Status, t.Note = StatusFail, failNote(err)
		o.emit(s, ref, t.Status, abortPhase(err), out.Identifier, t.Note, elapsed)
		o.logger.Warn("sensor run aborted", "index", t.Index, "address", t.Address, "error", err)
		return err
	}

	t.Status, t.Note = out.Status, out.Note()
	if out.Identifier > 0 {
		t.Identifier = out.Identifier
	}
	if out.Status == StatusSkipped {
		t.Note = noteSkipped
	}
	if out.Status == StatusOK && out.Identifier > 0 {
		report.Identifiers = append(report.Identifiers, IdentifierRecord{Row: t.Row, Identifier: out.Identifier})
	}

	o.emit(s, ref, t.Status, finalPhase(t.Status), t.Identifier, t.Note, elapsed)
	o.logger.Info("sensor finished", "index", t.Index, "address", t.Address, "status", t.Status, "identifier", t.Identifier, "note", t.Note)
	return nil
}

func (o *Orchestrator) runLight(ctx context.Context, s *Session, t *LightTarget, skip <-chan struct{}) error {
	ref := targetRef{class: ClassLight, index: t.Index, row: t.Row, address: t.Address}

	if !t.Selected {
		t.Status, t.Note = StatusSkipped, noteNotSelected
		o.emit(s, ref, t.Status, PhaseSkipped, 0, t.Note, 0)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	t.Status = StatusActive
	emit := func(ph Phase) { o.emit(s, ref, StatusActive, ph, 0, "", 0) }

	out, err := o.light.Enroll(ctx, *t, skip, emit)
	elapsed := time.Since(start)
	if err != nil {
		t.Status, t.Note = StatusFail, failNote(err)
		o.emit(s, ref, t.Status, abortPhase(err), 0, t.Note, elapsed)
		o.logger.Warn("light run aborted", "index", t.Index, "address", t.Address, "error", err)
		return err
	}

	t.Status, t.Note = out.Status, out.Note()
	if out.Status == StatusSkipped {
		t.Note = noteSkipped
	}

	o.emit(s, ref, t.Status, finalPhase(t.Status), 0, t.Note, elapsed)
	o.logger.Info("light finished", "index", t.Index, "address", t.Address, "status", t.Status, "note", t.Note)
	return nil
}

// persist flushes the collected identifiers once.
func (o *Orchestrator) persist(ctx context.Context, report *Report) {
	if o.sink == nil || len(report.Identifiers) == 0 {
		return
	}
	if err := o.sink.PersistIdentifiers(ctx, report.Identifiers); err != nil {
		report.PersistErr = err
		o.logger.Error("persisting identifiers failed", "run_id", report.RunID, "error", err)
		return
	}
	report.Persisted = true
	o.logger.Info("identifiers persisted", "run_id", report.RunID, "count", len(report.Identifiers))
}

type targetRef struct {
	class   Class
	index   int
	row     int
	address byte
}

func (o *Orchestrator) emit(s *Session, ref targetRef, status Status, phase Phase, id uint32, note string, elapsed time.Duration) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(ProgressEvent{
		RunID:      s.RunID,
		Class:      ref.class,
		Index:      ref.index,
		Row:        ref.row,
		Address:    ref.address,
		Status:     status,
		Phase:      phase,
		Identifier: id,
		Note:       note,
		Time:       time.Now(),
		ElapsedMS:  elapsed.Milliseconds(),
	})
}

func finalPhase(s Status) Phase {
	if s == StatusSkipped {
		return PhaseSkipped
	}
	return PhaseDone
}

func abortPhase(err error) Phase {
	if isCancel(err) {
		return PhaseCanceled
	}
	return PhaseDone
}

func failNote(err error) string {
	if isCancel(err) {
		return noteAborted
	}
	return err.Error()
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
