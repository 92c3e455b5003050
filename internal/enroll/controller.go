package enroll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownTarget is returned when a selection names no loaded target.
var ErrUnknownTarget = errors.New("enroll: unknown target")

// RunState is the state of the controller's current or last run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunFinished  RunState = "finished"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// Counts summarises target statuses.
type Counts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	OK      int `json:"ok"`
	Fail    int `json:"fail"`
	Skipped int `json:"skipped"`
}

// RunStatus is a snapshot of a run for presentation.
type RunStatus struct {
	RunID       string         `json:"run_id,omitempty"`
	State       RunState       `json:"state"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
	Sensors     []SensorTarget `json:"sensors"`
	Lights      []LightTarget  `json:"lights"`
	Current     *ProgressEvent `json:"current,omitempty"`
	Counts      Counts         `json:"counts"`
	Identifiers int            `json:"identifiers"`
	Persisted   bool           `json:"persisted"`
	Error       string         `json:"error,omitempty"`
}

// clone returns a deep copy safe to hand out.
func (s RunStatus) clone() RunStatus {
	s.Sensors = append([]SensorTarget(nil), s.Sensors...)
	s.Lights = append([]LightTarget(nil), s.Lights...)
	if s.Current != nil {
		ev := *s.Current
		s.Current = &ev
	}
	s.Counts = countTargets(s.Sensors, s.Lights)
	return s
}

// apply folds ev into the snapshot.
func (s *RunStatus) apply(ev ProgressEvent) {
	switch ev.Class {
	case ClassSensor:
		for i := range s.Sensors {
			if s.Sensors[i].Index == ev.Index {
				s.Sensors[i].Status = ev.Status
				s.Sensors[i].Note = ev.Note
				if ev.Identifier > 0 {
					s.Sensors[i].Identifier = ev.Identifier
				}
				break
			}
		}
	case ClassLight:
		for i := range s.Lights {
			if s.Lights[i].Index == ev.Index {
				s.Lights[i].Status = ev.Status
				s.Lights[i].Note = ev.Note
				break
			}
		}
	}
	s.Current = &ev
}

func countTargets(sensors []SensorTarget, lights []LightTarget) Counts {
	var c Counts
	add := func(st Status) {
		c.Total++
		switch st {
		case StatusOK:
			c.OK++
		case StatusFail:
			c.Fail++
		case StatusSkipped:
			c.Skipped++
		default:
			c.Pending++
		}
	}
	for _, t := range sensors {
		add(t.Status)
	}
	for _, t := range lights {
		add(t.Status)
	}
	return c
}

// StartOptions configures Controller.Start.
type StartOptions struct {
	// Reload reads the targets from the source again, dropping selections.
	Reload bool
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	skip   *SkipSignal
	done   chan struct{}
	report Report
	err    error
}

// Controller is the presentation-side handle of the enrollment engine.
// It allows one run at a time.
type Controller struct {
	orch   *Orchestrator
	source Source
	events EventSink
	logger Logger

	mu      sync.Mutex
	sensors []SensorTarget
	lights  []LightTarget
	loaded  bool
	run     *activeRun
	last    *activeRun
	status  RunStatus

	runMu     sync.RWMutex
	onRunSubs []func(RunStatus)
}

// NewController creates a Controller. events may be nil.
func NewController(orch *Orchestrator, source Source, events EventSink) *Controller {
	return &Controller{
		orch:   orch,
		source: source,
		events: events,
		logger: noopLogger{},
		status: RunStatus{State: RunIdle},
	}
}

// SetLogger sets the logger.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// OnRunChange registers fn to receive a snapshot whenever a run starts or
// ends. fn runs on the goroutine that caused the change.
func (c *Controller) OnRunChange(fn func(RunStatus)) {
	c.runMu.Lock()
	c.onRunSubs = append(c.onRunSubs, fn)
	c.runMu.Unlock()
}

func (c *Controller) notifyRun(st RunStatus) {
	c.runMu.RLock()
	subs := slices.Clone(c.onRunSubs)
	c.runMu.RUnlock()
	for _, fn := range subs {
		fn(st)
	}
}

// Load reads the targets from the source. Selections start as the source
// delivered them.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return ErrRunActive
	}
	return c.loadLocked(ctx)
}

func (c *Controller) loadLocked(ctx context.Context) error {
	sensors, err := c.source.LoadSensorTargets(ctx)
	if err != nil {
		return fmt.Errorf("loading sensor targets: %w", err)
	}
	lights, err := c.source.LoadLightTargets(ctx)
	if err != nil {
		return fmt.Errorf("loading light targets: %w", err)
	}

	for i := range sensors {
		sensors[i].Status = StatusPending
	}
	for i := range lights {
		lights[i].Status = StatusPending
		lights[i].TimeoutMode = NormalizeTimeoutMode(int(lights[i].TimeoutMode))
	}

	c.sensors, c.lights, c.loaded = sensors, lights, true
	c.warnDuplicates()
	c.logger.Info("targets loaded", "sensors", len(sensors), "lights", len(lights))
	return nil
}

// warnDuplicates logs target addresses used more than once.
func (c *Controller) warnDuplicates() {
	seen := make(map[byte]string)
	check := func(addr byte, ref string) {
		if prev, ok := seen[addr]; ok {
			c.logger.Warn("duplicate target address", "address", addr, "first", prev, "second", ref)
			return
		}
		seen[addr] = ref
	}
	for _, t := range c.sensors {
		check(t.Address, fmt.Sprintf("sensor %d", t.Index))
	}
	for _, t := range c.lights {
		check(t.Address, fmt.Sprintf("light %d", t.Index))
	}
}

// Targets returns copies of the loaded targets.
func (c *Controller) Targets() ([]SensorTarget, []LightTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SensorTarget(nil), c.sensors...), append([]LightTarget(nil), c.lights...)
}

// SetSelected changes the selection of one target. Index 0 applies to
// every target of the class.
func (c *Controller) SetSelected(class Class, index int, selected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return ErrRunActive
	}

	found := false
	switch class {
	case ClassSensor:
		for i := range c.sensors {
			if index == 0 || c.sensors[i].Index == index {
				c.sensors[i].Selected = selected
				found = true
			}
		}
	case ClassLight:
		for i := range c.lights {
			if index == 0 || c.lights[i].Index == index {
				c.lights[i].Selected = selected
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: %s %d", ErrUnknownTarget, class, index)
	}
	return nil
}

// Start begins a run in the background and returns its ID.
//
// The run outlives ctx's cancellation; stop it with Cancel. Start returns
// ErrRunActive while another run is active.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (string, error) {
	c.mu.Lock()
	if c.run != nil {
		c.mu.Unlock()
		return "", ErrRunActive
	}
	if !c.loaded || opts.Reload {
		if err := c.loadLocked(ctx); err != nil {
			c.mu.Unlock()
			return "", err
		}
	}
	if len(c.sensors)+len(c.lights) == 0 {
		c.mu.Unlock()
		return "", ErrNoTargets
	}

	for i := range c.sensors {
		c.sensors[i].Status, c.sensors[i].Note = StatusPending, ""
	}
	for i := range c.lights {
		c.lights[i].Status, c.lights[i].Note = StatusPending, ""
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &activeRun{
		id:     uuid.NewString(),
		cancel: cancel,
		skip:   NewSkipSignal(),
		done:   make(chan struct{}),
	}
	c.run = run
	c.status = RunStatus{
		RunID:     run.id,
		State:     RunRunning,
		StartedAt: time.Now(),
		Sensors:   append([]SensorTarget(nil), c.sensors...),
		Lights:    append([]LightTarget(nil), c.lights...),
	}
	started := c.status.clone()

	session := &Session{
		RunID:   run.id,
		Sensors: append([]SensorTarget(nil), c.sensors...),
		Lights:  append([]LightTarget(nil), c.lights...),
		Skip:    run.skip,
		Events:  eventFunc(c.observe),
	}

	c.mu.Unlock()

	c.logger.Info("run started", "run_id", run.id, "sensors", len(session.Sensors), "lights", len(session.Lights))
	c.notifyRun(started)

	go c.execute(runCtx, run, session)
	return run.id, nil
}

func (c *Controller) execute(ctx context.Context, run *activeRun, s *Session) {
	report, err := c.orch.Run(ctx, s)
	run.cancel()

	c.mu.Lock()
	run.report, run.err = report, err
	c.sensors = append([]SensorTarget(nil), report.Sensors...)
	c.lights = append([]LightTarget(nil), report.Lights...)

	c.status.Sensors = append([]SensorTarget(nil), report.Sensors...)
	c.status.Lights = append([]LightTarget(nil), report.Lights...)
	c.status.FinishedAt = report.FinishedAt
	c.status.Identifiers = len(report.Identifiers)
	c.status.Persisted = report.Persisted
	switch {
	case report.Cancelled:
		c.status.State = RunCancelled
	case err != nil:
		c.status.State = RunFailed
		c.status.Error = err.Error()
	default:
		c.status.State = RunFinished
	}
	if report.PersistErr != nil {
		c.status.Error = fmt.Sprintf("persisting identifiers: %v", report.PersistErr)
	}
	final := c.status.clone()

	c.last = run
	c.run = nil
	c.mu.Unlock()

	c.logger.Info("run finished", "run_id", run.id, "state", final.State,
		"ok", final.Counts.OK, "fail", final.Counts.Fail, "skipped", final.Counts.Skipped,
		"persisted", final.Persisted)
	c.notifyRun(final)
	close(run.done)
}

// observe updates the snapshot and forwards ev.
func (c *Controller) observe(ev ProgressEvent) {
	c.mu.Lock()
	if c.status.RunID == ev.RunID {
		c.status.apply(ev)
	}
	c.mu.Unlock()

	if c.events != nil {
		c.events.Publish(ev)
	}
}

// Skip ends the current device's wait for presence.
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ErrNoActiveRun
	}
	c.run.skip.Trigger()
	c.logger.Info("skip requested", "run_id", c.run.id)
	return nil
}

// Cancel aborts the active run.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ErrNoActiveRun
	}
	c.run.cancel()
	c.logger.Info("cancel requested", "run_id", c.run.id)
	return nil
}

// Status returns a snapshot of the active or last run.
func (c *Controller) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.RunID == "" {
		st := RunStatus{State: RunIdle, Sensors: c.sensors, Lights: c.lights}
		return st.clone()
	}
	return c.status.clone()
}

// Active reports whether a run is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Wait blocks until the active run ends and returns its report. Without an
// active run it returns the last report, or ErrNoActiveRun.
func (c *Controller) Wait(ctx context.Context) (Report, error) {
	c.mu.Lock()
	run := c.run
	if run == nil {
		run = c.last
	}
	c.mu.Unlock()

	if run == nil {
		return Report{}, ErrNoActiveRun
	}

	select {
	case <-run.done:
		return run.report, run.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Close cancels an active run and waits for it.
func (c *Controller) Close() {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

// eventFunc adapts a function to EventSink.
type eventFunc func(ProgressEvent)

func (f eventFunc) Publish(ev ProgressEvent) { f(ev) }
