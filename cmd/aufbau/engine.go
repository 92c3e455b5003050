package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/simulator"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/config"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/logging"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/workbook"
)

// simulatedPort is the port name used with -simulate.
const simulatedPort = "sim0"

// dispatcherQueue is the progress event backlog per subscriber set.
const dispatcherQueue = 256

// errNoWorkbook is returned when no data source is configured.
var errNoWorkbook = errors.New("no workbook: set -workbook, -project or workbook.path")

// engine bundles the bus and the enrollment components.
type engine struct {
	bus        *transport.Manager
	sim        *simulator.Bus
	book       *workbook.Workbook
	source     enroll.Source
	sink       enroll.Sink
	dispatcher *enroll.Dispatcher
	sensor     *enroll.SensorEnroller
	light      *enroll.LightEnroller
	orch       *enroll.Orchestrator
	ctrl       *enroll.Controller
	port       string
	simulate   bool
}

// newEngine wires transport, data source and enrollment from cfg.
func newEngine(cfg *config.Config, opts options) (*engine, error) {
	e := &engine{port: cfg.Bus.Port, simulate: opts.simulate}

	path, err := workbookPath(cfg.Workbook, opts)
	switch {
	case err == nil:
		e.book = workbook.New(path)
		e.source, e.sink = e.book, e.book
	case errors.Is(err, errNoWorkbook) && opts.simulate:
		demo := newDemoSource()
		e.source, e.sink = demo, demo
	default:
		return nil, err
	}

	tcfg := transport.Config{
		Timing: transport.Timing{
			ReadTimeout:  cfg.Bus.ReadTimeout,
			WriteTimeout: cfg.Bus.WriteTimeout,
			Retries:      cfg.Bus.Retries,
		},
		WatchdogInterval: cfg.Bus.WatchdogInterval,
	}
	if opts.simulate {
		e.port = simulatedPort
		tcfg.Open = e.simulatedOpener()
	}
	e.bus = transport.New(tcfg)

	probe, sensorCfg, lightCfg := enrollConfigs(cfg)
	prober := enroll.NewProber(e.bus, probe)
	e.sensor = enroll.NewSensorEnroller(e.bus, prober, probe, sensorCfg)
	e.light = enroll.NewLightEnroller(e.bus, prober, probe, lightCfg)
	e.orch = enroll.NewOrchestrator(e.bus, e.sensor, e.light, e.sink)
	e.dispatcher = enroll.NewDispatcher(dispatcherQueue)
	e.ctrl = enroll.NewController(e.orch, e.source, e.dispatcher)

	return e, nil
}

// simulatedOpener builds the simulated bench. A fresh factory device is
// plugged at address 1 whenever it has been free for a moment.
func (e *engine) simulatedOpener() transport.OpenFunc {
	feeder := &benchFeeder{}
	e.sim = simulator.New(simulator.Config{
		Factory: func(seq int) *simulator.Device {
			var st enroll.RunStatus
			if e.ctrl != nil {
				st = e.ctrl.Status()
			}
			if feeder.next(st) == enroll.ClassLight {
				return simulator.NewLight()
			}
			return simulator.NewSensor(simulator.SensorOptions{Identifier: uint32(100000 + seq)}) //nolint:gosec // small
		},
	})
	return func(name string) (transport.Port, error) {
		p, err := e.sim.Open(name)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// benchFeeder decides which device class the simulated operator plugs next:
// one sensor per selected sensor of the run, then lights.
type benchFeeder struct {
	runID string
	fed   int

	// waiting is set when a device was plugged outside a run and still
	// sits at address 1.
	waiting bool
}

func (f *benchFeeder) next(st enroll.RunStatus) enroll.Class {
	if st.State != enroll.RunRunning {
		f.waiting = true
		return enroll.ClassSensor
	}
	if st.RunID != f.runID {
		f.runID = st.RunID
		f.fed = 0
		if f.waiting {
			f.fed = 1
		}
		f.waiting = false
	}

	sensors := 0
	for _, t := range st.Sensors {
		if t.Selected {
			sensors++
		}
	}

	class := enroll.ClassLight
	if f.fed < sensors {
		class = enroll.ClassSensor
	}
	f.fed++
	return class
}

func (e *engine) setLogger(log *logging.Logger) {
	e.bus.SetLogger(log)
	if e.book != nil {
		e.book.SetLogger(log)
	}
	e.dispatcher.SetLogger(log)
	e.sensor.SetLogger(log)
	e.light.SetLogger(log)
	e.orch.SetLogger(log)
	e.ctrl.SetLogger(log)
}

// workbookName reports the data source for the journal.
func (e *engine) workbookName() string {
	if e.book != nil {
		return e.book.Path()
	}
	return "demo"
}

// close stops a running run, closes the bus and drains the dispatcher.
func (e *engine) close(log *logging.Logger) {
	e.ctrl.Close()
	if err := e.bus.Disconnect(); err != nil {
		log.Error("error closing bus", "error", err)
	}
	e.dispatcher.Close()
}

// autoConnect opens the configured port when asked to.
func (e *engine) autoConnect(ctx context.Context, cfg config.BusConfig, log *logging.Logger) {
	if !e.simulate && (!cfg.AutoConnect || e.port == "") {
		return
	}
	if err := e.bus.Connect(ctx, e.port); err != nil {
		log.Warn("auto connect failed", "port", e.port, "error", err)
	}
}

// workbookPath resolves the workbook from flags and config. -workbook wins
// over -project, which wins over workbook.path.
func workbookPath(cfg config.WorkbookConfig, opts options) (string, error) {
	switch {
	case opts.workbook != "":
		return opts.workbook, nil
	case opts.project != "":
		if cfg.ProjectRoot == "" {
			return "", fmt.Errorf("-project needs workbook.project_root")
		}
		return workbook.Locate(cfg.ProjectRoot, opts.project)
	case cfg.Path != "":
		return cfg.Path, nil
	default:
		return "", errNoWorkbook
	}
}

// enrollConfigs maps the config sections onto the engine settings.
func enrollConfigs(cfg *config.Config) (enroll.ProbeConfig, enroll.SensorConfig, enroll.LightConfig) {
	//nolint:gosec // Validate bounds the address to 1..247 and registers to 0..65535
	probe := enroll.ProbeConfig{
		DefaultAddress:   byte(cfg.Probe.DefaultAddress),
		PresenceRegister: uint16(cfg.Probe.PresenceRegister),
		TypeRegister:     uint16(cfg.Probe.TypeRegister),
	}

	s := cfg.Sensor
	sensor := enroll.SensorConfig{
		PollInterval:                s.PollInterval,
		StableWindow:                s.StableWindow,
		PresenceTimeout:             s.PresenceTimeout,
		IdentifierTimeout:           s.IdentifierTimeout,
		IdentifierAttempts:          s.IdentifierAttempts,
		IdentifierTimeoutAfterMove:  s.IdentifierTimeoutAfterMove,
		IdentifierAttemptsAfterMove: s.IdentifierAttemptsAfterMove,
		IdentifierWords:             s.IdentifierWords,
		FrameGap:                    s.FrameGap,
		RebootSettle:                s.RebootSettle,
		GoneTimeout:                 s.GoneTimeout,
		AliveTimeout:                s.AliveTimeout,
	}

	l := cfg.Light
	light := enroll.LightConfig{
		PollInterval:    l.PollInterval,
		StableWindow:    l.StableWindow,
		PresenceTimeout: l.PresenceTimeout,
		FrameGap:        l.FrameGap,
		VerifyTimeout:   l.VerifyTimeout,
	}

	return probe, sensor, light
}
