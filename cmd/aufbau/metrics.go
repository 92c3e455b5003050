package main

import (
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/influxdb"
)

// metricsWriter is the part of *influxdb.Client the station writes to.
type metricsWriter interface {
	WriteOutcome(o influxdb.Outcome)
	WriteBusStats(station, port string, stats transport.Stats)
	Flush()
}

var _ metricsWriter = (*influxdb.Client)(nil)

// busCounters reports the transport counters. *transport.Manager implements it.
type busCounters interface {
	PortName() string
	Stats() transport.Stats
}

// outcomeMetrics turns finished items and runs into InfluxDB points.
type outcomeMetrics struct {
	w       metricsWriter
	station string
	bus     busCounters
}

func newOutcomeMetrics(w metricsWriter, station string, bus busCounters) *outcomeMetrics {
	return &outcomeMetrics{w: w, station: station, bus: bus}
}

// HandleEvent writes one point per finished item.
func (m *outcomeMetrics) HandleEvent(ev enroll.ProgressEvent) {
	if !ev.Final() {
		return
	}
	m.w.WriteOutcome(outcomeFromEvent(m.station, ev))
}

// HandleRun records the bus counters once a run has ended.
func (m *outcomeMetrics) HandleRun(st enroll.RunStatus) {
	if st.State == enroll.RunRunning {
		return
	}
	m.w.WriteBusStats(m.station, m.bus.PortName(), m.bus.Stats())
	m.w.Flush()
}

func outcomeFromEvent(station string, ev enroll.ProgressEvent) influxdb.Outcome {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb.Outcome{
		Station:    station,
		RunID:      ev.RunID,
		Class:      string(ev.Class),
		Status:     string(ev.Status),
		Address:    int(ev.Address),
		Identifier: ev.Identifier,
		Duration:   time.Duration(ev.ElapsedMS) * time.Millisecond,
		Time:       ts,
	}
}
