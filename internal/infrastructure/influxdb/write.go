package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

// Measurement names.
const (
	MeasurementOutcome  = "enrollment_outcome"
	MeasurementBusStats = "bus_stats"
)

// Outcome is the final result of one enrollment item.
type Outcome struct {
	Station    string
	RunID      string
	Class      string
	Status     string
	Address    int
	Identifier uint32
	Duration   time.Duration
	Time       time.Time
}

// WriteOutcome records one finished item. Tags are station, class and
// status; the run ID is a field to keep series cardinality low.
func (c *Client) WriteOutcome(o Outcome) {
	c.record(outcomePoint(o))
}

// WriteBusStats records the transport counters, typically at run end.
func (c *Client) WriteBusStats(station, port string, stats transport.Stats) {
	c.record(busStatsPoint(station, port, stats, time.Now()))
}

func outcomePoint(o Outcome) *write.Point {
	ts := o.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := map[string]any{
		"address":     int64(o.Address),
		"duration_ms": o.Duration.Milliseconds(),
		"run_id":      o.RunID,
	}
	if o.Identifier > 0 {
		fields["identifier"] = int64(o.Identifier)
	}
	return write.NewPoint(MeasurementOutcome,
		map[string]string{
			"station": o.Station,
			"class":   o.Class,
			"status":  o.Status,
		},
		fields,
		ts,
	)
}

// busStatsPoint converts the counters to int64 fields.
func busStatsPoint(station, port string, s transport.Stats, ts time.Time) *write.Point { //nolint:gosec // counters stay far below 2^63
	return write.NewPoint(MeasurementBusStats,
		map[string]string{
			"station": station,
			"port":    port,
		},
		map[string]any{
			"transactions":  int64(s.Transactions),
			"failures":      int64(s.Failures),
			"retries":       int64(s.Retries),
			"timeouts":      int64(s.Timeouts),
			"crc_errors":    int64(s.CRCErrors),
			"exceptions":    int64(s.Exceptions),
			"port_failures": int64(s.PortFailures),
			"reopens":       int64(s.Reopens),
		},
		ts,
	)
}
