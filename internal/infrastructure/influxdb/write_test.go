package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

func TestOutcomePoint(t *testing.T) {
	ts := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		outcome Outcome
		want    []string
		absent  []string
	}{
		{
			name: "sensor ok",
			outcome: Outcome{
				Station: "bench-01", RunID: "r1", Class: "sensor", Status: "ok",
				Address: 5, Identifier: 104321, Duration: 2500 * time.Millisecond, Time: ts,
			},
			want: []string{
				"enrollment_outcome,",
				"class=sensor", "station=bench-01", "status=ok",
				"address=5i", "identifier=104321i", "duration_ms=2500i", `run_id="r1"`,
			},
		},
		{
			name:    "light fail without identifier",
			outcome: Outcome{Station: "bench-01", Class: "light", Status: "fail", Address: 200, Time: ts},
			want:    []string{"class=light", "status=fail", "address=200i"},
			absent:  []string{"identifier="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(outcomePoint(tt.outcome), time.Nanosecond)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(line, a) {
					t.Errorf("line %q should not contain %q", line, a)
				}
			}
		})
	}
}

func TestBusStatsPoint(t *testing.T) {
	stats := transport.Stats{Transactions: 120, Retries: 4, CRCErrors: 1, Reopens: 2}
	line := write.PointToLineProtocol(busStatsPoint("bench-01", "COM3", stats, time.Now()), time.Nanosecond)

	for _, w := range []string{"bus_stats,", "port=COM3", "transactions=120i", "retries=4i", "crc_errors=1i", "reopens=2i", "failures=0i"} {
		if !strings.Contains(line, w) {
			t.Errorf("line %q missing %q", line, w)
		}
	}
}

func TestWrites_NotConnected(t *testing.T) {
	c := &Client{}

	// Writes on a disconnected client are dropped without touching the write API.
	c.WriteOutcome(Outcome{Class: "sensor"})
	c.WriteBusStats("s", "p", transport.Stats{})
	c.Flush()

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
