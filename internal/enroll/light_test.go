package enroll

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

func newLightFixture() (*fakeBus, *LightEnroller) {
	bus := newFakeBus()
	probe := DefaultProbeConfig()
	return bus, NewLightEnroller(bus, NewProber(bus, probe), probe, fastLightConfig())
}

// lightMove tracks whether the address block has been written.
type lightMove struct {
	moved atomic.Bool
}

func (m *lightMove) observe(w busWrite) {
	if w.reg == RegLightBlock && len(w.values) == 4 {
		m.moved.Store(true)
	}
}

func (m *lightMove) defaultPresent(int) bool { return !m.moved.Load() }
func (m *lightMove) targetPresent(int) bool  { return m.moved.Load() }

func TestLightEnroll(t *testing.T) {
	tests := []struct {
		name        string
		timeoutMode uint16
		answers     bool
		wantMode    uint16
		wantNote    string
	}{
		{name: "confirmed", timeoutMode: 180, answers: true, wantMode: 180},
		{name: "odd timeout normalised", timeoutMode: 90, answers: true, wantMode: 0},
		{name: "soft verify failure is a warning", timeoutMode: 180, answers: false, wantMode: 180, wantNote: "new address 200 did not confirm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, e := newLightFixture()
			m := &lightMove{}
			bus.onWrite = m.observe
			bus.setPresent(1, m.defaultPresent)
			if tt.answers {
				bus.setPresent(200, m.targetPresent)
			}

			target := LightTarget{Index: 1, Row: 3, Address: 200, Selected: true, TimeoutMode: tt.timeoutMode}
			out, err := e.Enroll(context.Background(), target, nil, noEmit)
			if err != nil {
				t.Fatalf("Enroll() error = %v", err)
			}
			if out.Status != StatusOK {
				t.Fatalf("status = %s, note = %q", out.Status, out.Note())
			}

			blocks := bus.writesTo(RegLightBlock)
			if len(blocks) != 1 {
				t.Fatalf("block writes = %d, want 1", len(blocks))
			}
			b := blocks[0]
			if b.unit != 1 || len(b.values) != 4 || b.values[0] != 0 || b.values[1] != 200 || b.values[2] != LightBaud || b.values[3] != LightSecurityKey {
				t.Errorf("block = %+v", b)
			}

			var mode *busWrite
			for _, w := range bus.recordedWrites() {
				if w.unit == 200 && w.reg == RegTimeoutMode {
					mode = &w
				}
			}
			if mode == nil {
				t.Fatal("timeout mode not written to the new address")
			}
			if mode.values[0] != tt.wantMode {
				t.Errorf("timeout mode = %d, want %d", mode.values[0], tt.wantMode)
			}

			if tt.wantNote == "" {
				if out.Note() != "" {
					t.Errorf("note = %q, want empty", out.Note())
				}
				return
			}
			if !strings.Contains(out.Note(), tt.wantNote) {
				t.Errorf("note = %q, want %q", out.Note(), tt.wantNote)
			}
			if !errors.Is(out.Warnings[0], ErrVerification) {
				t.Errorf("warning = %v, want ErrVerification", out.Warnings[0])
			}
		})
	}
}

func TestLightEnroll_Collision(t *testing.T) {
	bus, e := newLightFixture()
	bus.setPresent(1, always)
	bus.setPresent(201, always)

	out, err := e.Enroll(context.Background(), LightTarget{Address: 201, Selected: true}, nil, noEmit)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if out.Status != StatusFail || !errors.Is(out.Err, ErrAddressOccupied) {
		t.Fatalf("outcome = %+v, want occupied failure", out)
	}
	if w := bus.recordedWrites(); len(w) != 0 {
		t.Errorf("writes after collision: %+v", w)
	}
}

func TestLightEnroll_BlockWriteFails(t *testing.T) {
	bus, e := newLightFixture()
	bus.setPresent(1, always)
	bus.writeErr[RegLightBlock] = transport.ErrTimeout

	out, err := e.Enroll(context.Background(), LightTarget{Address: 202, Selected: true}, nil, noEmit)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if out.Status != StatusFail {
		t.Fatalf("status = %s, want fail", out.Status)
	}
	if !strings.Contains(out.Note(), "writing address block for 202") {
		t.Errorf("note = %q", out.Note())
	}
	if len(bus.recordedWrites()) != 0 {
		t.Error("timeout mode written after failed block write")
	}
}

func TestLightEnroll_TimeoutWriteWarns(t *testing.T) {
	bus, e := newLightFixture()
	m := &lightMove{}
	bus.onWrite = m.observe
	bus.setPresent(1, m.defaultPresent)
	bus.setPresent(203, m.targetPresent)
	bus.writeErr[RegTimeoutMode] = transport.ErrTimeout

	out, err := e.Enroll(context.Background(), LightTarget{Address: 203, Selected: true, TimeoutMode: 180}, nil, noEmit)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if out.Status != StatusOK {
		t.Fatalf("status = %s, want ok", out.Status)
	}
	if !strings.Contains(out.Note(), "timeout mode 180") {
		t.Errorf("note = %q", out.Note())
	}
}
