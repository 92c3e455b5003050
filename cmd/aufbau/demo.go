package main

import (
	"context"
	"sync"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
)

// demoSource is the in-memory project used by -simulate when no workbook
// is configured.
type demoSource struct {
	mu          sync.Mutex
	identifiers map[int]uint32
}

var (
	_ enroll.Source = (*demoSource)(nil)
	_ enroll.Sink   = (*demoSource)(nil)
)

func newDemoSource() *demoSource {
	return &demoSource{identifiers: make(map[int]uint32)}
}

func (d *demoSource) LoadSensorTargets(context.Context) ([]enroll.SensorTarget, error) {
	rows := []struct {
		model, location string
		buzzer          enroll.BuzzerMode
	}{
		{"GS-CO", "Level -1 ramp", enroll.BuzzerUnchanged},
		{"GS-NO2", "Level -1 bay 12", enroll.BuzzerDisable},
		{"GS-CO", "Level -2 stairs", enroll.BuzzerEnable},
	}
	targets := make([]enroll.SensorTarget, 0, len(rows))
	for i, r := range rows {
		targets = append(targets, enroll.SensorTarget{
			Index:    i + 1,
			Row:      i + 2,
			Model:    r.model,
			Location: r.location,
			Address:  byte(i + 2), //nolint:gosec // small
			Selected: true,
			Buzzer:   r.buzzer,
			Status:   enroll.StatusPending,
		})
	}
	return targets, nil
}

func (d *demoSource) LoadLightTargets(context.Context) ([]enroll.LightTarget, error) {
	return []enroll.LightTarget{
		{Index: 1, Row: 2, Model: "WL-2", Location: "Level -1 ramp", Address: 186, Selected: true, TimeoutMode: 180, Status: enroll.StatusPending},
		{Index: 2, Row: 3, Model: "WL-2", Location: "Level -2 stairs", Address: 187, Selected: true, TimeoutMode: 0, Status: enroll.StatusPending},
	}, nil
}

// PersistIdentifiers keeps the identifiers by row.
func (d *demoSource) PersistIdentifiers(_ context.Context, records []enroll.IdentifierRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range records {
		d.identifiers[r.Row] = r.Identifier
	}
	return nil
}

func (d *demoSource) identifier(row int) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.identifiers[row]
	return id, ok
}
