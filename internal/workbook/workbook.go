package workbook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
)

// Sheet names.
const (
	SensorSheet = "GAS"
	ImportSheet = "Import"
)

const (
	// identifierColumn is column E of the Import sheet.
	identifierColumn = 5

	// firstDataRow skips the header row.
	firstDataRow = 2

	// minLightAddress excludes sensor rows sometimes left in light sheets.
	minLightAddress = 185

	buzzerDisableText = "buzzer disable"
)

// lightSheets are the accepted light sheet names, lower case.
var lightSheets = []string{"lightimok", "light", "ledimok", "led", "light 24v"}

// Logger defines the logging interface for the workbook.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Workbook is an enroll.Source and enroll.Sink on one .xlsx/.xlsm file.
//
// The file is opened for each operation so edits made in a spreadsheet
// program between runs are picked up.
type Workbook struct {
	path   string
	logger Logger

	// mu serialises writes to the file.
	mu sync.Mutex
}

var (
	_ enroll.Source = (*Workbook)(nil)
	_ enroll.Sink   = (*Workbook)(nil)
)

// New returns a Workbook for path. The file is not opened yet.
func New(path string) *Workbook {
	return &Workbook{path: path, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (w *Workbook) SetLogger(logger Logger) {
	w.logger = logger
}

// Path returns the workbook file.
func (w *Workbook) Path() string {
	return w.path
}

// LoadSensorTargets reads the GAS sheet. A row is kept when it has a model
// and an address above zero.
func (w *Workbook) LoadSensorTargets(ctx context.Context) ([]enroll.SensorTarget, error) {
	rows, err := w.readRows(ctx, func(*excelize.File) (string, error) { return SensorSheet, nil })
	if err != nil {
		return nil, err
	}

	targets := []enroll.SensorTarget{}
	for i, row := range rows {
		if i+1 < firstDataRow {
			continue
		}
		model := strings.TrimSpace(cell(row, 0))
		addr, ok := parseInt(cell(row, 1))
		if model == "" || !ok || addr <= 0 || addr > 247 {
			continue
		}
		buzzer := enroll.BuzzerEnable
		if strings.EqualFold(strings.TrimSpace(cell(row, 3)), buzzerDisableText) {
			buzzer = enroll.BuzzerDisable
		}
		targets = append(targets, enroll.SensorTarget{
			Index:    len(targets) + 1,
			Row:      i + 1,
			Model:    model,
			Location: strings.TrimSpace(cell(row, 2)),
			Address:  byte(addr),
			Selected: true,
			Buzzer:   buzzer,
			Status:   enroll.StatusPending,
		})
	}

	w.logger.Debug("sensor targets loaded", "path", w.path, "count", len(targets))
	return targets, nil
}

// LoadLightTargets reads the light sheet. Rows with an address of 185 or
// less are ignored. A missing light sheet yields no targets.
func (w *Workbook) LoadLightTargets(ctx context.Context) ([]enroll.LightTarget, error) {
	rows, err := w.readRows(ctx, findLightSheet)
	if err != nil {
		if errors.Is(err, ErrSheetNotFound) {
			w.logger.Info("no light sheet in workbook", "path", w.path)
			return []enroll.LightTarget{}, nil
		}
		return nil, err
	}

	targets := []enroll.LightTarget{}
	for i, row := range rows {
		if i+1 < firstDataRow {
			continue
		}
		addr, ok := parseInt(cell(row, 1))
		if !ok || addr <= minLightAddress || addr > 247 {
			continue
		}
		timeout, _ := parseInt(cell(row, 3))
		targets = append(targets, enroll.LightTarget{
			Index:       len(targets) + 1,
			Row:         i + 1,
			Model:       strings.TrimSpace(cell(row, 0)),
			Location:    strings.TrimSpace(cell(row, 2)),
			Address:     byte(addr),
			Selected:    true,
			TimeoutMode: enroll.NormalizeTimeoutMode(timeout),
			Status:      enroll.StatusPending,
		})
	}

	w.logger.Debug("light targets loaded", "path", w.path, "count", len(targets))
	return targets, nil
}

// PersistIdentifiers writes every record into column E of the Import sheet
// at its row and saves the file once.
func (w *Workbook) PersistIdentifiers(ctx context.Context, records []enroll.IdentifierRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("opening workbook %s: %w", w.path, err)
	}
	defer f.Close() //nolint:errcheck // file is saved explicitly

	if idx, err := f.GetSheetIndex(ImportSheet); err != nil || idx < 0 {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, ImportSheet)
	}

	for _, r := range records {
		ref, err := excelize.CoordinatesToCellName(identifierColumn, r.Row)
		if err != nil {
			return fmt.Errorf("row %d: %w", r.Row, err)
		}
		if err := f.SetCellValue(ImportSheet, ref, int64(r.Identifier)); err != nil {
			return fmt.Errorf("writing %s: %w", ref, err)
		}
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("saving workbook %s: %w", w.path, err)
	}

	w.logger.Info("identifiers written", "path", w.path, "count", len(records))
	return nil
}

// readRows opens the file and returns all rows of the sheet chosen by pick.
func (w *Workbook) readRows(ctx context.Context, pick func(*excelize.File) (string, error)) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", w.path, err)
	}
	defer f.Close() //nolint:errcheck // read only

	sheet, err := pick(f)
	if err != nil {
		return nil, err
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func findLightSheet(f *excelize.File) (string, error) {
	for _, name := range f.GetSheetList() {
		if slices.Contains(lightSheets, strings.ToLower(strings.TrimSpace(name))) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: light", ErrSheetNotFound)
}

func cell(row []string, col int) string {
	if col < len(row) {
		return row[col]
	}
	return ""
}

// parseInt accepts integers and whole-number floats such as "5.0".
func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
