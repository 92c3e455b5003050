package journal

import (
	"context"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
)

// writeTimeout bounds each journal write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface for the journal.
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

// RecorderConfig describes the station a Recorder writes for.
type RecorderConfig struct {
	StationID string

	// Port reports the serial port in use when a run starts. May be nil.
	Port func() string

	// Workbook reports the data source of the run. May be nil.
	Workbook func() string
}

// Recorder writes run status changes and progress events to a Repository.
//
// Journal failures are logged and never reach the engine.
type Recorder struct {
	repo   Repository
	cfg    RecorderConfig
	logger Logger
}

// NewRecorder creates a Recorder on repo.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	return &Recorder{repo: repo, cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// HandleEvent stores one progress event. Pass it to Dispatcher.Subscribe.
func (r *Recorder) HandleEvent(ev enroll.ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	row := &Event{
		RunID:      ev.RunID,
		Class:      string(ev.Class),
		Index:      ev.Index,
		Row:        ev.Row,
		Address:    int(ev.Address),
		Status:     string(ev.Status),
		Phase:      string(ev.Phase),
		Identifier: ev.Identifier,
		Note:       ev.Note,
		CreatedAt:  ev.Time,
	}
	if err := r.repo.AppendEvent(ctx, row); err != nil {
		r.logger.Error("journal event write failed", "run_id", ev.RunID, "error", err)
	}
}

// HandleRun stores a run status change. Pass it to Controller.OnRunChange.
func (r *Recorder) HandleRun(st enroll.RunStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if st.State == enroll.RunRunning {
		run := &Run{
			ID:        st.RunID,
			StationID: r.cfg.StationID,
			Port:      call(r.cfg.Port),
			Workbook:  call(r.cfg.Workbook),
			State:     string(st.State),
			StartedAt: st.StartedAt,
		}
		if err := r.repo.CreateRun(ctx, run); err != nil {
			r.logger.Error("journal run insert failed", "run_id", st.RunID, "error", err)
		}
		return
	}

	run := &Run{
		ID:        st.RunID,
		State:     string(st.State),
		Persisted: st.Persisted,
		OK:        st.Counts.OK,
		Fail:      st.Counts.Fail,
		Skipped:   st.Counts.Skipped,
		Error:     st.Error,
	}
	if !st.FinishedAt.IsZero() {
		finished := st.FinishedAt
		run.FinishedAt = &finished
	}
	if err := r.repo.FinishRun(ctx, run); err != nil {
		r.logger.Error("journal run update failed", "run_id", st.RunID, "error", err)
		return
	}
	r.logger.Debug("run journaled", "run_id", st.RunID, "state", st.State)
}

func call(fn func() string) string {
	if fn == nil {
		return ""
	}
	return fn()
}
