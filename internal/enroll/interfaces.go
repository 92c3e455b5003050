package enroll

import (
	"context"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

// Bus is the register access the enrollers need. *transport.Manager
// implements it.
type Bus interface {
	ReadHolding(ctx context.Context, unit byte, register, count uint16) ([]uint16, error)
	WriteSingle(ctx context.Context, unit byte, register, value uint16) error
	WriteMultiple(ctx context.Context, unit byte, register uint16, values []uint16) error
	WithScopedTiming(ctx context.Context, t transport.Timing, fn func(ctx context.Context) error) error
	Flush()
	Ready() error
}

var _ Bus = (*transport.Manager)(nil)

// Source supplies the ordered targets of a run.
type Source interface {
	LoadSensorTargets(ctx context.Context) ([]SensorTarget, error)
	LoadLightTargets(ctx context.Context) ([]LightTarget, error)
}

// Sink persists the identifiers collected during a run.
type Sink interface {
	PersistIdentifiers(ctx context.Context, records []IdentifierRecord) error
}

// EventSink receives progress events. Publish must not block.
type EventSink interface {
	Publish(ev ProgressEvent)
}

// Logger defines the logging interface for the enrollment engine.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
