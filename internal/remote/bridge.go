package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 10 * time.Second

// Publisher is the broker access the bridge needs. *mqtt.Client
// implements it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

var _ Publisher = (*mqtt.Client)(nil)

// Controller receives remote commands. *enroll.Controller implements it.
type Controller interface {
	Start(ctx context.Context, opts enroll.StartOptions) (string, error)
	Skip() error
	Cancel() error
}

var _ Controller = (*enroll.Controller)(nil)

// HealthSource reports the bus state. *transport.Manager implements it.
type HealthSource interface {
	Health() transport.Health
}

// Logger defines the logging interface for the bridge.
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

// Config configures a Bridge.
type Config struct {
	Station        string
	HealthInterval time.Duration
	QoS            byte
}

// BusStatus is the payload of the bus health topic.
type BusStatus struct {
	transport.Health
	Time time.Time `json:"time"`
}

// StartCommand is the optional payload of the start command.
type StartCommand struct {
	Reload bool `json:"reload"`
}

// Bridge connects one station to the broker.
type Bridge struct {
	pub    Publisher
	ctrl   Controller
	health HealthSource
	cfg    Config
	topics mqtt.Topics
	logger Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Bridge. health may be nil to disable bus health reports.
func New(pub Publisher, ctrl Controller, health HealthSource, cfg Config) *Bridge {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	return &Bridge{
		pub:    pub,
		ctrl:   ctrl,
		health: health,
		cfg:    cfg,
		topics: mqtt.Topics{Station: cfg.Station},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to the command topics and starts the health reporter.
// It stops when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if err := b.pub.Subscribe(b.topics.AllCommands(), b.cfg.QoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.running = true

	if b.health != nil {
		b.wg.Add(1)
		go b.healthLoop(ctx)
	}

	b.logger.Info("remote bridge started", "station", b.cfg.Station, "commands", b.topics.AllCommands())
	return nil
}

// Stop unsubscribes and waits for the health reporter.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cancel()
	b.mu.Unlock()

	b.wg.Wait()
	if err := b.pub.Unsubscribe(b.topics.AllCommands()); err != nil {
		b.logger.Debug("unsubscribe on stop failed", "error", err)
	}
}

// HandleEvent publishes ev to its progress topic. Pass it to
// Dispatcher.Subscribe.
func (b *Bridge) HandleEvent(ev enroll.ProgressEvent) {
	topic := b.topics.Progress(string(ev.Class), ev.Index)
	if err := b.pub.PublishJSON(topic, ev, false); err != nil {
		b.logger.Debug("progress publish failed", "topic", topic, "error", err)
	}
}

// HandleRun publishes st as the retained run status. Pass it to
// Controller.OnRunChange.
func (b *Bridge) HandleRun(st enroll.RunStatus) {
	if err := b.pub.PublishJSON(b.topics.Run(), st, true); err != nil {
		b.logger.Warn("run status publish failed", "run_id", st.RunID, "error", err)
	}
}

// PublishHealth publishes one bus health snapshot.
func (b *Bridge) PublishHealth() {
	if b.health == nil {
		return
	}
	status := BusStatus{Health: b.health.Health(), Time: time.Now().UTC()}
	if err := b.pub.PublishJSON(b.topics.Bus(), status, true); err != nil {
		b.logger.Debug("bus health publish failed", "error", err)
	}
}

func (b *Bridge) healthLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	b.PublishHealth()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.PublishHealth()
		}
	}
}

// handleCommand dispatches on the last topic level.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name := path.Base(topic)
	b.logger.Info("remote command received", "command", name)

	switch name {
	case mqtt.CommandStart:
		var cmd StartCommand
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &cmd); err != nil {
				return fmt.Errorf("decoding start command: %w", err)
			}
		}
		runID, err := b.ctrl.Start(context.Background(), enroll.StartOptions{Reload: cmd.Reload})
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		b.logger.Info("run started remotely", "run_id", runID)
		return nil
	case mqtt.CommandSkip:
		return b.ctrl.Skip()
	case mqtt.CommandCancel:
		return b.ctrl.Cancel()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}
