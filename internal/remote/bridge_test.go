package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]mqtt.MessageHandler
	subErr   error
	unsubbed []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]mqtt.MessageHandler)}
}

func (p *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.messages = append(p.messages, published{topic: topic, payload: data, retained: retained})
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if p.subErr != nil {
		return p.subErr
	}
	p.mu.Lock()
	p.handlers[topic] = handler
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Unsubscribe(topic string) error {
	p.mu.Lock()
	p.unsubbed = append(p.unsubbed, topic)
	delete(p.handlers, topic)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) deliver(t *testing.T, pattern, topic string, payload []byte) error {
	t.Helper()
	p.mu.Lock()
	h := p.handlers[pattern]
	p.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", pattern)
	}
	return h(topic, payload)
}

func (p *fakePublisher) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	reload  bool
	skipErr error
}

func (c *fakeController) Start(_ context.Context, opts enroll.StartOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "start")
	c.reload = opts.Reload
	return "run-1", nil
}

func (c *fakeController) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "skip")
	return c.skipErr
}

func (c *fakeController) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "cancel")
	return nil
}

type staticHealth struct{ h transport.Health }

func (s staticHealth) Health() transport.Health { return s.h }

func TestBridge_Commands(t *testing.T) {
	pub := newFakePublisher()
	ctrl := &fakeController{skipErr: enroll.ErrNoActiveRun}
	b := New(pub, ctrl, nil, Config{Station: "bench-01"})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	topics := mqtt.Topics{Station: "bench-01"}
	pattern := topics.AllCommands()

	tests := []struct {
		name    string
		command string
		payload string
		wantErr error
	}{
		{name: "start with reload", command: mqtt.CommandStart, payload: `{"reload":true}`},
		{name: "skip without run", command: mqtt.CommandSkip, wantErr: enroll.ErrNoActiveRun},
		{name: "cancel", command: mqtt.CommandCancel},
		{name: "unknown", command: "reboot", wantErr: ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pub.deliver(t, pattern, topics.Command(tt.command), []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	want := []string{"start", "skip", "cancel"}
	if len(ctrl.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ctrl.calls, want)
	}
	for i := range want {
		if ctrl.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, ctrl.calls[i], want[i])
		}
	}
	if !ctrl.reload {
		t.Error("start did not pass reload")
	}
}

func TestBridge_BadStartPayload(t *testing.T) {
	pub := newFakePublisher()
	ctrl := &fakeController{}
	b := New(pub, ctrl, nil, Config{Station: "s"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	topics := mqtt.Topics{Station: "s"}
	if err := pub.deliver(t, topics.AllCommands(), topics.Command(mqtt.CommandStart), []byte("{")); err == nil {
		t.Error("expected decode error")
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("controller called: %v", ctrl.calls)
	}
}

func TestBridge_SubscribeFailure(t *testing.T) {
	pub := newFakePublisher()
	pub.subErr = mqtt.ErrNotConnected
	b := New(pub, &fakeController{}, nil, Config{Station: "s"})

	if err := b.Start(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
	b.Stop()
}

func TestBridge_PublishesProgressAndRun(t *testing.T) {
	pub := newFakePublisher()
	b := New(pub, &fakeController{}, nil, Config{Station: "bench-01"})
	topics := mqtt.Topics{Station: "bench-01"}

	b.HandleEvent(enroll.ProgressEvent{RunID: "r", Class: enroll.ClassLight, Index: 2, Address: 201, Status: enroll.StatusOK, Phase: enroll.PhaseDone})
	b.HandleRun(enroll.RunStatus{RunID: "r", State: enroll.RunFinished})

	progress := pub.on(topics.Progress("light", 2))
	if len(progress) != 1 || progress[0].retained {
		t.Fatalf("progress messages = %+v", progress)
	}
	var ev enroll.ProgressEvent
	if err := json.Unmarshal(progress[0].payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Address != 201 || ev.Status != enroll.StatusOK {
		t.Errorf("event = %+v", ev)
	}

	run := pub.on(topics.Run())
	if len(run) != 1 || !run[0].retained {
		t.Fatalf("run messages = %+v", run)
	}
	var st enroll.RunStatus
	if err := json.Unmarshal(run[0].payload, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != enroll.RunFinished {
		t.Errorf("run state = %s", st.State)
	}
}

func TestBridge_HealthLoop(t *testing.T) {
	pub := newFakePublisher()
	health := staticHealth{h: transport.Health{Connected: true, Port: "COM3", Stats: transport.Stats{Transactions: 12}}}
	b := New(pub, &fakeController{}, health, Config{Station: "s", HealthInterval: 10 * time.Millisecond})

	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	topic := mqtt.Topics{Station: "s"}.Bus()
	deadline := time.Now().Add(time.Second)
	for len(pub.on(topic)) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()

	msgs := pub.on(topic)
	if len(msgs) < 3 {
		t.Fatalf("bus messages = %d, want at least 3", len(msgs))
	}
	var status BusStatus
	if err := json.Unmarshal(msgs[0].payload, &status); err != nil {
		t.Fatal(err)
	}
	if !status.Connected || status.Port != "COM3" || status.Stats.Transactions != 12 || !msgs[0].retained {
		t.Errorf("bus status = %+v", status)
	}

	count := len(pub.on(topic))
	time.Sleep(30 * time.Millisecond)
	if got := len(pub.on(topic)); got != count {
		t.Errorf("health published after Stop: %d -> %d", count, got)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.unsubbed) != 1 {
		t.Errorf("unsubscribed = %v", pub.unsubbed)
	}
}
