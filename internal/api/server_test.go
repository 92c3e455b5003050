package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/config"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/logging"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/journal"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeController struct {
	mu       sync.Mutex
	sensors  []enroll.SensorTarget
	lights   []enroll.LightTarget
	state    enroll.RunState
	startErr error
	skipErr  error
	started  []enroll.StartOptions
	selected []string
	loads    int
}

func (f *fakeController) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeController) Targets() ([]enroll.SensorTarget, []enroll.LightTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sensors, f.lights
}

func (f *fakeController) SetSelected(class enroll.Class, index int, selected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if class == enroll.ClassSensor && index > len(f.sensors) {
		return fmt.Errorf("%w: %s %d", enroll.ErrUnknownTarget, class, index)
	}
	f.selected = append(f.selected, fmt.Sprintf("%s/%d/%v", class, index, selected))
	return nil
}

func (f *fakeController) Start(_ context.Context, opts enroll.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, opts)
	f.state = enroll.RunRunning
	return "run-42", nil
}

func (f *fakeController) Skip() error   { return f.skipErr }
func (f *fakeController) Cancel() error { return f.skipErr }

func (f *fakeController) Status() enroll.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state
	if state == "" {
		state = enroll.RunIdle
	}
	return enroll.RunStatus{State: state, Sensors: f.sensors, Lights: f.lights}
}

type fakeBus struct {
	mu        sync.Mutex
	port      string
	connected bool
	err       error
}

func (b *fakeBus) Connect(_ context.Context, port string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.port, b.connected = port, true
	return nil
}

func (b *fakeBus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *fakeBus) Health() transport.Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return transport.Health{Connected: b.connected, Port: b.port}
}

type fakeJournal struct {
	runs   []journal.Run
	events map[string][]journal.Event
	filter journal.Filter
}

func (j *fakeJournal) CreateRun(context.Context, *journal.Run) error     { return nil }
func (j *fakeJournal) FinishRun(context.Context, *journal.Run) error     { return nil }
func (j *fakeJournal) AppendEvent(context.Context, *journal.Event) error { return nil }

func (j *fakeJournal) GetRun(_ context.Context, id string) (*journal.Run, error) {
	for i := range j.runs {
		if j.runs[i].ID == id {
			return &j.runs[i], nil
		}
	}
	return nil, journal.ErrRunNotFound
}

func (j *fakeJournal) ListRuns(_ context.Context, filter journal.Filter) ([]journal.Run, error) {
	j.filter = filter
	return j.runs, nil
}

func (j *fakeJournal) ListEvents(_ context.Context, runID string) ([]journal.Event, error) {
	return j.events[runID], nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	ctrl    *fakeController
	bus     *fakeBus
	journal *fakeJournal
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	env := &testEnv{
		ctrl: &fakeController{
			sensors: []enroll.SensorTarget{{Index: 1, Row: 2, Address: 5, Selected: true, Status: enroll.StatusPending}},
			lights:  []enroll.LightTarget{{Index: 1, Row: 2, Address: 200, Selected: true, Status: enroll.StatusPending}},
		},
		bus: &fakeBus{},
		journal: &fakeJournal{
			runs: []journal.Run{{ID: "run-1", StationID: "bench-01", State: "finished"}},
			events: map[string][]journal.Event{
				"run-1": {{ID: 1, RunID: "run-1", Class: "sensor", Index: 1, Status: "ok"}},
			},
		},
	}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{JWT: config.JWTConfig{
			Secret:         secret,
			AccessTokenTTL: 15,
			Operator:       "bench",
			Password:       "s3cret",
		}},
		Logger:     log,
		Controller: env.ctrl,
		Bus:        env.bus,
		Journal:    env.journal,
		ListPorts:  func() ([]string, error) { return []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil },
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Controller: &fakeController{}, Bus: &fakeBus{}}},
		{"no controller", Deps{Logger: log, Bus: &fakeBus{}}},
		{"no bus", Deps{Logger: log, Controller: &fakeController{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[healthResponse](t, rec)
	if got.Status != "ok" || got.Version != "test" || got.Run != enroll.RunIdle || got.AuthMode != "open" {
		t.Errorf("health = %+v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestRoutes_OpenMode(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"ports", http.MethodGet, "/api/v1/ports", "", http.StatusOK, "/dev/ttyUSB1"},
		{"bus status", http.MethodGet, "/api/v1/bus", "", http.StatusOK, `"connected":false`},
		{"connect", http.MethodPost, "/api/v1/bus/connect", `{"port":"COM3"}`, http.StatusOK, `"port":"COM3"`},
		{"connect no port", http.MethodPost, "/api/v1/bus/connect", `{}`, http.StatusBadRequest, "port is required"},
		{"connect bad json", http.MethodPost, "/api/v1/bus/connect", `{`, http.StatusBadRequest, "invalid JSON"},
		{"disconnect", http.MethodPost, "/api/v1/bus/disconnect", "", http.StatusOK, `"connected":false`},
		{"targets", http.MethodGet, "/api/v1/targets", "", http.StatusOK, `"address":200`},
		{"reload", http.MethodPost, "/api/v1/targets/reload", "", http.StatusOK, `"sensors"`},
		{"deselect", http.MethodPut, "/api/v1/targets/sensor/1/selected", `{"selected":false}`, http.StatusOK, `"lights"`},
		{"select unknown", http.MethodPut, "/api/v1/targets/sensor/9/selected", `{"selected":true}`, http.StatusNotFound, "unknown target"},
		{"select bad class", http.MethodPut, "/api/v1/targets/valve/1/selected", `{"selected":true}`, http.StatusBadRequest, "class"},
		{"select bad index", http.MethodPut, "/api/v1/targets/light/x/selected", `{"selected":true}`, http.StatusBadRequest, "index"},
		{"run status", http.MethodGet, "/api/v1/run", "", http.StatusOK, `"state":"idle"`},
		{"runs", http.MethodGet, "/api/v1/runs?limit=10&offset=5", "", http.StatusOK, `"count":1`},
		{"runs bad limit", http.MethodGet, "/api/v1/runs?limit=-1", "", http.StatusBadRequest, "limit"},
		{"get run", http.MethodGet, "/api/v1/runs/run-1", "", http.StatusOK, `"station_id":"bench-01"`},
		{"get missing run", http.MethodGet, "/api/v1/runs/nope", "", http.StatusNotFound, "not found"},
		{"run events", http.MethodGet, "/api/v1/runs/run-1/events", "", http.StatusOK, `"class":"sensor"`},
		{"events of missing run", http.MethodGet, "/api/v1/runs/nope/events", "", http.StatusNotFound, "not found"},
		{"token disabled", http.MethodPost, "/api/v1/auth/token", `{"password":"x"}`, http.StatusNotFound, "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			rec := env.do(t, tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want containing %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRuns_FilterPassedThrough(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodGet, "/api/v1/runs?limit=10&offset=5", "", nil)
	if env.journal.filter.Limit != 10 || env.journal.filter.Offset != 5 {
		t.Errorf("filter = %+v", env.journal.filter)
	}
}

func TestRuns_JournalDisabled(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.journal = nil
	env.handler = env.srv.Handler()

	rec := env.do(t, http.MethodGet, "/api/v1/runs", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/run", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]string](t, rec); got["run_id"] != "run-42" {
		t.Errorf("run_id = %q", got["run_id"])
	}

	rec = env.do(t, http.MethodPost, "/api/v1/run", `{"reload":true}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("second start status = %d", rec.Code)
	}
	if len(env.ctrl.started) != 2 || !env.ctrl.started[1].Reload {
		t.Errorf("started = %+v", env.ctrl.started)
	}

	// The bus cannot be switched under a running run.
	rec = env.do(t, http.MethodPost, "/api/v1/bus/connect", `{"port":"COM4"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("connect during run status = %d, want 409", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/bus/disconnect", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("disconnect during run status = %d, want 409", rec.Code)
	}
}

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(e *testEnv)
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"run active", func(e *testEnv) { e.ctrl.startErr = enroll.ErrRunActive }, http.MethodPost, "/api/v1/run", "", http.StatusConflict},
		{"no targets", func(e *testEnv) { e.ctrl.startErr = enroll.ErrNoTargets }, http.MethodPost, "/api/v1/run", "", http.StatusConflict},
		{"bad start body", func(*testEnv) {}, http.MethodPost, "/api/v1/run", "{", http.StatusBadRequest},
		{"skip idle", func(e *testEnv) { e.ctrl.skipErr = enroll.ErrNoActiveRun }, http.MethodPost, "/api/v1/run/skip", "", http.StatusConflict},
		{"cancel idle", func(e *testEnv) { e.ctrl.skipErr = enroll.ErrNoActiveRun }, http.MethodPost, "/api/v1/run/cancel", "", http.StatusConflict},
		{"skip", func(*testEnv) {}, http.MethodPost, "/api/v1/run/skip", "", http.StatusAccepted},
		{"cancel", func(*testEnv) {}, http.MethodPost, "/api/v1/run/cancel", "", http.StatusAccepted},
		{"open failed", func(e *testEnv) {
			e.bus.err = fmt.Errorf("%w: COM9: no such port", transport.ErrOpenFailed)
		}, http.MethodPost, "/api/v1/bus/connect", `{"port":"COM9"}`, http.StatusBadGateway},
		{"unexpected", func(e *testEnv) { e.ctrl.startErr = errors.New("boom") }, http.MethodPost, "/api/v1/run", "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			tt.setup(env)
			rec := env.do(t, tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var apiErr Error
			if tt.wantStatus >= 400 {
				if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil || apiErr.Status != tt.wantStatus {
					t.Errorf("error body = %s", rec.Body.String())
				}
			}
		})
	}
}

func TestAuth_TokenFlow(t *testing.T) {
	env := newTestEnv(t, testSecret)

	// Health stays open.
	if rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/targets", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("targets without token = %d, want 401", rec.Code)
	}

	bad := env.do(t, http.MethodPost, "/api/v1/auth/token", `{"operator":"bench","password":"wrong"}`, nil)
	if bad.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", bad.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/auth/token", `{"operator":"bench","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", rec.Code, rec.Body.String())
	}
	tok := decode[tokenResponse](t, rec)
	if tok.TokenType != "Bearer" || tok.ExpiresIn != 15*60 || tok.AccessToken == "" {
		t.Fatalf("token = %+v", tok)
	}

	tests := []struct {
		name   string
		header http.Header
		path   string
		want   int
	}{
		{"bearer header", http.Header{"Authorization": {"Bearer " + tok.AccessToken}}, "/api/v1/targets", http.StatusOK},
		{"lowercase scheme", http.Header{"Authorization": {"bearer " + tok.AccessToken}}, "/api/v1/targets", http.StatusOK},
		{"query token", nil, "/api/v1/targets?token=" + tok.AccessToken, http.StatusOK},
		{"basic scheme", http.Header{"Authorization": {"Basic abc"}}, "/api/v1/targets", http.StatusUnauthorized},
		{"garbage", http.Header{"Authorization": {"Bearer not-a-jwt"}}, "/api/v1/targets", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodGet, tt.path, "", tt.header); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	env := newTestEnv(t, testSecret)

	expired, err := env.srv.issueToken("bench", -time.Minute)
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}
	if _, err := env.srv.validateToken(expired); err == nil {
		t.Error("expired token accepted")
	}

	other := newTestEnv(t, "another-secret-that-is-32-characters!!")
	foreign, err := other.srv.issueToken("bench", time.Minute)
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}
	if _, err := env.srv.validateToken(foreign); err == nil {
		t.Error("token signed with another secret accepted")
	}

	good, err := env.srv.issueToken("bench", time.Minute)
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}
	sub, err := env.srv.validateToken(good)
	if err != nil || sub != "bench" {
		t.Errorf("validateToken() = %q, %v", sub, err)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://bench.local"}
	env.handler = env.srv.Handler()

	rec := env.do(t, http.MethodOptions, "/api/v1/targets", "", http.Header{"Origin": {"http://bench.local"}})
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://bench.local" {
		t.Errorf("allow origin = %q", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/health", "", http.Header{"Origin": {"http://evil.example"}})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestStartClose(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
