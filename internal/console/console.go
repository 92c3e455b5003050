// Package console provides the interactive operator console of the
// enrollment station.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/journal"
)

// Controller is the enrollment surface the console drives.
type Controller interface {
	Load(ctx context.Context) error
	Targets() ([]enroll.SensorTarget, []enroll.LightTarget)
	SetSelected(class enroll.Class, index int, selected bool) error
	Start(ctx context.Context, opts enroll.StartOptions) (string, error)
	Skip() error
	Cancel() error
	Status() enroll.RunStatus
}

// Bus is the transport surface the console drives.
type Bus interface {
	Connect(ctx context.Context, port string) error
	Disconnect() error
	Health() transport.Health
}

// Deps holds what the console operates on. Journal and ListPorts are optional.
type Deps struct {
	Controller Controller
	Bus        Bus
	Journal    journal.Repository
	ListPorts  func() ([]string, error)
}

// Console handles the interactive command loop.
type Console struct {
	ctrl      Controller
	bus       Bus
	journal   journal.Repository
	listPorts func() ([]string, error)
	rl        *readline.Instance

	mu  sync.Mutex
	out io.Writer
}

// New creates a console reading from the terminal.
func New(deps Deps) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "aufbau> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(deps, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(deps Deps, out io.Writer) *Console {
	listPorts := deps.ListPorts
	if listPorts == nil {
		listPorts = transport.ListPorts
	}
	return &Console{
		ctrl:      deps.Controller,
		bus:       deps.Bus,
		journal:   deps.Journal,
		listPorts: listPorts,
		out:       out,
	}
}

func completer() *readline.PrefixCompleter {
	classes := func() []readline.PrefixCompleterInterface {
		return []readline.PrefixCompleterInterface{readline.PcItem("sensor"), readline.PcItem("light")}
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("ports"),
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("load"),
		readline.PcItem("targets"),
		readline.PcItem("select", classes()...),
		readline.PcItem("deselect", classes()...),
		readline.PcItem("start", readline.PcItem("reload")),
		readline.PcItem("skip"),
		readline.PcItem("stop"),
		readline.PcItem("status"),
		readline.PcItem("runs"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that keeps log output above the prompt.
func (c *Console) Stdout() io.Writer {
	if c.rl != nil {
		return c.rl.Stdout()
	}
	return c.out
}

// Run starts the interactive command loop. It calls cancel when the
// operator quits or closes input.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	var once sync.Once
	closeRL := func() { once.Do(func() { c.rl.Close() }) } //nolint:errcheck // terminal teardown
	defer closeRL()

	// Unblocks Readline when the process shuts down.
	go func() {
		<-ctx.Done()
		closeRL()
	}()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			c.println("Exiting...")
			cancel()
			return
		}

		if quit := c.Exec(ctx, line); quit {
			c.println("Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the operator asked to quit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "ports":
		c.cmdPorts()
	case "connect":
		c.cmdConnect(ctx, args)
	case "disconnect":
		c.cmdDisconnect()
	case "load":
		c.cmdLoad(ctx)
	case "targets", "t":
		c.cmdTargets()
	case "select":
		c.cmdSelect(args, true)
	case "deselect":
		c.cmdSelect(args, false)
	case "start":
		c.cmdStart(ctx, args)
	case "skip", "s":
		c.report(c.ctrl.Skip(), "Skip requested")
	case "stop", "cancel":
		c.report(c.ctrl.Cancel(), "Cancel requested")
	case "status":
		c.cmdStatus()
	case "runs":
		c.cmdRuns(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	c.println(`
Enrollment Commands:
  Bus:
    ports                      - List serial ports
    connect <port>             - Open the bus on a port
    disconnect                 - Close the bus

  Targets:
    load                       - Read targets from the workbook
    targets                    - Show targets and their status
    select <sensor|light> <n|all>
    deselect <sensor|light> <n|all>

  Run:
    start [reload]             - Start enrolling selected targets
    skip                       - Skip the current device
    stop                       - Cancel the run (nothing is persisted)
    status                     - Show the run summary
    runs [n]                   - Show the last n journaled runs

  General:
    help                       - Show this help
    quit                       - Exit`)
}

func (c *Console) println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

func (c *Console) printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

func (c *Console) report(err error, okMsg string) {
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.println(okMsg)
}

func (c *Console) cmdPorts() {
	ports, err := c.listPorts()
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if len(ports) == 0 {
		c.println("No serial ports found")
		return
	}
	for _, p := range ports {
		c.printf("  %s\n", p)
	}
}

func (c *Console) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 1 {
		c.println("Usage: connect <port>")
		return
	}
	if c.ctrl.Status().State == enroll.RunRunning {
		c.printf("Error: %v\n", enroll.ErrRunActive)
		return
	}
	c.report(c.bus.Connect(ctx, args[0]), "Connected to "+args[0])
}

func (c *Console) cmdDisconnect() {
	if c.ctrl.Status().State == enroll.RunRunning {
		c.printf("Error: %v\n", enroll.ErrRunActive)
		return
	}
	c.report(c.bus.Disconnect(), "Disconnected")
}

func (c *Console) cmdLoad(ctx context.Context) {
	if err := c.ctrl.Load(ctx); err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	sensors, lights := c.ctrl.Targets()
	c.printf("Loaded %d sensors, %d lights\n", len(sensors), len(lights))
}

func (c *Console) cmdTargets() {
	sensors, lights := c.ctrl.Targets()
	if len(sensors)+len(lights) == 0 {
		c.println("No targets loaded (use 'load')")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\nSensors (%d):\n", len(sensors))
	fmt.Fprintf(c.out, "  %-4s %-4s %-5s %-3s %-12s %-8s %-10s %s\n", "#", "Row", "Addr", "Sel", "Model", "Buzzer", "Status", "Note")
	for _, t := range sensors {
		note := t.Note
		if t.Identifier > 0 {
			note = strings.TrimSpace(fmt.Sprintf("id=%d %s", t.Identifier, note))
		}
		fmt.Fprintf(c.out, "  %-4d %-4d %-5d %-3s %-12s %-8s %-10s %s\n",
			t.Index, t.Row, t.Address, mark(t.Selected), t.Model, string(t.Buzzer), t.Status, note)
	}
	fmt.Fprintf(c.out, "\nLights (%d):\n", len(lights))
	fmt.Fprintf(c.out, "  %-4s %-4s %-5s %-3s %-12s %-8s %-10s %s\n", "#", "Row", "Addr", "Sel", "Model", "Timeout", "Status", "Note")
	for _, t := range lights {
		fmt.Fprintf(c.out, "  %-4d %-4d %-5d %-3s %-12s %-8d %-10s %s\n",
			t.Index, t.Row, t.Address, mark(t.Selected), t.Model, t.TimeoutMode, t.Status, t.Note)
	}
}

func mark(b bool) string {
	if b {
		return "x"
	}
	return "-"
}

// cmdSelect handles select and deselect. "all" maps to index 0.
func (c *Console) cmdSelect(args []string, selected bool) {
	if len(args) != 2 {
		c.println("Usage: select|deselect <sensor|light> <n|all>")
		return
	}
	class := enroll.Class(strings.ToLower(args[0]))
	if class != enroll.ClassSensor && class != enroll.ClassLight {
		c.printf("Unknown class: %s\n", args[0])
		return
	}
	index := 0
	if !strings.EqualFold(args[1], "all") {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			c.printf("Invalid index: %s\n", args[1])
			return
		}
		index = n
	}
	c.report(c.ctrl.SetSelected(class, index, selected), "OK")
}

func (c *Console) cmdStart(ctx context.Context, args []string) {
	opts := enroll.StartOptions{Reload: len(args) > 0 && strings.EqualFold(args[0], "reload")}
	runID, err := c.ctrl.Start(ctx, opts)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Run %s started\n", runID)
}

func (c *Console) cmdStatus() {
	st := c.ctrl.Status()
	h := c.bus.Health()

	c.mu.Lock()
	defer c.mu.Unlock()
	busState := "disconnected"
	if h.Connected {
		busState = "connected " + h.Port
	}
	fmt.Fprintf(c.out, "Bus:   %s (tx %d, timeouts %d, crc %d)\n", busState, h.Stats.Transactions, h.Stats.Timeouts, h.Stats.CRCErrors)
	if h.LastError != "" {
		fmt.Fprintf(c.out, "       last error: %s\n", h.LastError)
	}
	fmt.Fprintf(c.out, "Run:   %s %s\n", st.State, st.RunID)
	fmt.Fprintf(c.out, "Items: %d total, %d ok, %d fail, %d skipped, %d pending\n",
		st.Counts.Total, st.Counts.OK, st.Counts.Fail, st.Counts.Skipped, st.Counts.Pending)
	if st.Current != nil && st.State == enroll.RunRunning {
		fmt.Fprintf(c.out, "Now:   %s %d -> %d (%s)\n", st.Current.Class, st.Current.Index, st.Current.Address, st.Current.Phase)
	}
	if st.State != enroll.RunRunning && st.State != enroll.RunIdle {
		fmt.Fprintf(c.out, "Saved: %v\n", st.Persisted)
	}
	if st.Error != "" {
		fmt.Fprintf(c.out, "Error: %s\n", st.Error)
	}
}

func (c *Console) cmdRuns(ctx context.Context, args []string) {
	if c.journal == nil {
		c.println("Run journal is disabled")
		return
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			c.printf("Invalid count: %s\n", args[0])
			return
		}
		limit = n
	}

	runs, err := c.journal.ListRuns(ctx, journal.Filter{Limit: limit})
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if len(runs) == 0 {
		c.println("No runs journaled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range runs {
		fmt.Fprintf(c.out, "  %s  %-36s %-9s ok=%d fail=%d skip=%d saved=%v\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.ID, r.State, r.OK, r.Fail, r.Skipped, r.Persisted)
	}
}

// HandleEvent prints progress. It is an enroll.Dispatcher subscriber.
func (c *Console) HandleEvent(ev enroll.ProgressEvent) {
	switch {
	case ev.Final():
		line := fmt.Sprintf("[%s %d] row %d -> %d: %s", ev.Class, ev.Index, ev.Row, ev.Address, strings.ToUpper(string(ev.Status)))
		if ev.Identifier > 0 {
			line += fmt.Sprintf(" id=%d", ev.Identifier)
		}
		if ev.Note != "" {
			line += " (" + ev.Note + ")"
		}
		if ev.ElapsedMS > 0 {
			line += " " + (time.Duration(ev.ElapsedMS) * time.Millisecond).String()
		}
		c.println(line)
	case ev.Phase == enroll.PhaseWaitingForDefault:
		c.printf("[%s %d] connect the next device (target address %d)\n", ev.Class, ev.Index, ev.Address)
	}
}

// HandleRun prints run start and end. It is an enroll.Controller run
// observer.
func (c *Console) HandleRun(st enroll.RunStatus) {
	switch st.State {
	case enroll.RunRunning:
		c.printf("Run %s started: %d items\n", st.RunID, st.Counts.Total)
	default:
		c.printf("Run %s %s: %d ok, %d fail, %d skipped, saved=%v\n",
			st.RunID, st.State, st.Counts.OK, st.Counts.Fail, st.Counts.Skipped, st.Persisted)
		if st.Error != "" {
			c.printf("  error: %s\n", st.Error)
		}
	}
}
