package simulator

import "errors"

var (
	// ErrClosed is returned by Port operations after Close.
	ErrClosed = errors.New("simulator: port closed")

	// ErrInjectedIO is returned by Port operations armed with FailNextIO.
	ErrInjectedIO = errors.New("simulator: injected I/O failure")

	// ErrNoSuchPort is returned when opening a port the bus does not know.
	ErrNoSuchPort = errors.New("simulator: no such port")
)
