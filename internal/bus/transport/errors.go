package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned when an operation needs a connected bus.
	// It is fatal to an enrollment session.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrOpenFailed is returned when the serial port cannot be opened.
	ErrOpenFailed = errors.New("transport: failed to open port")

	// ErrPortClosed is returned while the port is marked closed after an
	// I/O failure. The watchdog reopens it in the background.
	ErrPortClosed = errors.New("transport: port closed")

	// ErrTimeout is returned when no complete reply arrives in time.
	ErrTimeout = errors.New("transport: timeout")
)
