package transport

import (
	"fmt"
	"io"
	"sort"
	"time"

	"go.bug.st/serial"
)

// BaudRate is the fixed line speed of the field bus.
const BaudRate = 9600

// Port is the byte stream the Manager drives. A read that times out must
// return 0 bytes and a nil error, the way serial ports do.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// OpenFunc opens the named port.
type OpenFunc func(name string) (Port, error)

// SerialOpener opens a host serial port at 9600 baud, 8 data bits, no
// parity, one stop bit, and asserts DTR and RTS.
func SerialOpener(name string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	// Adapters without modem lines reject these; the bus works without them.
	_ = p.SetDTR(true) //nolint:errcheck // optional modem line
	_ = p.SetRTS(true) //nolint:errcheck // optional modem line

	return p, nil
}

// ListPorts returns the serial ports present on the host, sorted by name.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
