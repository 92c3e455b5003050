package rtu

import (
	"errors"
	"fmt"
)

// Domain errors for RTU framing.
var (
	// ErrMalformedFrame is returned when a frame is too short or its length
	// does not match the function code.
	ErrMalformedFrame = errors.New("rtu: malformed frame")

	// ErrCRCMismatch is returned when the frame checksum does not match.
	// On a shared bus this usually means two devices answered at once.
	ErrCRCMismatch = errors.New("rtu: crc mismatch")

	// ErrUnexpectedUnit is returned when a reply comes from another unit.
	ErrUnexpectedUnit = errors.New("rtu: unexpected unit address")

	// ErrUnexpectedFunction is returned when a reply carries another function code.
	ErrUnexpectedFunction = errors.New("rtu: unexpected function code")

	// ErrEchoMismatch is returned when a write reply does not echo the request.
	ErrEchoMismatch = errors.New("rtu: write echo mismatch")

	// ErrUnsupportedFunction is returned for function codes outside 0x03/0x06/0x10.
	ErrUnsupportedFunction = errors.New("rtu: unsupported function code")

	// ErrInvalidRequest is returned when a request fails validation.
	ErrInvalidRequest = errors.New("rtu: invalid request")
)

// Modbus exception codes.
const (
	ExceptionIllegalFunction     byte = 0x01
	ExceptionIllegalDataAddress  byte = 0x02
	ExceptionIllegalDataValue    byte = 0x03
	ExceptionServerDeviceFailure byte = 0x04
	ExceptionServerDeviceBusy    byte = 0x06
)

// ExceptionError is a Modbus exception reply. The device received the
// request and refused it, so retrying is pointless.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("rtu: exception 0x%02X (%s) for function 0x%02X", e.Code, exceptionText(e.Code), e.Function)
}

func exceptionText(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	default:
		return "unknown"
	}
}
