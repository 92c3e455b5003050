package rtu

import (
	"encoding/binary"
	"fmt"
)

// Function codes.
const (
	FuncReadHoldingRegisters   byte = 0x03
	FuncWriteSingleRegister    byte = 0x06
	FuncWriteMultipleRegisters byte = 0x10
)

// Frame and protocol limits.
const (
	// MinUnit and MaxUnit bound the addressable slave units. Unit 0 is the
	// broadcast address and is never used for enrollment.
	MinUnit byte = 1
	MaxUnit byte = 247

	// MaxReadQuantity is the largest register count for FC03.
	MaxReadQuantity = 125

	// MaxWriteQuantity is the largest register count for FC16.
	MaxWriteQuantity = 123

	exceptionFlag byte = 0x80

	crcSize = 2

	// exceptionFrameSize is unit + function + code + crc.
	exceptionFrameSize = 5

	// writeEchoFrameSize is unit + function + address + value/quantity + crc.
	writeEchoFrameSize = 8

	// readHeaderSize is unit + function + byte count.
	readHeaderSize = 3
)

// Request is one register transaction issued by the bus master.
type Request struct {
	Unit     byte
	Function byte
	Address  uint16
	Quantity uint16
	Values   []uint16
}

// ReadHoldingRegisters builds an FC03 request.
func ReadHoldingRegisters(unit byte, address, quantity uint16) Request {
	return Request{
		Unit:     unit,
		Function: FuncReadHoldingRegisters,
		Address:  address,
		Quantity: quantity,
	}
}

// WriteSingleRegister builds an FC06 request.
func WriteSingleRegister(unit byte, address, value uint16) Request {
	return Request{
		Unit:     unit,
		Function: FuncWriteSingleRegister,
		Address:  address,
		Quantity: 1,
		Values:   []uint16{value},
	}
}

// WriteMultipleRegisters builds an FC16 request.
func WriteMultipleRegisters(unit byte, address uint16, values []uint16) Request {
	v := make([]uint16, len(values))
	copy(v, values)
	return Request{
		Unit:     unit,
		Function: FuncWriteMultipleRegisters,
		Address:  address,
		Quantity: uint16(len(values)), //nolint:gosec // bounded by MaxWriteQuantity in Validate
		Values:   v,
	}
}

// Validate checks unit range, function code and quantities.
func (r Request) Validate() error {
	if r.Unit < MinUnit || r.Unit > MaxUnit {
		return fmt.Errorf("%w: unit %d outside %d..%d", ErrInvalidRequest, r.Unit, MinUnit, MaxUnit)
	}

	switch r.Function {
	case FuncReadHoldingRegisters:
		if r.Quantity == 0 || r.Quantity > MaxReadQuantity {
			return fmt.Errorf("%w: read quantity %d", ErrInvalidRequest, r.Quantity)
		}
	case FuncWriteSingleRegister:
		if len(r.Values) != 1 {
			return fmt.Errorf("%w: single write needs exactly one value", ErrInvalidRequest)
		}
	case FuncWriteMultipleRegisters:
		if len(r.Values) == 0 || len(r.Values) > MaxWriteQuantity {
			return fmt.Errorf("%w: write quantity %d", ErrInvalidRequest, len(r.Values))
		}
		if int(r.Quantity) != len(r.Values) {
			return fmt.Errorf("%w: quantity %d does not match %d values", ErrInvalidRequest, r.Quantity, len(r.Values))
		}
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnsupportedFunction, r.Function)
	}

	return nil
}

// Encode returns the wire frame for the request including its CRC.
func (r Request) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 9+2*len(r.Values)) //nolint:mnd // largest header plus payload
	frame = append(frame, r.Unit, r.Function)
	frame = binary.BigEndian.AppendUint16(frame, r.Address)

	switch r.Function {
	case FuncReadHoldingRegisters:
		frame = binary.BigEndian.AppendUint16(frame, r.Quantity)
	case FuncWriteSingleRegister:
		frame = binary.BigEndian.AppendUint16(frame, r.Values[0])
	case FuncWriteMultipleRegisters:
		frame = binary.BigEndian.AppendUint16(frame, r.Quantity)
		frame = append(frame, byte(2*len(r.Values))) //nolint:gosec // bounded by MaxWriteQuantity
		for _, v := range r.Values {
			frame = binary.BigEndian.AppendUint16(frame, v)
		}
	}

	return appendCRC(frame), nil
}

// ExpectedLength returns the total reply length the transport should wait
// for, given the bytes received so far. An exception reply is recognised as
// soon as the function byte has arrived.
func (r Request) ExpectedLength(partial []byte) int {
	if len(partial) >= 2 && partial[1]&exceptionFlag != 0 {
		return exceptionFrameSize
	}

	switch r.Function {
	case FuncReadHoldingRegisters:
		return readHeaderSize + 2*int(r.Quantity) + crcSize
	default:
		return writeEchoFrameSize
	}
}

// ParseResponse validates a complete reply frame and returns the register
// values for reads. Write replies return nil values once the echo matches.
func (r Request) ParseResponse(frame []byte) ([]uint16, error) {
	if len(frame) < exceptionFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	if !checkCRC(frame) {
		return nil, ErrCRCMismatch
	}
	if frame[0] != r.Unit {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedUnit, frame[0], r.Unit)
	}

	fn := frame[1]
	if fn == r.Function|exceptionFlag {
		if len(frame) != exceptionFrameSize {
			return nil, fmt.Errorf("%w: exception reply of %d bytes", ErrMalformedFrame, len(frame))
		}
		return nil, &ExceptionError{Function: r.Function, Code: frame[2]}
	}
	if fn != r.Function {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrUnexpectedFunction, fn, r.Function)
	}

	switch r.Function {
	case FuncReadHoldingRegisters:
		return r.parseReadReply(frame)
	case FuncWriteSingleRegister:
		return nil, r.checkEcho(frame, r.Values[0])
	case FuncWriteMultipleRegisters:
		return nil, r.checkEcho(frame, r.Quantity)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedFunction, r.Function)
	}
}

func (r Request) parseReadReply(frame []byte) ([]uint16, error) {
	byteCount := int(frame[2])
	if byteCount != 2*int(r.Quantity) || len(frame) != readHeaderSize+byteCount+crcSize {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrMalformedFrame, byteCount, r.Quantity)
	}

	values := make([]uint16, r.Quantity)
	for i := range values {
		off := readHeaderSize + 2*i
		values[i] = binary.BigEndian.Uint16(frame[off : off+2])
	}
	return values, nil
}

func (r Request) checkEcho(frame []byte, second uint16) error {
	if len(frame) != writeEchoFrameSize {
		return fmt.Errorf("%w: write reply of %d bytes", ErrMalformedFrame, len(frame))
	}
	addr := binary.BigEndian.Uint16(frame[2:4])
	val := binary.BigEndian.Uint16(frame[4:6])
	if addr != r.Address || val != second {
		return fmt.Errorf("%w: got %d/%d, want %d/%d", ErrEchoMismatch, addr, val, r.Address, second)
	}
	return nil
}

// String renders the request for logs.
func (r Request) String() string {
	switch r.Function {
	case FuncReadHoldingRegisters:
		return fmt.Sprintf("read unit=%d reg=%d count=%d", r.Unit, r.Address, r.Quantity)
	case FuncWriteSingleRegister:
		if len(r.Values) == 1 {
			return fmt.Sprintf("write unit=%d reg=%d value=%d", r.Unit, r.Address, r.Values[0])
		}
	case FuncWriteMultipleRegisters:
		return fmt.Sprintf("write unit=%d reg=%d values=%v", r.Unit, r.Address, r.Values)
	}
	return fmt.Sprintf("unit=%d fn=0x%02X reg=%d", r.Unit, r.Function, r.Address)
}
