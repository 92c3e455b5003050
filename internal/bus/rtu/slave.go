package rtu

import (
	"encoding/binary"
	"fmt"
)

// writeMultipleHeaderSize is unit + function + address + quantity + byte count.
const writeMultipleHeaderSize = 7

// DecodeRequest parses a request frame as a slave device receives it.
// The returned error is ErrCRCMismatch for corrupted frames, which a real
// device would silently drop.
func DecodeRequest(frame []byte) (Request, error) {
	if len(frame) < writeEchoFrameSize {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	if !checkCRC(frame) {
		return Request{}, ErrCRCMismatch
	}

	req := Request{
		Unit:     frame[0],
		Function: frame[1],
		Address:  binary.BigEndian.Uint16(frame[2:4]),
	}

	switch req.Function {
	case FuncReadHoldingRegisters:
		if len(frame) != writeEchoFrameSize {
			return Request{}, fmt.Errorf("%w: read request of %d bytes", ErrMalformedFrame, len(frame))
		}
		req.Quantity = binary.BigEndian.Uint16(frame[4:6])
	case FuncWriteSingleRegister:
		if len(frame) != writeEchoFrameSize {
			return Request{}, fmt.Errorf("%w: write request of %d bytes", ErrMalformedFrame, len(frame))
		}
		req.Quantity = 1
		req.Values = []uint16{binary.BigEndian.Uint16(frame[4:6])}
	case FuncWriteMultipleRegisters:
		if len(frame) < writeMultipleHeaderSize+crcSize {
			return Request{}, fmt.Errorf("%w: write request of %d bytes", ErrMalformedFrame, len(frame))
		}
		req.Quantity = binary.BigEndian.Uint16(frame[4:6])
		byteCount := int(frame[6])
		if byteCount != 2*int(req.Quantity) || len(frame) != writeMultipleHeaderSize+byteCount+crcSize {
			return Request{}, fmt.Errorf("%w: byte count %d for %d registers", ErrMalformedFrame, byteCount, req.Quantity)
		}
		req.Values = make([]uint16, req.Quantity)
		for i := range req.Values {
			off := writeMultipleHeaderSize + 2*i
			req.Values[i] = binary.BigEndian.Uint16(frame[off : off+2])
		}
	default:
		return req, fmt.Errorf("%w: 0x%02X", ErrUnsupportedFunction, req.Function)
	}

	return req, nil
}

// EncodeReadResponse builds an FC03 reply.
func EncodeReadResponse(unit byte, values []uint16) []byte {
	frame := make([]byte, 0, readHeaderSize+2*len(values)+crcSize)
	frame = append(frame, unit, FuncReadHoldingRegisters, byte(2*len(values))) //nolint:gosec // bounded by MaxReadQuantity
	for _, v := range values {
		frame = binary.BigEndian.AppendUint16(frame, v)
	}
	return appendCRC(frame)
}

// EncodeWriteSingleResponse builds the FC06 echo reply.
func EncodeWriteSingleResponse(unit byte, address, value uint16) []byte {
	return encodeEcho(unit, FuncWriteSingleRegister, address, value)
}

// EncodeWriteMultipleResponse builds the FC16 reply.
func EncodeWriteMultipleResponse(unit byte, address, quantity uint16) []byte {
	return encodeEcho(unit, FuncWriteMultipleRegisters, address, quantity)
}

// EncodeException builds an exception reply for function fn.
func EncodeException(unit, fn, code byte) []byte {
	return appendCRC([]byte{unit, fn | exceptionFlag, code})
}

func encodeEcho(unit, fn byte, address, second uint16) []byte {
	frame := make([]byte, 0, writeEchoFrameSize)
	frame = append(frame, unit, fn)
	frame = binary.BigEndian.AppendUint16(frame, address)
	frame = binary.BigEndian.AppendUint16(frame, second)
	return appendCRC(frame)
}
