// Package rtu implements the small subset of Modbus RTU framing used to
// enroll field devices on the shared serial bus.
//
// Only three function codes are supported:
//   - 0x03 Read Holding Registers
//   - 0x06 Write Single Register
//   - 0x10 Write Multiple Registers
//
// Frames are binary: unit address, function code, payload and a CRC16
// (polynomial 0xA001, initial value 0xFFFF) transmitted low byte first.
//
// # Master side
//
// A Request describes one register transaction. Encode produces the wire
// frame, ExpectedLength tells the transport how many bytes to wait for, and
// ParseResponse validates the reply:
//
//	req := rtu.ReadHoldingRegisters(1, 2, 1)
//	frame, _ := req.Encode()
//	// write frame, read until len(buf) >= req.ExpectedLength(buf)
//	values, err := req.ParseResponse(buf)
//
// # Slave side
//
// DecodeRequest and the Encode*Response helpers build device replies. They
// are used by the bus simulator.
package rtu
