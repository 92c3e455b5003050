package simulator

import (
	"sync"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/rtu"
)

// Register map shared by both device classes.
const (
	RegDeviceType    uint16 = 1
	RegPresence      uint16 = 2
	RegIdentifier    uint16 = 3
	RegTimeoutMode   uint16 = 3
	RegNewAddress    uint16 = 4
	RegReboot        uint16 = 17
	RegStatusFlags   uint16 = 255
	RebootCommand    uint16 = 42330
	LightSecurityKey uint16 = 0x8F8F
	LightBaud        uint16 = 9600
	FactoryAddress   byte   = 1
)

// Kind is the device class.
type Kind int

const (
	KindSensor Kind = iota + 1
	KindLight
)

func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindLight:
		return "light"
	default:
		return "unknown"
	}
}

// SensorOptions configures a simulated gas sensor.
type SensorOptions struct {
	// Identifier is the factory serial number.
	Identifier uint32

	// IdentifierWords is 1 or 2. With 2 the identifier spans registers
	// 3 (high word) and 4 (low word).
	IdentifierWords int

	// IdentifierMisses is the number of identifier reads that return 0
	// before the real value shows up.
	IdentifierMisses int

	// StatusFlags is the initial value of register 255.
	StatusFlags uint16
}

// Device is one simulated field device.
type Device struct {
	mu sync.Mutex

	kind    Kind
	address byte
	regs    map[uint16]uint16

	identifierWords  int
	identifierMisses int

	pending     byte
	rebooting   bool
	nextAddress byte
	silentUntil time.Time
	appearAt    time.Time

	readCounts map[uint16]int
}

// NewSensor returns a sensor at the factory address.
func NewSensor(opts SensorOptions) *Device {
	d := &Device{
		kind:             KindSensor,
		address:          FactoryAddress,
		identifierWords:  opts.IdentifierWords,
		identifierMisses: opts.IdentifierMisses,
		readCounts:       make(map[uint16]int),
		regs: map[uint16]uint16{
			RegDeviceType:  uint16(KindSensor),
			RegPresence:    1,
			RegStatusFlags: opts.StatusFlags,
		},
	}
	if d.identifierWords == 2 {
		d.regs[RegIdentifier] = uint16(opts.Identifier >> 16)
		d.regs[RegIdentifier+1] = uint16(opts.Identifier) //nolint:gosec // low word
	} else {
		d.identifierWords = 1
		d.regs[RegIdentifier] = uint16(opts.Identifier) //nolint:gosec // single-word devices carry 16 bits
	}
	return d
}

// NewLight returns an indicator light at the factory address.
func NewLight() *Device {
	return &Device{
		kind:       KindLight,
		address:    FactoryAddress,
		readCounts: make(map[uint16]int),
		regs: map[uint16]uint16{
			RegDeviceType:  uint16(KindLight),
			RegPresence:    1,
			RegTimeoutMode: 0,
			4:              0,
			5:              uint16(FactoryAddress),
			6:              LightBaud,
			7:              0,
		},
	}
}

// Kind returns the device class.
func (d *Device) Kind() Kind {
	return d.kind
}

// Address returns the address the device currently answers at, or will
// answer at once a reboot completes.
func (d *Device) Address() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rebooting {
		return d.nextAddress
	}
	return d.address
}

// Register returns the raw value of reg.
func (d *Device) Register(reg uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[reg]
}

// Reads returns how many reads covered reg.
func (d *Device) Reads(reg uint16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readCounts[reg]
}

// occupies reports whether the device holds addr now or after its reboot.
func (d *Device) occupies(addr byte, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle(now)
	if d.rebooting {
		return d.nextAddress == addr || d.address == addr
	}
	return d.address == addr
}

// answers reports whether the device replies to unit at now.
func (d *Device) answers(unit byte, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle(now)
	if now.Before(d.appearAt) || d.rebooting {
		return false
	}
	return d.address == unit
}

// settle completes a reboot whose silence has elapsed.
func (d *Device) settle(now time.Time) {
	if d.rebooting && !now.Before(d.silentUntil) {
		d.address = d.nextAddress
		d.rebooting = false
	}
}

// apply executes req and returns the reply frame.
func (d *Device) apply(req rtu.Request, now time.Time, rebootSilence time.Duration) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Function {
	case rtu.FuncReadHoldingRegisters:
		return d.read(req)
	case rtu.FuncWriteSingleRegister:
		return d.writeSingle(req, now, rebootSilence)
	case rtu.FuncWriteMultipleRegisters:
		return d.writeMultiple(req)
	default:
		return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalFunction)
	}
}

func (d *Device) read(req rtu.Request) []byte {
	values := make([]uint16, req.Quantity)
	for i := range values {
		reg := req.Address + uint16(i) //nolint:gosec // bounded by MaxReadQuantity
		v, ok := d.regs[reg]
		if !ok {
			return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalDataAddress)
		}
		values[i] = v
		d.readCounts[reg]++
	}

	if d.kind == KindSensor && req.Address == RegIdentifier && d.identifierMisses > 0 {
		d.identifierMisses--
		clear(values)
	}
	return rtu.EncodeReadResponse(req.Unit, values)
}

func (d *Device) writeSingle(req rtu.Request, now time.Time, rebootSilence time.Duration) []byte {
	value := req.Values[0]
	reply := rtu.EncodeWriteSingleResponse(req.Unit, req.Address, value)

	switch {
	case d.kind == KindSensor && req.Address == RegNewAddress:
		if value < uint16(rtu.MinUnit) || value > uint16(rtu.MaxUnit) {
			return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalDataValue)
		}
		d.pending = byte(value)
	case d.kind == KindSensor && req.Address == RegReboot:
		if value != RebootCommand {
			return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalDataValue)
		}
		d.nextAddress = d.address
		if d.pending != 0 {
			d.nextAddress = d.pending
			d.pending = 0
		}
		d.rebooting = true
		d.silentUntil = now.Add(rebootSilence)
	case d.kind == KindLight && req.Address == RegTimeoutMode:
		d.regs[RegTimeoutMode] = value
	default:
		if _, ok := d.regs[req.Address]; !ok || req.Address == RegDeviceType || req.Address == RegPresence {
			return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalDataAddress)
		}
		d.regs[req.Address] = value
	}
	return reply
}

func (d *Device) writeMultiple(req rtu.Request) []byte {
	if d.kind != KindLight || req.Address != RegNewAddress || len(req.Values) != 4 {
		return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalDataAddress)
	}

	mode, addr, baud, key := req.Values[0], req.Values[1], req.Values[2], req.Values[3]
	if key != LightSecurityKey || baud != LightBaud || addr < uint16(rtu.MinUnit) || addr > uint16(rtu.MaxUnit) {
		return rtu.EncodeException(req.Unit, req.Function, rtu.ExceptionIllegalDataValue)
	}

	d.regs[4] = mode
	d.regs[5] = addr
	d.regs[6] = baud
	d.regs[7] = key
	d.address = byte(addr)
	return rtu.EncodeWriteMultipleResponse(req.Unit, req.Address, req.Quantity)
}
