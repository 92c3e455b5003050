package enroll

import "time"

// Device registers.
const (
	RegDeviceType    uint16 = 1
	RegPresence      uint16 = 2
	RegIdentifier    uint16 = 3
	RegTimeoutMode   uint16 = 3
	RegNewAddress    uint16 = 4
	RegLightBlock    uint16 = 4
	RegReboot        uint16 = 17
	RegStatusFlags   uint16 = 255
	RebootCommand    uint16 = 42330
	LightBaud        uint16 = 9600
	LightSecurityKey uint16 = 0x8F8F

	// buzzerBit is the buzzer flag in RegStatusFlags.
	buzzerBit uint16 = 1 << 9
)

// ProbeConfig selects where presence is probed.
type ProbeConfig struct {
	// DefaultAddress is the factory address every new device boots at.
	DefaultAddress byte

	// PresenceRegister is read first by CheckAlive.
	PresenceRegister uint16

	// TypeRegister is the fallback read; a value > 0 counts as alive.
	TypeRegister uint16
}

// DefaultProbeConfig returns the factory register layout.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		DefaultAddress:   1,
		PresenceRegister: RegPresence,
		TypeRegister:     RegDeviceType,
	}
}

// SensorConfig holds the sensor workflow timing.
type SensorConfig struct {
	PollInterval    time.Duration
	StableWindow    time.Duration
	PresenceTimeout time.Duration

	IdentifierTimeout           time.Duration
	IdentifierAttempts          int
	IdentifierTimeoutAfterMove  time.Duration
	IdentifierAttemptsAfterMove int

	// IdentifierWords is 1 or 2 registers starting at RegIdentifier,
	// high word first.
	IdentifierWords int

	FrameGap     time.Duration
	RebootSettle time.Duration
	GoneTimeout  time.Duration
	AliveTimeout time.Duration
}

// DefaultSensorConfig returns the field-tuned sensor timing.
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		PollInterval:                60 * time.Millisecond,
		StableWindow:                180 * time.Millisecond,
		PresenceTimeout:             140 * time.Millisecond,
		IdentifierTimeout:           170 * time.Millisecond,
		IdentifierAttempts:          6,
		IdentifierTimeoutAfterMove:  260 * time.Millisecond,
		IdentifierAttemptsAfterMove: 8,
		IdentifierWords:             1,
		FrameGap:                    110 * time.Millisecond,
		RebootSettle:                450 * time.Millisecond,
		GoneTimeout:                 1800 * time.Millisecond,
		AliveTimeout:                1400 * time.Millisecond,
	}
}

// LightConfig holds the light workflow timing.
type LightConfig struct {
	PollInterval    time.Duration
	StableWindow    time.Duration
	PresenceTimeout time.Duration
	FrameGap        time.Duration
	VerifyTimeout   time.Duration
}

// DefaultLightConfig returns the field-tuned light timing.
func DefaultLightConfig() LightConfig {
	return LightConfig{
		PollInterval:    70 * time.Millisecond,
		StableWindow:    180 * time.Millisecond,
		PresenceTimeout: 150 * time.Millisecond,
		FrameGap:        110 * time.Millisecond,
		VerifyTimeout:   1500 * time.Millisecond,
	}
}
