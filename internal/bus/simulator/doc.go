// Package simulator provides an in-memory field bus with sensor and light
// devices that speak the RTU slave side of the protocol.
//
// A Bus hands out Ports that behave like serial ports: a read waits up to
// the configured read timeout and returns 0 bytes when nothing arrived.
// Devices react to the same register commands as the real hardware:
//
//   - sensors take a new address in register 4 and apply it after the
//     reboot command 42330 in register 17, staying silent while they reboot
//   - lights take the block [mode, address, 9600, 0x8F8F] at register 4
//     and answer at the new address immediately
//   - two devices sharing an address answer at once and the reply arrives
//     with a broken checksum
//
// With Config.Factory set, the bus plugs in a fresh factory-default device
// whenever address 1 has been free for Config.FeedDelay, which lets the
// whole enrollment flow run without hardware.
package simulator
