// Package transport owns the serial port that connects the enrollment
// station to the field bus.
//
// A Manager wraps one port and speaks the RTU master side of the protocol
// over it. It provides:
//
//   - Connect/Disconnect at 9600 baud 8N1
//   - a single exclusive-access gate, so at most one register transaction
//     is on the wire at any instant
//   - scoped timing overrides carried in the context, never shared
//   - a watchdog that reopens a port that fell closed
//
// Every blocking call takes a context.Context. Reads are sliced into short
// port timeouts and the context is checked between slices, so cancellation
// takes effect within a few tens of milliseconds instead of waiting for the
// full read timeout.
//
// Example:
//
//	m := transport.New(transport.Config{})
//	if err := m.Connect(ctx, "/dev/ttyUSB0"); err != nil {
//	    return err
//	}
//	defer m.Disconnect()
//
//	err := m.WithScopedTiming(ctx, transport.Timing{ReadTimeout: 140 * time.Millisecond}, func(ctx context.Context) error {
//	    _, err := m.ReadHolding(ctx, 1, 2, 1)
//	    return err
//	})
package transport
