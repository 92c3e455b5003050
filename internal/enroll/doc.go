// Package enroll moves factory-default field devices to their assigned bus
// addresses, one device at a time.
//
// The pieces, leaves first:
//
//   - Prober answers "is a device alive at address X" and waits for a
//     stable presence window before trusting it.
//   - SensorEnroller and LightEnroller run the per-device state machines.
//   - Orchestrator walks the target lists (sensors first, then lights),
//     honours skip and cancel, emits ProgressEvents and hands the collected
//     identifiers to the Sink once at the end.
//   - Controller is the handle a presentation layer holds: start one run at
//     a time, skip the current device, cancel the run, take snapshots.
//   - Dispatcher fans ProgressEvents out to subscribers without ever
//     blocking the bus workflow.
//
// Skip and cancel are separate signals. Skip is a coalescing SkipSignal
// that ends only the current device's wait for presence. Cancel is the
// run context; it aborts the whole run and suppresses persistence.
package enroll
