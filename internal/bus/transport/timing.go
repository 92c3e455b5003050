package transport

import "time"

// Default bus timing.
const (
	DefaultReadTimeout      = 1000 * time.Millisecond
	DefaultWriteTimeout     = 1000 * time.Millisecond
	DefaultRetries          = 1
	DefaultWatchdogInterval = 5 * time.Second

	// defaultReadSlice bounds a single port read so the context is
	// observed between slices.
	defaultReadSlice = 20 * time.Millisecond
)

// Timing controls one register transaction.
type Timing struct {
	// ReadTimeout is the total time to wait for a complete reply.
	ReadTimeout time.Duration

	// WriteTimeout bounds the request write.
	WriteTimeout time.Duration

	// Retries is the number of additional attempts after a timeout or a
	// corrupted reply. Exception replies are never retried.
	Retries int
}

// DefaultTiming returns the timing installed by Connect when none is configured.
func DefaultTiming() Timing {
	return Timing{
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		Retries:      DefaultRetries,
	}
}

// withDefaults fills zero timeouts from d. Retries are taken as given.
func (t Timing) withDefaults(d Timing) Timing {
	if t.ReadTimeout <= 0 {
		t.ReadTimeout = d.ReadTimeout
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = d.WriteTimeout
	}
	if t.Retries < 0 {
		t.Retries = 0
	}
	return t
}
