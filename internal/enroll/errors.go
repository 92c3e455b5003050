package enroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
)

// Domain errors for the enrollment package.
var (
	// ErrAddressOccupied is returned when the target address already
	// answers before the address write. The item fails without a write.
	ErrAddressOccupied = errors.New("enroll: address already occupied")

	// ErrHandover is a warning: the default address kept answering after
	// the reboot command.
	ErrHandover = errors.New("enroll: default address still answering")

	// ErrVerification is returned when the new address never becomes
	// stably alive. It fails sensors and is only a warning for lights.
	ErrVerification = errors.New("enroll: new address not verified")

	// ErrIdentifierUnavailable is a warning: no non-zero identifier was read.
	ErrIdentifierUnavailable = errors.New("enroll: identifier unavailable")

	// ErrSkipped is returned by waits interrupted by the skip signal.
	ErrSkipped = errors.New("enroll: skipped by operator")

	// ErrRunActive is returned by Controller.Start while a run is active.
	ErrRunActive = errors.New("enroll: run already active")

	// ErrNoActiveRun is returned by Skip and Cancel when nothing runs.
	ErrNoActiveRun = errors.New("enroll: no active run")

	// ErrNoTargets is returned by Controller.Start when the source is empty.
	ErrNoTargets = errors.New("enroll: no targets loaded")
)

// noteError is an error whose message is meant for the operator while
// errors.Is still matches the sentinel it wraps.
type noteError struct {
	msg string
	err error
}

func (e *noteError) Error() string { return e.msg }
func (e *noteError) Unwrap() error { return e.err }

func notef(sentinel error, format string, args ...any) error {
	return &noteError{msg: fmt.Sprintf(format, args...), err: sentinel}
}

// isFatal reports whether err must abort the run instead of being treated
// as a transient bus problem.
func isFatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, transport.ErrNotConnected)
}

// fatalErr returns the context error when ctx is done, else err.
func fatalErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
