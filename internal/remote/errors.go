package remote

import "errors"

// ErrUnknownCommand is returned for command topics other than start, skip
// and cancel.
var ErrUnknownCommand = errors.New("remote: unknown command")
