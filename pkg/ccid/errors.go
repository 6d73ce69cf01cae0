package ccid

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package and by the reader
// session wraps exactly one of them; test with errors.Is.
var (
	// ErrInvalidArgument rejects input before anything is sent.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrProtocol reports malformed descriptors or responses.
	ErrProtocol = errors.New("protocol error")
	// ErrCorrelation reports a response whose slot or sequence does not
	// match the request it answers.
	ErrCorrelation = errors.New("response does not match request")
	// ErrDevice reports transport failures and unusable device states.
	ErrDevice = errors.New("device error")
)

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func invalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
