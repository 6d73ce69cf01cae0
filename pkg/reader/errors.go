package reader

import (
	"fmt"

	"github.com/gregLibert/ccid/pkg/ccid"
)

// All of these wrap ccid.ErrDevice.
var (
	ErrNotConfigured    = fmt.Errorf("%w: no reader configured", ccid.ErrDevice)
	ErrDisconnected     = fmt.Errorf("%w: disconnected", ccid.ErrDevice)
	ErrPowerOnFailed    = fmt.Errorf("%w: powering card failed", ccid.ErrDevice)
	ErrUnreachableState = fmt.Errorf("%w: unreachable ICC state", ccid.ErrDevice)
)

func deviceErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ccid.ErrDevice, fmt.Sprintf(format, args...))
}

// wrapDevice tags a transport failure as a device error while keeping the
// cause reachable through errors.Is.
func wrapDevice(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ccid.ErrDevice, op, err)
}
