package reader

import (
	"context"
	"errors"

	"github.com/gregLibert/ccid/pkg/ccid"
	"github.com/gregLibert/ccid/pkg/logging"
)

// ListenInterrupt reads the interrupt IN endpoint until ctx is done or the
// session disconnects, handing every decoded message to fn. Malformed
// messages are logged and skipped. It does not take the exchange lock, so
// it runs alongside bulk traffic.
func (s *Session) ListenInterrupt(ctx context.Context, fn func(*ccid.Interrupt)) error {
	cfg, ok := s.Configuration()
	if !ok {
		if err := s.usable(); err != nil {
			return err
		}
		return ErrNotConfigured
	}
	if cfg.InterruptIn == 0 {
		return deviceErrorf("interface %d has no interrupt IN endpoint", cfg.Interface)
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	for {
		raw, err := s.transport.InterruptTransferIn(ctx, cfg.InterruptIn, cfg.MaxMessageLength)
		if err != nil {
			if s.lifetime.Err() == nil && !errors.Is(err, ErrDisconnected) && ctx.Err() != nil {
				return s.waitError(ctx, ctx.Err())
			}
			return s.transportError("interrupt in", err)
		}

		irq, err := ccid.ParseInterrupt(raw)
		if err != nil {
			logging.Warn(logging.CatUSB, "Ignoring interrupt message", map[string]any{"error": err.Error()})
			continue
		}

		switch {
		case irq.SlotChange != nil:
			logging.Debug(logging.CatReader, "Slot change", map[string]any{
				"present": irq.SlotChange.Present(0),
				"changed": irq.SlotChange.Changed(0),
			})
		case irq.HardwareError != nil:
			logging.Warn(logging.CatReader, "Reader hardware error", map[string]any{
				"seq":  irq.HardwareError.Seq,
				"code": irq.HardwareError.Code,
			})
		}
		fn(irq)
	}
}
