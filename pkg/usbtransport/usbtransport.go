// Package usbtransport implements reader.Transport on libusb through
// github.com/google/gousb.
package usbtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/gregLibert/ccid/pkg/ccid"
	"github.com/gregLibert/ccid/pkg/logging"
	"github.com/gregLibert/ccid/pkg/reader"
)

var (
	ErrNotFound = fmt.Errorf("%w: no such USB device", ccid.ErrDevice)
	errNotOpen  = fmt.Errorf("%w: USB device not open", ccid.ErrDevice)
	errNoConfig = fmt.Errorf("%w: no USB configuration selected", ccid.ErrDevice)
	errNoIface  = fmt.Errorf("%w: no USB interface claimed", ccid.ErrDevice)
)

// Device is one USB reader identified by vendor and product ID. The first
// matching device is opened.
type Device struct {
	id reader.DeviceID

	mu      sync.Mutex
	usb     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	claimed int
	in      map[int]*gousb.InEndpoint
	out     map[int]*gousb.OutEndpoint
}

var _ reader.Transport = (*Device)(nil)

// New returns an unopened device handle for vid:pid.
func New(vid, pid uint16) *Device {
	return &Device{
		id:      reader.DeviceID{VendorID: vid, ProductID: pid},
		claimed: -1,
	}
}

func (d *Device) DeviceID() reader.DeviceID {
	return d.id
}

// Open initialises libusb and opens the device. Kernel drivers bound to a
// claimed interface are detached automatically.
func (d *Device) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		return nil
	}

	usb := gousb.NewContext()
	dev, err := usb.OpenDeviceWithVIDPID(gousb.ID(d.id.VendorID), gousb.ID(d.id.ProductID))
	if err != nil {
		usb.Close()
		return mapError("open", err)
	}
	if dev == nil {
		usb.Close()
		return fmt.Errorf("%w: %04X:%04X", ErrNotFound, d.id.VendorID, d.id.ProductID)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		logging.Warn(logging.CatUSB, "Cannot enable kernel driver auto-detach", map[string]any{"error": err.Error()})
	}

	d.usb = usb
	d.dev = dev
	logging.Debug(logging.CatUSB, "Device opened", map[string]any{
		"vid":     fmt.Sprintf("%04X", d.id.VendorID),
		"pid":     fmt.Sprintf("%04X", d.id.ProductID),
		"speed":   dev.Desc.Speed.String(),
		"address": dev.Desc.Address,
	})
	return nil
}

// Close releases the interface, the configuration, the device and the
// libusb context, in that order.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseConfigLocked()
	var errs []error
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			errs = append(errs, mapError("close device", err))
		}
		d.dev = nil
	}
	if d.usb != nil {
		if err := d.usb.Close(); err != nil {
			errs = append(errs, mapError("close context", err))
		}
		d.usb = nil
	}
	return errors.Join(errs...)
}

// SelectConfiguration makes value the active configuration, releasing any
// interface claimed under the previous one.
func (d *Device) SelectConfiguration(ctx context.Context, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return errNotOpen
	}
	// gousb refuses a second Config while one is held.
	d.releaseConfigLocked()

	cfg, err := d.dev.Config(value)
	if err != nil {
		return mapError(fmt.Sprintf("select configuration %d", value), err)
	}
	d.cfg = cfg
	return nil
}

// ClaimInterface records the interface to claim. gousb claims and selects
// the alternate setting in one call, so the claim happens in
// SelectAlternateInterface.
func (d *Device) ClaimInterface(ctx context.Context, number int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg == nil {
		return errNoConfig
	}
	d.releaseInterfaceLocked()
	d.claimed = number
	return nil
}

func (d *Device) SelectAlternateInterface(ctx context.Context, number, alternate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.cfg == nil:
		return errNoConfig
	case d.claimed != number:
		return fmt.Errorf("%w: interface %d", errNoIface, number)
	}
	d.releaseInterfaceLocked()
	d.claimed = number

	intf, err := d.cfg.Interface(number, alternate)
	if err != nil {
		return mapError(fmt.Sprintf("claim interface %d alternate %d", number, alternate), err)
	}
	d.intf = intf
	return nil
}

func (d *Device) Reset(ctx context.Context) error {
	d.mu.Lock()
	dev := d.dev
	d.mu.Unlock()
	if dev == nil {
		return errNotOpen
	}
	if err := dev.Reset(); err != nil {
		return mapError("reset", err)
	}
	return nil
}

// ControlTransferIn runs a device-to-host control request. libusb control
// transfers are bounded by the device ControlTimeout rather than ctx.
func (d *Device) ControlTransferIn(ctx context.Context, setup reader.ControlSetup, maxLength int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	dev := d.dev
	d.mu.Unlock()
	if dev == nil {
		return nil, errNotOpen
	}

	buf := make([]byte, maxLength)
	n, err := dev.Control(setup.RequestType, setup.Request, setup.Value, setup.Index, buf)
	if err != nil {
		return nil, mapError("control transfer", err)
	}
	return buf[:n], nil
}

func (d *Device) BulkTransferOut(ctx context.Context, endpoint int, data []byte) error {
	ep, err := d.outEndpoint(endpoint)
	if err != nil {
		return err
	}
	n, err := ep.WriteContext(ctx, data)
	if err != nil {
		return mapError(fmt.Sprintf("write endpoint %d", endpoint), err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write on endpoint %d: %d of %d bytes", ccid.ErrDevice, endpoint, n, len(data))
	}
	return nil
}

func (d *Device) BulkTransferIn(ctx context.Context, endpoint int, maxLength int) ([]byte, error) {
	return d.read(ctx, endpoint, maxLength)
}

func (d *Device) InterruptTransferIn(ctx context.Context, endpoint int, maxLength int) ([]byte, error) {
	return d.read(ctx, endpoint, maxLength)
}

func (d *Device) read(ctx context.Context, endpoint int, maxLength int) ([]byte, error) {
	ep, err := d.inEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, maxLength)
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mapError(fmt.Sprintf("read endpoint %d", endpoint), err)
	}
	return buf[:n], nil
}

func (d *Device) inEndpoint(number int) (*gousb.InEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep, ok := d.in[number]; ok {
		return ep, nil
	}
	if d.intf == nil {
		return nil, errNoIface
	}
	ep, err := d.intf.InEndpoint(number)
	if err != nil {
		return nil, mapError(fmt.Sprintf("IN endpoint %d", number), err)
	}
	if d.in == nil {
		d.in = make(map[int]*gousb.InEndpoint)
	}
	d.in[number] = ep
	return ep, nil
}

func (d *Device) outEndpoint(number int) (*gousb.OutEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep, ok := d.out[number]; ok {
		return ep, nil
	}
	if d.intf == nil {
		return nil, errNoIface
	}
	ep, err := d.intf.OutEndpoint(number)
	if err != nil {
		return nil, mapError(fmt.Sprintf("OUT endpoint %d", number), err)
	}
	if d.out == nil {
		d.out = make(map[int]*gousb.OutEndpoint)
	}
	d.out[number] = ep
	return ep, nil
}

func (d *Device) releaseInterfaceLocked() {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	d.claimed = -1
	d.in = nil
	d.out = nil
}

func (d *Device) releaseConfigLocked() {
	d.releaseInterfaceLocked()
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			logging.Debug(logging.CatUSB, "Release configuration", map[string]any{"error": err.Error()})
		}
		d.cfg = nil
	}
}

// mapError turns libusb "device gone" conditions into reader.ErrDisconnected
// so the session invalidates itself.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gousb.ErrorNoDevice) || errors.Is(err, gousb.TransferNoDevice) {
		return fmt.Errorf("%s: %w", op, reader.ErrDisconnected)
	}
	return fmt.Errorf("%w: %s: %w", ccid.ErrDevice, op, err)
}
