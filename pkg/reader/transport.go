/*
Package reader drives one USB CCID smart card reader: it fetches and parses
the configuration descriptor, negotiates which interface to use, and
exchanges CCID messages over the bulk endpoints.

A Session owns everything mutable about its reader: the transport handle,
the CCID sequence counter and the active Configuration. Open one session
per physical reader.

	s, err := reader.Open(ctx, transport, reader.WithReaderTable(table))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.WaitForCard(ctx, time.Second); err != nil {
		return err
	}
	if _, err := s.InitCard(ctx); err != nil {
		return err
	}
	rapdu, err := s.SendAPDU(ctx, apdu)
*/
package reader

import "context"

// Standard GET_DESCRIPTOR request for the first configuration descriptor.
const (
	requestTypeStandardDeviceIn = 0x80
	requestGetDescriptor        = 0x06
	configDescriptorValue       = 0x0200
	maxDescriptorLength         = 4096
)

// ControlSetup is the setup packet of a control transfer.
type ControlSetup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
}

// DeviceID identifies a USB device model.
type DeviceID struct {
	VendorID  uint16
	ProductID uint16
}

// Transport is the USB layer a Session runs on. Every blocking call takes a
// context and must return promptly once it is cancelled.
//
// Implementations wrap ErrDisconnected when the device has gone away; the
// session then invalidates itself.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	DeviceID() DeviceID

	SelectConfiguration(ctx context.Context, value int) error
	ClaimInterface(ctx context.Context, number int) error
	SelectAlternateInterface(ctx context.Context, number, alternate int) error
	Reset(ctx context.Context) error

	ControlTransferIn(ctx context.Context, setup ControlSetup, maxLength int) ([]byte, error)
	BulkTransferOut(ctx context.Context, endpoint int, data []byte) error
	BulkTransferIn(ctx context.Context, endpoint int, maxLength int) ([]byte, error)
	InterruptTransferIn(ctx context.Context, endpoint int, maxLength int) ([]byte, error)
}
