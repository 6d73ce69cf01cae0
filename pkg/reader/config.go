package reader

import (
	"fmt"
	"time"

	"github.com/gregLibert/ccid/pkg/ccid"
)

// DefaultPollInterval paces card polling and the autodetect loop.
const DefaultPollInterval = time.Second

// Configuration is the reader setup a session runs with once Ready.
// InterruptIn is 0 when the interface has no interrupt endpoint.
type Configuration struct {
	Name             string
	VendorID         uint16
	ProductID        uint16
	Configuration    int
	Interface        int
	Alternate        int
	BulkOut          int
	BulkIn           int
	InterruptIn      int
	MaxMessageLength int
}

func (c Configuration) String() string {
	return fmt.Sprintf("%04X:%04X config %d interface %d alt %d (out %d, in %d, interrupt %d, max %d bytes)",
		c.VendorID, c.ProductID, c.Configuration, c.Interface, c.Alternate,
		c.BulkOut, c.BulkIn, c.InterruptIn, c.MaxMessageLength)
}

// StaticConfiguration pins negotiation to one interface. Endpoints are
// taken from the parsed descriptor.
type StaticConfiguration struct {
	Configuration int
	Interface     int
	Alternate     int
}

// Option configures a Session.
type Option func(*Session)

// WithStaticConfiguration skips table lookup and autodetection.
func WithStaticConfiguration(c StaticConfiguration) Option {
	return func(s *Session) {
		s.static = &c
	}
}

// WithReaderTable sets the known readers consulted before autodetection.
func WithReaderTable(t Table) Option {
	return func(s *Session) {
		s.table = t
	}
}

// WithPollInterval sets the delay between card polls and autodetect rounds.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithNotifier receives every Event. fn is called synchronously from the
// goroutine running the operation and must not call back into the session.
func WithNotifier(fn func(Event)) Option {
	return func(s *Session) {
		s.notify = fn
	}
}

// resolve builds the configuration for interface number/alternate from the
// parsed descriptor, picking the first endpoint of each required kind.
func resolve(desc *ccid.ConfigDescriptor, id DeviceID, configuration, number, alternate int) (Configuration, error) {
	iface, ok := findInterface(desc, number, alternate)
	if !ok {
		return Configuration{}, deviceErrorf("interface %d alternate %d is not a smart card interface", number, alternate)
	}

	out, ok := iface.Endpoint(ccid.TransferBulk, false)
	if !ok {
		return Configuration{}, deviceErrorf("interface %d has no bulk OUT endpoint", number)
	}
	in, ok := iface.Endpoint(ccid.TransferBulk, true)
	if !ok {
		return Configuration{}, deviceErrorf("interface %d has no bulk IN endpoint", number)
	}

	cfg := Configuration{
		VendorID:         id.VendorID,
		ProductID:        id.ProductID,
		Configuration:    configuration,
		Interface:        number,
		Alternate:        alternate,
		BulkOut:          int(out.Number()),
		BulkIn:           int(in.Number()),
		MaxMessageLength: int(iface.SmartCard.MaxCCIDMessageLength),
	}
	if irq, ok := iface.Endpoint(ccid.TransferInterrupt, true); ok {
		cfg.InterruptIn = int(irq.Number())
	}
	return cfg, nil
}

// fromTable applies a known reader entry. Endpoints come from the entry;
// the message size limit and a missing interrupt endpoint come from the
// descriptor of the selected interface.
func fromTable(desc *ccid.ConfigDescriptor, k KnownReader) (Configuration, error) {
	iface, ok := findInterface(desc, k.Interface, k.Alternate)
	if !ok {
		return Configuration{}, deviceErrorf("%s: interface %d alternate %d not found in descriptor", k.Name, k.Interface, k.Alternate)
	}

	cfg := Configuration{
		Name:             k.Name,
		VendorID:         k.VendorID,
		ProductID:        k.ProductID,
		Configuration:    k.Configuration,
		Interface:        k.Interface,
		Alternate:        k.Alternate,
		BulkOut:          k.BulkOut,
		BulkIn:           k.BulkIn,
		InterruptIn:      k.InterruptIn,
		MaxMessageLength: int(iface.SmartCard.MaxCCIDMessageLength),
	}
	if cfg.InterruptIn == 0 {
		if irq, ok := iface.Endpoint(ccid.TransferInterrupt, true); ok {
			cfg.InterruptIn = int(irq.Number())
		}
	}
	return cfg, nil
}

func findInterface(desc *ccid.ConfigDescriptor, number, alternate int) (ccid.InterfaceDescriptor, bool) {
	for _, iface := range desc.Interfaces {
		if int(iface.InterfaceNumber) == number && int(iface.AlternateSetting) == alternate {
			return iface, true
		}
	}
	return ccid.InterfaceDescriptor{}, false
}
