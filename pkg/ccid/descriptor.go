package ccid

import (
	"fmt"

	"github.com/gregLibert/ccid/pkg/bits"
)

// USB descriptor types.
const (
	DescriptorTypeConfig    = 0x02
	DescriptorTypeInterface = 0x04
	DescriptorTypeEndpoint  = 0x05
	// DescriptorTypeSmartCard is the CCID functional descriptor.
	DescriptorTypeSmartCard = 0x21
)

// Interface classes accepted as CCID.
const (
	ClassSmartCard      = 0x0B
	ClassAppSpecific    = 0xFE
	ClassVendorSpecific = 0xFF
)

const (
	configDescriptorLen    = 9
	interfaceDescriptorLen = 9
	endpointDescriptorLen  = 7
	// SmartCardDescriptorLen is the size of the CCID class descriptor.
	SmartCardDescriptorLen = 54
)

// ConfigDescriptor is the parsed configuration descriptor of a reader,
// reduced to what a CCID session needs.
type ConfigDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Attributes         uint8
	MaxPower           uint8
	Interfaces         []InterfaceDescriptor
}

// InterfaceDescriptor is a CCID capable interface (or alternate setting).
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8 // iInterface string index

	SmartCard SmartCardClassDescriptor
	Endpoints []EndpointDescriptor
}

// VendorSpecific reports an interface accepted through class 0xFE or 0xFF.
// Callers should warn that CCID compliance is assumed.
func (i *InterfaceDescriptor) VendorSpecific() bool {
	return i.InterfaceClass != ClassSmartCard
}

// Endpoint returns the first endpoint of the given transfer type and
// direction.
func (i *InterfaceDescriptor) Endpoint(tt TransferType, in bool) (EndpointDescriptor, bool) {
	for _, ep := range i.Endpoints {
		if ep.TransferType() == tt && ep.IsIn() == in {
			return ep, true
		}
	}
	return EndpointDescriptor{}, false
}

// SmartCardClassDescriptor holds the CCID functional descriptor fields.
// All multi-byte fields are little endian on the wire.
type SmartCardClassDescriptor struct {
	Length                uint8
	DescriptorType        uint8
	CCIDVersion           uint16 // bcdCCID
	MaxSlotIndex          uint8
	VoltageSupport        uint8
	Protocols             uint32
	DefaultClock          uint32
	MaximumClock          uint32
	NumClockSupported     uint8
	DataRate              uint32
	MaxDataRate           uint32
	NumDataRatesSupported uint8
	MaxIFSD               uint32
	SynchProtocols        uint32
	Mechanical            uint32
	Features              uint32
	MaxCCIDMessageLength  uint32
	ClassGetResponse      uint8
	ClassEnvelope         uint8
	LCDLayout             uint16
	PINSupport            uint8
	MaxCCIDBusySlots      uint8
}

// dwFeatures bits.
const (
	FeatureAutoParameters uint32 = 0x00000002
	FeatureAutoActivation uint32 = 0x00000004
	FeatureAutoVoltage    uint32 = 0x00000008
	FeatureAutoPPS        uint32 = 0x00000080
	FeatureTPDULevel      uint32 = 0x00010000
	FeatureShortAPDULevel uint32 = 0x00020000
	FeatureExtendedAPDU   uint32 = 0x00040000
	featureExchangeMask   uint32 = 0x00070000
)

// SupportsT0 reports T=0 in dwProtocols.
func (d SmartCardClassDescriptor) SupportsT0() bool {
	return d.Protocols&0x01 != 0
}

// SupportsT1 reports T=1 in dwProtocols.
func (d SmartCardClassDescriptor) SupportsT1() bool {
	return d.Protocols&0x02 != 0
}

// ExchangeLevel names the level of exchange advertised in dwFeatures.
func (d SmartCardClassDescriptor) ExchangeLevel() string {
	switch d.Features & featureExchangeMask {
	case FeatureTPDULevel:
		return "TPDU"
	case FeatureShortAPDULevel:
		return "short APDU"
	case FeatureExtendedAPDU:
		return "extended APDU"
	default:
		return "character"
	}
}

// Voltages lists the supported card voltages.
func (d SmartCardClassDescriptor) Voltages() []string {
	var out []string
	if bits.IsSet(d.VoltageSupport, 1) {
		out = append(out, "5.0V")
	}
	if bits.IsSet(d.VoltageSupport, 2) {
		out = append(out, "3.0V")
	}
	if bits.IsSet(d.VoltageSupport, 3) {
		out = append(out, "1.8V")
	}
	return out
}

// PINVerification reports reader side PIN verification support.
func (d SmartCardClassDescriptor) PINVerification() bool {
	return bits.IsSet(d.PINSupport, 1)
}

// PINModification reports reader side PIN modification support.
func (d SmartCardClassDescriptor) PINModification() bool {
	return bits.IsSet(d.PINSupport, 2)
}

// TransferType is bits 1-0 of bmAttributes.
type TransferType uint8

const (
	TransferControl     TransferType = 0
	TransferIsochronous TransferType = 1
	TransferBulk        TransferType = 2
	TransferInterrupt   TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	default:
		return "interrupt"
	}
}

// EndpointDescriptor is a standard USB endpoint descriptor.
type EndpointDescriptor struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// Number is the endpoint number without the direction bit.
func (e EndpointDescriptor) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn reports an IN (device to host) endpoint.
func (e EndpointDescriptor) IsIn() bool {
	return bits.IsSet(e.Address, 8)
}

func (e EndpointDescriptor) TransferType() TransferType {
	return TransferType(bits.GetRange(e.Attributes, 2, 1))
}

func (e EndpointDescriptor) String() string {
	dir := "OUT"
	if e.IsIn() {
		dir = "IN"
	}
	return fmt.Sprintf("%s %s %d", e.TransferType(), dir, e.Number())
}

// ParseConfigDescriptor decodes the full configuration descriptor returned
// by GET_DESCRIPTOR(CONFIGURATION) and extracts the CCID interfaces.
//
// It fails when the buffer is not a configuration descriptor, when
// wTotalLength disagrees with the buffer size, and when fewer CCID
// interfaces are found than bNumInterfaces declares.
func ParseConfigDescriptor(raw []byte) (*ConfigDescriptor, error) {
	if len(raw) < configDescriptorLen {
		return nil, protocolErrorf("configuration descriptor of %d bytes", len(raw))
	}
	if raw[1] != DescriptorTypeConfig {
		return nil, protocolErrorf("descriptor type 0x%02X is not a configuration", raw[1])
	}

	cfg := &ConfigDescriptor{
		TotalLength:        bits.Uint16LE(raw, 2),
		NumInterfaces:      raw[4],
		ConfigurationValue: raw[5],
		Attributes:         raw[7],
		MaxPower:           raw[8],
	}
	if int(cfg.TotalLength) != len(raw) {
		return nil, protocolErrorf("wTotalLength %d does not match the %d bytes received", cfg.TotalLength, len(raw))
	}
	if cfg.NumInterfaces == 0 {
		return nil, protocolErrorf("configuration declares no interface")
	}

	offsets, err := ccidInterfaceOffsets(raw, int(cfg.NumInterfaces))
	if err != nil {
		return nil, err
	}
	if len(offsets) < int(cfg.NumInterfaces) {
		return nil, protocolErrorf("found %d CCID interfaces, configuration declares %d", len(offsets), cfg.NumInterfaces)
	}

	for _, off := range offsets {
		iface, err := parseInterface(raw, off)
		if err != nil {
			return nil, err
		}
		cfg.Interfaces = append(cfg.Interfaces, iface)
	}
	return cfg, nil
}

// ccidInterfaceOffsets walks the descriptor chain and returns the offsets
// of the first limit CCID interface descriptors.
func ccidInterfaceOffsets(raw []byte, limit int) ([]int, error) {
	var offsets []int
	err := walkDescriptors(raw, 0, func(off int, length, typ uint8) bool {
		if typ == DescriptorTypeInterface && length >= interfaceDescriptorLen && isCCIDClass(raw[off+5]) {
			offsets = append(offsets, off)
		}
		return len(offsets) < limit
	})
	return offsets, err
}

// walkDescriptors calls fn for every descriptor starting at off until fn
// returns false or the buffer ends.
func walkDescriptors(raw []byte, off int, fn func(off int, length, typ uint8) bool) error {
	for off < len(raw) {
		if off+2 > len(raw) {
			return protocolErrorf("truncated descriptor at offset %d", off)
		}
		length := int(raw[off])
		if length < 2 || off+length > len(raw) {
			return protocolErrorf("descriptor at offset %d has invalid length %d", off, length)
		}
		if !fn(off, uint8(length), raw[off+1]) {
			return nil
		}
		off += length
	}
	return nil
}

func isCCIDClass(class byte) bool {
	return class == ClassSmartCard || class == ClassAppSpecific || class == ClassVendorSpecific
}

func parseInterface(raw []byte, off int) (InterfaceDescriptor, error) {
	iface := InterfaceDescriptor{
		Length:            raw[off],
		DescriptorType:    raw[off+1],
		InterfaceNumber:   raw[off+2],
		AlternateSetting:  raw[off+3],
		NumEndpoints:      raw[off+4],
		InterfaceClass:    raw[off+5],
		InterfaceSubClass: raw[off+6],
		InterfaceProtocol: raw[off+7],
		InterfaceIndex:    raw[off+8],
	}

	classOff := off + int(iface.Length)
	if classOff+SmartCardDescriptorLen > len(raw) {
		return iface, protocolErrorf("interface %d: smart card class descriptor truncated", iface.InterfaceNumber)
	}
	iface.SmartCard = parseSmartCardDescriptor(raw[classOff : classOff+SmartCardDescriptorLen])

	if raw[classOff] < 2 {
		return iface, protocolErrorf("interface %d: class descriptor has invalid length %d", iface.InterfaceNumber, raw[classOff])
	}
	err := walkDescriptors(raw, classOff+int(raw[classOff]), func(o int, length, typ uint8) bool {
		if typ == DescriptorTypeInterface {
			return false
		}
		if typ == DescriptorTypeEndpoint && length >= endpointDescriptorLen {
			iface.Endpoints = append(iface.Endpoints, EndpointDescriptor{
				Address:       raw[o+2],
				Attributes:    raw[o+3],
				MaxPacketSize: bits.Uint16LE(raw, o+4),
				Interval:      raw[o+6],
			})
		}
		return true
	})
	return iface, err
}

func parseSmartCardDescriptor(b []byte) SmartCardClassDescriptor {
	return SmartCardClassDescriptor{
		Length:                b[0],
		DescriptorType:        b[1],
		CCIDVersion:           bits.Uint16LE(b, 2),
		MaxSlotIndex:          b[4],
		VoltageSupport:        b[5],
		Protocols:             bits.Uint32LE(b, 6),
		DefaultClock:          bits.Uint32LE(b, 10),
		MaximumClock:          bits.Uint32LE(b, 14),
		NumClockSupported:     b[18],
		DataRate:              bits.Uint32LE(b, 19),
		MaxDataRate:           bits.Uint32LE(b, 23),
		NumDataRatesSupported: b[27],
		MaxIFSD:               bits.Uint32LE(b, 28),
		SynchProtocols:        bits.Uint32LE(b, 32),
		Mechanical:            bits.Uint32LE(b, 36),
		Features:              bits.Uint32LE(b, 40),
		MaxCCIDMessageLength:  bits.Uint32LE(b, 44),
		ClassGetResponse:      b[48],
		ClassEnvelope:         b[49],
		LCDLayout:             bits.Uint16LE(b, 50),
		PINSupport:            b[52],
		MaxCCIDBusySlots:      b[53],
	}
}
