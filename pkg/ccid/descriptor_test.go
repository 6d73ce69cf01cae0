package ccid

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/ccid/pkg/bits"
)

func endpoint(addr, attr byte) []byte {
	return []byte{7, DescriptorTypeEndpoint, addr, attr, 0x40, 0x00, 0x10}
}

func smartCardDescriptor(maxMsg uint32) []byte {
	d := make([]byte, SmartCardDescriptorLen)
	d[0] = SmartCardDescriptorLen
	d[1] = DescriptorTypeSmartCard
	copy(d[2:], bits.MustEncode(0x0110, 2, bits.LittleEndian))
	d[4] = 0x00 // bMaxSlotIndex
	d[5] = 0x07 // 5V, 3V, 1.8V
	copy(d[6:], bits.MustEncode(0x03, 4, bits.LittleEndian))
	copy(d[10:], bits.MustEncode(4000, 4, bits.LittleEndian))
	copy(d[14:], bits.MustEncode(12000, 4, bits.LittleEndian))
	copy(d[19:], bits.MustEncode(10752, 4, bits.LittleEndian))
	copy(d[23:], bits.MustEncode(344105, 4, bits.LittleEndian))
	copy(d[28:], bits.MustEncode(254, 4, bits.LittleEndian))
	copy(d[40:], bits.MustEncode(int64(FeatureExtendedAPDU|FeatureAutoParameters), 4, bits.LittleEndian))
	copy(d[44:], bits.MustEncode(int64(maxMsg), 4, bits.LittleEndian))
	d[48] = 0xFF
	d[49] = 0xFF
	copy(d[50:], bits.MustEncode(0x0210, 2, bits.LittleEndian))
	d[52] = 0x03
	d[53] = 0x01
	return d
}

func ccidInterface(num, alt, class byte, maxMsg uint32, eps ...[]byte) []byte {
	out := []byte{9, DescriptorTypeInterface, num, alt, byte(len(eps)), class, 0x00, 0x00, 0x00}
	out = append(out, smartCardDescriptor(maxMsg)...)
	for _, ep := range eps {
		out = append(out, ep...)
	}
	return out
}

func configDescriptor(numInterfaces byte, body ...[]byte) []byte {
	total := 9
	for _, b := range body {
		total += len(b)
	}
	out := []byte{9, DescriptorTypeConfig, 0, 0, numInterfaces, 0x01, 0x00, 0x80, 0x32}
	copy(out[2:4], bits.MustEncode(int64(total), 2, bits.LittleEndian))
	for _, b := range body {
		out = append(out, b...)
	}
	return out
}

func standardEndpoints() [][]byte {
	return [][]byte{endpoint(0x01, 0x02), endpoint(0x82, 0x02), endpoint(0x83, 0x03)}
}

func TestParseConfigDescriptor(t *testing.T) {
	raw := configDescriptor(1, ccidInterface(0, 0, ClassSmartCard, 271, standardEndpoints()...))

	cfg, err := ParseConfigDescriptor(raw)
	if err != nil {
		t.Fatalf("ParseConfigDescriptor() error = %v", err)
	}
	if cfg.ConfigurationValue != 1 || cfg.NumInterfaces != 1 {
		t.Errorf("config value/interfaces = %d/%d; want 1/1", cfg.ConfigurationValue, cfg.NumInterfaces)
	}
	if len(cfg.Interfaces) != 1 {
		t.Fatalf("len(Interfaces) = %d; want 1", len(cfg.Interfaces))
	}

	iface := cfg.Interfaces[0]
	wantCard := SmartCardClassDescriptor{
		Length:               SmartCardDescriptorLen,
		DescriptorType:       DescriptorTypeSmartCard,
		CCIDVersion:          0x0110,
		VoltageSupport:       0x07,
		Protocols:            0x03,
		DefaultClock:         4000,
		MaximumClock:         12000,
		DataRate:             10752,
		MaxDataRate:          344105,
		MaxIFSD:              254,
		Features:             FeatureExtendedAPDU | FeatureAutoParameters,
		MaxCCIDMessageLength: 271,
		ClassGetResponse:     0xFF,
		ClassEnvelope:        0xFF,
		LCDLayout:            0x0210,
		PINSupport:           0x03,
		MaxCCIDBusySlots:     1,
	}
	if diff := cmp.Diff(wantCard, iface.SmartCard); diff != "" {
		t.Errorf("SmartCard mismatch (-want +got):\n%s", diff)
	}

	wantEndpoints := []EndpointDescriptor{
		{Address: 0x01, Attributes: 0x02, MaxPacketSize: 0x40, Interval: 0x10},
		{Address: 0x82, Attributes: 0x02, MaxPacketSize: 0x40, Interval: 0x10},
		{Address: 0x83, Attributes: 0x03, MaxPacketSize: 0x40, Interval: 0x10},
	}
	if diff := cmp.Diff(wantEndpoints, iface.Endpoints); diff != "" {
		t.Errorf("Endpoints mismatch (-want +got):\n%s", diff)
	}

	if iface.VendorSpecific() {
		t.Error("class 0x0B interface reported as vendor specific")
	}
	if !iface.SmartCard.SupportsT0() || !iface.SmartCard.SupportsT1() {
		t.Error("dwProtocols 0x03 should support T=0 and T=1")
	}
	if got := iface.SmartCard.ExchangeLevel(); got != "extended APDU" {
		t.Errorf("ExchangeLevel() = %q; want %q", got, "extended APDU")
	}
	if diff := cmp.Diff([]string{"5.0V", "3.0V", "1.8V"}, iface.SmartCard.Voltages()); diff != "" {
		t.Errorf("Voltages() mismatch (-want +got):\n%s", diff)
	}
	if !iface.SmartCard.PINVerification() || !iface.SmartCard.PINModification() {
		t.Error("bPINSupport 0x03 should allow verification and modification")
	}

	in, ok := iface.Endpoint(TransferBulk, true)
	if !ok || in.Number() != 2 {
		t.Errorf("bulk IN endpoint = %v, %v; want number 2", in, ok)
	}
	out, ok := iface.Endpoint(TransferBulk, false)
	if !ok || out.Number() != 1 {
		t.Errorf("bulk OUT endpoint = %v, %v; want number 1", out, ok)
	}
	irq, ok := iface.Endpoint(TransferInterrupt, true)
	if !ok || irq.String() != "interrupt IN 3" {
		t.Errorf("interrupt endpoint = %v, %v; want interrupt IN 3", irq, ok)
	}
}

func TestParseConfigDescriptor_Interfaces(t *testing.T) {
	tests := []struct {
		name        string
		raw         []byte
		wantNumbers []uint8
		wantVendor  []bool
	}{
		{
			name:        "Vendor specific class accepted",
			raw:         configDescriptor(1, ccidInterface(0, 0, ClassVendorSpecific, 271, standardEndpoints()...)),
			wantNumbers: []uint8{0},
			wantVendor:  []bool{true},
		},
		{
			name: "Two CCID interfaces",
			raw: configDescriptor(2,
				ccidInterface(0, 0, ClassSmartCard, 271, standardEndpoints()...),
				ccidInterface(1, 0, ClassAppSpecific, 271, endpoint(0x04, 0x02), endpoint(0x85, 0x02)),
			),
			wantNumbers: []uint8{0, 1},
			wantVendor:  []bool{false, true},
		},
		{
			name: "Stops at declared count",
			raw: configDescriptor(1,
				ccidInterface(0, 0, ClassSmartCard, 271, standardEndpoints()...),
				ccidInterface(1, 0, ClassSmartCard, 271),
			),
			wantNumbers: []uint8{0},
			wantVendor:  []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfigDescriptor(tt.raw)
			if err != nil {
				t.Fatalf("ParseConfigDescriptor() error = %v", err)
			}
			var numbers []uint8
			var vendor []bool
			for _, iface := range cfg.Interfaces {
				numbers = append(numbers, iface.InterfaceNumber)
				vendor = append(vendor, iface.VendorSpecific())
			}
			if diff := cmp.Diff(tt.wantNumbers, numbers); diff != "" {
				t.Errorf("interface numbers mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantVendor, vendor); diff != "" {
				t.Errorf("vendor flags mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("Endpoints stop at next interface", func(t *testing.T) {
		raw := configDescriptor(2,
			ccidInterface(0, 0, ClassSmartCard, 271, endpoint(0x01, 0x02)),
			ccidInterface(1, 0, ClassSmartCard, 271, endpoint(0x82, 0x02)),
		)
		cfg, err := ParseConfigDescriptor(raw)
		if err != nil {
			t.Fatalf("ParseConfigDescriptor() error = %v", err)
		}
		if n := len(cfg.Interfaces[0].Endpoints); n != 1 {
			t.Errorf("interface 0 has %d endpoints; want 1", n)
		}
	})
}

func TestParseConfigDescriptor_Errors(t *testing.T) {
	valid := configDescriptor(1, ccidInterface(0, 0, ClassSmartCard, 271, standardEndpoints()...))

	wrongType := append([]byte(nil), valid...)
	wrongType[1] = DescriptorTypeInterface

	wrongLength := append(append([]byte(nil), valid...), 0x00)

	hid := []byte{9, DescriptorTypeInterface, 1, 0, 1, 0x03, 0, 0, 0}
	fewer := configDescriptor(2, ccidInterface(0, 0, ClassSmartCard, 271), hid)

	zeroLength := configDescriptor(1, []byte{0, 0x24, 0, 0})

	truncatedClass := configDescriptor(1, []byte{9, DescriptorTypeInterface, 0, 0, 0, ClassSmartCard, 0, 0, 0, 0x36, 0x21, 0x10})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"Too short", valid[:5]},
		{"Not a configuration", wrongType},
		{"wTotalLength mismatch", wrongLength},
		{"Fewer CCID interfaces than declared", fewer},
		{"No interface declared", configDescriptor(0)},
		{"Zero length descriptor", zeroLength},
		{"Truncated class descriptor", truncatedClass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigDescriptor(tt.raw)
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("ParseConfigDescriptor() error = %v; want ErrProtocol", err)
			}
		})
	}
}
