package ccid

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/ccid/pkg/tlv"
)

func TestCodec_Builders(t *testing.T) {
	apdu := tlv.Hex("00840000 000008")

	tests := []struct {
		name  string
		build func(c *Codec) ([]byte, error)
		want  []byte
	}{
		{
			name:  "GetSlotStatus",
			build: (*Codec).GetSlotStatus,
			want:  tlv.Hex("65 00000000 00 00 000000"),
		},
		{
			name:  "IccPowerOn automatic voltage",
			build: func(c *Codec) ([]byte, error) { return c.IccPowerOn(PowerAutomatic) },
			want:  tlv.Hex("62 00000000 00 00 000000"),
		},
		{
			name:  "IccPowerOn 3V",
			build: func(c *Codec) ([]byte, error) { return c.IccPowerOn(Power3V) },
			want:  tlv.Hex("62 00000000 00 00 020000"),
		},
		{
			name:  "IccPowerOff",
			build: (*Codec).IccPowerOff,
			want:  tlv.Hex("63 00000000 00 00 000000"),
		},
		{
			name:  "XfrBlock",
			build: func(c *Codec) ([]byte, error) { return c.XfrBlock(0, 0, apdu) },
			want:  tlv.Hex("6F 07000000 00 00 000000", "00840000000008"),
		},
		{
			name:  "XfrBlock with level parameter",
			build: func(c *Codec) ([]byte, error) { return c.XfrBlock(0x02, 0x0010, apdu) },
			want:  tlv.Hex("6F 07000000 00 00 021000", "00840000000008"),
		},
		{
			name:  "GetParameters",
			build: (*Codec).GetParameters,
			want:  tlv.Hex("6C 00000000 00 00 000000"),
		},
		{
			name:  "ResetParameters",
			build: (*Codec).ResetParameters,
			want:  tlv.Hex("6D 00000000 00 00 000000"),
		},
		{
			name:  "SetParameters T=1",
			build: func(c *Codec) ([]byte, error) { return c.SetParameters(ProtocolT1, tlv.Hex("1110004D00FE00")) },
			want:  tlv.Hex("61 07000000 00 00 010000", "1110004D00FE00"),
		},
		{
			name:  "Escape",
			build: func(c *Codec) ([]byte, error) { return c.Escape([]byte{0xAA, 0xBB}) },
			want:  tlv.Hex("6B 02000000 00 00 000000 AABB"),
		},
		{
			name:  "IccClock restart",
			build: func(c *Codec) ([]byte, error) { return c.IccClock(ClockRestart) },
			want:  tlv.Hex("6E 00000000 00 00 000000"),
		},
		{
			name:  "IccClock stop",
			build: func(c *Codec) ([]byte, error) { return c.IccClock(ClockStop) },
			want:  tlv.Hex("6E 00000000 00 00 010000"),
		},
		{
			name:  "T0APDU",
			build: func(c *Codec) ([]byte, error) { return c.T0APDU(0x03, 0x00, 0x80) },
			want:  tlv.Hex("6A 00000000 00 00 030080"),
		},
		{
			name:  "Secure",
			build: func(c *Codec) ([]byte, error) { return c.Secure(0x00, 0x0102, []byte{0x00}) },
			want:  tlv.Hex("69 01000000 00 00 000201 00"),
		},
		{
			name:  "Mechanical eject",
			build: func(c *Codec) ([]byte, error) { return c.Mechanical(MechanicalEjectCard) },
			want:  tlv.Hex("71 00000000 00 00 020000"),
		},
		{
			name:  "Abort",
			build: (*Codec).Abort,
			want:  tlv.Hex("72 00000000 00 00 000000"),
		},
		{
			name:  "SetDataRateAndClockFrequency",
			build: func(c *Codec) ([]byte, error) { return c.SetDataRateAndClockFrequency(4000, 10752) },
			want:  tlv.Hex("73 08000000 00 00 000000", "A00F0000 002A0000"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.build(NewCodec())
			if err != nil {
				t.Fatalf("build error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodec_Sequence(t *testing.T) {
	c := NewCodec()

	for i := 0; i < 300; i++ {
		msg, err := c.GetSlotStatus()
		if err != nil {
			t.Fatalf("GetSlotStatus() error = %v", err)
		}
		if want := byte(i % 256); msg[6] != want {
			t.Fatalf("message %d carries seq %d; want %d", i, msg[6], want)
		}
	}
	if got := c.Sequence(); got != 300%256 {
		t.Errorf("Sequence() = %d; want %d", got, 300%256)
	}
}

func TestCodec_SequencePerCodec(t *testing.T) {
	a, b := NewCodec(), NewCodec()
	if _, err := a.Abort(); err != nil {
		t.Fatal(err)
	}
	msg, _ := b.Abort()
	if msg[6] != 0 {
		t.Errorf("independent codec started at seq %d; want 0", msg[6])
	}
}

func TestCodec_InvalidArgumentKeepsSequence(t *testing.T) {
	c := NewCodec()
	if _, err := c.SetParameters(0x05, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SetParameters(T=5) error = %v; want ErrInvalidArgument", err)
	}
	if got := c.Sequence(); got != 0 {
		t.Errorf("failed build consumed a sequence number, next is %d", got)
	}
}

func TestHeaderOf(t *testing.T) {
	typ, slot, seq, err := HeaderOf(tlv.Hex("80 02000000 00 2A 000000 9000"))
	if err != nil {
		t.Fatalf("HeaderOf() error = %v", err)
	}
	if typ != RDRToPCDataBlock || slot != 0 || seq != 0x2A {
		t.Errorf("HeaderOf() = %s, %d, %d; want DataBlock, 0, 42", typ, slot, seq)
	}
	if _, _, _, err := HeaderOf(tlv.Hex("80 0200")); !errors.Is(err, ErrProtocol) {
		t.Errorf("HeaderOf(short) error = %v; want ErrProtocol", err)
	}
}

func TestMessageType_String(t *testing.T) {
	if got := PCToRDRXfrBlock.String(); got != "PC_to_RDR_XfrBlock" {
		t.Errorf("String() = %q", got)
	}
	if got := MessageType(0x99).String(); got != "MessageType(0x99)" {
		t.Errorf("String() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want error
	}{
		{"Header only", tlv.Hex("65 00000000 00 00 000000"), nil},
		{"With data", tlv.Hex("6F 02000000 00 01 000000 AABB"), nil},
		{"Short", tlv.Hex("65 00"), ErrInvalidArgument},
		{"Nil", nil, ErrInvalidArgument},
		{"Length too large", tlv.Hex("6F 03000000 00 01 000000 AABB"), ErrInvalidArgument},
		{"Length too small", tlv.Hex("6F 01000000 00 01 000000 AABB"), ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v; want %v", err, tt.want)
			}
		})
	}

	c := NewCodec()
	msg, err := c.XfrBlock(0, 0, tlv.Hex("00840000 08"))
	if err != nil {
		t.Fatalf("XfrBlock() error = %v", err)
	}
	if err := Validate(msg); err != nil {
		t.Errorf("Validate(built message) error = %v", err)
	}
}
