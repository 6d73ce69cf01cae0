package iso7816

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gregLibert/ccid/pkg/bits"
)

// COMMAND APDU (C-APDU), extended length form only:
//
//	CLA INS P1 P2 [00 Lc(2) Data] [Le(2)]     with data
//	CLA INS P1 P2 [00 Le(2)]                  without data
//
// Lc and Le are big-endian. Le 0000 encodes Ne = 65536. The short form is
// never produced: a CCID reader in APDU or TPDU exchange level accepts the
// extended form and it keeps Lc/Le decoding unambiguous.
//
// RESPONSE APDU (R-APDU): optional data followed by SW1 SW2.

// APDU length limits.
const (
	MaxExtendedLc = 65535
	MaxExtendedLe = 65536

	// MaxAPDUBufferSize is header + 00 Lc(2) + data + Le(2).
	MaxAPDUBufferSize = 4 + 3 + MaxExtendedLc + 2
)

// ErrInvalidArgument is returned when a command cannot be encoded.
var ErrInvalidArgument = errors.New("invalid argument")

// BuildExtendedAPDU serialises a command APDU in extended length form.
// ne is the expected response length, 0 meaning no Le field.
func BuildExtendedAPDU(cla, ins, p1, p2 byte, data []byte, ne int) ([]byte, error) {
	if len(data) > MaxExtendedLc {
		return nil, fmt.Errorf("command data of %d bytes exceeds %d: %w", len(data), MaxExtendedLc, ErrInvalidArgument)
	}
	if ne < 0 || ne > MaxExtendedLe {
		return nil, fmt.Errorf("expected length %d outside 0..%d: %w", ne, MaxExtendedLe, ErrInvalidArgument)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+3+len(data)+2))
	buf.Write([]byte{cla, ins, p1, p2})

	if len(data) > 0 {
		buf.WriteByte(0x00)
		buf.Write(bits.MustEncode(int64(len(data)), 2, bits.BigEndian))
		buf.Write(data)
	}

	if ne > 0 {
		if len(data) == 0 {
			buf.WriteByte(0x00)
		}
		// 65536 wraps to 0000.
		buf.Write(bits.MustEncode(int64(ne%MaxExtendedLe), 2, bits.BigEndian))
	}

	return buf.Bytes(), nil
}

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	CLA    byte
	INS    byte
	P1, P2 byte
	Data   []byte
	Ne     int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla, ins, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		CLA:  cla,
		INS:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
		Ne:   ne,
	}
}

// Bytes encodes the command in extended length form.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	return BuildExtendedAPDU(c.CLA, c.INS, c.P1, c.P2, c.Data, c.Ne)
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | CLA: %02X, P1: %02X, P2: %02X | Lc: %d | Le: %d",
		InstructionName(c.INS), c.CLA, c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommandAPDU decodes an extended length command APDU, the inverse of
// BuildExtendedAPDU.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("command too short: length %d: %w", len(raw), ErrInvalidArgument)
	}

	cmd := NewCommandAPDU(raw[0], raw[1], raw[2], raw[3], nil, 0)
	body := raw[4:]

	switch {
	case len(body) == 0:
		return cmd, nil
	case body[0] != 0x00 || len(body) < 3:
		return nil, fmt.Errorf("body %X is not extended form: %w", body, ErrInvalidArgument)
	case len(body) == 3:
		cmd.Ne = decodeLe(body[1:3])
		return cmd, nil
	}

	lc := int(uint16(body[1])<<8 | uint16(body[2]))
	rest := body[3:]
	if lc == 0 || len(rest) < lc {
		return nil, fmt.Errorf("Lc %d does not match body of %d bytes: %w", lc, len(rest), ErrInvalidArgument)
	}
	cmd.Data = rest[:lc]
	rest = rest[lc:]

	switch len(rest) {
	case 0:
	case 2:
		cmd.Ne = decodeLe(rest)
	default:
		return nil, fmt.Errorf("trailing %d bytes after data: %w", len(rest), ErrInvalidArgument)
	}
	return cmd, nil
}

func decodeLe(b []byte) int {
	ne := int(uint16(b[0])<<8 | uint16(b[1]))
	if ne == 0 {
		return MaxExtendedLe
	}
	return ne
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2
	return &ResponseAPDU{
		Data:   raw[:indexSW1],
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
	}, nil
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
