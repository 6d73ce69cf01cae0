package ccid

import (
	"fmt"

	"github.com/gregLibert/ccid/pkg/bits"
)

// Response is a decoded RDR_to_PC bulk message.
type Response struct {
	Type   MessageType
	Length uint32
	Slot   uint8
	Seq    uint8
	Status byte
	Error  byte
	// Param is the message specific byte 9 (chain parameter, clock status
	// or protocol number depending on Type).
	Param byte
	Data  []byte
}

// ICCStatus decodes bits 2-1 of bStatus.
func (r *Response) ICCStatus() ICCStatus {
	return ICCStatus(bits.GetRange(r.Status, 2, 1))
}

// CommandStatus decodes bits 8-7 of bStatus.
func (r *Response) CommandStatus() CommandStatus {
	return CommandStatus(bits.GetRange(r.Status, 8, 7))
}

// ParseResponse decodes the header of a bulk IN message and checks it is of
// the expected type. The payload is cut to dwLength; a payload shorter than
// dwLength is a protocol error.
func ParseResponse(expected MessageType, raw []byte) (*Response, error) {
	t, slot, seq, err := HeaderOf(raw)
	if err != nil {
		return nil, err
	}
	if t != expected {
		return nil, protocolErrorf("got %s, want %s", t, expected)
	}

	length := bits.Uint32LE(raw, offLength)
	body := raw[HeaderLen:]
	if uint64(length) > uint64(len(body)) {
		return nil, protocolErrorf("%s announces %d data bytes, %d received", t, length, len(body))
	}

	return &Response{
		Type:   t,
		Length: length,
		Slot:   slot,
		Seq:    seq,
		Status: raw[offStatus],
		Error:  raw[offError],
		Param:  raw[offParam],
		Data:   body[:length],
	}, nil
}

// DataBlock answers IccPowerOn, XfrBlock and Secure.
type DataBlock struct {
	*Response
	ChainParameter byte
}

func ParseDataBlock(raw []byte) (*DataBlock, error) {
	r, err := ParseResponse(RDRToPCDataBlock, raw)
	if err != nil {
		return nil, err
	}
	return &DataBlock{Response: r, ChainParameter: r.Param}, nil
}

// ClockStatus is the bClockStatus byte of a SlotStatus response.
type ClockStatus byte

const (
	ClockRunning        ClockStatus = 0x00
	ClockStoppedLow     ClockStatus = 0x01
	ClockStoppedHigh    ClockStatus = 0x02
	ClockStoppedUnknown ClockStatus = 0x03
)

func (c ClockStatus) String() string {
	switch c {
	case ClockRunning:
		return "clock running"
	case ClockStoppedLow:
		return "clock stopped in state L"
	case ClockStoppedHigh:
		return "clock stopped in state H"
	case ClockStoppedUnknown:
		return "clock stopped in an unknown state"
	default:
		return fmt.Sprintf("ClockStatus(0x%02X)", byte(c))
	}
}

// SlotStatus answers IccPowerOff, GetSlotStatus, IccClock, T0APDU,
// Mechanical and Abort.
type SlotStatus struct {
	*Response
	ClockStatus ClockStatus
}

func ParseSlotStatus(raw []byte) (*SlotStatus, error) {
	r, err := ParseResponse(RDRToPCSlotStatus, raw)
	if err != nil {
		return nil, err
	}
	return &SlotStatus{Response: r, ClockStatus: ClockStatus(r.Param)}, nil
}

// Parameters answers GetParameters, ResetParameters and SetParameters.
type Parameters struct {
	*Response
	ProtocolNum  byte
	ProtocolData []byte
}

func ParseParameters(raw []byte) (*Parameters, error) {
	r, err := ParseResponse(RDRToPCParameters, raw)
	if err != nil {
		return nil, err
	}
	return &Parameters{Response: r, ProtocolNum: r.Param, ProtocolData: r.Data}, nil
}

// ParseEscape decodes the answer to an Escape command; the vendor data is
// in Data.
func ParseEscape(raw []byte) (*Response, error) {
	return ParseResponse(RDRToPCEscape, raw)
}

// DataRateAndClockFrequency answers SetDataRateAndClockFrequency.
type DataRateAndClockFrequency struct {
	*Response
	ClockFrequency uint32
	DataRate       uint32
}

// ParseDataRateAndClockFrequency reads the two 32-bit fields as big endian
// values from offsets 0 and 4 of the payload.
func ParseDataRateAndClockFrequency(raw []byte) (*DataRateAndClockFrequency, error) {
	r, err := ParseResponse(RDRToPCDataRateAndClockFrequency, raw)
	if err != nil {
		return nil, err
	}
	if len(r.Data) < 8 {
		return nil, protocolErrorf("%s carries %d data bytes, want 8", r.Type, len(r.Data))
	}
	clock, _ := bits.Decode(r.Data[0:4], bits.BigEndian)
	rate, _ := bits.Decode(r.Data[4:8], bits.BigEndian)
	return &DataRateAndClockFrequency{Response: r, ClockFrequency: clock, DataRate: rate}, nil
}
