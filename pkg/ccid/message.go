/*
Package ccid implements the USB CCID (Chip/Smart Card Interface Device)
message layer: bulk message framing with a sequence counter, response
parsing, slot status decoding and configuration descriptor parsing.

The package does no I/O. A reader session feeds it the bytes exchanged with
the device.

# Message framing

Every bulk message starts with a 10-byte header:

	offset 0     bMessageType
	offset 1..4  dwLength (little endian), length of the data that follows
	offset 5     bSlot (always 0, single slot readers only)
	offset 6     bSeq
	offset 7..9  message specific bytes

On responses, offsets 7 and 8 carry bStatus and bError.
*/
package ccid

import (
	"fmt"
	"sync"

	"github.com/gregLibert/ccid/pkg/bits"
)

// HeaderLen is the size of the CCID bulk message header.
const HeaderLen = 10

// Header byte offsets.
const (
	offType   = 0
	offLength = 1
	offSlot   = 5
	offSeq    = 6
	offStatus = 7
	offError  = 8
	offParam  = 9
)

// MessageType is the bMessageType byte of a CCID message.
type MessageType byte

// PC to reader, bulk OUT.
const (
	PCToRDRIccPowerOn                   MessageType = 0x62
	PCToRDRIccPowerOff                  MessageType = 0x63
	PCToRDRGetSlotStatus                MessageType = 0x65
	PCToRDRXfrBlock                     MessageType = 0x6F
	PCToRDRGetParameters                MessageType = 0x6C
	PCToRDRResetParameters              MessageType = 0x6D
	PCToRDRSetParameters                MessageType = 0x61
	PCToRDREscape                       MessageType = 0x6B
	PCToRDRIccClock                     MessageType = 0x6E
	PCToRDRT0APDU                       MessageType = 0x6A
	PCToRDRSecure                       MessageType = 0x69
	PCToRDRMechanical                   MessageType = 0x71
	PCToRDRAbort                        MessageType = 0x72
	PCToRDRSetDataRateAndClockFrequency MessageType = 0x73
)

// Reader to PC, bulk IN.
const (
	RDRToPCDataBlock                 MessageType = 0x80
	RDRToPCSlotStatus                MessageType = 0x81
	RDRToPCParameters                MessageType = 0x82
	RDRToPCEscape                    MessageType = 0x83
	RDRToPCDataRateAndClockFrequency MessageType = 0x84
)

// Reader to PC, interrupt IN.
const (
	RDRToPCNotifySlotChange MessageType = 0x50
	RDRToPCHardwareError    MessageType = 0x51
)

var messageNames = map[MessageType]string{
	PCToRDRIccPowerOn:                   "PC_to_RDR_IccPowerOn",
	PCToRDRIccPowerOff:                  "PC_to_RDR_IccPowerOff",
	PCToRDRGetSlotStatus:                "PC_to_RDR_GetSlotStatus",
	PCToRDRXfrBlock:                     "PC_to_RDR_XfrBlock",
	PCToRDRGetParameters:                "PC_to_RDR_GetParameters",
	PCToRDRResetParameters:              "PC_to_RDR_ResetParameters",
	PCToRDRSetParameters:                "PC_to_RDR_SetParameters",
	PCToRDREscape:                       "PC_to_RDR_Escape",
	PCToRDRIccClock:                     "PC_to_RDR_IccClock",
	PCToRDRT0APDU:                       "PC_to_RDR_T0APDU",
	PCToRDRSecure:                       "PC_to_RDR_Secure",
	PCToRDRMechanical:                   "PC_to_RDR_Mechanical",
	PCToRDRAbort:                        "PC_to_RDR_Abort",
	PCToRDRSetDataRateAndClockFrequency: "PC_to_RDR_SetDataRateAndClockFrequency",
	RDRToPCDataBlock:                    "RDR_to_PC_DataBlock",
	RDRToPCSlotStatus:                   "RDR_to_PC_SlotStatus",
	RDRToPCParameters:                   "RDR_to_PC_Parameters",
	RDRToPCEscape:                       "RDR_to_PC_Escape",
	RDRToPCDataRateAndClockFrequency:    "RDR_to_PC_DataRateAndClockFrequency",
	RDRToPCNotifySlotChange:             "RDR_to_PC_NotifySlotChange",
	RDRToPCHardwareError:                "RDR_to_PC_HardwareError",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%02X)", byte(t))
}

// Codec builds outgoing CCID messages. It owns the bSeq counter: every
// message it builds consumes the next value, wrapping from 255 to 0.
// A Codec is safe for concurrent use.
type Codec struct {
	mu  sync.Mutex
	seq uint8
}

// NewCodec returns a codec whose first message carries sequence 0.
func NewCodec() *Codec {
	return &Codec{}
}

// Sequence returns the value the next message will carry.
func (c *Codec) Sequence() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Codec) next() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.seq
	c.seq++
	return s
}

// Build frames payload behind a CCID header. header holds the three message
// specific bytes and may be nil, in which case they are zero.
func (c *Codec) Build(t MessageType, header *[3]byte, payload []byte) ([]byte, error) {
	length, err := bits.Encode(int64(len(payload)), 4, bits.LittleEndian)
	if err != nil {
		return nil, invalidArgumentf("%s payload: %v", t, err)
	}

	msg := make([]byte, HeaderLen, HeaderLen+len(payload))
	msg[offType] = byte(t)
	copy(msg[offLength:offSlot], length)
	msg[offSlot] = 0
	msg[offSeq] = c.next()
	if header != nil {
		copy(msg[offStatus:HeaderLen], header[:])
	}
	return append(msg, payload...), nil
}

// HeaderOf returns the message type, slot and sequence of a raw message.
func HeaderOf(raw []byte) (t MessageType, slot, seq uint8, err error) {
	if len(raw) < HeaderLen {
		return 0, 0, 0, protocolErrorf("message of %d bytes is shorter than the %d byte header", len(raw), HeaderLen)
	}
	return MessageType(raw[offType]), raw[offSlot], raw[offSeq], nil
}

// Validate checks that msg is a well formed bulk message: a full header
// whose dwLength matches the data that follows.
func Validate(msg []byte) error {
	if len(msg) < HeaderLen {
		return invalidArgumentf("message of %d bytes is shorter than the %d byte header", len(msg), HeaderLen)
	}
	if n := bits.Uint32LE(msg, offLength); int64(n) != int64(len(msg)-HeaderLen) {
		return invalidArgumentf("dwLength %d does not match %d data bytes", n, len(msg)-HeaderLen)
	}
	return nil
}
