package ccid

import (
	"github.com/gregLibert/ccid/pkg/bits"
)

// PowerSelect is the bPowerSelect byte of PC_to_RDR_IccPowerOn.
type PowerSelect byte

const (
	PowerAutomatic PowerSelect = 0x00
	Power5V        PowerSelect = 0x01
	Power3V        PowerSelect = 0x02
	Power1V8       PowerSelect = 0x03
)

// ClockCommand is the bClockCommand byte of PC_to_RDR_IccClock.
type ClockCommand byte

const (
	ClockRestart ClockCommand = 0x00
	ClockStop    ClockCommand = 0x01
)

// MechanicalFunction is the bFunction byte of PC_to_RDR_Mechanical.
type MechanicalFunction byte

const (
	MechanicalAcceptCard  MechanicalFunction = 0x01
	MechanicalEjectCard   MechanicalFunction = 0x02
	MechanicalCaptureCard MechanicalFunction = 0x03
	MechanicalLockCard    MechanicalFunction = 0x04
	MechanicalUnlockCard  MechanicalFunction = 0x05
)

// Protocol numbers used by the parameter messages.
const (
	ProtocolT0 byte = 0x00
	ProtocolT1 byte = 0x01
)

// IccPowerOn activates the card. The reader answers with a DataBlock
// carrying the ATR.
func (c *Codec) IccPowerOn(power PowerSelect) ([]byte, error) {
	return c.Build(PCToRDRIccPowerOn, &[3]byte{byte(power), 0, 0}, nil)
}

// IccPowerOff deactivates the card.
func (c *Codec) IccPowerOff() ([]byte, error) {
	return c.Build(PCToRDRIccPowerOff, nil, nil)
}

// GetSlotStatus asks for the slot status without touching the card.
func (c *Codec) GetSlotStatus() ([]byte, error) {
	return c.Build(PCToRDRGetSlotStatus, nil, nil)
}

// XfrBlock carries a command APDU (or TPDU) to the card.
// bwi extends the block waiting time, levelParameter drives chaining and is
// zero for a single block exchange.
func (c *Codec) XfrBlock(bwi byte, levelParameter uint16, data []byte) ([]byte, error) {
	return c.Build(PCToRDRXfrBlock, levelHeader(bwi, levelParameter), data)
}

func (c *Codec) GetParameters() ([]byte, error) {
	return c.Build(PCToRDRGetParameters, nil, nil)
}

func (c *Codec) ResetParameters() ([]byte, error) {
	return c.Build(PCToRDRResetParameters, nil, nil)
}

// SetParameters sends the protocol data structure for protocol (T=0 or T=1).
func (c *Codec) SetParameters(protocol byte, data []byte) ([]byte, error) {
	if protocol != ProtocolT0 && protocol != ProtocolT1 {
		return nil, invalidArgumentf("protocol T=%d", protocol)
	}
	return c.Build(PCToRDRSetParameters, &[3]byte{protocol, 0, 0}, data)
}

// Escape passes vendor specific data to the reader.
func (c *Codec) Escape(data []byte) ([]byte, error) {
	return c.Build(PCToRDREscape, nil, data)
}

// IccClock restarts or stops the card clock.
func (c *Codec) IccClock(cmd ClockCommand) ([]byte, error) {
	return c.Build(PCToRDRIccClock, &[3]byte{byte(cmd), 0, 0}, nil)
}

// T0APDU changes the class bytes the reader uses for automatic GET RESPONSE
// and ENVELOPE handling. changes selects which of the two values apply.
func (c *Codec) T0APDU(changes, classGetResponse, classEnvelope byte) ([]byte, error) {
	return c.Build(PCToRDRT0APDU, &[3]byte{changes, classGetResponse, classEnvelope}, nil)
}

// Secure runs a PIN verification or modification on the reader.
func (c *Codec) Secure(bwi byte, levelParameter uint16, data []byte) ([]byte, error) {
	return c.Build(PCToRDRSecure, levelHeader(bwi, levelParameter), data)
}

func (c *Codec) Mechanical(fn MechanicalFunction) ([]byte, error) {
	return c.Build(PCToRDRMechanical, &[3]byte{byte(fn), 0, 0}, nil)
}

// Abort is the bulk half of the abort sequence; the control request must
// be sent first with the same slot and sequence.
func (c *Codec) Abort() ([]byte, error) {
	return c.Build(PCToRDRAbort, nil, nil)
}

// SetDataRateAndClockFrequency requests a card clock in kHz and data rate in bps.
func (c *Codec) SetDataRateAndClockFrequency(clockFrequency, dataRate uint32) ([]byte, error) {
	payload := make([]byte, 0, 8)
	payload = append(payload, bits.MustEncode(int64(clockFrequency), 4, bits.LittleEndian)...)
	payload = append(payload, bits.MustEncode(int64(dataRate), 4, bits.LittleEndian)...)
	return c.Build(PCToRDRSetDataRateAndClockFrequency, nil, payload)
}

func levelHeader(bwi byte, levelParameter uint16) *[3]byte {
	level := bits.MustEncode(int64(levelParameter), 2, bits.LittleEndian)
	return &[3]byte{bwi, level[0], level[1]}
}
