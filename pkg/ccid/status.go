package ccid

import (
	"fmt"

	"github.com/gregLibert/ccid/pkg/bits"
)

// ICCStatus is bmICCStatus, bits 2-1 of bStatus.
type ICCStatus uint8

const (
	ICCPresentActive   ICCStatus = 0
	ICCPresentInactive ICCStatus = 1
	ICCAbsent          ICCStatus = 2
)

func (s ICCStatus) String() string {
	switch s {
	case ICCPresentActive:
		return "An ICC is present and active (power is on and stable, RST is inactive)"
	case ICCPresentInactive:
		return "An ICC is present and inactive (not activated or shut down by hardware error)"
	case ICCAbsent:
		return "No ICC is present"
	default:
		return "RFU"
	}
}

// Present reports whether a card sits in the slot.
func (s ICCStatus) Present() bool {
	return s == ICCPresentActive || s == ICCPresentInactive
}

// CommandStatus is bmCommandStatus, bits 8-7 of bStatus.
type CommandStatus uint8

const (
	CommandProcessed     CommandStatus = 0
	CommandFailed        CommandStatus = 1
	CommandTimeExtension CommandStatus = 2
)

func (s CommandStatus) String() string {
	switch s {
	case CommandProcessed:
		return "processed without error"
	case CommandFailed:
		return "failed"
	case CommandTimeExtension:
		return "time extension requested"
	default:
		return "RFU"
	}
}

// SlotError is the bError byte of a failed command.
type SlotError byte

const (
	ErrCmdAborted              SlotError = 0xFF
	ErrICCMute                 SlotError = 0xFE
	ErrXfrParityError          SlotError = 0xFD
	ErrXfrOverrun              SlotError = 0xFC
	ErrHWError                 SlotError = 0xFB
	ErrBadATRTS                SlotError = 0xF8
	ErrBadATRTCK               SlotError = 0xF7
	ErrICCProtocolNotSupported SlotError = 0xF6
	ErrICCClassNotSupported    SlotError = 0xF5
	ErrProcedureByteConflict   SlotError = 0xF4
	ErrDeactivatedProtocol     SlotError = 0xF3
	ErrBusyWithAutoSequence    SlotError = 0xF2
	ErrPINTimeout              SlotError = 0xF0
	ErrPINCancelled            SlotError = 0xEF
	ErrCmdSlotBusy             SlotError = 0xE0
	ErrCmdNotSupported         SlotError = 0x00

	// A bError between 0x01 and 0x7F is the offset of the rejected header
	// byte; 5 is bSlot.
	errBadSlot SlotError = 0x05
)

var slotErrorNames = map[SlotError]string{
	ErrCmdAborted:              "CMD_ABORTED",
	ErrICCMute:                 "ICC_MUTE",
	ErrXfrParityError:          "XFR_PARITY_ERROR",
	ErrXfrOverrun:              "XFR_OVERRUN",
	ErrHWError:                 "HW_ERROR",
	ErrBadATRTS:                "BAD_ATR_TS",
	ErrBadATRTCK:               "BAD_ATR_TCK",
	ErrICCProtocolNotSupported: "ICC_PROTOCOL_NOT_SUPPORTED",
	ErrICCClassNotSupported:    "ICC_CLASS_NOT_SUPPORTED",
	ErrProcedureByteConflict:   "PROCEDURE_BYTE_CONFLICT",
	ErrDeactivatedProtocol:     "DEACTIVATED_PROTOCOL",
	ErrBusyWithAutoSequence:    "BUSY_WITH_AUTO_SEQUENCE",
	ErrPINTimeout:              "PIN_TIMEOUT",
	ErrPINCancelled:            "PIN_CANCELLED",
	ErrCmdSlotBusy:             "CMD_SLOT_BUSY",
	ErrCmdNotSupported:         "command not supported",
}

// Error returns the generic name of the error code.
func (e SlotError) Error() string {
	if name, ok := slotErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("unknown error 0x%02X", byte(e))
}

// Outcome is the decoded status of a response.
type Outcome struct {
	ICCStatus     ICCStatus
	CommandStatus CommandStatus
	// ErrorKind is set when CommandStatus is CommandFailed.
	ErrorKind *SlotError
	// ErrorMessage is empty unless the command failed and the failure is
	// worth reporting. CMD_SLOT_BUSY never produces a message.
	ErrorMessage string
}

// Failed reports whether the reader flagged the command as failed.
func (o Outcome) Failed() bool {
	return o.CommandStatus == CommandFailed
}

// Check validates response against the message it answers and decodes its
// status. A response shorter than the header is a protocol error, a slot or
// sequence mismatch a correlation error. A nil original skips correlation.
// Device reported failures are data, found in the returned Outcome.
func Check(response, original []byte) (Outcome, error) {
	if len(response) < HeaderLen {
		return Outcome{}, protocolErrorf("response of %d bytes is shorter than the %d byte header", len(response), HeaderLen)
	}
	if original == nil {
		return DecodeStatus(response[offStatus], response[offError]), nil
	}
	if len(original) < HeaderLen {
		return Outcome{}, invalidArgumentf("request of %d bytes is shorter than the %d byte header", len(original), HeaderLen)
	}
	if response[offSlot] != original[offSlot] || response[offSeq] != original[offSeq] {
		return Outcome{}, fmt.Errorf("%w: slot %d seq %d answers slot %d seq %d", ErrCorrelation,
			response[offSlot], response[offSeq], original[offSlot], original[offSeq])
	}

	return DecodeStatus(response[offStatus], response[offError]), nil
}

// DecodeStatus interprets a bStatus / bError pair.
func DecodeStatus(status, errCode byte) Outcome {
	out := Outcome{
		ICCStatus:     ICCStatus(bits.GetRange(status, 2, 1)),
		CommandStatus: CommandStatus(bits.GetRange(status, 8, 7)),
	}
	if out.CommandStatus != CommandFailed {
		return out
	}

	kind := SlotError(errCode)
	out.ErrorKind = &kind
	out.ErrorMessage = errorMessage(out.ICCStatus, kind)
	return out
}

func errorMessage(icc ICCStatus, kind SlotError) string {
	switch {
	case kind == ErrCmdSlotBusy:
		return ""
	case icc == ICCAbsent && kind == errBadSlot:
		return "slot does not exist"
	case icc == ICCAbsent && kind == ErrICCMute:
		return "no ICC present"
	case icc == ICCPresentInactive && kind == ErrHWError:
		return "hardware error"
	case icc == ICCPresentActive && kind == ErrCmdNotSupported:
		return "command not supported"
	}
	return kind.Error()
}
