package iso7816

import (
	"fmt"

	"github.com/gregLibert/ccid/pkg/bits"
)

// Status words carrying a value in SW2:
//
//	61XX  process completed, XX bytes available (GET RESPONSE)
//	6CXX  wrong Le, XX is the correct one
//	62XX, 64XX with XX in 02..80  triggering by the card
//	63CX  counter X (remaining tries)

// StatusWord represents the two-byte status response (SW1-SW2) returned by the smart card.
type StatusWord uint16

// NewStatusWord creates a StatusWord instance from two separate bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the first byte (high byte) of the status word.
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the second byte (low byte) of the status word.
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsTriggeringByCard checks if the status indicates a "Triggering by the card" event.
func (sw StatusWord) IsTriggeringByCard() bool {
	sw2 := sw.SW2()
	if sw2 < 0x02 || sw2 > 0x80 {
		return false
	}
	return sw.SW1() == 0x62 || sw.SW1() == 0x64
}

// IsCounter checks for 63CX.
func (sw StatusWord) IsCounter() bool {
	return sw.SW1() == 0x63 && bits.GetRange(sw.SW2(), 8, 5) == 0x0C
}

// IsSuccess returns true for 9000 and 61XX.
func (sw StatusWord) IsSuccess() bool {
	return sw == SW_NO_ERROR || sw.SW1() == 0x61
}

// IsWarning returns true for 62XX and 63XX.
func (sw StatusWord) IsWarning() bool {
	sw1 := sw.SW1()
	return sw1 == 0x62 || sw1 == 0x63
}

// IsError returns true for 64XX through 6FXX.
func (sw StatusWord) IsError() bool {
	sw1 := sw.SW1()
	return sw1 >= 0x64 && sw1 <= 0x6F
}

// Error makes a failing status word usable as an error value.
func (sw StatusWord) Error() string {
	return sw.Verbose()
}

// Verbose returns a human-readable description of the status word.
func (sw StatusWord) Verbose() string {
	sw1 := sw.SW1()
	sw2 := sw.SW2()

	switch {
	case sw.IsTriggeringByCard():
		action := "Warning (Triggering)"
		if sw1 == 0x64 {
			action = "Error/Abort (Triggering)"
		}
		return fmt.Sprintf("%s: Card expects query of %d bytes", action, sw2)
	case sw.IsCounter():
		return fmt.Sprintf("Warning: State changed, counter = %d", bits.GetRange(sw2, 4, 1))
	case sw1 == 0x61:
		n := int(sw2)
		if n == 0 {
			n = MaxShortLe
		}
		return fmt.Sprintf("Process completed, %d bytes available", n)
	case sw1 == 0x6C:
		return fmt.Sprintf("Wrong length, correct Le is %d", sw2)
	}

	if desc, ok := statusDescriptions[sw]; ok {
		return fmt.Sprintf("[%04X] %s", uint16(sw), desc)
	}
	return fmt.Sprintf("[%04X] %s", uint16(sw), sw.genericCategoryDescription())
}

// genericCategoryDescription provides a fallback description based on SW1.
func (sw StatusWord) genericCategoryDescription() string {
	switch sw.SW1() {
	case 0x62:
		return "Warning: NV memory unchanged"
	case 0x63:
		return "Warning: NV memory changed"
	case 0x64:
		return "Execution Error: NV memory unchanged"
	case 0x65:
		return "Execution Error: NV memory changed"
	case 0x66:
		return "Execution Error: Security issue"
	case 0x68:
		return "Checking Error: Function not supported"
	case 0x69:
		return "Checking Error: Command not allowed"
	case 0x6A:
		return "Checking Error: Wrong parameters"
	default:
		return "Unknown Status"
	}
}

// Status words referenced by this module.
const (
	SW_NO_ERROR StatusWord = 0x9000

	SW_WARN_NO_INFO         StatusWord = 0x6200
	SW_WARN_EOF_REACHED     StatusWord = 0x6282
	SW_WARN_NV_CHANGED      StatusWord = 0x6300
	SW_ERR_WRONG_LENGTH     StatusWord = 0x6700
	SW_ERR_SECURITY_STATUS  StatusWord = 0x6982
	SW_ERR_AUTH_BLOCKED     StatusWord = 0x6983
	SW_ERR_COND_OF_USE      StatusWord = 0x6985
	SW_ERR_INCORRECT_DATA   StatusWord = 0x6A80
	SW_ERR_FUNC_NOT_SUPP    StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND   StatusWord = 0x6A82
	SW_ERR_RECORD_NOT_FOUND StatusWord = 0x6A83
	SW_ERR_INCORRECT_P1P2   StatusWord = 0x6A86
	SW_ERR_REF_NOT_FOUND    StatusWord = 0x6A88
	SW_ERR_WRONG_P1P2       StatusWord = 0x6B00
	SW_ERR_INS_INVALID      StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPP     StatusWord = 0x6E00
	SW_ERR_UNKNOWN          StatusWord = 0x6F00
)

var statusDescriptions = map[StatusWord]string{
	SW_NO_ERROR:             "Success",
	SW_WARN_NO_INFO:         "Warning: NV memory unchanged, no information",
	SW_WARN_EOF_REACHED:     "Warning: End of file or record reached",
	SW_WARN_NV_CHANGED:      "Warning: NV memory changed, no information",
	SW_ERR_WRONG_LENGTH:     "Wrong length",
	SW_ERR_SECURITY_STATUS:  "Security status not satisfied",
	SW_ERR_AUTH_BLOCKED:     "Authentication method blocked",
	SW_ERR_COND_OF_USE:      "Conditions of use not satisfied",
	SW_ERR_INCORRECT_DATA:   "Incorrect parameters in the data field",
	SW_ERR_FUNC_NOT_SUPP:    "Function not supported",
	SW_ERR_FILE_NOT_FOUND:   "File or application not found",
	SW_ERR_RECORD_NOT_FOUND: "Record not found",
	SW_ERR_INCORRECT_P1P2:   "Incorrect parameters P1-P2",
	SW_ERR_REF_NOT_FOUND:    "Referenced data not found",
	SW_ERR_WRONG_P1P2:       "Wrong parameters P1-P2",
	SW_ERR_INS_INVALID:      "Instruction code not supported or invalid",
	SW_ERR_CLA_NOT_SUPP:     "Class not supported",
	SW_ERR_UNKNOWN:          "No precise diagnosis",
}
