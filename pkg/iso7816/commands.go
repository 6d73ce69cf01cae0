package iso7816

import "fmt"

// Interindustry instruction bytes used by this module.
const (
	InsSelect          byte = 0xA4
	InsGetChallenge    byte = 0x84
	InsGetResponse     byte = 0xC0
	InsGetData         byte = 0xCA
	InsReadBinary      byte = 0xB0
	InsReadRecord      byte = 0xB2
	InsVerify          byte = 0x20
	InsInternalAuth    byte = 0x88
	InsExternalAuth    byte = 0x82
	InsManageSecEnv    byte = 0x22
	InsGeneralAuth     byte = 0x86
	InsPerformSecurity byte = 0x2A
)

var instructionNames = map[byte]string{
	InsSelect:          "SELECT",
	InsGetChallenge:    "GET CHALLENGE",
	InsGetResponse:     "GET RESPONSE",
	InsGetData:         "GET DATA",
	InsReadBinary:      "READ BINARY",
	InsReadRecord:      "READ RECORD",
	InsVerify:          "VERIFY",
	InsInternalAuth:    "INTERNAL AUTHENTICATE",
	InsExternalAuth:    "EXTERNAL AUTHENTICATE",
	InsManageSecEnv:    "MANAGE SECURITY ENVIRONMENT",
	InsGeneralAuth:     "GENERAL AUTHENTICATE",
	InsPerformSecurity: "PERFORM SECURITY OPERATION",
}

// InstructionName returns the mnemonic of ins, or its hex value.
func InstructionName(ins byte) string {
	if name, ok := instructionNames[ins]; ok {
		return name
	}
	return fmt.Sprintf("INS %02X", ins)
}

// GetChallenge asks the card for n random bytes.
func GetChallenge(n int) *CommandAPDU {
	return NewCommandAPDU(0x00, InsGetChallenge, 0x00, 0x00, nil, n)
}

// SelectByAID selects an application by DF name, requesting the FCI.
func SelectByAID(aid []byte) *CommandAPDU {
	return NewCommandAPDU(0x00, InsSelect, 0x04, 0x00, aid, MaxShortLe)
}

// GetResponse retrieves ne pending response bytes on the logical channel of cla.
func GetResponse(cla byte, ne int) *CommandAPDU {
	// Chaining bit (b5) never applies to GET RESPONSE.
	return NewCommandAPDU(cla&^0x10, InsGetResponse, 0x00, 0x00, nil, ne)
}

// MaxShortLe is the largest Ne signalled by a one-byte SW2 (00 means 256).
const MaxShortLe = 256
