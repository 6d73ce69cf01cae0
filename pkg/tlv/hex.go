package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

var hexSeparators = strings.NewReplacer(":", "", "-", "")

// Hex decodes the concatenation of parts. Whitespace, colons and dashes are
// ignored so fixtures can follow the layout of the bytes they describe:
//
//	Hex("62 05000000 00 07 000000", "3B8F8001")
//
// It panics on malformed input and is meant for tests and constants.
func Hex(parts ...string) []byte {
	clean := hexSeparators.Replace(strings.Join(strings.Fields(strings.Join(parts, " ")), ""))

	data, err := hex.DecodeString(clean)
	if err != nil {
		panic(fmt.Sprintf("tlv.Hex(%q): %v", clean, err))
	}
	return data
}
