// Package tlv renders BER-TLV response data for humans and provides byte
// fixtures for tests.
package tlv

import (
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Describe decodes data as BER-TLV and renders one object per line,
// constructed objects indented under their tag.
func Describe(data []byte) (string, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return "", fmt.Errorf("bertlv decode failed: %w", err)
	}

	var lines []string
	writePackets(&lines, packets, 0)
	return strings.Join(lines, "\n"), nil
}

// DescribeOrHex is Describe falling back to a plain hex dump when data is
// not valid BER-TLV.
func DescribeOrHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if out, err := Describe(data); err == nil {
		return out
	}
	return fmt.Sprintf("%X", data)
}

func writePackets(lines *[]string, packets []bertlv.TLV, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, p := range packets {
		tag := strings.ToUpper(p.Tag)
		if len(p.TLVs) > 0 {
			*lines = append(*lines, fmt.Sprintf("%s%s:", indent, tag))
			writePackets(lines, p.TLVs, depth+1)
			continue
		}
		*lines = append(*lines, fmt.Sprintf("%s%s: %s", indent, tag, formatValue(p.Value)))
	}
}

func formatValue(v []byte) string {
	if isPrintable(v) {
		return fmt.Sprintf("%X (%q)", v, string(v))
	}
	return fmt.Sprintf("%X", v)
}

func isPrintable(v []byte) bool {
	if len(v) < 3 {
		return false
	}
	return MakeSafeASCII(v) == string(v)
}

// MakeSafeASCII replaces non-printable bytes with dots.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
