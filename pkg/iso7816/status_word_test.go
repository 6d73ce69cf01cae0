package iso7816

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStatusWord(t *testing.T) {
	type class struct{ success, warning, err, triggering, counter bool }

	tests := []struct {
		sw      StatusWord
		want    class
		verbose string
	}{
		{SW_NO_ERROR, class{success: true}, "[9000] Success"},
		{NewStatusWord(0x61, 0x08), class{success: true}, "8 bytes available"},
		{NewStatusWord(0x61, 0x00), class{success: true}, "256 bytes available"},
		{SW_WARN_EOF_REACHED, class{warning: true, triggering: false}, "End of file or record reached"},
		{NewStatusWord(0x62, 0x02), class{warning: true, triggering: true}, "Card expects query of 2 bytes"},
		{NewStatusWord(0x62, 0x81), class{warning: true}, "Warning: NV memory unchanged"},
		{NewStatusWord(0x63, 0xC2), class{warning: true, counter: true}, "counter = 2"},
		{NewStatusWord(0x63, 0x81), class{warning: true}, "Warning: NV memory changed"},
		{NewStatusWord(0x64, 0x10), class{err: true, triggering: true}, "Error/Abort (Triggering): Card expects query of 16 bytes"},
		{NewStatusWord(0x6C, 0x05), class{err: true}, "correct Le is 5"},
		{SW_ERR_FILE_NOT_FOUND, class{err: true}, "[6A82] File or application not found"},
		{SW_ERR_INS_INVALID, class{err: true}, "[6D00] Instruction code not supported or invalid"},
		{NewStatusWord(0x69, 0x99), class{err: true}, "[6999] Checking Error: Command not allowed"},
		{NewStatusWord(0x90, 0x01), class{}, "[9001] Unknown Status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%04X", uint16(tt.sw)), func(t *testing.T) {
			got := class{
				success:    tt.sw.IsSuccess(),
				warning:    tt.sw.IsWarning(),
				err:        tt.sw.IsError(),
				triggering: tt.sw.IsTriggeringByCard(),
				counter:    tt.sw.IsCounter(),
			}
			if got != tt.want {
				t.Errorf("classification = %+v; want %+v", got, tt.want)
			}
			if v := tt.sw.Verbose(); !strings.Contains(v, tt.verbose) {
				t.Errorf("Verbose() = %q; want containing %q", v, tt.verbose)
			}
		})
	}
}

func TestStatusWord_SW1SW2(t *testing.T) {
	sw := NewStatusWord(0x6A, 0x82)
	if sw != SW_ERR_FILE_NOT_FOUND {
		t.Errorf("NewStatusWord(6A, 82) = %04X; want 6A82", uint16(sw))
	}
	if sw.SW1() != 0x6A || sw.SW2() != 0x82 {
		t.Errorf("SW1, SW2 = %02X, %02X; want 6A, 82", sw.SW1(), sw.SW2())
	}
}

func TestStatusWord_AsError(t *testing.T) {
	err := fmt.Errorf("select failed: %w", SW_ERR_FILE_NOT_FOUND)

	var sw StatusWord
	if !errors.As(err, &sw) || sw != SW_ERR_FILE_NOT_FOUND {
		t.Errorf("errors.As() = %04X; want 6A82", uint16(sw))
	}
	if !errors.Is(err, SW_ERR_FILE_NOT_FOUND) {
		t.Error("errors.Is(err, SW_ERR_FILE_NOT_FOUND) = false")
	}
	if !strings.Contains(err.Error(), "File or application not found") {
		t.Errorf("Error() = %q", err.Error())
	}
}
