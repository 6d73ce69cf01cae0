package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/ccid/pkg/tlv"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"04E6", 0x04E6, false},
		{"0x5720", 0x5720, false},
		{" 1e57 ", 0x1E57, false},
		{"10000", 0, true},
		{"", 0, true},
		{"zz", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseID(%q) error = %v; wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseID(%q) = %04X; want %04X", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	got, err := parseHex("00 84 0000\t000008")
	if err != nil {
		t.Fatalf("parseHex() error = %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("00840000000008"), got); diff != "" {
		t.Errorf("parseHex() mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"008", "0G"} {
		if _, err := parseHex(bad); err == nil {
			t.Errorf("parseHex(%q) succeeded; want error", bad)
		}
	}
}

func TestApp_Commands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	want := []string{"list", "descriptors", "status", "wait", "watch", "apdu", "challenge", "relay"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}
