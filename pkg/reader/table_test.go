package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleTable = `
[[reader]]
name = "Test Reader"
vendor_id = 0x072F
product_id = 0x90CC
configuration = 1
interface = 0
alternate = 0
bulk_out = 2
bulk_in = 2
interrupt_in = 1

[[reader]]
name = "Identiv uTrust 4700F, interface 0"
vendor_id = 0x04E6
product_id = 0x5720
configuration = 1
interface = 0
bulk_out = 1
bulk_in = 2
`

func TestParseTable(t *testing.T) {
	table, err := ParseTable(sampleTable)
	if err != nil {
		t.Fatalf("ParseTable() error = %v", err)
	}

	want := Table{
		{Name: "Test Reader", VendorID: 0x072F, ProductID: 0x90CC, Configuration: 1, Interface: 0, Alternate: 0, BulkOut: 2, BulkIn: 2, InterruptIn: 1},
		{Name: "Identiv uTrust 4700F, interface 0", VendorID: 0x04E6, ProductID: 0x5720, Configuration: 1, Interface: 0, BulkOut: 1, BulkIn: 2},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Errorf("ParseTable() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"Syntax error", "[[reader]\nname = 1"},
		{"Unknown key", "[[reader]]\nvendor_id = 1\nproduct_id = 2\nconfiguration = 1\nbulk_out = 1\nbulk_in = 2\nendpoint = 3"},
		{"Missing IDs", "[[reader]]\nconfiguration = 1\nbulk_out = 1\nbulk_in = 2"},
		{"Missing endpoints", "[[reader]]\nvendor_id = 1\nproduct_id = 2\nconfiguration = 1"},
		{"Missing configuration", "[[reader]]\nvendor_id = 1\nproduct_id = 2\nbulk_out = 1\nbulk_in = 2"},
		{"Vendor ID overflow", "[[reader]]\nvendor_id = 0x10000\nproduct_id = 2\nconfiguration = 1\nbulk_out = 1\nbulk_in = 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTable(tt.text); err == nil {
				t.Error("ParseTable() succeeded; want error")
			}
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readers.toml")
	if err := os.WriteFile(path, []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if len(table) != 2 {
		t.Errorf("len(table) = %d; want 2", len(table))
	}

	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadTable(missing) succeeded; want error")
	}
}

func TestTable_LookupAndMerge(t *testing.T) {
	custom, err := ParseTable(sampleTable)
	if err != nil {
		t.Fatalf("ParseTable() error = %v", err)
	}
	merged := DefaultTable().Merge(custom)

	if len(merged) != 4 {
		t.Errorf("len(merged) = %d; want 4", len(merged))
	}

	tests := []struct {
		name     string
		id       DeviceID
		wantName string
		wantOK   bool
	}{
		{"Custom entry overrides default", DeviceID{0x04E6, 0x5720}, "Identiv uTrust 4700F, interface 0", true},
		{"Default entry kept", DeviceID{0x1E57, 0x0008}, "BDr-Federal CL-CCID", true},
		{"Custom only", DeviceID{0x072F, 0x90CC}, "Test Reader", true},
		{"Unknown device", DeviceID{0xFFFF, 0x0001}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ok := merged.Lookup(tt.id)
			if ok != tt.wantOK || k.Name != tt.wantName {
				t.Errorf("Lookup(%04X:%04X) = %q, %v; want %q, %v", tt.id.VendorID, tt.id.ProductID, k.Name, ok, tt.wantName, tt.wantOK)
			}
		})
	}
}
