package reader

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// KnownReader is a preset configuration for one reader model.
type KnownReader struct {
	Name          string `toml:"name"`
	VendorID      uint16 `toml:"vendor_id"`
	ProductID     uint16 `toml:"product_id"`
	Configuration int    `toml:"configuration"`
	Interface     int    `toml:"interface"`
	Alternate     int    `toml:"alternate"`
	BulkOut       int    `toml:"bulk_out"`
	BulkIn        int    `toml:"bulk_in"`
	InterruptIn   int    `toml:"interrupt_in"`
}

// Table is an ordered list of known readers. The first match wins.
type Table []KnownReader

// Lookup finds the entry for a vendor and product ID.
func (t Table) Lookup(id DeviceID) (KnownReader, bool) {
	for _, k := range t {
		if k.VendorID == id.VendorID && k.ProductID == id.ProductID {
			return k, true
		}
	}
	return KnownReader{}, false
}

// Merge returns t with the entries of other added in front, so they take
// precedence for the same device.
func (t Table) Merge(other Table) Table {
	out := make(Table, 0, len(t)+len(other))
	out = append(out, other...)
	for _, k := range t {
		if _, dup := other.Lookup(DeviceID{k.VendorID, k.ProductID}); !dup {
			out = append(out, k)
		}
	}
	return out
}

// DefaultTable lists the readers known to work out of the box.
func DefaultTable() Table {
	return Table{
		{Name: "Identiv uTrust 4700F CCID Reader", VendorID: 0x04E6, ProductID: 0x5720, Configuration: 1, Interface: 1, Alternate: 0, BulkOut: 1, BulkIn: 2},
		{Name: "Identiv CLOUD 3700F Contactless Reader", VendorID: 0x04E6, ProductID: 0x5790, Configuration: 1, Interface: 0, Alternate: 0, BulkOut: 1, BulkIn: 2},
		{Name: "BDr-Federal CL-CCID", VendorID: 0x1E57, ProductID: 0x0008, Configuration: 1, Interface: 0, Alternate: 0, BulkOut: 2, BulkIn: 2},
	}
}

type tableFile struct {
	Readers []KnownReader `toml:"reader"`
}

// ParseTable reads a TOML document of [[reader]] entries:
//
//	[[reader]]
//	name = "Identiv uTrust 4700F"
//	vendor_id = 0x04E6
//	product_id = 0x5720
//	configuration = 1
//	interface = 1
//	bulk_out = 1
//	bulk_in = 2
func ParseTable(text string) (Table, error) {
	var f tableFile
	md, err := toml.Decode(text, &f)
	if err != nil {
		return nil, fmt.Errorf("reader table: %w", err)
	}
	return checkTable(md, f)
}

// LoadTable reads a reader table from a TOML file.
func LoadTable(path string) (Table, error) {
	var f tableFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("reader table %s: %w", path, err)
	}
	return checkTable(md, f)
}

func checkTable(md toml.MetaData, f tableFile) (Table, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("reader table: unknown keys %s", strings.Join(keys, ", "))
	}

	for i, k := range f.Readers {
		switch {
		case k.VendorID == 0 && k.ProductID == 0:
			return nil, fmt.Errorf("reader table: entry %d has no vendor_id/product_id", i)
		case k.BulkOut <= 0 || k.BulkIn <= 0:
			return nil, fmt.Errorf("reader table: entry %d (%04X:%04X) needs bulk_out and bulk_in", i, k.VendorID, k.ProductID)
		case k.Configuration <= 0:
			return nil, fmt.Errorf("reader table: entry %d (%04X:%04X) needs a configuration value", i, k.VendorID, k.ProductID)
		}
	}
	return Table(f.Readers), nil
}
