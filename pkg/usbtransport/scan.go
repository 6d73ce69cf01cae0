package usbtransport

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/gregLibert/ccid/pkg/ccid"
	"github.com/gregLibert/ccid/pkg/reader"
)

// Candidate is a connected device exposing at least one interface of a
// class the descriptor parser accepts as CCID.
type Candidate struct {
	ID         reader.DeviceID
	Bus        int
	Address    int
	Interfaces []int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%04X:%04X bus %d address %d interfaces %v",
		c.ID.VendorID, c.ID.ProductID, c.Bus, c.Address, c.Interfaces)
}

// Scan lists connected devices that may be CCID readers. No device is
// opened.
func Scan() ([]Candidate, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var found []Candidate
	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if c, ok := candidate(desc); ok {
			found = append(found, c)
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return found, mapError("scan", err)
	}
	return found, nil
}

func candidate(desc *gousb.DeviceDesc) (Candidate, bool) {
	c := Candidate{
		ID:      reader.DeviceID{VendorID: uint16(desc.Vendor), ProductID: uint16(desc.Product)},
		Bus:     desc.Bus,
		Address: desc.Address,
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if isSmartCardClass(alt.Class) {
					c.Interfaces = append(c.Interfaces, iface.Number)
					break
				}
			}
		}
	}
	return c, len(c.Interfaces) > 0
}

func isSmartCardClass(class gousb.Class) bool {
	switch uint8(class) {
	case ccid.ClassSmartCard, ccid.ClassAppSpecific, ccid.ClassVendorSpecific:
		return true
	}
	return false
}
