package ccid

// SlotChange is a decoded RDR_to_PC_NotifySlotChange. Each slot owns two
// bits of the bitmap: bit 2n is the current presence, bit 2n+1 is set when
// the presence changed since the last notification.
type SlotChange struct {
	Bitmap []byte
}

// Present reports whether a card sits in slot.
func (s SlotChange) Present(slot int) bool {
	return s.bit(2 * slot)
}

// Changed reports whether the presence of slot changed.
func (s SlotChange) Changed(slot int) bool {
	return s.bit(2*slot + 1)
}

func (s SlotChange) bit(n int) bool {
	if n < 0 || n/8 >= len(s.Bitmap) {
		return false
	}
	return s.Bitmap[n/8]&(1<<(n%8)) != 0
}

// HardwareError is a decoded RDR_to_PC_HardwareError.
type HardwareError struct {
	Slot uint8
	Seq  uint8
	Code byte
}

// Hardware error codes.
const (
	HardwareErrorOvercurrent byte = 0x01
)

// Interrupt is one message read from the interrupt IN endpoint. Exactly
// one of SlotChange and HardwareError is set, according to Type.
type Interrupt struct {
	Type          MessageType
	SlotChange    *SlotChange
	HardwareError *HardwareError
}

// ParseInterrupt decodes a message from the interrupt IN endpoint.
func ParseInterrupt(raw []byte) (*Interrupt, error) {
	if len(raw) == 0 {
		return nil, protocolErrorf("empty interrupt message")
	}

	t := MessageType(raw[0])
	switch t {
	case RDRToPCNotifySlotChange:
		if len(raw) < 2 {
			return nil, protocolErrorf("%s without slot bitmap", t)
		}
		bitmap := make([]byte, len(raw)-1)
		copy(bitmap, raw[1:])
		return &Interrupt{Type: t, SlotChange: &SlotChange{Bitmap: bitmap}}, nil
	case RDRToPCHardwareError:
		if len(raw) < 4 {
			return nil, protocolErrorf("%s of %d bytes, want 4", t, len(raw))
		}
		return &Interrupt{Type: t, HardwareError: &HardwareError{Slot: raw[1], Seq: raw[2], Code: raw[3]}}, nil
	default:
		return nil, protocolErrorf("unexpected %s on interrupt endpoint", t)
	}
}
