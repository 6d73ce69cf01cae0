package reader

import (
	"fmt"

	"github.com/gregLibert/ccid/pkg/ccid"
)

// EventKind classifies session notifications.
type EventKind int

const (
	// EventICCStatus follows every transceive.
	EventICCStatus EventKind = iota
	// EventDeviceError carries a non-empty decoded bError message.
	EventDeviceError
	// EventPrompt asks the user to act, e.g. insert a card.
	EventPrompt
	// EventWarning reports a tolerated anomaly such as a vendor specific
	// interface class.
	EventWarning
	EventConfigured
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventICCStatus:
		return "icc-status"
	case EventDeviceError:
		return "device-error"
	case EventPrompt:
		return "prompt"
	case EventWarning:
		return "warning"
	case EventConfigured:
		return "configured"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a status notification. ICCStatus is only meaningful for
// EventICCStatus and EventDeviceError.
type Event struct {
	Kind      EventKind
	ICCStatus ccid.ICCStatus
	Message   string
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
