package reader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gregLibert/ccid/pkg/bits"
	"github.com/gregLibert/ccid/pkg/ccid"
)

// responder answers one bulk OUT message on the claimed interface with one
// or more bulk IN messages.
type responder func(iface int, msg []byte) [][]byte

// mockTransport implements Transport for testing
type mockTransport struct {
	mu         sync.Mutex
	id         DeviceID
	descriptor []byte
	respond    responder
	errors     map[string]error
	interrupts chan []byte
	blockIn    bool

	iface   int
	pending [][]byte
	calls   []string
	sent    [][]byte
	closed  bool
}

// newMockTransport creates a mock reader exposing the given descriptor.
// Every command is answered with an empty message of the matching response
// type, ICC present and active.
func newMockTransport(descriptor []byte) *mockTransport {
	return &mockTransport{
		id:         DeviceID{VendorID: 0x1234, ProductID: 0x5678},
		descriptor: descriptor,
		respond:    cardPresent,
		errors:     make(map[string]error),
		interrupts: make(chan []byte, 8),
	}
}

// WithDeviceID sets the vendor and product ID
func (m *mockTransport) WithDeviceID(vid, pid uint16) *mockTransport {
	m.id = DeviceID{VendorID: vid, ProductID: pid}
	return m
}

// WithResponder replaces the bulk responder
func (m *mockTransport) WithResponder(r responder) *mockTransport {
	m.respond = r
	return m
}

// WithError makes the named operation fail
func (m *mockTransport) WithError(op string, err error) *mockTransport {
	m.errors[op] = err
	return m
}

// WithBlockingIn makes BulkTransferIn wait for cancellation
func (m *mockTransport) WithBlockingIn() *mockTransport {
	m.blockIn = true
	return m
}

func (m *mockTransport) record(op string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := op
	if len(args) > 0 {
		call = op + " " + strings.TrimSpace(fmt.Sprintln(args...))
	}
	m.calls = append(m.calls, call)
	return m.errors[op]
}

func (m *mockTransport) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

func (m *mockTransport) Open(ctx context.Context) error {
	return m.record("open")
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.record("close")
}

func (m *mockTransport) DeviceID() DeviceID {
	return m.id
}

func (m *mockTransport) SelectConfiguration(ctx context.Context, value int) error {
	return m.record("config", value)
}

func (m *mockTransport) ClaimInterface(ctx context.Context, number int) error {
	if err := m.record("claim", number); err != nil {
		return err
	}
	m.mu.Lock()
	m.iface = number
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) SelectAlternateInterface(ctx context.Context, number, alternate int) error {
	return m.record("alt", number, alternate)
}

func (m *mockTransport) Reset(ctx context.Context) error {
	return m.record("reset")
}

func (m *mockTransport) ControlTransferIn(ctx context.Context, setup ControlSetup, maxLength int) ([]byte, error) {
	if err := m.record("control", setup.RequestType, setup.Request, setup.Value, setup.Index, maxLength); err != nil {
		return nil, err
	}
	return m.descriptor, nil
}

func (m *mockTransport) BulkTransferOut(ctx context.Context, endpoint int, data []byte) error {
	if err := m.record("out", endpoint); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), data...))
	m.pending = append(m.pending, m.respond(m.iface, data)...)
	return nil
}

func (m *mockTransport) BulkTransferIn(ctx context.Context, endpoint int, maxLength int) ([]byte, error) {
	if err := m.record("in", endpoint); err != nil {
		return nil, err
	}
	if m.blockIn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, fmt.Errorf("no response queued")
	}
	resp := m.pending[0]
	m.pending = m.pending[1:]
	if len(resp) > maxLength {
		resp = resp[:maxLength]
	}
	return resp, nil
}

func (m *mockTransport) InterruptTransferIn(ctx context.Context, endpoint int, maxLength int) ([]byte, error) {
	select {
	case raw := <-m.interrupts:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reply builds the response a reader sends back for msg.
func reply(msg []byte, status, errCode, param byte, data []byte) []byte {
	var t ccid.MessageType
	switch ccid.MessageType(msg[0]) {
	case ccid.PCToRDRIccPowerOn, ccid.PCToRDRXfrBlock, ccid.PCToRDRSecure:
		t = ccid.RDRToPCDataBlock
	case ccid.PCToRDRGetParameters, ccid.PCToRDRResetParameters, ccid.PCToRDRSetParameters:
		t = ccid.RDRToPCParameters
	case ccid.PCToRDREscape:
		t = ccid.RDRToPCEscape
	case ccid.PCToRDRSetDataRateAndClockFrequency:
		t = ccid.RDRToPCDataRateAndClockFrequency
	default:
		t = ccid.RDRToPCSlotStatus
	}
	out := []byte{byte(t)}
	out = append(out, bits.MustEncode(int64(len(data)), 4, bits.LittleEndian)...)
	out = append(out, msg[5], msg[6], status, errCode, param)
	return append(out, data...)
}

func cardPresent(_ int, msg []byte) [][]byte {
	return [][]byte{reply(msg, 0x00, 0x00, 0x00, nil)}
}

func cardAbsent(_ int, msg []byte) [][]byte {
	return [][]byte{reply(msg, 0x42, 0xFE, 0x00, nil)}
}

// Descriptor fixtures.

type ifaceFixture struct {
	number, alternate, class byte
	endpoints                [][]byte
}

func endpoint(addr, attr byte) []byte {
	return []byte{7, ccid.DescriptorTypeEndpoint, addr, attr, 0x40, 0x00, 0x10}
}

func standardEndpoints() [][]byte {
	return [][]byte{endpoint(0x01, 0x02), endpoint(0x82, 0x02), endpoint(0x83, 0x03)}
}

const testMaxMessage = 271

func configDescriptor(ifaces ...ifaceFixture) []byte {
	var body []byte
	for _, f := range ifaces {
		body = append(body, 9, ccid.DescriptorTypeInterface, f.number, f.alternate, byte(len(f.endpoints)), f.class, 0, 0, 0)

		card := make([]byte, ccid.SmartCardDescriptorLen)
		card[0] = ccid.SmartCardDescriptorLen
		card[1] = ccid.DescriptorTypeSmartCard
		card[5] = 0x07
		card[6] = 0x03
		copy(card[44:], bits.MustEncode(testMaxMessage, 4, bits.LittleEndian))
		card[53] = 0x01
		body = append(body, card...)

		for _, ep := range f.endpoints {
			body = append(body, ep...)
		}
	}

	out := []byte{9, ccid.DescriptorTypeConfig, 0, 0, byte(len(ifaces)), 0x01, 0x00, 0x80, 0x32}
	copy(out[2:4], bits.MustEncode(int64(len(body)+9), 2, bits.LittleEndian))
	return append(out, body...)
}

func singleInterface() []byte {
	return configDescriptor(ifaceFixture{number: 0, class: ccid.ClassSmartCard, endpoints: standardEndpoints()})
}

func dualInterface() []byte {
	return configDescriptor(
		ifaceFixture{number: 0, class: ccid.ClassSmartCard, endpoints: standardEndpoints()},
		ifaceFixture{number: 1, class: ccid.ClassSmartCard, endpoints: [][]byte{endpoint(0x04, 0x02), endpoint(0x85, 0x02)}},
	)
}

// eventLog collects notifications.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) notify(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Messages(kind EventKind) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e.Message)
		}
	}
	return out
}
