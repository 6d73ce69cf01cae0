package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gregLibert/ccid/pkg/ccid"
	"github.com/gregLibert/ccid/pkg/logging"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUnconfigured State = iota
	StateNegotiating
	StateReady
	StateTransceiving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateTransceiving:
		return "transceiving"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one CCID reader. Exchanges are serialised; Disconnect may be
// called from any goroutine and never waits for an exchange in flight.
type Session struct {
	transport Transport
	codec     *ccid.Codec

	static       *StaticConfiguration
	table        Table
	pollInterval time.Duration
	notify       func(Event)

	// xfer serialises everything that touches the bulk endpoints.
	xfer sync.Mutex

	// mu guards the fields below.
	mu         sync.Mutex
	state      State
	opened     bool
	descriptor *ccid.ConfigDescriptor
	config     *Configuration
	atr        []byte

	lifetime context.Context
	cancel   context.CancelFunc
}

// NewSession returns an Unconfigured session on t. Nothing is sent until
// Init.
func NewSession(t Transport, opts ...Option) *Session {
	s := &Session{
		transport:    t,
		codec:        ccid.NewCodec(),
		pollInterval: DefaultPollInterval,
		state:        StateUnconfigured,
	}
	s.lifetime, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a session, reads the descriptor and negotiates the reader
// configuration. On failure the transport is closed.
func Open(ctx context.Context, t Transport, opts ...Option) (*Session, error) {
	s := NewSession(t, opts...)
	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Configure(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Descriptor returns the parsed configuration descriptor, nil before Init.
func (s *Session) Descriptor() *ccid.ConfigDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

// Configuration returns the active configuration.
func (s *Session) Configuration() (Configuration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return Configuration{}, false
	}
	return *s.config, true
}

// Init opens the transport and reads the configuration descriptor.
func (s *Session) Init(ctx context.Context) error {
	s.xfer.Lock()
	defer s.xfer.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		if err := s.transport.Open(ctx); err != nil {
			return s.transportError("open", err)
		}
		s.mu.Lock()
		s.opened = true
		s.mu.Unlock()
	}

	setup := ControlSetup{
		RequestType: requestTypeStandardDeviceIn,
		Request:     requestGetDescriptor,
		Value:       configDescriptorValue,
		Index:       0,
	}
	raw, err := s.transport.ControlTransferIn(ctx, setup, maxDescriptorLength)
	if err != nil {
		return s.transportError("get configuration descriptor", err)
	}
	logging.Debug(logging.CatUSB, "Configuration descriptor", map[string]any{"raw": fmt.Sprintf("%X", raw)})

	desc, err := ccid.ParseConfigDescriptor(raw)
	if err != nil {
		return err
	}
	for _, iface := range desc.Interfaces {
		if iface.VendorSpecific() {
			msg := fmt.Sprintf("interface %d uses class 0x%02X instead of 0x%02X, continuing as CCID",
				iface.InterfaceNumber, iface.InterfaceClass, ccid.ClassSmartCard)
			logging.Warn(logging.CatReader, msg, nil)
			s.emit(Event{Kind: EventWarning, Message: msg})
		}
	}

	s.mu.Lock()
	s.descriptor = desc
	s.mu.Unlock()
	return nil
}

// Configure negotiates the reader configuration and moves the session to
// Ready. Negotiation tries, in order, the static configuration, the known
// reader table and autodetection. With several smart card interfaces,
// autodetection waits for a card in one of them until ctx is cancelled.
func (s *Session) Configure(ctx context.Context) error {
	s.xfer.Lock()
	defer s.xfer.Unlock()

	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrDisconnected
	case s.descriptor == nil:
		s.mu.Unlock()
		return deviceErrorf("configuration descriptor not read")
	}
	desc := s.descriptor
	s.state = StateNegotiating
	s.config = nil
	s.mu.Unlock()

	ctx, cancel := s.bind(ctx)
	defer cancel()

	cfg, err := s.negotiate(ctx, desc)

	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrDisconnected
	case err != nil:
		s.state = StateUnconfigured
		s.mu.Unlock()
		return err
	}
	s.config = &cfg
	s.state = StateReady
	s.mu.Unlock()

	logging.Info(logging.CatReader, "Reader configured", map[string]any{"config": cfg.String()})
	s.emit(Event{Kind: EventConfigured, Message: cfg.String()})
	return nil
}

func (s *Session) negotiate(ctx context.Context, desc *ccid.ConfigDescriptor) (Configuration, error) {
	id := s.transport.DeviceID()

	if s.static != nil {
		cfg, err := resolve(desc, id, s.static.Configuration, s.static.Interface, s.static.Alternate)
		if err != nil {
			return Configuration{}, err
		}
		return cfg, s.enter(ctx, cfg)
	}

	if k, ok := s.table.Lookup(id); ok {
		cfg, err := fromTable(desc, k)
		if err != nil {
			return Configuration{}, err
		}
		return cfg, s.enter(ctx, cfg)
	}

	return s.autodetect(ctx, desc, id)
}

func (s *Session) autodetect(ctx context.Context, desc *ccid.ConfigDescriptor, id DeviceID) (Configuration, error) {
	value := int(desc.ConfigurationValue)
	candidates := make([]Configuration, 0, len(desc.Interfaces))
	for _, iface := range desc.Interfaces {
		cfg, err := resolve(desc, id, value, int(iface.InterfaceNumber), int(iface.AlternateSetting))
		if err != nil {
			return Configuration{}, err
		}
		candidates = append(candidates, cfg)
	}

	if len(candidates) == 1 {
		return candidates[0], s.enter(ctx, candidates[0])
	}

	prompt := "Insert a smart card into your reader for autoconfiguration."
	logging.Info(logging.CatReader, prompt, map[string]any{"interfaces": len(candidates)})
	s.emit(Event{Kind: EventPrompt, Message: prompt})

	limiter := rate.NewLimiter(rate.Every(s.pollInterval), 1)
	for round := 0; ; round++ {
		if err := limiter.Wait(ctx); err != nil {
			return Configuration{}, s.waitError(ctx, err)
		}
		if round > 0 {
			logging.Debug(logging.CatReader, "No smart card found for autoconfiguration, retrying", nil)
		}

		for i := range candidates {
			cfg := candidates[i]
			if err := s.enter(ctx, cfg); err != nil {
				return Configuration{}, err
			}
			present, err := s.probe(ctx, &cfg)
			if err != nil {
				return Configuration{}, err
			}
			if present {
				return cfg, nil
			}
		}
	}
}

// probe checks for a card on a candidate configuration that is not yet
// the session's active one.
func (s *Session) probe(ctx context.Context, cfg *Configuration) (bool, error) {
	msg, err := s.codec.GetSlotStatus()
	if err != nil {
		return false, err
	}
	resp, err := s.exchangeOn(ctx, cfg, msg)
	if err != nil {
		return false, err
	}
	ss, err := ccid.ParseSlotStatus(resp)
	if err != nil {
		return false, err
	}
	return ss.ICCStatus().Present(), nil
}

// enter applies cfg to the device: configuration, interface claim,
// alternate setting, then reset.
func (s *Session) enter(ctx context.Context, cfg Configuration) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"select configuration", func() error { return s.transport.SelectConfiguration(ctx, cfg.Configuration) }},
		{"claim interface", func() error { return s.transport.ClaimInterface(ctx, cfg.Interface) }},
		{"select alternate interface", func() error {
			return s.transport.SelectAlternateInterface(ctx, cfg.Interface, cfg.Alternate)
		}},
		{"reset", func() error { return s.transport.Reset(ctx) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return s.transportError(step.name, err)
		}
	}
	return nil
}

// Transceive sends one CCID message and returns the raw response. A device
// reported failure is not an error: it is emitted as EventDeviceError and
// left to the caller to interpret from the response status.
func (s *Session) Transceive(ctx context.Context, msg []byte) ([]byte, error) {
	s.xfer.Lock()
	defer s.xfer.Unlock()
	return s.transceive(ctx, msg)
}

// Exchange builds a message with the session codec and transceives it.
func (s *Session) Exchange(ctx context.Context, t ccid.MessageType, header *[3]byte, payload []byte) ([]byte, error) {
	s.xfer.Lock()
	defer s.xfer.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	msg, err := s.codec.Build(t, header, payload)
	if err != nil {
		return nil, err
	}
	return s.transceive(ctx, msg)
}

// transceive runs with xfer held.
func (s *Session) transceive(ctx context.Context, msg []byte) ([]byte, error) {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return nil, ErrDisconnected
	case s.config == nil:
		s.mu.Unlock()
		return nil, ErrNotConfigured
	}
	cfg := *s.config
	busy := s.state == StateReady
	if busy {
		s.state = StateTransceiving
	}
	s.mu.Unlock()

	if busy {
		defer func() {
			s.mu.Lock()
			if s.state == StateTransceiving {
				s.state = StateReady
			}
			s.mu.Unlock()
		}()
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()
	return s.exchangeOn(ctx, &cfg, msg)
}

func (s *Session) exchangeOn(ctx context.Context, cfg *Configuration, msg []byte) ([]byte, error) {
	if err := ccid.Validate(msg); err != nil {
		return nil, err
	}
	if len(msg) > cfg.MaxMessageLength {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds dwMaxCCIDMessageLength %d",
			ccid.ErrInvalidArgument, len(msg), cfg.MaxMessageLength)
	}

	logging.Debug(logging.CatUSB, "->", map[string]any{"out": cfg.BulkOut, "in": cfg.BulkIn, "msg": fmt.Sprintf("%X", msg)})
	if err := s.transport.BulkTransferOut(ctx, cfg.BulkOut, msg); err != nil {
		return nil, s.transportError("bulk out", err)
	}

	for {
		resp, err := s.transport.BulkTransferIn(ctx, cfg.BulkIn, cfg.MaxMessageLength)
		if err != nil {
			return nil, s.transportError("bulk in", err)
		}
		logging.Debug(logging.CatUSB, "<-", map[string]any{"msg": fmt.Sprintf("%X", resp)})

		outcome, err := ccid.Check(resp, msg)
		if err != nil {
			return nil, err
		}

		s.emit(Event{Kind: EventICCStatus, ICCStatus: outcome.ICCStatus, Message: outcome.ICCStatus.String()})
		if outcome.ErrorMessage != "" {
			logging.Debug(logging.CatReader, outcome.ErrorMessage, map[string]any{"bError": fmt.Sprintf("%02X", resp[8])})
			s.emit(Event{Kind: EventDeviceError, ICCStatus: outcome.ICCStatus, Message: outcome.ErrorMessage})
		}

		if outcome.CommandStatus != ccid.CommandTimeExtension {
			return resp, nil
		}
		logging.Debug(logging.CatReader, "Reader requested time extension", map[string]any{"bError": resp[8]})
	}
}

// Disconnect invalidates the session. Operations in flight and any later
// call fail with ErrDisconnected. The transport stays open; see Close.
func (s *Session) Disconnect() {
	s.mu.Lock()
	changed := s.disconnectLocked()
	s.mu.Unlock()
	if changed {
		s.disconnected()
	}
}

func (s *Session) disconnectLocked() bool {
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.config = nil
	s.atr = nil
	s.cancel()
	return true
}

func (s *Session) disconnected() {
	logging.Info(logging.CatReader, "Reader disconnected", nil)
	s.emit(Event{Kind: EventDisconnected, Message: "disconnected"})
}

// Close disconnects the session and releases the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	changed := s.disconnectLocked()
	opened := s.opened
	s.opened = false
	s.mu.Unlock()

	if changed {
		s.disconnected()
	}
	if !opened {
		return nil
	}
	if err := s.transport.Close(); err != nil {
		return wrapDevice("close", err)
	}
	return nil
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrDisconnected
	}
	return nil
}

// bind derives a context that is also cancelled by Disconnect.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.lifetime, func() { cancel(ErrDisconnected) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// transportError classifies a failed transport call. A vanished device or
// a Disconnect during the call invalidates the session. A caller
// cancellation is not a device fault and is returned without ErrDevice.
func (s *Session) transportError(op string, err error) error {
	if errors.Is(err, ErrDisconnected) || s.lifetime.Err() != nil {
		s.Disconnect()
		return fmt.Errorf("%s: %w", op, ErrDisconnected)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return wrapDevice(op, err)
}

// waitError maps the end of a poll wait to ErrDisconnected or the caller's
// cancellation cause, which is returned as is.
func (s *Session) waitError(ctx context.Context, err error) error {
	if s.lifetime.Err() != nil {
		return ErrDisconnected
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return wrapDevice("wait", err)
}

func (s *Session) emit(e Event) {
	if s.notify != nil {
		s.notify(e)
	}
}
