package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/gregLibert/ccid/pkg/ccid"
	"github.com/gregLibert/ccid/pkg/logging"
	"golang.org/x/time/rate"
)

// SlotStatus sends GetSlotStatus and returns the decoded answer.
func (s *Session) SlotStatus(ctx context.Context) (*ccid.SlotStatus, error) {
	resp, err := s.Exchange(ctx, ccid.PCToRDRGetSlotStatus, nil, nil)
	if err != nil {
		return nil, err
	}
	return ccid.ParseSlotStatus(resp)
}

// HasCard reports whether a card sits in the slot, active or not.
func (s *Session) HasCard(ctx context.Context) (bool, error) {
	ss, err := s.SlotStatus(ctx)
	if err != nil {
		return false, err
	}
	return ss.ICCStatus().Present(), nil
}

// InitCard powers the card on with automatic voltage selection.
// It returns false when no card is present and ErrPowerOnFailed when the
// card stays inactive. The ATR is kept for ATR.
func (s *Session) InitCard(ctx context.Context) (bool, error) {
	resp, err := s.Exchange(ctx, ccid.PCToRDRIccPowerOn, &[3]byte{byte(ccid.PowerAutomatic), 0, 0}, nil)
	if err != nil {
		return false, err
	}
	db, err := ccid.ParseDataBlock(resp)
	if err != nil {
		return false, err
	}

	switch status := db.ICCStatus(); status {
	case ccid.ICCPresentActive:
		atr := append([]byte(nil), db.Data...)
		s.mu.Lock()
		s.atr = atr
		s.mu.Unlock()
		logging.Debug(logging.CatReader, "Card powered", map[string]any{"atr": fmt.Sprintf("%X", atr)})
		return true, nil
	case ccid.ICCPresentInactive:
		return false, ErrPowerOnFailed
	case ccid.ICCAbsent:
		return false, nil
	default:
		return false, fmt.Errorf("%w: bmICCStatus %d", ErrUnreachableState, status)
	}
}

// ATR returns the answer to reset of the last successful InitCard, nil
// if the card has not been powered since.
func (s *Session) ATR() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.atr...)
}

// PowerOff deactivates the card.
func (s *Session) PowerOff(ctx context.Context) error {
	resp, err := s.Exchange(ctx, ccid.PCToRDRIccPowerOff, nil, nil)
	if err != nil {
		return err
	}
	if _, err := ccid.ParseSlotStatus(resp); err != nil {
		return err
	}
	s.mu.Lock()
	s.atr = nil
	s.mu.Unlock()
	return nil
}

// Parameters reads the protocol parameters of the active card.
func (s *Session) Parameters(ctx context.Context) (*ccid.Parameters, error) {
	resp, err := s.Exchange(ctx, ccid.PCToRDRGetParameters, nil, nil)
	if err != nil {
		return nil, err
	}
	return ccid.ParseParameters(resp)
}

// WaitForCard polls HasCard until a card is present. The first poll is
// immediate, the following ones are spaced by interval (the session poll
// interval when zero). It only returns early on ctx cancellation, on a
// Disconnect or on a device error.
func (s *Session) WaitForCard(ctx context.Context, interval time.Duration) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.interval(interval)), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return s.waitError(ctx, err)
		}
		present, err := s.HasCard(ctx)
		if err != nil {
			return err
		}
		if present {
			return nil
		}
	}
}

// WatchCard polls the slot and calls fn with the first status and then on
// every change, until ctx is done or an exchange fails.
func (s *Session) WatchCard(ctx context.Context, interval time.Duration, fn func(ccid.ICCStatus)) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.interval(interval)), 1)
	first := true
	var last ccid.ICCStatus
	for {
		if err := limiter.Wait(ctx); err != nil {
			return s.waitError(ctx, err)
		}
		ss, err := s.SlotStatus(ctx)
		if err != nil {
			return err
		}
		if status := ss.ICCStatus(); first || status != last {
			first = false
			last = status
			fn(status)
		}
	}
}

// SendAPDU carries a command APDU in an XfrBlock and returns the DataBlock
// payload, the response APDU, unmodified.
func (s *Session) SendAPDU(ctx context.Context, apdu []byte) ([]byte, error) {
	resp, err := s.Exchange(ctx, ccid.PCToRDRXfrBlock, &[3]byte{0, 0, 0}, apdu)
	if err != nil {
		return nil, err
	}
	db, err := ccid.ParseDataBlock(resp)
	if err != nil {
		return nil, err
	}
	return db.Data, nil
}

// Transmit is SendAPDU without a deadline, so a Session can back an
// iso7816.Client. It still fails once the session is disconnected.
func (s *Session) Transmit(apdu []byte) ([]byte, error) {
	return s.SendAPDU(context.Background(), apdu)
}

func (s *Session) interval(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return s.pollInterval
}
