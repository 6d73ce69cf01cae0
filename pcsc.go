package main

import (
	"fmt"
	"strings"

	"github.com/ebfe/scard"
	"github.com/gregLibert/ccid/pkg/logging"
)

// pcscCard is a card reached through the system PC/SC daemon.
type pcscCard struct {
	ctx  *scard.Context
	card *scard.Card
	name string
}

// connectPCSC connects to the first reader whose name contains match, or to
// the first reader when match is empty.
func connectPCSC(match string) (*pcscCard, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establishing PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		release(ctx)
		if err == nil {
			err = fmt.Errorf("no smart card reader found")
		}
		return nil, fmt.Errorf("listing PC/SC readers: %w", err)
	}

	name := ""
	for _, r := range readers {
		if match == "" || strings.Contains(r, match) {
			name = r
			break
		}
	}
	if name == "" {
		release(ctx)
		return nil, fmt.Errorf("no PC/SC reader matches %q (have %s)", match, strings.Join(readers, ", "))
	}

	// T=0|T=1 avoids "Parameter Incorrect" on readers that refuse a
	// default protocol.
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", name, err)
	}

	logging.Info(logging.CatApp, "Using PC/SC reader", map[string]any{"reader": name})
	return &pcscCard{ctx: ctx, card: card, name: name}, nil
}

func (p *pcscCard) Transmit(cmd []byte) ([]byte, error) {
	return p.card.Transmit(cmd)
}

func (p *pcscCard) Close() error {
	if err := p.card.Disconnect(scard.LeaveCard); err != nil {
		logging.Warn(logging.CatApp, "Failed to disconnect card", map[string]any{"error": err.Error()})
	}
	return p.ctx.Release()
}

func release(ctx *scard.Context) {
	if err := ctx.Release(); err != nil {
		logging.Warn(logging.CatApp, "Failed to release PC/SC context", map[string]any{"error": err.Error()})
	}
}
