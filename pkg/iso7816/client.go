package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client sits on top of any Transmitter (a CCID reader session, a PC/SC
// card handle) and resolves the two T=0 procedure status words that leak to
// the application layer:
//
// 1. "61 XX" (Response Available):
//    XX bytes are waiting. The client issues GET RESPONSE with Le = XX.
//
// 2. "6C XX" (Wrong Length):
//    The card rejected Le and suggests XX. The client re-sends the original
//    command with Le = XX.
//
// XX = 00 stands for 256 in both cases. Send returns the whole exchange as a
// Trace.

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter

	// MaxChain bounds the number of follow-up commands issued for one Send.
	MaxChain int
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card, MaxChain: 32}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	var trace Trace
	next := cmd

	for step := 0; next != nil; step++ {
		if c.MaxChain > 0 && step > c.MaxChain {
			return trace, fmt.Errorf("card kept requesting follow-up commands after %d exchanges", c.MaxChain)
		}

		tx, err := c.exchange(next)
		if err != nil {
			return trace, err
		}
		trace = append(trace, tx)
		next = followUp(next, tx.Response.Status)
	}

	return trace, nil
}

// SendRaw transmits an already encoded command without follow-up handling.
func (c *Client) SendRaw(raw []byte) (*ResponseAPDU, error) {
	rawResp, err := c.Card.Transmit(raw)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}
	return ParseResponseAPDU(rawResp)
}

func (c *Client) exchange(cmd *CommandAPDU) (Transaction, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return Transaction{}, fmt.Errorf("encoding error: %w", err)
	}

	resp, err := c.SendRaw(rawCmd)
	if err != nil {
		return Transaction{}, err
	}

	return Transaction{Command: cmd, Response: resp}, nil
}

// followUp returns the command implied by sw, or nil when the exchange is over.
func followUp(cmd *CommandAPDU, sw StatusWord) *CommandAPDU {
	ne := int(sw.SW2())
	if ne == 0 {
		ne = MaxShortLe
	}

	switch sw.SW1() {
	case 0x61:
		return GetResponse(cmd.CLA, ne)
	case 0x6C:
		// Clone command to update Le without mutating the original pointer
		retry := *cmd
		retry.Ne = ne
		return &retry
	}
	return nil
}
