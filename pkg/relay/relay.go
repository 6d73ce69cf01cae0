// Package relay lends a local card to a remote host over WebSocket.
//
// The host drives the exchange: every message it sends is a command APDU,
// answered with exactly one response APDU. Binary messages carry raw
// bytes; text messages carry hexadecimal and are answered in kind.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregLibert/ccid/pkg/iso7816"
	"github.com/gregLibert/ccid/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client connects one card to one relay host.
type Client struct {
	URL    string
	Card   iso7816.Transmitter
	Header http.Header
	Dialer *websocket.Dialer

	exchanges int
}

// New returns a client for url using the default dialer.
func New(url string, card iso7816.Transmitter) *Client {
	return &Client{URL: url, Card: card, Dialer: websocket.DefaultDialer}
}

// Exchanges returns the number of APDUs relayed by the last Run.
func (c *Client) Exchanges() int {
	return c.exchanges
}

// Run dials the host and relays APDUs until the host closes the
// connection or ctx is done. A normal close returns nil. A card failure
// closes the connection with an internal error status and is returned.
func (c *Client) Run(ctx context.Context) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("relay: dial %s: %s: %w", c.URL, resp.Status, err)
		}
		return fmt.Errorf("relay: dial %s: %w", c.URL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "client shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxMessageSize)
	logging.Info(logging.CatRelay, "Relay connected", map[string]any{"url": c.URL})

	c.exchanges = 0
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info(logging.CatRelay, "Relay closed by host", map[string]any{"exchanges": c.exchanges})
				return nil
			}
			return fmt.Errorf("relay: read: %w", err)
		}

		apdu, err := decode(kind, msg)
		if err != nil {
			c.closeWith(conn, websocket.CloseUnsupportedData, err.Error())
			return err
		}

		logging.Debug(logging.CatRelay, "C-APDU", map[string]any{
			"apdu": fmt.Sprintf("%X", apdu),
			"ins":  instruction(apdu),
		})
		rapdu, err := c.Card.Transmit(apdu)
		if err != nil {
			c.closeWith(conn, websocket.CloseInternalServerErr, "card error")
			return fmt.Errorf("relay: transmit: %w", err)
		}
		logging.Debug(logging.CatRelay, "R-APDU", map[string]any{"apdu": fmt.Sprintf("%X", rapdu)})

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(kind, encode(kind, rapdu)); err != nil {
			return fmt.Errorf("relay: write: %w", err)
		}
		c.exchanges++
	}
}

func (c *Client) closeWith(conn *websocket.Conn, code int, text string) {
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait)); err != nil {
		logging.Debug(logging.CatRelay, "Close handshake failed", map[string]any{"error": err.Error()})
	}
}

func decode(kind int, msg []byte) ([]byte, error) {
	switch kind {
	case websocket.BinaryMessage:
		return msg, nil
	case websocket.TextMessage:
		clean := strings.Join(strings.Fields(string(msg)), "")
		apdu, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("relay: text message is not hexadecimal: %w", err)
		}
		return apdu, nil
	default:
		return nil, errors.New("relay: unsupported message type")
	}
}

func encode(kind int, rapdu []byte) []byte {
	if kind == websocket.TextMessage {
		return []byte(strings.ToUpper(hex.EncodeToString(rapdu)))
	}
	return rapdu
}

func instruction(apdu []byte) string {
	if len(apdu) < 2 {
		return ""
	}
	return iso7816.InstructionName(apdu[1])
}
