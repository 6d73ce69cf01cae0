package iso7816

import (
	"fmt"
	"strings"
)

// Transaction is one C-APDU / R-APDU pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is every transaction issued for one logical command, in order,
// including GET RESPONSE and Le corrections.
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports whether the final transaction succeeded.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Data returns the response data of the logical command. Data returned by
// successive GET RESPONSE exchanges is concatenated.
func (t Trace) Data() []byte {
	var out []byte
	for i, tx := range t {
		if tx.Response == nil {
			continue
		}
		if i > 0 && tx.Command != nil && tx.Command.INS != InsGetResponse {
			// A 6CXX retry supersedes everything before it.
			out = out[:0]
		}
		out = append(out, tx.Response.Data...)
	}
	return out
}

// Describe renders the trace one exchange per line.
func (t Trace) Describe() string {
	var sb strings.Builder
	for i, tx := range t {
		if i > 0 {
			sb.WriteString("\n")
		}
		raw, _ := tx.Command.Bytes()
		fmt.Fprintf(&sb, "-> %X (%s)", raw, InstructionName(tx.Command.INS))
		if tx.Response != nil {
			fmt.Fprintf(&sb, "\n<- %X %04X %s", tx.Response.Data, uint16(tx.Response.Status), tx.Response.Status.Verbose())
		}
	}
	return sb.String()
}
