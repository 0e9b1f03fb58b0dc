// Package audit records every attempt transition outside the process:
// structured logs, an NSQ topic for downstream consumers and a MySQL table.
package audit

import (
	"time"

	"github.com/mn-ibiz/pos-sub020/confirmation"
)

// TransitionMessage is the wire form of one recorded transition
type TransitionMessage struct {
	AttemptID        string               `json:"attempt_id"`
	SaleID           string               `json:"sale_id"`
	Amount           string               `json:"amount"`
	Payee            string               `json:"payee"`
	CorrelationToken string               `json:"correlation_token,omitempty"`
	From             confirmation.State   `json:"from"`
	To               confirmation.State   `json:"to"`
	Event            string               `json:"event"`
	At               time.Time            `json:"at"`
	Terminal         bool                 `json:"terminal"`
	Result           *confirmation.Result `json:"result,omitempty"`
}

func newTransitionMessage(snap confirmation.Snapshot, t confirmation.Transition) TransitionMessage {
	msg := TransitionMessage{
		AttemptID:        snap.AttemptID,
		SaleID:           snap.SaleID,
		Amount:           snap.Amount.StringFixed(2),
		Payee:            snap.Payee,
		CorrelationToken: snap.CorrelationToken,
		From:             t.From,
		To:               t.To,
		Event:            string(t.Event),
		At:               t.At,
		Terminal:         t.To.IsTerminal(),
	}
	if msg.Terminal {
		msg.Result = snap.Result
	}
	return msg
}
