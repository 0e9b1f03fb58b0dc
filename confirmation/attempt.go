package confirmation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrStaleEvent is returned for an event issued for another attempt or correlation token
	ErrStaleEvent = errors.New("stale event discarded")
	// ErrAttemptTerminated is returned for any event applied after a terminal state
	ErrAttemptTerminated = errors.New("attempt already terminated")
	// ErrEventIgnored is returned for an event the current state does not accept
	ErrEventIgnored = errors.New("event not applicable in current state")
)

// Transition is one entry of the append-only audit trail
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
	Event EventKind `json:"event"`
}

// Result is the terminal outcome of an attempt. Reason distinguishes
// "customer said no" from "never responded" from "cashier chose cash".
type Result struct {
	State        State     `json:"state"`
	Success      bool      `json:"success"`
	ReceiptRef   string    `json:"receipt_ref,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	ProviderCode string    `json:"provider_code,omitempty"`
	Message      string    `json:"message"`
	At           time.Time `json:"at"`
}

// Attempt is one confirmation cycle for a sale. Only its owner mutates it,
// and only through Apply.
type Attempt struct {
	ID               string
	SaleID           string
	Amount           decimal.Decimal
	Payee            string
	CorrelationToken string
	State            State
	Transitions      []Transition
	Result           *Result
	Polls            int

	TransientErrors            int
	ConsecutiveTransientErrors int

	CreatedAt time.Time
}

// NewAttempt creates an attempt in the Created state with a fresh ID
func NewAttempt(saleID string, amount decimal.Decimal, payee string, now time.Time) *Attempt {
	return &Attempt{
		ID:        uuid.NewString(),
		SaleID:    saleID,
		Amount:    amount,
		Payee:     payee,
		State:     StateCreated,
		CreatedAt: now,
	}
}

// Apply runs event through the state machine and records its consequences.
// Stale events, events after termination and events the current state does
// not accept leave the attempt untouched and return an error describing why.
func (a *Attempt) Apply(event Event, at time.Time) (Outcome, error) {
	if event.AttemptID != a.ID {
		return ignore(a.State), ErrStaleEvent
	}
	if event.Kind.IsPoll() && event.CorrelationToken != a.CorrelationToken {
		return ignore(a.State), ErrStaleEvent
	}
	if a.State.IsTerminal() {
		return ignore(a.State), ErrAttemptTerminated
	}

	outcome := Apply(a.State, event)
	if !outcome.Accepted {
		return outcome, ErrEventIgnored
	}

	if event.Kind.IsPoll() {
		a.Polls++
	}
	if outcome.Has(EffectCountTransientError) {
		a.TransientErrors++
		a.ConsecutiveTransientErrors++
	} else if event.Kind.IsPoll() {
		a.ConsecutiveTransientErrors = 0
	}

	if event.Kind == EventInitiated && a.CorrelationToken == "" {
		a.CorrelationToken = event.CorrelationToken
	}

	if outcome.Next != a.State {
		a.Transitions = append(a.Transitions, Transition{
			From:  a.State,
			To:    outcome.Next,
			At:    at,
			Event: event.Kind,
		})
		a.State = outcome.Next
	}

	if a.State.IsTerminal() && a.Result == nil {
		result := resultFor(a.State, event, at)
		a.Result = &result
	}

	return outcome, nil
}

// LastTransition returns the most recent transition, if any
func (a *Attempt) LastTransition() (Transition, bool) {
	if len(a.Transitions) == 0 {
		return Transition{}, false
	}
	return a.Transitions[len(a.Transitions)-1], true
}

func resultFor(state State, event Event, at time.Time) Result {
	r := Result{State: state, At: at, ProviderCode: event.ReasonCode, Message: event.Message}

	switch state {
	case StateSettled:
		r.Success = true
		r.ReceiptRef = event.ReceiptRef
		r.ProviderCode = ""
		r.Message = withDefault(event.Message, "payment confirmed")
	case StateDeclined:
		r.Reason = ReasonDeclined
		r.Message = withDefault(event.Message, "declined by customer")
	case StateRejected:
		switch event.Kind {
		case EventInitiationRejected:
			r.Reason = ReasonInitiationRejected
			r.Message = withDefault(event.Message, "payment request rejected by provider")
		case EventGatewayUnreachable:
			r.Reason = ReasonGatewayUnreachable
			r.Message = withDefault(event.Message, "payment provider unreachable")
		default:
			r.Reason = ReasonProviderRejected
			r.Message = withDefault(event.Message, "payment rejected by provider")
		}
	case StateTimedOut:
		r.Reason = ReasonTimedOut
		r.Message = "no response within budget"
	case StateAbandoned:
		r.Reason = ReasonAbandoned
		r.Message = "abandoned by cashier"
	}

	return r
}

func withDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Snapshot is an immutable copy of an attempt for readers outside the owner
type Snapshot struct {
	AttemptID        string          `json:"attempt_id"`
	SaleID           string          `json:"sale_id"`
	Amount           decimal.Decimal `json:"amount"`
	Payee            string          `json:"payee"`
	CorrelationToken string          `json:"correlation_token,omitempty"`
	State            State           `json:"state"`
	Transitions      []Transition    `json:"transitions"`
	Result           *Result         `json:"result,omitempty"`
	Polls            int             `json:"polls"`
	TransientErrors  int             `json:"transient_errors"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Snapshot copies the attempt
func (a *Attempt) Snapshot() Snapshot {
	s := Snapshot{
		AttemptID:        a.ID,
		SaleID:           a.SaleID,
		Amount:           a.Amount,
		Payee:            a.Payee,
		CorrelationToken: a.CorrelationToken,
		State:            a.State,
		Transitions:      append([]Transition(nil), a.Transitions...),
		Polls:            a.Polls,
		TransientErrors:  a.TransientErrors,
		CreatedAt:        a.CreatedAt,
	}
	if a.Result != nil {
		r := *a.Result
		s.Result = &r
	}
	return s
}
