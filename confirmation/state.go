package confirmation

// State is the protocol state of one push payment attempt
type State string

const (
	StateCreated          State = "created"
	StateRequestSent      State = "request_sent"
	StateAwaitingCustomer State = "awaiting_customer"
	StateSettled          State = "settled"
	StateDeclined         State = "declined"
	StateRejected         State = "rejected"
	StateTimedOut         State = "timed_out"
	StateAbandoned        State = "abandoned"
)

// String returns the state name
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible
func (s State) IsTerminal() bool {
	switch s {
	case StateSettled, StateDeclined, StateRejected, StateTimedOut, StateAbandoned:
		return true
	}
	return false
}

// EventKind identifies what happened to an attempt
type EventKind string

const (
	EventInitiated           EventKind = "initiated"
	EventInitiationRejected  EventKind = "initiation_rejected"
	EventGatewayUnreachable  EventKind = "gateway_unreachable"
	EventStillPending        EventKind = "still_pending"
	EventCustomerInteracting EventKind = "customer_interacting"
	EventSucceeded           EventKind = "succeeded"
	EventDeclinedByCustomer  EventKind = "declined_by_customer"
	EventRejectedByProvider  EventKind = "rejected_by_provider"
	EventQueryFailed         EventKind = "query_failed"
	EventBudgetExceeded      EventKind = "budget_exceeded"
	EventCancelled           EventKind = "cancelled"
)

// IsPoll reports whether the event is the answer to a status query
func (k EventKind) IsPoll() bool {
	switch k {
	case EventStillPending, EventCustomerInteracting, EventSucceeded,
		EventDeclinedByCustomer, EventRejectedByProvider, EventQueryFailed:
		return true
	}
	return false
}

// Event is one input to the state machine. AttemptID and CorrelationToken
// identify the request the event answers.
type Event struct {
	Kind             EventKind
	AttemptID        string
	CorrelationToken string
	ReceiptRef       string
	ReasonCode       string
	Message          string
}

// Effect is a side effect the owner of the attempt has to carry out
type Effect string

const (
	EffectBeginPolling        Effect = "begin_polling"
	EffectContinuePolling     Effect = "continue_polling"
	EffectStopPolling         Effect = "stop_polling"
	EffectDeliverSuccess      Effect = "deliver_success"
	EffectDeliverFailure      Effect = "deliver_failure"
	EffectDeliverAbandoned    Effect = "deliver_abandoned"
	EffectCountTransientError Effect = "count_transient_error"
)

// Failure reason codes carried by terminal results
const (
	ReasonInitiationRejected = "initiation_rejected"
	ReasonGatewayUnreachable = "gateway_unreachable"
	ReasonDeclined           = "declined"
	ReasonProviderRejected   = "provider_rejected"
	ReasonTimedOut           = "timed_out"
	ReasonAbandoned          = "abandoned"
)
