// Package confirmation holds the push payment confirmation protocol: the
// pure state machine and the Attempt record it drives.
package confirmation

// Outcome is the result of applying one event to a state. When Accepted is
// false the event was ignored: Next equals the input state and there are no
// effects.
type Outcome struct {
	Next     State
	Effects  []Effect
	Accepted bool
}

// Changed reports whether the outcome moves to a different state
func (o Outcome) Changed(from State) bool {
	return o.Accepted && o.Next != from
}

// Apply maps (state, event) to the next state and its side effects. It does
// no I/O. Terminal states accept nothing; combinations that cannot happen in
// a well-behaved loop (a poll answer before initiation, a second initiation)
// are ignored the same way.
func Apply(state State, event Event) Outcome {
	if state.IsTerminal() {
		return ignore(state)
	}

	// Cancellation and the budget apply to every non-terminal state.
	switch event.Kind {
	case EventCancelled:
		return accept(StateAbandoned, EffectStopPolling, EffectDeliverAbandoned)
	case EventBudgetExceeded:
		return accept(StateTimedOut, EffectStopPolling, EffectDeliverFailure)
	}

	if state == StateCreated {
		switch event.Kind {
		case EventInitiated:
			return accept(StateRequestSent, EffectBeginPolling)
		case EventInitiationRejected, EventGatewayUnreachable:
			return accept(StateRejected, EffectDeliverFailure)
		}
		return ignore(state)
	}

	// RequestSent or AwaitingCustomer from here on.
	switch event.Kind {
	case EventStillPending:
		return accept(state, EffectContinuePolling)
	case EventCustomerInteracting:
		return accept(StateAwaitingCustomer, EffectContinuePolling)
	case EventSucceeded:
		return accept(StateSettled, EffectStopPolling, EffectDeliverSuccess)
	case EventDeclinedByCustomer:
		return accept(StateDeclined, EffectStopPolling, EffectDeliverFailure)
	case EventRejectedByProvider:
		return accept(StateRejected, EffectStopPolling, EffectDeliverFailure)
	case EventQueryFailed:
		return accept(state, EffectCountTransientError, EffectContinuePolling)
	}

	return ignore(state)
}

func accept(next State, effects ...Effect) Outcome {
	return Outcome{Next: next, Effects: effects, Accepted: true}
}

func ignore(state State) Outcome {
	return Outcome{Next: state}
}

// Has reports whether effect is among the outcome's effects
func (o Outcome) Has(effect Effect) bool {
	for _, e := range o.Effects {
		if e == effect {
			return true
		}
	}
	return false
}
