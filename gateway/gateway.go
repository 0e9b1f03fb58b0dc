// Package gateway is the boundary with the push payment provider. Every
// transport failure is translated here into a typed result.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Client initiates push payments and queries their status. Implementations
// hold no per-payment state and never retry on their own.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
	QueryStatus(ctx context.Context, correlationToken string) (StatusSnapshot, error)
}

// InitiateRequest asks the provider to prompt the payee's phone
type InitiateRequest struct {
	Amount           decimal.Decimal
	Payee            string
	SessionReference string // attempt ID, echoed by the provider for reconciliation
}

// Status is the provider-side state of a push payment
type Status string

const (
	StatusStillPending        Status = "still_pending"
	StatusCustomerInteracting Status = "customer_interacting"
	StatusSucceeded           Status = "succeeded"
	StatusDeclinedByCustomer  Status = "declined_by_customer"
	StatusRejectedByProvider  Status = "rejected_by_provider"
)

// StatusSnapshot is one answer to QueryStatus
type StatusSnapshot struct {
	CorrelationToken string
	Status           Status
	ReceiptRef       string
	ReasonCode       string
	Message          string
}

// ErrQueryTransient marks a status query that failed at the transport level.
// It is not an outcome; the caller keeps polling.
var ErrQueryTransient = errors.New("transient status query failure")

// InitiationErrorKind classifies a failed initiation
type InitiationErrorKind string

const (
	// Rejected means the provider refused the request synchronously
	Rejected InitiationErrorKind = "rejected"
	// Unreachable means the request may never have reached the provider
	Unreachable InitiationErrorKind = "unreachable"
)

// InitiationError is returned by Initiate
type InitiationError struct {
	Kind       InitiationErrorKind
	ReasonCode string
	Message    string
	Err        error
}

func (e *InitiationError) Error() string {
	msg := fmt.Sprintf("initiation %s", e.Kind)
	if e.ReasonCode != "" {
		msg += " (" + e.ReasonCode + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InitiationError) Unwrap() error {
	return e.Err
}

func transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrQueryTransient, fmt.Sprintf(format, args...))
}
