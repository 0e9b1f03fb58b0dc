package models

import (
	"time"

	"github.com/mn-ibiz/pos-sub020/confirmation"
)

// PushPaymentRequest is sent by the terminal to start a push payment
type PushPaymentRequest struct {
	SaleID string  `json:"sale_id" binding:"required"`
	Amount float64 `json:"amount"`
	Phone  string  `json:"phone"`
}

// PushPaymentResponse acknowledges a started attempt
type PushPaymentResponse struct {
	AttemptID string             `json:"attempt_id"`
	SaleID    string             `json:"sale_id"`
	State     confirmation.State `json:"state"`
	Payee     string             `json:"payee"`
	Amount    string             `json:"amount"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SessionUpdate is one progress event streamed to the terminal UI
type SessionUpdate struct {
	AttemptID string               `json:"attempt_id"`
	SaleID    string               `json:"sale_id"`
	State     confirmation.State   `json:"state"`
	Previous  confirmation.State   `json:"previous,omitempty"`
	Terminal  bool                 `json:"terminal"`
	Result    *confirmation.Result `json:"result,omitempty"`
	At        time.Time            `json:"at"`
}

// ProviderInitiateRequest represents a request to the external payment provider
type ProviderInitiateRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Phone     string `json:"phone"`
	Reference string `json:"reference"`
}

// ProviderInitiateResponse represents a successful initiation
type ProviderInitiateResponse struct {
	CorrelationToken string `json:"correlation_token"`
}

// ProviderStatusResponse represents a status query answer
type ProviderStatusResponse struct {
	CorrelationToken string `json:"correlation_token"`
	Status           string `json:"status"`
	Receipt          string `json:"receipt,omitempty"`
	ReasonCode       string `json:"reason_code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// ProviderError is the provider's error body
type ProviderError struct {
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message"`
}
