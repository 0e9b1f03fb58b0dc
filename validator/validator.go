// Package validator checks and normalises push payment requests before any
// network call is made. Everything here is pure and deterministic.
package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies a validation failure
type ErrorKind string

const (
	InvalidAmount ErrorKind = "invalid_amount"
	InvalidPayee  ErrorKind = "invalid_payee"
)

// ValidationError is returned for input the cashier has to correct
type ValidationError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// PayeeFormat is the provider's subscriber number rule set
type PayeeFormat struct {
	CountryCode      string // e.g. "254"
	SubscriberLength int    // digits after the country code
	LeadingDigits    string // allowed first digits of the subscriber number
}

// AmountFormat bounds the monetary value
type AmountFormat struct {
	Scale int32           // maximum fractional digits
	Max   decimal.Decimal // zero means unlimited
}

// DefaultPayeeFormat matches national mobile numbers such as 712345678
func DefaultPayeeFormat() PayeeFormat {
	return PayeeFormat{
		CountryCode:      "254",
		SubscriberLength: 9,
		LeadingDigits:    "71",
	}
}

// DefaultAmountFormat allows two decimal places and no ceiling
func DefaultAmountFormat() AmountFormat {
	return AmountFormat{Scale: 2}
}

// Request is a validated, normalised payment request
type Request struct {
	Amount     decimal.Decimal
	Payee      string // country code + subscriber number, digits only
	Subscriber string
}

// Validator validates amounts and payee references
type Validator struct {
	payee  PayeeFormat
	amount AmountFormat
}

// New creates a validator for the given formats
func New(payee PayeeFormat, amount AmountFormat) *Validator {
	return &Validator{payee: payee, amount: amount}
}

// Validate checks the amount first, then the payee reference
func (v *Validator) Validate(amount float64, rawPayee string) (Request, error) {
	value, err := v.ValidateAmount(amount)
	if err != nil {
		return Request{}, err
	}

	subscriber, err := v.NormalizePayee(rawPayee)
	if err != nil {
		return Request{}, err
	}

	return Request{
		Amount:     value,
		Payee:      v.payee.CountryCode + subscriber,
		Subscriber: subscriber,
	}, nil
}

// ValidateAmount rejects zero, negative, NaN and infinite amounts as well as
// amounts finer than the configured scale or above the ceiling.
func (v *Validator) ValidateAmount(amount float64) (decimal.Decimal, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return decimal.Zero, &ValidationError{Kind: InvalidAmount, Reason: "must be a finite number"}
	}

	value := decimal.NewFromFloat(amount)
	if !value.IsPositive() {
		return decimal.Zero, &ValidationError{Kind: InvalidAmount, Reason: "must be greater than zero"}
	}
	if !value.Equal(value.Truncate(v.amount.Scale)) {
		return decimal.Zero, &ValidationError{
			Kind:   InvalidAmount,
			Reason: fmt.Sprintf("must have at most %d decimal places", v.amount.Scale),
		}
	}
	if v.amount.Max.IsPositive() && value.GreaterThan(v.amount.Max) {
		return decimal.Zero, &ValidationError{
			Kind:   InvalidAmount,
			Reason: fmt.Sprintf("must not exceed %s", v.amount.Max.String()),
		}
	}

	return value, nil
}

// NormalizePayee strips formatting and any country or trunk prefix, then
// returns the bare subscriber number.
func (v *Validator) NormalizePayee(raw string) (string, error) {
	stripped := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	stripped = strings.TrimPrefix(stripped, "+")

	if stripped == "" {
		return "", &ValidationError{Kind: InvalidPayee, Reason: "is required"}
	}
	if !isDigits(stripped) {
		return "", &ValidationError{Kind: InvalidPayee, Reason: "must contain digits only"}
	}

	want := v.payee.SubscriberLength
	switch {
	case v.payee.CountryCode != "" && strings.HasPrefix(stripped, v.payee.CountryCode) && len(stripped) > want:
		stripped = stripped[len(v.payee.CountryCode):]
	case strings.HasPrefix(stripped, "0") && len(stripped) == want+1:
		stripped = stripped[1:]
	}

	if n := len(stripped); n < want {
		return "", &ValidationError{Kind: InvalidPayee, Reason: fmt.Sprintf("needs %d more %s", want-n, digitWord(want-n))}
	} else if n > want {
		return "", &ValidationError{Kind: InvalidPayee, Reason: fmt.Sprintf("has %d too many %s", n-want, digitWord(n-want))}
	}

	if stripped == "" {
		return "", &ValidationError{Kind: InvalidPayee, Reason: "has no subscriber number"}
	}
	if !strings.ContainsRune(v.payee.LeadingDigits, rune(stripped[0])) {
		return "", &ValidationError{Kind: InvalidPayee, Reason: "must start with " + describeDigits(v.payee.LeadingDigits)}
	}

	return stripped, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digitWord(n int) string {
	if n == 1 {
		return "digit"
	}
	return "digits"
}

// describeDigits renders "7", "7 or 1", "7, 1 or 0"
func describeDigits(set string) string {
	parts := strings.Split(set, "")
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
}
