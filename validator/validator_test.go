package validator

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Success(t *testing.T) {
	v := New(DefaultPayeeFormat(), DefaultAmountFormat())

	tests := []struct {
		name       string
		amount     float64
		payee      string
		wantAmount string
	}{
		{"bare subscriber", 500, "712345678", "500"},
		{"trunk prefix", 500, "0712345678", "500"},
		{"country code", 99.5, "254712345678", "99.5"},
		{"international format", 1, "+254 712-345-678", "1"},
		{"leading one", 0.01, "112345678", "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := v.Validate(tt.amount, tt.payee)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, req.Amount.String())
			assert.Len(t, req.Subscriber, 9)
			assert.Equal(t, "254"+req.Subscriber, req.Payee)
		})
	}
}

func TestValidate_InvalidAmount(t *testing.T) {
	v := New(DefaultPayeeFormat(), AmountFormat{Scale: 2, Max: decimal.NewFromInt(150000)})

	tests := []struct {
		name   string
		amount float64
		reason string
	}{
		{"zero", 0, "must be greater than zero"},
		{"negative", -10, "must be greater than zero"},
		{"nan", math.NaN(), "must be a finite number"},
		{"infinite", math.Inf(1), "must be a finite number"},
		{"too precise", 10.005, "must have at most 2 decimal places"},
		{"above ceiling", 150000.01, "must not exceed 150000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.amount, "712345678")
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, InvalidAmount, verr.Kind)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestValidate_InvalidPayee(t *testing.T) {
	v := New(DefaultPayeeFormat(), DefaultAmountFormat())

	tests := []struct {
		name   string
		payee  string
		reason string
	}{
		{"empty", "  ", "is required"},
		{"letters", "7123abc78", "must contain digits only"},
		{"one short", "71234567", "needs 1 more digit"},
		{"three short", "712345", "needs 3 more digits"},
		{"one long", "7123456789", "has 1 too many digit"},
		{"bad prefix", "612345678", "must start with 7 or 1"},
		{"bad prefix after trunk", "0612345678", "must start with 7 or 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(500, tt.payee)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, InvalidPayee, verr.Kind)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestValidate_AmountCheckedBeforePayee(t *testing.T) {
	v := New(DefaultPayeeFormat(), DefaultAmountFormat())

	_, err := v.Validate(0, "bad")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, InvalidAmount, verr.Kind)
}

func TestNormalizePayee_CustomFormat(t *testing.T) {
	v := New(PayeeFormat{CountryCode: "255", SubscriberLength: 9, LeadingDigits: "67"}, DefaultAmountFormat())

	sub, err := v.NormalizePayee("255 612 345 678")
	require.NoError(t, err)
	assert.Equal(t, "612345678", sub)

	_, err = v.NormalizePayee("512345678")
	require.Error(t, err)
	assert.Equal(t, "invalid_payee: must start with 6 or 7", err.Error())
}

func TestNormalizePayee_NoSubscriberDigits(t *testing.T) {
	v := New(PayeeFormat{CountryCode: "254", LeadingDigits: "7"}, DefaultAmountFormat())

	for _, raw := range []string{"254", "+254", "0"} {
		var sub string
		var err error
		require.NotPanics(t, func() { sub, err = v.NormalizePayee(raw) }, raw)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr), raw)
		assert.Equal(t, InvalidPayee, verr.Kind)
		assert.Empty(t, sub)
	}
}
