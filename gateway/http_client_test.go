package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mn-ibiz/pos-sub020/models"
)

func TestHTTPClient_Initiate(t *testing.T) {
	tests := []struct {
		name           string
		mockStatusCode int
		mockBody       any
		wantToken      string
		wantKind       InitiationErrorKind
		wantCode       string
	}{
		{
			name:           "accepted",
			mockStatusCode: http.StatusOK,
			mockBody:       models.ProviderInitiateResponse{CorrelationToken: "T-1"},
			wantToken:      "T-1",
		},
		{
			name:           "rejected synchronously",
			mockStatusCode: http.StatusBadRequest,
			mockBody:       models.ProviderError{ReasonCode: "400.002.02", Message: "Invalid PhoneNumber"},
			wantKind:       Rejected,
			wantCode:       "400.002.02",
		},
		{
			name:           "provider down",
			mockStatusCode: http.StatusServiceUnavailable,
			wantKind:       Unreachable,
		},
		{
			name:           "accepted without token",
			mockStatusCode: http.StatusOK,
			mockBody:       map[string]string{},
			wantKind:       Unreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/push-payments", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

				var body models.ProviderInitiateRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "500.00", body.Amount)
				assert.Equal(t, "KES", body.Currency)
				assert.Equal(t, "254712345678", body.Phone)
				assert.Equal(t, "attempt-1", body.Reference)

				w.WriteHeader(tt.mockStatusCode)
				if tt.mockBody != nil {
					json.NewEncoder(w).Encode(tt.mockBody)
				}
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL+"/", "secret", "KES", 5*time.Second)
			token, err := client.Initiate(context.Background(), InitiateRequest{
				Amount:           decimal.NewFromInt(500),
				Payee:            "254712345678",
				SessionReference: "attempt-1",
			})

			if tt.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantToken, token)
				return
			}

			var ierr *InitiationError
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, tt.wantKind, ierr.Kind)
			assert.Equal(t, tt.wantCode, ierr.ReasonCode)
			assert.Empty(t, token)
		})
	}
}

func TestHTTPClient_InitiateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewHTTPClient(server.URL, "", "KES", time.Second)
	_, err := client.Initiate(context.Background(), InitiateRequest{Amount: decimal.NewFromInt(1), Payee: "254712345678"})

	var ierr *InitiationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, Unreachable, ierr.Kind)
}

func TestHTTPClient_QueryStatus(t *testing.T) {
	tests := []struct {
		name          string
		mockStatus    int
		mockBody      any
		want          StatusSnapshot
		wantTransient bool
	}{
		{
			name:       "pending",
			mockStatus: http.StatusOK,
			mockBody:   models.ProviderStatusResponse{CorrelationToken: "T-1", Status: "pending"},
			want:       StatusSnapshot{CorrelationToken: "T-1", Status: StatusStillPending},
		},
		{
			name:       "processing",
			mockStatus: http.StatusOK,
			mockBody:   models.ProviderStatusResponse{CorrelationToken: "T-1", Status: "processing"},
			want:       StatusSnapshot{CorrelationToken: "T-1", Status: StatusCustomerInteracting},
		},
		{
			name:       "succeeded",
			mockStatus: http.StatusOK,
			mockBody:   models.ProviderStatusResponse{CorrelationToken: "T-1", Status: "succeeded", Receipt: "QAZ123XYZ"},
			want:       StatusSnapshot{CorrelationToken: "T-1", Status: StatusSucceeded, ReceiptRef: "QAZ123XYZ"},
		},
		{
			name:       "declined",
			mockStatus: http.StatusOK,
			mockBody:   models.ProviderStatusResponse{CorrelationToken: "T-1", Status: "declined", ReasonCode: "1032"},
			want:       StatusSnapshot{CorrelationToken: "T-1", Status: StatusDeclinedByCustomer, ReasonCode: "1032"},
		},
		{
			name:       "rejected",
			mockStatus: http.StatusOK,
			mockBody:   models.ProviderStatusResponse{Status: "rejected", ReasonCode: "1", Message: "insufficient balance"},
			want:       StatusSnapshot{CorrelationToken: "T-1", Status: StatusRejectedByProvider, ReasonCode: "1", Message: "insufficient balance"},
		},
		{
			name:          "server error",
			mockStatus:    http.StatusBadGateway,
			wantTransient: true,
		},
		{
			name:          "unknown status",
			mockStatus:    http.StatusOK,
			mockBody:      models.ProviderStatusResponse{Status: "on_hold"},
			wantTransient: true,
		},
		{
			name:          "garbage body",
			mockStatus:    http.StatusOK,
			mockBody:      "not an object",
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/push-payments/T-1", r.URL.Path)

				w.WriteHeader(tt.mockStatus)
				if tt.mockBody != nil {
					json.NewEncoder(w).Encode(tt.mockBody)
				}
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, "", "KES", 5*time.Second)
			snap, err := client.QueryStatus(context.Background(), "T-1")

			if tt.wantTransient {
				assert.ErrorIs(t, err, ErrQueryTransient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, snap)
		})
	}
}

func TestHTTPClient_QueryStatusHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPClient(server.URL, "", "KES", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.QueryStatus(ctx, "T-1")
	assert.ErrorIs(t, err, ErrQueryTransient)
	assert.Less(t, time.Since(start), 5*time.Second)
}
