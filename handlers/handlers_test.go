package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/gateway"
	"github.com/mn-ibiz/pos-sub020/models"
	"github.com/mn-ibiz/pos-sub020/service"
	"github.com/mn-ibiz/pos-sub020/session"
	"github.com/mn-ibiz/pos-sub020/store"
	"github.com/mn-ibiz/pos-sub020/validator"
)

const (
	settlingPhone = "0712345678"
	pendingPhone  = "0722000111"
	rejectedPhone = "0733000222"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sim := gateway.NewSimulator(
		gateway.WithSeed(7),
		gateway.WithScript("254712345678",
			gateway.StatusStillPending,
			gateway.StatusStillPending,
			gateway.StatusCustomerInteracting,
			gateway.StatusSucceeded,
		),
		gateway.WithScript("254722000111", gateway.StatusStillPending),
		gateway.WithRejectedPayee("254733000222"),
	)

	manager := session.NewManager(sim,
		validator.New(validator.DefaultPayeeFormat(), validator.DefaultAmountFormat()),
		session.Config{PollInterval: 20 * time.Millisecond, PollBudget: 5 * time.Second},
		store.NewMemoryStore(time.Hour),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	h := NewPaymentHandler(service.NewPaymentService(noop.NewTracerProvider().Tracer("test"), manager))
	r := gin.New()
	h.Register(r)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getSnapshot(t *testing.T, r http.Handler, saleID string) confirmation.Snapshot {
	t.Helper()
	w := doJSON(r, http.MethodGet, "/api/payments/"+saleID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap confirmation.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestStartPayment_BadRequests(t *testing.T) {
	r := setupRouter(t)

	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{name: "missing sale id", body: map[string]any{"amount": 500, "phone": settlingPhone}, status: http.StatusBadRequest},
		{name: "zero amount", body: models.PushPaymentRequest{SaleID: "s1", Amount: 0, Phone: settlingPhone}, status: http.StatusUnprocessableEntity, kind: "invalid_amount"},
		{name: "short phone", body: models.PushPaymentRequest{SaleID: "s1", Amount: 500, Phone: "07123"}, status: http.StatusUnprocessableEntity, kind: "invalid_payee"},
		{name: "letters in phone", body: models.PushPaymentRequest{SaleID: "s1", Amount: 500, Phone: "07abc45678"}, status: http.StatusUnprocessableEntity, kind: "invalid_payee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/payments/push", tt.body)
			assert.Equal(t, tt.status, w.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}

	w := doJSON(r, http.MethodGet, "/api/payments/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "invalid requests never create an attempt")
}

func TestStartPayment_Settles(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/payments/push", models.PushPaymentRequest{SaleID: "sale-1", Amount: 500, Phone: settlingPhone})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp models.PushPaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AttemptID)
	assert.Equal(t, "254712345678", resp.Payee)
	assert.Equal(t, "500.00", resp.Amount)

	require.Eventually(t, func() bool {
		return getSnapshot(t, r, "sale-1").State == confirmation.StateSettled
	}, 5*time.Second, 10*time.Millisecond)

	snap := getSnapshot(t, r, "sale-1")
	require.NotNil(t, snap.Result)
	assert.True(t, snap.Result.Success)
	assert.NotEmpty(t, snap.Result.ReceiptRef)
	assert.Equal(t, 4, snap.Polls)
	assert.Equal(t, resp.AttemptID, snap.AttemptID)
}

func TestStartPayment_RejectedAtInitiation(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/payments/push", models.PushPaymentRequest{SaleID: "sale-2", Amount: 120.5, Phone: rejectedPhone})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return getSnapshot(t, r, "sale-2").State == confirmation.StateRejected
	}, 5*time.Second, 10*time.Millisecond)

	snap := getSnapshot(t, r, "sale-2")
	require.NotNil(t, snap.Result)
	assert.Equal(t, confirmation.ReasonInitiationRejected, snap.Result.Reason)
	assert.Zero(t, snap.Polls)
}

func TestStartPayment_ConflictAndCancel(t *testing.T) {
	r := setupRouter(t)

	body := models.PushPaymentRequest{SaleID: "sale-3", Amount: 75, Phone: pendingPhone}
	w := doJSON(r, http.MethodPost, "/api/payments/push", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(r, http.MethodPost, "/api/payments/push", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/api/payments/sale-3/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return getSnapshot(t, r, "sale-3").State == confirmation.StateAbandoned
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return doJSON(r, http.MethodPost, "/api/payments/sale-3/cancel", nil).Code == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnknownSale(t *testing.T) {
	r := setupRouter(t)

	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/api/payments/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodPost, "/api/payments/nope/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/api/payments/nope/events", nil).Code)
}

func TestStreamPayment(t *testing.T) {
	r := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	w := doJSON(r, http.MethodPost, "/api/payments/push", models.PushPaymentRequest{SaleID: "sale-4", Amount: 500, Phone: settlingPhone})
	require.Equal(t, http.StatusAccepted, w.Code)

	resp, err := http.Get(srv.URL + "/api/payments/sale-4/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	stream := string(body)
	assert.Contains(t, stream, "event:update")
	assert.Contains(t, stream, `"state":"settled"`)
	assert.Equal(t, 1, strings.Count(stream, `"terminal":true`))
}
