package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/logging"
	"github.com/mn-ibiz/pos-sub020/models"
	"github.com/mn-ibiz/pos-sub020/monitoring"
)

// HTTPClient talks to a push payment provider over JSON/HTTP
type HTTPClient struct {
	baseURL  string
	apiKey   string
	currency string
	client   *http.Client
}

// NewHTTPClient creates a provider client. Deadlines come from the caller's
// context; timeout only bounds calls made without one.
func NewHTTPClient(baseURL, apiKey, currency string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		currency: currency,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

// Initiate asks the provider to push a payment prompt to the payee
func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("external.service", "payment-provider"),
		attribute.String("payment.session_reference", req.SessionReference),
	)

	body := models.ProviderInitiateRequest{
		Amount:    req.Amount.StringFixed(2),
		Currency:  c.currency,
		Phone:     req.Payee,
		Reference: req.SessionReference,
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, "/v1/push-payments", body)
	if err != nil {
		c.record(ctx, "initiate", "error", start)
		span.SetAttributes(attribute.String("external.status", "error"))
		return "", &InitiationError{Kind: Unreachable, Err: fmt.Errorf("failed to call payment provider: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		c.record(ctx, "initiate", "failed", start)
		span.SetAttributes(attribute.Int("external.status_code", resp.StatusCode))
		return "", &InitiationError{Kind: Unreachable, Err: fmt.Errorf("payment provider returned status %d", resp.StatusCode)}
	}

	if resp.StatusCode != http.StatusOK {
		c.record(ctx, "initiate", "rejected", start)
		span.SetAttributes(attribute.Int("external.status_code", resp.StatusCode))

		var perr models.ProviderError
		_ = json.NewDecoder(resp.Body).Decode(&perr)
		return "", &InitiationError{
			Kind:       Rejected,
			ReasonCode: perr.ReasonCode,
			Message:    perr.Message,
			Err:        fmt.Errorf("payment provider returned status %d", resp.StatusCode),
		}
	}

	var out models.ProviderInitiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.CorrelationToken == "" {
		// The provider accepted something but the token is lost; we cannot poll it.
		c.record(ctx, "initiate", "failed", start)
		if err == nil {
			err = errors.New("missing correlation token")
		}
		return "", &InitiationError{Kind: Unreachable, Err: fmt.Errorf("failed to decode initiation response: %w", err)}
	}

	c.record(ctx, "initiate", "success", start)
	span.SetAttributes(attribute.String("external.correlation_token", out.CorrelationToken))

	return out.CorrelationToken, nil
}

// QueryStatus fetches the provider's view of one push payment
func (c *HTTPClient) QueryStatus(ctx context.Context, correlationToken string) (StatusSnapshot, error) {
	start := time.Now()
	resp, err := c.do(ctx, http.MethodGet, "/v1/push-payments/"+url.PathEscape(correlationToken), nil)
	if err != nil {
		c.record(ctx, "query", "error", start)
		return StatusSnapshot{}, transientf("failed to call payment provider: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.record(ctx, "query", "failed", start)
		return StatusSnapshot{}, transientf("payment provider returned status %d", resp.StatusCode)
	}

	var out models.ProviderStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.record(ctx, "query", "failed", start)
		return StatusSnapshot{}, transientf("failed to decode status response: %v", err)
	}

	status, ok := providerStatuses[out.Status]
	if !ok {
		c.record(ctx, "query", "failed", start)
		logging.FromContext(ctx).Warn("Unknown provider status",
			zap.String("correlation_token", correlationToken),
			zap.String("status", out.Status),
		)
		return StatusSnapshot{}, transientf("unknown provider status %q", out.Status)
	}

	c.record(ctx, "query", "success", start)

	token := out.CorrelationToken
	if token == "" {
		token = correlationToken
	}

	return StatusSnapshot{
		CorrelationToken: token,
		Status:           status,
		ReceiptRef:       out.Receipt,
		ReasonCode:       out.ReasonCode,
		Message:          out.Message,
	}, nil
}

var providerStatuses = map[string]Status{
	"pending":    StatusStillPending,
	"processing": StatusCustomerInteracting,
	"succeeded":  StatusSucceeded,
	"declined":   StatusDeclinedByCustomer,
	"rejected":   StatusRejectedByProvider,
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	return c.client.Do(req)
}

func (c *HTTPClient) record(ctx context.Context, operation, status string, start time.Time) {
	monitoring.GatewayCallDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}
