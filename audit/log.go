package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/logging"
)

// LogObserver writes each transition to the service log
type LogObserver struct{}

// NewLogObserver creates a LogObserver
func NewLogObserver() *LogObserver {
	return &LogObserver{}
}

// ObserveTransition logs t with the trace context carried by ctx
func (o *LogObserver) ObserveTransition(ctx context.Context, snap confirmation.Snapshot, t confirmation.Transition) {
	logger := logging.FromContext(ctx)

	fields := []zap.Field{
		zap.String("attempt_id", snap.AttemptID),
		zap.String("sale_id", snap.SaleID),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
		zap.String("event", string(t.Event)),
		zap.Time("at", t.At),
	}
	if snap.CorrelationToken != "" {
		fields = append(fields, zap.String("correlation_token", snap.CorrelationToken))
	}

	if !t.To.IsTerminal() || snap.Result == nil {
		logger.Info("Payment attempt transition", fields...)
		return
	}

	r := snap.Result
	fields = append(fields,
		zap.Bool("success", r.Success),
		zap.String("reason", r.Reason),
		zap.String("message", r.Message),
		zap.Int("polls", snap.Polls),
		zap.Int("transient_errors", snap.TransientErrors),
	)
	if r.ReceiptRef != "" {
		fields = append(fields, zap.String("receipt_ref", r.ReceiptRef))
	}
	if r.ProviderCode != "" {
		fields = append(fields, zap.String("provider_code", r.ProviderCode))
	}

	switch t.To {
	case confirmation.StateSettled, confirmation.StateAbandoned:
		logger.Info("Payment attempt finished", fields...)
	default:
		logger.Warn("Payment attempt failed", fields...)
	}
}
