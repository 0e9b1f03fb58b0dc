package service

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/logging"
	"github.com/mn-ibiz/pos-sub020/models"
	"github.com/mn-ibiz/pos-sub020/session"
	"github.com/mn-ibiz/pos-sub020/validator"
)

// PaymentService is the terminal-facing entry point for push payments
type PaymentService struct {
	tracer  trace.Tracer
	manager *session.Manager
}

// NewPaymentService creates a new payment service
func NewPaymentService(tracer trace.Tracer, manager *session.Manager) *PaymentService {
	return &PaymentService{
		tracer:  tracer,
		manager: manager,
	}
}

// StartPayment validates the request and starts a push payment attempt
func (s *PaymentService) StartPayment(ctx context.Context, req *models.PushPaymentRequest) (*models.PushPaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "start_push_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.sale_id", req.SaleID),
		attribute.Float64("payment.amount", req.Amount),
	)

	logger := logging.WithTraceContext(span)

	snap, err := s.manager.Start(ctx, req.SaleID, req.Amount, req.Phone)
	if err != nil {
		var verr *validator.ValidationError
		switch {
		case errors.As(err, &verr):
			logger.Info("Push payment request rejected",
				zap.String("sale_id", req.SaleID),
				zap.String("kind", string(verr.Kind)),
				zap.String("reason", verr.Reason),
			)
			span.SetAttributes(attribute.String("payment.validation", string(verr.Kind)))
		case errors.Is(err, session.ErrAttemptInProgress):
			logger.Warn("Push payment already in progress", zap.String("sale_id", req.SaleID))
		default:
			logger.Error("Failed to start push payment", zap.Error(err), zap.String("sale_id", req.SaleID))
			span.SetStatus(otelcodes.Error, err.Error())
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("payment.attempt_id", snap.AttemptID),
		attribute.String("payment.payee", snap.Payee),
	)
	logger.Info("Push payment started",
		zap.String("sale_id", snap.SaleID),
		zap.String("attempt_id", snap.AttemptID),
		zap.String("amount", snap.Amount.StringFixed(2)),
	)

	return &models.PushPaymentResponse{
		AttemptID: snap.AttemptID,
		SaleID:    snap.SaleID,
		State:     snap.State,
		Payee:     snap.Payee,
		Amount:    snap.Amount.StringFixed(2),
	}, nil
}

// GetPayment returns the active or last finished attempt for saleID
func (s *PaymentService) GetPayment(ctx context.Context, saleID string) (confirmation.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "get_push_payment")
	defer span.End()

	span.SetAttributes(attribute.String("payment.sale_id", saleID))

	snap, err := s.manager.Status(ctx, saleID)
	if err != nil && !errors.Is(err, session.ErrUnknownSale) {
		logging.WithTraceContext(span).Error("Failed to load push payment", zap.Error(err), zap.String("sale_id", saleID))
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return snap, err
}

// CancelPayment abandons the active attempt for saleID
func (s *PaymentService) CancelPayment(ctx context.Context, saleID string) error {
	_, span := s.tracer.Start(ctx, "cancel_push_payment")
	defer span.End()

	span.SetAttributes(attribute.String("payment.sale_id", saleID))

	if err := s.manager.Cancel(saleID); err != nil {
		return err
	}

	logging.WithTraceContext(span).Info("Push payment cancelled by cashier", zap.String("sale_id", saleID))
	return nil
}

// WatchPayment streams progress of the active attempt for saleID. The
// channel closes after the terminal update or once stop is called.
func (s *PaymentService) WatchPayment(saleID string) (<-chan models.SessionUpdate, func(), error) {
	updates, unsubscribe, err := s.manager.Subscribe(saleID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan models.SessionUpdate)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for u := range updates {
			select {
			case out <- toSessionUpdate(u):
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(stop)
			unsubscribe()
		})
	}, nil
}

func toSessionUpdate(u session.Update) models.SessionUpdate {
	return models.SessionUpdate{
		AttemptID: u.AttemptID,
		SaleID:    u.SaleID,
		State:     u.State,
		Previous:  u.Previous,
		Terminal:  u.Terminal,
		Result:    u.Result,
		At:        u.At,
	}
}
