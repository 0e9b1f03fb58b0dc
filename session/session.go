// Package session drives one push payment attempt from validation to its
// terminal result and delivers that result exactly once.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/gateway"
	"github.com/mn-ibiz/pos-sub020/logging"
	"github.com/mn-ibiz/pos-sub020/monitoring"
	"github.com/mn-ibiz/pos-sub020/validator"
)

// ErrAlreadyStarted is returned by a second Start on the same session
var ErrAlreadyStarted = errors.New("session already started")

// updateBuffer covers every update one attempt can emit: RequestSent,
// AwaitingCustomer and the terminal update. Emitting never blocks. The same
// bound holds for recorded transitions queued for observers.
const updateBuffer = 4

// Config is the poll schedule
type Config struct {
	PollInterval time.Duration // cadence between status checks
	PollBudget   time.Duration // wall-clock ceiling before TimedOut
	QueryTimeout time.Duration // per-query deadline, defaults to PollInterval
}

// DefaultConfig polls every 3 seconds for up to 90 seconds
func DefaultConfig() Config {
	return Config{
		PollInterval: 3 * time.Second,
		PollBudget:   90 * time.Second,
	}
}

// Update is one progress event. Exactly one update per attempt has Terminal
// set, and it is the last one before the channel closes.
type Update struct {
	AttemptID string
	SaleID    string
	State     confirmation.State
	Previous  confirmation.State
	Terminal  bool
	Result    *confirmation.Result
	At        time.Time
}

// Observer is notified of every recorded transition, in order, from a
// goroutine of its own so a slow sink never holds up polling or delivery.
// Audit writers implement it.
type Observer interface {
	ObserveTransition(ctx context.Context, snap confirmation.Snapshot, t confirmation.Transition)
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithObserver adds a transition observer
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// WithTracer sets the tracer used for the attempt span
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// Session owns one PaymentAttempt. After Start, a single goroutine is the
// only writer of the attempt; everything else reads copies.
type Session struct {
	saleID    string
	gateway   gateway.Client
	validator *validator.Validator
	cfg       Config
	clock     Clock
	tracer    trace.Tracer
	observers []Observer

	started   atomic.Bool
	delivered atomic.Bool

	attempt  *confirmation.Attempt
	deadline time.Time

	updates    chan Update
	audit      chan observed
	audited    chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	mu       sync.RWMutex
	snapshot confirmation.Snapshot
	result   *confirmation.Result
}

// New creates a session for one attempt at paying saleID
func New(saleID string, gw gateway.Client, v *validator.Validator, cfg Config, opts ...Option) *Session {
	s := &Session{
		saleID:    saleID,
		gateway:   gw,
		validator: v,
		cfg:       cfg,
		clock:     realClock{},
		tracer:    otel.Tracer("pushpay/session"),
		updates:   make(chan Update, updateBuffer),
		audit:     make(chan observed, updateBuffer),
		audited:   make(chan struct{}),
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the request and, if it is valid, starts the attempt in the
// background. Validation errors are returned here and never reach the
// gateway; the session can then be started again with corrected input.
func (s *Session) Start(ctx context.Context, amount float64, rawPayee string) (<-chan Update, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	req, err := s.validator.Validate(amount, rawPayee)
	if err != nil {
		s.started.Store(false)
		return nil, err
	}

	now := s.clock.Now()
	s.attempt = confirmation.NewAttempt(s.saleID, req.Amount, req.Payee, now)
	s.deadline = now.Add(s.cfg.PollBudget)
	s.publishSnapshot()

	monitoring.AttemptsStarted.Add(ctx, 1)
	monitoring.PaymentAmount.Record(ctx, req.Amount.InexactFloat64())

	go s.notifyObservers()
	go s.run(ctx)

	return s.updates, nil
}

// Cancel abandons the attempt. It is safe to call any number of times, from
// any goroutine, before or after the attempt has ended.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Done is closed once the terminal result has been delivered
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the terminal result once delivered
func (s *Session) Result() (confirmation.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return confirmation.Result{}, false
	}
	return *s.result, true
}

// Wait blocks until the attempt ends or ctx is done
func (s *Session) Wait(ctx context.Context) (confirmation.Result, error) {
	select {
	case <-s.done:
		r, _ := s.Result()
		return r, nil
	case <-ctx.Done():
		return confirmation.Result{}, ctx.Err()
	}
}

// Snapshot returns a copy of the attempt as of the last applied event
func (s *Session) Snapshot() confirmation.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Audited is closed once every observer has seen the last transition
func (s *Session) Audited() <-chan struct{} {
	return s.audited
}

// SaleID returns the sale this session pays for
func (s *Session) SaleID() string {
	return s.saleID
}

func (s *Session) run(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "push_payment.confirm",
		trace.WithAttributes(
			attribute.String("payment.attempt_id", s.attempt.ID),
			attribute.String("payment.sale_id", s.saleID),
		),
	)
	defer span.End()

	if s.cancelRequested(ctx) {
		s.apply(ctx, confirmation.Event{Kind: confirmation.EventCancelled})
		return
	}

	initCtx, cancel := context.WithTimeout(ctx, s.cfg.PollBudget)
	token, err := s.gateway.Initiate(initCtx, gateway.InitiateRequest{
		Amount:           s.attempt.Amount,
		Payee:            s.attempt.Payee,
		SessionReference: s.attempt.ID,
	})
	cancel()

	if s.cancelRequested(ctx) {
		if err == nil {
			logging.FromContext(ctx).Warn("Push request sent but attempt abandoned before polling",
				zap.String("attempt_id", s.attempt.ID),
				zap.String("correlation_token", token),
			)
		}
		s.apply(ctx, confirmation.Event{Kind: confirmation.EventCancelled})
		return
	}

	event := initiationEvent(token, err)
	if event.Kind == confirmation.EventGatewayUnreachable && !s.clock.Now().Before(s.deadline) {
		// The provider stayed silent for the whole budget.
		event = confirmation.Event{Kind: confirmation.EventBudgetExceeded}
	}
	if s.apply(ctx, event) {
		return
	}

	for {
		if !s.clock.Now().Before(s.deadline) {
			s.apply(ctx, confirmation.Event{Kind: confirmation.EventBudgetExceeded})
			return
		}

		wait := s.cfg.PollInterval
		if remaining := s.deadline.Sub(s.clock.Now()); remaining < wait {
			wait = remaining
		}

		select {
		case <-s.clock.After(wait):
		case <-s.cancelCh:
			s.apply(ctx, confirmation.Event{Kind: confirmation.EventCancelled})
			return
		case <-ctx.Done():
			s.apply(ctx, confirmation.Event{Kind: confirmation.EventCancelled})
			return
		}

		snap, err := s.query(ctx, token)

		if s.cancelRequested(ctx) {
			// The query was in flight when the cashier gave up; its answer is stale.
			if err == nil && snap.Status == gateway.StatusSucceeded {
				logging.FromContext(ctx).Warn("Discarding success received after abandonment",
					zap.String("attempt_id", s.attempt.ID),
					zap.String("receipt_ref", snap.ReceiptRef),
				)
			}
			s.apply(ctx, confirmation.Event{Kind: confirmation.EventCancelled})
			return
		}

		if s.apply(ctx, pollEvent(token, snap, err)) {
			return
		}
	}
}

func (s *Session) query(ctx context.Context, token string) (gateway.StatusSnapshot, error) {
	timeout := s.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = s.cfg.PollInterval
	}
	// A silent gateway must not hold the attempt past budget + half an interval.
	if limit := s.deadline.Add(s.cfg.PollInterval / 2).Sub(s.clock.Now()); limit < timeout {
		timeout = limit
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.gateway.QueryStatus(qctx, token)
}

// apply feeds one event to the attempt and carries out the resulting
// effects. It reports whether the attempt is now terminal.
func (s *Session) apply(ctx context.Context, event confirmation.Event) bool {
	event.AttemptID = s.attempt.ID
	prev := s.attempt.State

	outcome, err := s.attempt.Apply(event, s.clock.Now())
	if err != nil {
		logging.FromContext(ctx).Debug("Event discarded",
			zap.String("attempt_id", s.attempt.ID),
			zap.String("event", string(event.Kind)),
			zap.String("state", prev.String()),
			zap.Error(err),
		)
		return s.attempt.State.IsTerminal()
	}

	s.publishSnapshot()

	if event.Kind.IsPoll() {
		monitoring.StatusPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(event.Kind))))
	}
	if outcome.Has(confirmation.EffectCountTransientError) {
		monitoring.TransientQueryErrors.Add(ctx, 1)
		logging.FromContext(ctx).Warn("Transient status query failure",
			zap.String("attempt_id", s.attempt.ID),
			zap.Int("consecutive", s.attempt.ConsecutiveTransientErrors),
			zap.String("error", event.Message),
		)
	}

	if outcome.Changed(prev) {
		t, _ := s.attempt.LastTransition()
		trace.SpanFromContext(ctx).AddEvent("transition", trace.WithAttributes(
			attribute.String("from", t.From.String()),
			attribute.String("to", t.To.String()),
			attribute.String("event", string(t.Event)),
		))

		s.audit <- observed{ctx: ctx, snap: s.Snapshot(), transition: t}

		if !outcome.Next.IsTerminal() {
			s.updates <- Update{
				AttemptID: s.attempt.ID,
				SaleID:    s.saleID,
				State:     outcome.Next,
				Previous:  prev,
				At:        t.At,
			}
		}
	}

	if s.attempt.State.IsTerminal() {
		s.deliver(ctx, prev)
		return true
	}
	return false
}

// deliver emits the terminal update. The compare-and-set makes a second
// delivery impossible even if a future caller races the poll loop.
func (s *Session) deliver(ctx context.Context, prev confirmation.State) {
	if !s.delivered.CompareAndSwap(false, true) {
		return
	}

	result := *s.attempt.Result

	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("payment.state", result.State.String()))
	if result.Success {
		span.SetAttributes(attribute.String("payment.receipt_ref", result.ReceiptRef))
	} else if result.State != confirmation.StateAbandoned {
		span.SetStatus(otelcodes.Error, result.Message)
	}

	monitoring.AttemptOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", result.State.String())))
	monitoring.AttemptDuration.Record(ctx, result.At.Sub(s.attempt.CreatedAt).Seconds(),
		metric.WithAttributes(attribute.String("state", result.State.String())))

	s.updates <- Update{
		AttemptID: s.attempt.ID,
		SaleID:    s.saleID,
		State:     result.State,
		Previous:  prev,
		Terminal:  true,
		Result:    &result,
		At:        result.At,
	}
	close(s.updates)
	close(s.audit)
	close(s.done)
}

type observed struct {
	ctx        context.Context
	snap       confirmation.Snapshot
	transition confirmation.Transition
}

func (s *Session) notifyObservers() {
	defer close(s.audited)

	for item := range s.audit {
		ctx := context.WithoutCancel(item.ctx)
		for _, o := range s.observers {
			o.ObserveTransition(ctx, item.snap, item.transition)
		}
	}
}

func (s *Session) publishSnapshot() {
	snap := s.attempt.Snapshot()
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

func (s *Session) cancelRequested(ctx context.Context) bool {
	select {
	case <-s.cancelCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func initiationEvent(token string, err error) confirmation.Event {
	if err == nil {
		return confirmation.Event{Kind: confirmation.EventInitiated, CorrelationToken: token}
	}

	var ierr *gateway.InitiationError
	if errors.As(err, &ierr) {
		kind := confirmation.EventGatewayUnreachable
		if ierr.Kind == gateway.Rejected {
			kind = confirmation.EventInitiationRejected
		}
		return confirmation.Event{Kind: kind, ReasonCode: ierr.ReasonCode, Message: ierr.Message}
	}

	// Anything untyped is treated as not having reached the provider.
	return confirmation.Event{Kind: confirmation.EventGatewayUnreachable}
}

func pollEvent(token string, snap gateway.StatusSnapshot, err error) confirmation.Event {
	if err != nil {
		return confirmation.Event{Kind: confirmation.EventQueryFailed, CorrelationToken: token, Message: err.Error()}
	}

	event := confirmation.Event{
		CorrelationToken: snap.CorrelationToken,
		ReceiptRef:       snap.ReceiptRef,
		ReasonCode:       snap.ReasonCode,
		Message:          snap.Message,
	}

	switch snap.Status {
	case gateway.StatusStillPending:
		event.Kind = confirmation.EventStillPending
	case gateway.StatusCustomerInteracting:
		event.Kind = confirmation.EventCustomerInteracting
	case gateway.StatusSucceeded:
		event.Kind = confirmation.EventSucceeded
	case gateway.StatusDeclinedByCustomer:
		event.Kind = confirmation.EventDeclinedByCustomer
	case gateway.StatusRejectedByProvider:
		event.Kind = confirmation.EventRejectedByProvider
	default:
		event.Kind = confirmation.EventQueryFailed
		event.CorrelationToken = token
		event.Message = "unknown gateway status " + string(snap.Status)
	}

	return event
}
