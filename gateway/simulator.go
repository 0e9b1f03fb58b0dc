package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/logging"
)

// Simulator is an in-process provider for local runs and demos. Unless a
// payee has a script, each push payment stays pending for a few polls, shows
// the customer interacting, then settles, is declined, or never answers.
type Simulator struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	latency  time.Duration
	scripts  map[string][]Status
	rejected map[string]bool
	payments map[string]*simulatedPayment
	seq      int
}

type simulatedPayment struct {
	payee   string
	script  []Status
	polls   int
	receipt string
}

// SimulatorOption configures a Simulator
type SimulatorOption func(*Simulator)

// WithLatency adds up to d of random delay to each call
func WithLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.latency = d }
}

// WithSeed makes the random progression reproducible
func WithSeed(seed int64) SimulatorOption {
	return func(s *Simulator) { s.rnd = rand.New(rand.NewSource(seed)) }
}

// WithScript fixes the statuses returned for payee, one per poll. The last
// status repeats once the script is exhausted.
func WithScript(payee string, statuses ...Status) SimulatorOption {
	return func(s *Simulator) {
		if len(statuses) > 0 {
			s.scripts[payee] = statuses
		}
	}
}

// WithRejectedPayee makes initiation for payee fail synchronously
func WithRejectedPayee(payee string) SimulatorOption {
	return func(s *Simulator) { s.rejected[payee] = true }
}

// NewSimulator creates a simulated provider
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		scripts:  make(map[string][]Status),
		rejected: make(map[string]bool),
		payments: make(map[string]*simulatedPayment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate registers a simulated push payment
func (s *Simulator) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", &InitiationError{Kind: Unreachable, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejected[req.Payee] {
		return "", &InitiationError{Kind: Rejected, ReasonCode: "invalid_msisdn", Message: "subscriber cannot receive push payments"}
	}

	s.seq++
	token := fmt.Sprintf("SIM-%d-%s", s.seq, shortRef(req.SessionReference))

	script, ok := s.scripts[req.Payee]
	if !ok {
		script = s.randomScript()
	}
	s.payments[token] = &simulatedPayment{payee: req.Payee, script: script}

	logging.Info("Simulated push payment initiated",
		zap.String("correlation_token", token),
		zap.String("amount", req.Amount.String()),
	)

	return token, nil
}

// QueryStatus advances the simulated payment by one poll
func (s *Simulator) QueryStatus(ctx context.Context, correlationToken string) (StatusSnapshot, error) {
	if err := s.wait(ctx); err != nil {
		return StatusSnapshot{}, transientf("simulated provider: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[correlationToken]
	if !ok {
		return StatusSnapshot{}, transientf("unknown correlation token %q", correlationToken)
	}

	idx := p.polls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.polls++

	snap := StatusSnapshot{CorrelationToken: correlationToken, Status: p.script[idx]}
	switch snap.Status {
	case StatusSucceeded:
		if p.receipt == "" {
			p.receipt = s.receipt()
		}
		snap.ReceiptRef = p.receipt
	case StatusDeclinedByCustomer:
		snap.ReasonCode = "1032"
		snap.Message = "request cancelled by user"
	case StatusRejectedByProvider:
		snap.ReasonCode = "1"
		snap.Message = "insufficient balance"
	}

	return snap, nil
}

// Polls returns how many status queries token has received
func (s *Simulator) Polls(correlationToken string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[correlationToken]; ok {
		return p.polls
	}
	return 0
}

func (s *Simulator) randomScript() []Status {
	script := make([]Status, 0, 8)
	for i := 1 + s.rnd.Intn(3); i > 0; i-- {
		script = append(script, StatusStillPending)
	}
	for i := 1 + s.rnd.Intn(3); i > 0; i-- {
		script = append(script, StatusCustomerInteracting)
	}

	switch roll := s.rnd.Float32(); {
	case roll < 0.80:
		script = append(script, StatusSucceeded)
	case roll < 0.90:
		script = append(script, StatusDeclinedByCustomer)
	case roll < 0.95:
		script = append(script, StatusRejectedByProvider)
	default:
		// The customer never answers; the session's budget has to end it.
		script = append(script, StatusStillPending)
	}
	return script
}

// receipt generates a provider-style receipt such as "QAZ123XYZ0"; callers hold s.mu
func (s *Simulator) receipt() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteByte(alphabet[s.rnd.Intn(len(alphabet))])
	}
	return b.String()
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}

	s.mu.Lock()
	delay := time.Duration(s.rnd.Int63n(int64(s.latency)))
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
