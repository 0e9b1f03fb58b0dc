package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/gateway"
	"github.com/mn-ibiz/pos-sub020/logging"
	"github.com/mn-ibiz/pos-sub020/store"
	"github.com/mn-ibiz/pos-sub020/validator"
)

var (
	// ErrAttemptInProgress is returned when a sale already has an active attempt
	ErrAttemptInProgress = errors.New("payment attempt already in progress for sale")
	// ErrNoActiveAttempt is returned when a sale has no attempt to cancel or follow
	ErrNoActiveAttempt = errors.New("no active payment attempt for sale")
	// ErrUnknownSale is returned when nothing is known about a sale
	ErrUnknownSale = errors.New("no payment attempt recorded for sale")
)

const saveTimeout = 5 * time.Second

// Manager runs at most one session per sale and keeps the final snapshot of
// each finished attempt in a ResultStore.
type Manager struct {
	gateway   gateway.Client
	validator *validator.Validator
	cfg       Config
	opts      []Option
	results   store.ResultStore

	mu     sync.Mutex
	active map[string]*entry
	saving map[string]confirmation.Snapshot // finished, not yet in results
	wg     sync.WaitGroup
}

type entry struct {
	session     *Session
	attemptID   string
	last        *Update
	subscribers map[int]chan Update
	nextSub     int
}

// NewManager creates a manager. opts are applied to every session it starts.
func NewManager(gw gateway.Client, v *validator.Validator, cfg Config, results store.ResultStore, opts ...Option) *Manager {
	if results == nil {
		results = store.NewMemoryStore(0)
	}
	return &Manager{
		gateway:   gw,
		validator: v,
		cfg:       cfg,
		opts:      opts,
		results:   results,
		active:    make(map[string]*entry),
		saving:    make(map[string]confirmation.Snapshot),
	}
}

// Start begins a new attempt for saleID. The attempt outlives ctx's
// cancellation but keeps its values, so the request's trace carries over.
func (m *Manager) Start(ctx context.Context, saleID string, amount float64, rawPayee string) (confirmation.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[saleID]; ok {
		return confirmation.Snapshot{}, ErrAttemptInProgress
	}

	s := New(saleID, m.gateway, m.validator, m.cfg, m.opts...)
	updates, err := s.Start(context.WithoutCancel(ctx), amount, rawPayee)
	if err != nil {
		return confirmation.Snapshot{}, err
	}

	snap := s.Snapshot()
	e := &entry{
		session:     s,
		attemptID:   snap.AttemptID,
		subscribers: make(map[int]chan Update),
	}
	m.active[saleID] = e

	m.wg.Add(1)
	go m.forward(saleID, e, updates)

	return snap, nil
}

// Cancel abandons the active attempt for saleID
func (m *Manager) Cancel(saleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.active[saleID]
	if !ok {
		return ErrNoActiveAttempt
	}
	e.session.Cancel()
	return nil
}

// Status returns the active attempt for saleID or, once it has ended, the
// stored final snapshot.
func (m *Manager) Status(ctx context.Context, saleID string) (confirmation.Snapshot, error) {
	m.mu.Lock()
	e, ok := m.active[saleID]
	finished, saving := m.saving[saleID]
	m.mu.Unlock()
	if ok {
		return e.session.Snapshot(), nil
	}
	if saving {
		return finished, nil
	}

	snap, err := m.results.Get(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return confirmation.Snapshot{}, ErrUnknownSale
	}
	return snap, err
}

// Subscribe follows the active attempt for saleID. The first update on the
// channel is the latest one already emitted (or Created); the channel closes
// after the terminal update. The returned func stops the subscription early.
func (m *Manager) Subscribe(saleID string) (<-chan Update, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.active[saleID]
	if !ok {
		return nil, nil, ErrNoActiveAttempt
	}

	// Room for the current update plus everything one attempt can still emit.
	ch := make(chan Update, updateBuffer+1)
	if e.last != nil {
		ch <- *e.last
	} else {
		snap := e.session.Snapshot()
		ch <- Update{
			AttemptID: snap.AttemptID,
			SaleID:    saleID,
			State:     confirmation.StateCreated,
			At:        snap.CreatedAt,
		}
	}

	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}

	return ch, unsubscribe, nil
}

// Shutdown abandons every active attempt and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, e := range m.active {
		e.session.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forward fans session updates out to subscribers. The terminal update
// releases the sale in the same critical section that hands it out, so a
// retry is accepted as soon as anyone has seen the result. The final
// snapshot is then persisted while Status serves it from memory.
func (m *Manager) forward(saleID string, e *entry, updates <-chan Update) {
	defer m.wg.Done()

	for u := range updates {
		m.mu.Lock()
		e.last = &u
		for _, sub := range e.subscribers {
			select {
			case sub <- u:
			default:
			}
		}
		if u.Terminal {
			m.release(saleID, e)
		}
		m.mu.Unlock()
	}

	<-e.session.Audited()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	if err := m.results.Save(ctx, e.session.Snapshot()); err != nil {
		logging.Error("Failed to store payment result",
			zap.Error(err),
			zap.String("sale_id", saleID),
			zap.String("attempt_id", e.attemptID),
		)
	}
	cancel()

	m.mu.Lock()
	if pending, ok := m.saving[saleID]; ok && pending.AttemptID == e.attemptID {
		delete(m.saving, saleID)
	}
	m.mu.Unlock()
}

// release frees saleID for a new attempt; callers hold m.mu
func (m *Manager) release(saleID string, e *entry) {
	if m.active[saleID] == e {
		delete(m.active, saleID)
	}
	m.saving[saleID] = e.session.Snapshot()
	for id, sub := range e.subscribers {
		delete(e.subscribers, id)
		close(sub)
	}
}
