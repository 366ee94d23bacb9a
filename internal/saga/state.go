package saga

import (
	"context"
	"sync"

	"orderflow/internal/domain"
)

// State is the position of one order's reservation saga. Each order runs
// exactly one saga, keyed by order id.
type State string

const (
	StateCreated           State = "CREATED"
	StateReserving         State = "RESERVING"
	StateReserved          State = "RESERVED"
	StateAwaitingPayment   State = "AWAITING_PAYMENT"
	StateConfirmed         State = "CONFIRMED"
	StateReservationFailed State = "RESERVATION_FAILED"
	StateReleased          State = "RELEASED"
)

// Terminal reports whether the saga has finished, successfully or not
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateReservationFailed, StateReleased:
		return true
	}
	return false
}

// allowed transitions, including the compensation paths
var transitions = map[State][]State{
	StateCreated:         {StateReserving},
	StateReserving:       {StateReserved, StateReservationFailed},
	StateReserved:        {StateAwaitingPayment, StateReleased},
	StateAwaitingPayment: {StateConfirmed, StateReleased},
}

// CanTransition reports whether from -> to is a legal saga move
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store tracks saga state per order plus the idempotency ledger of steps
// already applied. Transition is a compare-and-swap so concurrent handlers
// racing on the same order cannot both win.
type Store interface {
	// Begin registers a new saga in CREATED state. Beginning twice for the
	// same order is an error.
	Begin(ctx context.Context, orderID string) error
	State(ctx context.Context, orderID string) (State, error)
	// Transition moves the saga from one state to another. It fails with
	// ErrStateConflict when the stored state is not the expected one, and
	// with ErrIllegalTransition when the move itself is not allowed.
	Transition(ctx context.Context, orderID string, from, to State) error
	// StepDone reports whether a step was already applied for this order.
	// Handlers check it on entry so redelivered events become no-ops.
	StepDone(ctx context.Context, orderID, step string) (bool, error)
	// MarkStep records that a step completed. It returns false when the
	// step was already recorded. Handlers mark only after the step's
	// effects are durable, so a transient failure leaves the step
	// unmarked and the redelivery retries it.
	MarkStep(ctx context.Context, orderID, step string) (bool, error)
}

var (
	ErrSagaNotFound      = &domain.DomainError{Message: "saga not found for order"}
	ErrSagaExists        = &domain.DomainError{Message: "saga already started for order"}
	ErrStateConflict     = &domain.DomainError{Message: "saga state changed concurrently"}
	ErrIllegalTransition = &domain.DomainError{Message: "saga transition not allowed"}
)

// MemoryStore is an in-memory Store for tests and broker-less runs
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
	steps  map[string]struct{}
}

// NewMemoryStore creates an empty in-memory saga store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]State),
		steps:  make(map[string]struct{}),
	}
}

func (s *MemoryStore) Begin(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[orderID]; exists {
		return ErrSagaExists
	}
	s.states[orderID] = StateCreated
	return nil
}

func (s *MemoryStore) State(ctx context.Context, orderID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, exists := s.states[orderID]
	if !exists {
		return "", ErrSagaNotFound
	}
	return state, nil
}

func (s *MemoryStore) Transition(ctx context.Context, orderID string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.states[orderID]
	if !exists {
		return ErrSagaNotFound
	}
	if current != from {
		return ErrStateConflict
	}
	if !CanTransition(from, to) {
		return ErrIllegalTransition
	}
	s.states[orderID] = to
	return nil
}

func (s *MemoryStore) StepDone(ctx context.Context, orderID, step string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, done := s.steps[orderID+"/"+step]
	return done, nil
}

func (s *MemoryStore) MarkStep(ctx context.Context, orderID, step string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orderID + "/" + step
	if _, done := s.steps[key]; done {
		return false, nil
	}
	s.steps[key] = struct{}{}
	return true, nil
}
