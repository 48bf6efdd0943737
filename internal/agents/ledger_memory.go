package agents

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory Ledger used in tests and single-process
// deployments. One mutex guards all agents; reservation volume here is far
// below the point where per-agent locking would matter.
type MemoryLedger struct {
	mu           sync.Mutex
	capacities   map[uuid.UUID]*agentCapacity
	reservations map[uuid.UUID]*CapacityReservation // live, by request id
}

type agentCapacity struct {
	total    float64
	reserved float64
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		capacities:   make(map[uuid.UUID]*agentCapacity),
		reservations: make(map[uuid.UUID]*CapacityReservation),
	}
}

// SetAgent seeds or replaces an agent's capacity row
func (l *MemoryLedger) SetAgent(agentID uuid.UUID, totalTons, reservedTons float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capacities[agentID] = &agentCapacity{total: totalTons, reserved: reservedTons}
}

// Reserve places a hold of amountTons on the agent for the given request
func (l *MemoryLedger) Reserve(ctx context.Context, agentID uuid.UUID, amountTons float64, requestID uuid.UUID) (*CapacityReservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.reservations[requestID]; ok {
		return existing, nil
	}

	capacity, ok := l.capacities[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if capacity.total-capacity.reserved < amountTons {
		return nil, ErrCapacityExceeded
	}

	capacity.reserved += amountTons
	reservation := &CapacityReservation{
		ID:         uuid.New(),
		AgentID:    agentID,
		RequestID:  requestID,
		AmountTons: amountTons,
		CreatedAt:  time.Now(),
	}
	l.reservations[requestID] = reservation
	return reservation, nil
}

// Release frees the reservation held by the given request; unknown requests
// are a no-op
func (l *MemoryLedger) Release(ctx context.Context, requestID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[requestID]
	if !ok {
		return nil
	}
	delete(l.reservations, requestID)

	if capacity, ok := l.capacities[reservation.AgentID]; ok {
		capacity.reserved -= reservation.AmountTons
		if capacity.reserved < 0 {
			capacity.reserved = 0
		}
	}
	return nil
}

// AvailableCapacity returns total minus reserved for one agent
func (l *MemoryLedger) AvailableCapacity(ctx context.Context, agentID uuid.UUID) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity, ok := l.capacities[agentID]
	if !ok {
		return 0, ErrAgentNotFound
	}
	available := capacity.total - capacity.reserved
	if available < 0 {
		available = 0
	}
	return available, nil
}
