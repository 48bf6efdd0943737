package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/internal/matching"
	"gudam/marketplace/verification-backend/internal/metrics"
	"gudam/marketplace/verification-backend/internal/notifications"
	"gudam/marketplace/verification-backend/internal/products"
	"gudam/marketplace/verification-backend/pkg/geodist"
)

type memoryRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*VerificationRequest
	history []StatusHistory
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: make(map[uuid.UUID]*VerificationRequest)}
}

func (r *memoryRepo) Create(ctx context.Context, request *VerificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	if request.Version == 0 {
		request.Version = 1
	}
	stored := *request
	r.byID[request.ID] = &stored
	r.history = append(r.history, StatusHistory{
		ID:        uuid.New(),
		RequestID: request.ID,
		ToStatus:  request.Status,
		Actor:     "system",
		ChangedAt: time.Now(),
	})
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *memoryRepo) ActiveByProduct(ctx context.Context, productID uuid.UUID) (*VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.byID {
		if stored.ProductID != productID || stored.IsTerminal() {
			continue
		}
		copied := *stored
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryRepo) Transition(ctx context.Context, request *VerificationRequest, to, actor string, mutate func(*VerificationRequest)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[request.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if stored.Version != request.Version {
		return ErrVersionConflict
	}
	from := stored.Status
	updated := *stored
	updated.Status = to
	if mutate != nil {
		mutate(&updated)
	}
	updated.Version++
	updated.UpdatedAt = time.Now()
	r.byID[request.ID] = &updated
	r.history = append(r.history, StatusHistory{
		ID:         uuid.New(),
		RequestID:  request.ID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		ChangedAt:  time.Now(),
	})
	*request = updated
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []VerificationRequest
	for _, stored := range r.byID {
		if filter.Status != "" && stored.Status != filter.Status {
			continue
		}
		if filter.AgentID != nil && (stored.AgentID == nil || *stored.AgentID != *filter.AgentID) {
			continue
		}
		out = append(out, *stored)
	}
	return out, int64(len(out)), nil
}

func (r *memoryRepo) ListStale(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []VerificationRequest
	for _, stored := range r.byID {
		if wanted[stored.Status] && stored.UpdatedAt.Before(olderThan) {
			out = append(out, *stored)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) History(ctx context.Context, requestID uuid.UUID) ([]StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusHistory
	for _, h := range r.history {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	listings map[uuid.UUID]products.Listing
	verified map[uuid.UUID]products.VerifiedUpdate
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		listings: make(map[uuid.UUID]products.Listing),
		verified: make(map[uuid.UUID]products.VerifiedUpdate),
	}
}

func (c *fakeCatalog) GetListing(ctx context.Context, productID uuid.UUID) (*products.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	listing, ok := c.listings[productID]
	if !ok {
		return nil, products.ErrProductNotFound
	}
	return &listing, nil
}

func (c *fakeCatalog) SetStatus(ctx context.Context, productID uuid.UUID, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	listing, ok := c.listings[productID]
	if !ok {
		return products.ErrProductNotFound
	}
	listing.Status = status
	c.listings[productID] = listing
	return nil
}

func (c *fakeCatalog) ApplyVerified(ctx context.Context, productID uuid.UUID, update products.VerifiedUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	listing, ok := c.listings[productID]
	if !ok {
		return products.ErrProductNotFound
	}
	listing.Status = products.StatusVerified
	c.listings[productID] = listing
	c.verified[productID] = update
	return nil
}

func (c *fakeCatalog) status(productID uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listings[productID].Status
}

type fakeDirectory struct {
	pool     []agents.Snapshot
	contacts map[uuid.UUID][2]string
}

func (d *fakeDirectory) AgentSnapshot(ctx context.Context, agentID uuid.UUID) (*agents.Snapshot, error) {
	for _, s := range d.pool {
		if s.ID == agentID {
			copied := s
			return &copied, nil
		}
	}
	return nil, agents.ErrAgentNotFound
}

func (d *fakeDirectory) ListActiveAgents(ctx context.Context) ([]agents.Snapshot, error) {
	return append([]agents.Snapshot(nil), d.pool...), nil
}

func (d *fakeDirectory) Contact(ctx context.Context, userID uuid.UUID) (string, string, error) {
	if c, ok := d.contacts[userID]; ok {
		return c[0], c[1], nil
	}
	return "", "", agents.ErrAgentNotFound
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifications.Payload
}

func (n *fakeNotifier) Notify(ctx context.Context, requestID uuid.UUID, recipients []notifications.Recipient, payload notifications.Payload) (*notifications.DispatchReport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, payload)
	return &notifications.DispatchReport{
		RequestID: requestID,
		Attempted: len(recipients),
		Delivered: len(recipients),
	}, nil
}

func (n *fakeNotifier) typesSent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, p := range n.calls {
		out = append(out, p.Type)
	}
	return out
}

type fixture struct {
	service  *Service
	repo     *memoryRepo
	catalog  *fakeCatalog
	ledger   *agents.MemoryLedger
	notifier *fakeNotifier

	farmerID  uuid.UUID
	productID uuid.UUID
	agentA    uuid.UUID
	agentB    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      newMemoryRepo(),
		catalog:   newFakeCatalog(),
		ledger:    agents.NewMemoryLedger(),
		notifier:  &fakeNotifier{},
		farmerID:  uuid.New(),
		productID: uuid.New(),
		agentA:    uuid.New(),
		agentB:    uuid.New(),
	}

	f.catalog.listings[f.productID] = products.Listing{
		ID:           f.productID,
		FarmerID:     f.farmerID,
		NameBn:       "আলু",
		NameEn:       "Potato",
		Unit:         "kg",
		QuantityTons: 3,
		QualityGrade: "B",
		Status:       products.StatusPendingVerification,
		Coord:        geodist.Point{Lat: 23.81, Lon: 90.41},
		HasCoord:     true,
	}

	directory := &fakeDirectory{
		pool: []agents.Snapshot{
			{
				ID:                f.agentA,
				Name:              "Agent A",
				Phone:             "01711111111",
				Coord:             geodist.Point{Lat: 23.82, Lon: 90.41},
				CapacityTotalTons: 10,
				Reputation:        0.9,
				Active:            true,
			},
			{
				ID:                f.agentB,
				Name:              "Agent B",
				Phone:             "01722222222",
				Coord:             geodist.Point{Lat: 23.90, Lon: 90.41},
				CapacityTotalTons: 10,
				Reputation:        0.5,
				Active:            true,
			},
		},
		contacts: map[uuid.UUID][2]string{
			f.farmerID: {"Rahim", "01733333333"},
		},
	}
	f.ledger.SetAgent(f.agentA, 10, 0)
	f.ledger.SetAgent(f.agentB, 10, 0)

	ranker := matching.NewRanker(matching.NewScorer(100, matching.DefaultWeights()))
	f.service = NewService(
		f.repo, f.catalog, directory, f.ledger, ranker, f.notifier,
		metrics.NewWithRegistry(prometheus.NewRegistry()), zap.NewNop(),
		Config{TopN: 2, AssignmentSLA: 30 * time.Minute},
	)
	return f
}

func TestStartAssignsBestAgentAndReservesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	require.NotNil(t, result.Match)

	assert.Equal(t, StatusAssigned, result.Request.Status)
	require.NotNil(t, result.Request.AgentID)
	assert.Equal(t, f.agentA, *result.Request.AgentID, "closer, better-reputed agent wins")
	require.NotNil(t, result.Request.AssignedAt)

	available, err := f.ledger.AvailableCapacity(ctx, f.agentA)
	require.NoError(t, err)
	assert.Equal(t, 7.0, available, "3 tons reserved against 10")

	// Candidates and the winner get the match broadcast, the winner also
	// gets the assignment notice.
	types := f.notifier.typesSent()
	assert.Contains(t, types, notifications.TypeAgentMatchRequest)
	assert.Contains(t, types, notifications.TypeListingAssigned)

	// Product visibility is untouched by assignment alone.
	assert.Equal(t, products.StatusPendingVerification, f.catalog.status(f.productID))
}

func TestStartRejectsDuplicateActiveRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)

	_, err = f.service.Start(ctx, f.productID, StartRequest{})
	assert.ErrorIs(t, err, ErrDuplicateActiveRequest)

	available, err := f.ledger.AvailableCapacity(ctx, f.agentA)
	require.NoError(t, err)
	assert.Equal(t, 7.0, available, "no second reservation was placed")
}

func TestRejectedRequestRestoresProductAndCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	requestID := result.Request.ID

	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusInProgress, Actor: "agent"})
	require.NoError(t, err)
	assert.Equal(t, products.StatusInProgress, f.catalog.status(f.productID))

	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusRejected, Actor: "agent"})
	require.NoError(t, err)

	assert.Equal(t, products.StatusPendingVerification, f.catalog.status(f.productID))

	available, err := f.ledger.AvailableCapacity(ctx, f.agentA)
	require.NoError(t, err)
	assert.Equal(t, 10.0, available, "reservation released on terminal state")

	stored, err := f.repo.GetByID(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestVerifiedRequestAppliesFindingsToProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	requestID := result.Request.ID

	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusInProgress, Actor: "agent"})
	require.NoError(t, err)

	grade := "A"
	quantity := 2.5
	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{
		Status:               StatusVerified,
		QualityGrade:         &grade,
		AdjustedQuantityTons: &quantity,
		Actor:                "agent",
	})
	require.NoError(t, err)

	assert.Equal(t, products.StatusVerified, f.catalog.status(f.productID))
	applied := f.catalog.verified[f.productID]
	assert.Equal(t, f.agentA, applied.AgentID)
	require.NotNil(t, applied.QualityGrade)
	assert.Equal(t, "A", *applied.QualityGrade)
	require.NotNil(t, applied.QuantityTons)
	assert.Equal(t, 2.5, *applied.QuantityTons)

	available, err := f.ledger.AvailableCapacity(ctx, f.agentA)
	require.NoError(t, err)
	assert.Equal(t, 10.0, available)

	assert.Contains(t, f.notifier.typesSent(), notifications.TypeVerificationComplete)
}

func TestAdjustmentProposalRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	requestID := result.Request.ID

	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusInProgress, Actor: "agent"})
	require.NoError(t, err)

	price := 42.0
	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{
		Status:        StatusAdjustmentProposed,
		AdjustedPrice: &price,
		Actor:         "agent",
	})
	require.NoError(t, err)

	// Proposal holds the reservation and leaves the product alone.
	available, err := f.ledger.AvailableCapacity(ctx, f.agentA)
	require.NoError(t, err)
	assert.Equal(t, 7.0, available)
	assert.Equal(t, products.StatusInProgress, f.catalog.status(f.productID))
	assert.Contains(t, f.notifier.typesSent(), notifications.TypeAdjustmentProposed)

	// Farmer accepts: back to in_progress without touching product status.
	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusInProgress, Actor: "farmer"})
	require.NoError(t, err)
	assert.Equal(t, products.StatusInProgress, f.catalog.status(f.productID))
}

func TestInvalidTransitionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	requestID := result.Request.ID

	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusVerified, Actor: "agent"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.repo.GetByID(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, stored.Status)

	available, err := f.ledger.AvailableCapacity(ctx, f.agentA)
	require.NoError(t, err)
	assert.Equal(t, 7.0, available, "reservation survives a rejected transition")
}

func TestTerminalRequestRejectsFurtherTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	requestID := result.Request.ID

	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusInProgress, Actor: "agent"})
	require.NoError(t, err)
	_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: StatusVerified, Actor: "agent"})
	require.NoError(t, err)

	for _, to := range []string{StatusRequested, StatusAssigned, StatusInProgress, StatusRejected, StatusAdjustmentProposed} {
		_, err = f.service.UpdateStatus(ctx, requestID, UpdateRequest{Status: to, Actor: "agent"})
		assert.ErrorIs(t, err, ErrInvalidTransition, "verified -> %s", to)
	}
}

func TestReconcileReassignsStaleAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	require.NoError(t, err)
	requestID := result.Request.ID
	firstAgent := *result.Request.AgentID

	// Age the assignment past the SLA.
	f.repo.mu.Lock()
	f.repo.byID[requestID].UpdatedAt = time.Now().Add(-time.Hour)
	f.repo.mu.Unlock()

	attempted, err := f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	stored, err := f.repo.GetByID(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, stored.Status)
	require.NotNil(t, stored.AgentID)
	assert.NotEqual(t, firstAgent, *stored.AgentID, "prior agent is excluded from the re-match")

	// The old agent's capacity came back, the new agent now holds the hold.
	availableOld, err := f.ledger.AvailableCapacity(ctx, firstAgent)
	require.NoError(t, err)
	assert.Equal(t, 10.0, availableOld)
	availableNew, err := f.ledger.AvailableCapacity(ctx, *stored.AgentID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, availableNew)
}

func TestStartWithNoEligibleAgentsKeepsRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Product far outside every agent's service radius.
	listing := f.catalog.listings[f.productID]
	listing.Coord = geodist.Point{Lat: 10.0, Lon: 80.0}
	f.catalog.listings[f.productID] = listing

	result, err := f.service.Start(ctx, f.productID, StartRequest{})
	assert.ErrorIs(t, err, matching.ErrNoEligibleAgents)
	require.NotNil(t, result)

	stored, getErr := f.repo.GetByID(ctx, result.Request.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusRequested, stored.Status, "unassigned request stays queued for the sweep")
}

func TestStartOnVerifiedProductFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.catalog.SetStatus(ctx, f.productID, products.StatusVerified))

	_, err := f.service.Start(ctx, f.productID, StartRequest{})
	assert.ErrorIs(t, err, ErrProductAlreadyVerified)
}
