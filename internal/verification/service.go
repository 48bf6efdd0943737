package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/internal/matching"
	"gudam/marketplace/verification-backend/internal/metrics"
	"gudam/marketplace/verification-backend/internal/notifications"
	"gudam/marketplace/verification-backend/internal/products"
	"gudam/marketplace/verification-backend/pkg/workflows"
)

// ErrDuplicateActiveRequest is returned when a product already has a live
// verification request.
var ErrDuplicateActiveRequest = errors.New("product already has an active verification request")

// ErrProductAlreadyVerified is returned when verification is started for an
// already-verified product.
var ErrProductAlreadyVerified = errors.New("product is already verified")

// ErrProductLocationMissing is returned when a product carries no usable
// coordinate and therefore cannot be matched.
var ErrProductLocationMissing = errors.New("product has no location to match against")

// Notifier is the slice of the notification service this package consumes
type Notifier interface {
	Notify(ctx context.Context, requestID uuid.UUID, recipients []notifications.Recipient, payload notifications.Payload) (*notifications.DispatchReport, error)
}

// Config carries the lifecycle tunables
type Config struct {
	TopN          int
	AssignmentSLA time.Duration
	SweepBatch    int
}

// Service owns the verification lifecycle and the coupled product visibility
// status. It consumes MatchRanker output for assignment and agent/farmer
// actions for transitions.
type Service struct {
	repo      Repository
	catalog   products.Catalog
	directory agents.Directory
	ledger    agents.Ledger
	ranker    *matching.Ranker
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	sm        *workflows.StateMachine
	cfg       Config
}

// NewService creates the verification lifecycle service
func NewService(
	repo Repository,
	catalog products.Catalog,
	directory agents.Directory,
	ledger agents.Ledger,
	ranker *matching.Ranker,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.AssignmentSLA <= 0 {
		cfg.AssignmentSLA = 30 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 50
	}
	return &Service{
		repo:      repo,
		catalog:   catalog,
		directory: directory,
		ledger:    ledger,
		ranker:    ranker,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		sm:        newStateMachine(),
		cfg:       cfg,
	}
}

// StartRequest carries the farmer-supplied fields for a new verification
type StartRequest struct {
	QualityGrade string `json:"quality_grade"`
	Notes        string `json:"notes"`
	NotesBn      string `json:"notes_bn"`
	TopN         int    `json:"top_n"`
}

// StartResult bundles the created request with the matching outcome
type StartResult struct {
	Request  *VerificationRequest          `json:"verification"`
	Match    *matching.MatchResult         `json:"match,omitempty"`
	Dispatch *notifications.DispatchReport `json:"dispatch,omitempty"`
}

// Start creates a verification request for the product and immediately runs
// matching. At most one live request may exist per product. When matching
// finds no eligible agent the request is still created (the reconciliation
// sweep retries it) and ErrNoEligibleAgents is surfaced alongside the result.
func (s *Service) Start(ctx context.Context, productID uuid.UUID, req StartRequest) (*StartResult, error) {
	listing, err := s.catalog.GetListing(ctx, productID)
	if err != nil {
		return nil, err
	}
	if listing.Status == products.StatusVerified {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductAlreadyVerified)
	}

	active, err := s.repo.ActiveByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("product %s has request %s in status %s: %w",
			productID, active.ID, active.Status, ErrDuplicateActiveRequest)
	}

	grade := req.QualityGrade
	if grade == "" {
		grade = listing.QualityGrade
	}
	request := &VerificationRequest{
		ProductID:     productID,
		Status:        StatusRequested,
		OriginalGrade: grade,
		Notes:         req.Notes,
		NotesBn:       req.NotesBn,
		RequestedAt:   time.Now(),
		Version:       1,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, err
	}

	s.logger.Info("verification requested",
		zap.String("request_id", request.ID.String()),
		zap.String("product_id", productID.String()))

	topN := req.TopN
	if topN <= 0 {
		topN = s.cfg.TopN
	}
	result := &StartResult{Request: request}
	result.Match, result.Dispatch, err = s.assign(ctx, request, listing, nil, topN)
	return result, err
}

// MatchAndNotify runs ranking + reservation + dispatch for a product,
// creating the verification request if none is live yet. Re-running it for a
// request still in `requested` retries assignment; a request already past
// assignment is reported as a duplicate.
func (s *Service) MatchAndNotify(ctx context.Context, productID uuid.UUID, topN int) (*StartResult, error) {
	listing, err := s.catalog.GetListing(ctx, productID)
	if err != nil {
		return nil, err
	}
	if listing.Status == products.StatusVerified {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductAlreadyVerified)
	}

	active, err := s.repo.ActiveByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	var request *VerificationRequest
	switch {
	case active == nil:
		request = &VerificationRequest{
			ProductID:     productID,
			Status:        StatusRequested,
			OriginalGrade: listing.QualityGrade,
			RequestedAt:   time.Now(),
			Version:       1,
		}
		if err := s.repo.Create(ctx, request); err != nil {
			return nil, err
		}
	case active.Status == StatusRequested:
		request = active
	default:
		return nil, fmt.Errorf("product %s has request %s in status %s: %w",
			productID, active.ID, active.Status, ErrDuplicateActiveRequest)
	}

	if topN <= 0 {
		topN = s.cfg.TopN
	}
	result := &StartResult{Request: request}
	result.Match, result.Dispatch, err = s.assign(ctx, request, listing, nil, topN)
	return result, err
}

// assign ranks the agent pool, reserves the winner's capacity, moves the
// request to assigned and dispatches notifications. The reservation walk is
// strictly sequential in rank order.
func (s *Service) assign(ctx context.Context, request *VerificationRequest, listing *products.Listing, exclude map[uuid.UUID]bool, topN int) (*matching.MatchResult, *notifications.DispatchReport, error) {
	if !listing.HasCoord {
		return nil, nil, fmt.Errorf("product %s: %w", listing.ID, ErrProductLocationMissing)
	}

	pool, err := s.directory.ListActiveAgents(ctx)
	if err != nil {
		return nil, nil, err
	}

	spec := matching.ProductSpec{
		ID:           listing.ID,
		Coord:        listing.Coord,
		QuantityTons: listing.QuantityTons,
	}
	result, winner, err := s.ranker.RankAndReserve(ctx, s.ledger, spec, pool, topN, exclude, request.ID)
	switch {
	case errors.Is(err, matching.ErrNoEligibleAgents):
		s.metrics.ObserveMatch("no_eligible_agents", 0)
		return nil, nil, err
	case errors.Is(err, agents.ErrCapacityExceeded):
		s.metrics.IncrementReservationConflicts()
		s.metrics.ObserveMatch("capacity_exhausted", len(result.Candidates))
		return result, nil, err
	case err != nil:
		return result, nil, err
	}
	s.metrics.ObserveMatch("assigned", len(result.Candidates))

	now := time.Now()
	err = s.repo.Transition(ctx, request, StatusAssigned, "system", func(r *VerificationRequest) {
		agentID := winner.AgentID
		r.AgentID = &agentID
		r.AssignedAt = &now
	})
	if err != nil {
		// Never leave a reservation behind without a matching assignment.
		if releaseErr := s.ledger.Release(ctx, request.ID); releaseErr != nil {
			s.logger.Error("failed to release reservation after assignment failure",
				zap.String("request_id", request.ID.String()), zap.Error(releaseErr))
		}
		return result, nil, err
	}
	s.metrics.ObserveTransition(StatusAssigned)

	s.logger.Info("verification assigned",
		zap.String("request_id", request.ID.String()),
		zap.String("agent_id", winner.AgentID.String()),
		zap.Float64("composite_score", winner.Scores.Composite))

	report := s.dispatchAssignment(ctx, request, listing, result, winner)
	return result, report, nil
}

// dispatchAssignment informs the selected candidates in-app and texts the
// assigned agent. Delivery failure never unwinds the assignment.
func (s *Service) dispatchAssignment(ctx context.Context, request *VerificationRequest, listing *products.Listing, result *matching.MatchResult, winner *matching.ScoredAgent) *notifications.DispatchReport {
	farmerName, _, err := s.directory.Contact(ctx, listing.FarmerID)
	if err != nil || farmerName == "" {
		farmerName = "কৃষক"
	}

	selected := result.Selected
	recipients := make([]notifications.Recipient, 0, len(selected)+1)
	seen := make(map[uuid.UUID]bool, len(selected)+1)
	for _, candidate := range selected {
		recipients = append(recipients, notifications.Recipient{UserID: candidate.AgentID, Phone: candidate.Phone})
		seen[candidate.AgentID] = true
	}
	if !seen[winner.AgentID] {
		recipients = append(recipients, notifications.Recipient{UserID: winner.AgentID, Phone: winner.Phone})
	}

	report, err := s.notifier.Notify(ctx, request.ID, recipients, notifications.Payload{
		Type:      notifications.TypeAgentMatchRequest,
		Title:     "New Product Collection Request",
		TitleBn:   "নতুন পণ্য সংগ্রহের অনুরোধ",
		Message:   fmt.Sprintf("Farmer %s has requested collection of %s.", farmerName, listing.NameEn),
		MessageBn: fmt.Sprintf("কৃষক %s আপনার কাছে %s সংগ্রহের অনুরোধ করেছেন।", farmerName, listing.NameBn),
	})
	if err != nil {
		s.logger.Error("match notification dispatch failed",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		report = &notifications.DispatchReport{RequestID: request.ID}
	}

	assignedReport, err := s.notifier.Notify(ctx, request.ID,
		[]notifications.Recipient{{UserID: winner.AgentID, Phone: winner.Phone}},
		notifications.Payload{
			Type:      notifications.TypeListingAssigned,
			Title:     "New Listing Assignment",
			TitleBn:   "নতুন পণ্য যাচাইয়ের দায়িত্ব",
			Message:   fmt.Sprintf("You have been assigned to verify product %s", listing.NameEn),
			MessageBn: fmt.Sprintf("পণ্য %s যাচাই করার দায়িত্ব দেওয়া হয়েছে", listing.NameBn),
			SMS:       true,
		})
	if err != nil {
		s.logger.Error("assignment notification dispatch failed",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		return report
	}

	report.Attempted += assignedReport.Attempted
	report.Delivered += assignedReport.Delivered
	report.Duplicates += assignedReport.Duplicates
	report.SMSSent += assignedReport.SMSSent
	report.SMSFailed += assignedReport.SMSFailed
	report.Recipients = append(report.Recipients, assignedReport.Recipients...)
	return report
}

// UpdateRequest carries one lifecycle transition and its optional findings
type UpdateRequest struct {
	Status               string   `json:"status"`
	QualityGrade         *string  `json:"quality_grade,omitempty"`
	Notes                string   `json:"notes,omitempty"`
	NotesBn              string   `json:"notes_bn,omitempty"`
	AdjustedQuantityTons *float64 `json:"adjusted_quantity,omitempty"`
	AdjustedPrice        *float64 `json:"adjusted_price,omitempty"`
	Actor                string   `json:"actor,omitempty"`
}

// UpdateStatus drives one state-machine transition. Transitions outside the
// table fail with ErrInvalidTransition and leave state unchanged; terminal
// transitions release the capacity reservation and update product visibility.
func (s *Service) UpdateStatus(ctx context.Context, requestID uuid.UUID, update UpdateRequest) (*VerificationRequest, error) {
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := validateTransition(s.sm, request.Status, update.Status); err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}

	from := request.Status
	actor := update.Actor
	if actor == "" {
		actor = "agent"
	}
	now := time.Now()

	mutate := func(r *VerificationRequest) {
		if update.Notes != "" {
			r.Notes = update.Notes
		}
		if update.NotesBn != "" {
			r.NotesBn = update.NotesBn
		}
		switch update.Status {
		case StatusVerified:
			if update.QualityGrade != nil {
				r.VerifiedGrade = update.QualityGrade
			} else if r.VerifiedGrade == nil {
				grade := r.OriginalGrade
				r.VerifiedGrade = &grade
			}
			if update.AdjustedQuantityTons != nil {
				r.VerifiedQuantityTons = update.AdjustedQuantityTons
			}
			if update.AdjustedPrice != nil {
				r.AdjustedPrice = update.AdjustedPrice
			}
			r.CompletedAt = &now
		case StatusRejected:
			r.CompletedAt = &now
		case StatusAdjustmentProposed:
			// The proposal is staged on the request until the farmer decides.
			if update.QualityGrade != nil {
				r.VerifiedGrade = update.QualityGrade
			}
			if update.AdjustedQuantityTons != nil {
				r.VerifiedQuantityTons = update.AdjustedQuantityTons
			}
			if update.AdjustedPrice != nil {
				r.AdjustedPrice = update.AdjustedPrice
			}
		}
	}

	if err := s.repo.Transition(ctx, request, update.Status, actor, mutate); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(update.Status)

	if err := s.applyTransitionEffects(ctx, request, from); err != nil {
		return request, err
	}
	return request, nil
}

// applyTransitionEffects performs the product and ledger side effects for a
// committed transition. Failures here are returned but the transition itself
// stands; the reconciliation worker repairs any stranded reservation.
func (s *Service) applyTransitionEffects(ctx context.Context, request *VerificationRequest, from string) error {
	switch request.Status {
	case StatusInProgress:
		if from == StatusAssigned {
			if err := s.catalog.SetStatus(ctx, request.ProductID, products.StatusInProgress); err != nil {
				return err
			}
		}
		// Farmer acceptance of an adjustment keeps the reservation held and
		// the product status as-is.
		return nil

	case StatusAdjustmentProposed:
		s.notifyFarmer(ctx, request, notifications.Payload{
			Type:      notifications.TypeAdjustmentProposed,
			Title:     "Adjustment proposed",
			TitleBn:   "সমন্বয় প্রস্তাব করা হয়েছে",
			Message:   "The agent has proposed an adjustment to your product listing.",
			MessageBn: "এজেন্ট আপনার পণ্যের তালিকায় একটি সমন্বয় প্রস্তাব করেছেন।",
			SMS:       true,
		})
		return nil

	case StatusVerified:
		if request.AgentID == nil {
			return fmt.Errorf("request %s verified without an agent reference", request.ID)
		}
		err := s.catalog.ApplyVerified(ctx, request.ProductID, products.VerifiedUpdate{
			AgentID:          *request.AgentID,
			QualityGrade:     request.VerifiedGrade,
			QuantityTons:     request.VerifiedQuantityTons,
			PricePerUnit:     request.AdjustedPrice,
			VerificationDate: time.Now(),
		})
		if err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, request.ID); err != nil {
			return err
		}
		s.notifyFarmer(ctx, request, notifications.Payload{
			Type:      notifications.TypeVerificationComplete,
			Title:     "Verification verified",
			TitleBn:   "পণ্য যাচাই: যাচাই সম্পন্ন",
			Message:   "Your product verification has been verified",
			MessageBn: "আপনার পণ্যের যাচাই সম্পন্ন হয়েছে",
			SMS:       true,
		})
		return nil

	case StatusRejected:
		if err := s.catalog.SetStatus(ctx, request.ProductID, products.StatusPendingVerification); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, request.ID); err != nil {
			return err
		}
		s.notifyFarmer(ctx, request, notifications.Payload{
			Type:      notifications.TypeVerificationComplete,
			Title:     "Verification rejected",
			TitleBn:   "পণ্য যাচাই: প্রত্যাখ্যাত",
			Message:   "Your product verification has been rejected",
			MessageBn: "আপনার পণ্যের যাচাই প্রত্যাখ্যাত হয়েছে",
			SMS:       true,
		})
		return nil
	}
	return nil
}

func (s *Service) notifyFarmer(ctx context.Context, request *VerificationRequest, payload notifications.Payload) {
	listing, err := s.catalog.GetListing(ctx, request.ProductID)
	if err != nil {
		s.logger.Warn("farmer notification skipped, product lookup failed",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		return
	}
	_, phone, err := s.directory.Contact(ctx, listing.FarmerID)
	if err != nil {
		phone = ""
	}

	if _, err := s.notifier.Notify(ctx, request.ID,
		[]notifications.Recipient{{UserID: listing.FarmerID, Phone: phone}}, payload); err != nil {
		s.logger.Warn("farmer notification dispatch failed",
			zap.String("request_id", request.ID.String()), zap.Error(err))
	}
}

// Reconcile finds requests stuck in requested/assigned past the SLA and
// re-matches them. A stale assignment is revoked first: reservation released,
// agent cleared, prior agent barred from this cycle's candidate pool.
// Returns the number of requests it attempted to re-match.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.AssignmentSLA)
	stale, err := s.repo.ListStale(ctx, []string{StatusRequested, StatusAssigned}, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range stale {
		request := &stale[i]
		exclude := make(map[uuid.UUID]bool)

		if request.Status == StatusAssigned {
			if request.AgentID != nil {
				exclude[*request.AgentID] = true
			}
			if err := s.ledger.Release(ctx, request.ID); err != nil {
				s.logger.Error("sweep failed to release stale reservation",
					zap.String("request_id", request.ID.String()), zap.Error(err))
				continue
			}
			// Revocation is system-internal, not a farmer/agent transition,
			// so it bypasses the public table but still lands in history.
			err := s.repo.Transition(ctx, request, StatusRequested, "system:reconcile", func(r *VerificationRequest) {
				r.AgentID = nil
				r.AssignedAt = nil
			})
			if err != nil {
				s.logger.Error("sweep failed to revoke stale assignment",
					zap.String("request_id", request.ID.String()), zap.Error(err))
				continue
			}
			s.metrics.StaleAssignmentsReclaimed.Inc()
		}

		listing, err := s.catalog.GetListing(ctx, request.ProductID)
		if err != nil {
			s.logger.Error("sweep failed to load product",
				zap.String("request_id", request.ID.String()), zap.Error(err))
			continue
		}

		attempted++
		if _, _, err := s.assign(ctx, request, listing, exclude, s.cfg.TopN); err != nil {
			s.logger.Warn("sweep re-match did not assign",
				zap.String("request_id", request.ID.String()), zap.Error(err))
		}
	}
	return attempted, nil
}

// Get loads one request together with its product listing and audit trail
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*VerificationRequest, *products.Listing, []StatusHistory, error) {
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, nil, err
	}
	listing, err := s.catalog.GetListing(ctx, request.ProductID)
	if err != nil && !errors.Is(err, products.ErrProductNotFound) {
		return nil, nil, nil, err
	}
	history, err := s.repo.History(ctx, requestID)
	if err != nil {
		return nil, nil, nil, err
	}
	return request, listing, history, nil
}

// List returns a page of requests enriched with product and farmer names
func (s *Service) List(ctx context.Context, filter ListFilter) ([]EnrichedRequest, int64, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return s.enrich(ctx, items), total, nil
}

func (s *Service) enrich(ctx context.Context, items []VerificationRequest) []EnrichedRequest {
	listings := make(map[uuid.UUID]*products.Listing)
	farmers := make(map[uuid.UUID]string)

	enriched := make([]EnrichedRequest, 0, len(items))
	for _, item := range items {
		e := EnrichedRequest{VerificationRequest: item}

		listing, ok := listings[item.ProductID]
		if !ok {
			listing, _ = s.catalog.GetListing(ctx, item.ProductID)
			listings[item.ProductID] = listing
		}
		if listing != nil {
			e.ProductNameBn = listing.NameBn
			e.ProductNameEn = listing.NameEn
			e.ProductUnit = listing.Unit
			e.FarmerID = listing.FarmerID

			name, ok := farmers[listing.FarmerID]
			if !ok {
				name, _, _ = s.directory.Contact(ctx, listing.FarmerID)
				farmers[listing.FarmerID] = name
			}
			e.FarmerName = name
		}
		enriched = append(enriched, e)
	}
	return enriched
}
