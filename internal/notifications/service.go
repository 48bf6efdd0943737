package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gudam/marketplace/verification-backend/internal/metrics"
)

// Service dispatches notifications for verification events. The in-app
// record is the authoritative one; SMS is a decoupled best-effort channel
// whose failures surface in the DispatchReport only.
type Service struct {
	store      Store
	sms        SMSSender // nil disables the SMS channel
	metrics    *metrics.Metrics
	logger     *zap.Logger
	smsTimeout time.Duration
}

// NewService creates a notification dispatch service. Pass a nil sender to
// run with the SMS channel disabled.
func NewService(store Store, sms SMSSender, m *metrics.Metrics, logger *zap.Logger, smsTimeout time.Duration) *Service {
	if smsTimeout <= 0 {
		smsTimeout = 10 * time.Second
	}
	return &Service{
		store:      store,
		sms:        sms,
		metrics:    m,
		logger:     logger,
		smsTimeout: smsTimeout,
	}
}

// Notify informs the given recipients about a verification request.
// Re-dispatching the same (request, recipient) pair counts as a duplicate and
// creates no second record. In-app inserts run sequentially in recipient
// order; SMS sends fan out concurrently under a bounded timeout.
func (s *Service) Notify(ctx context.Context, requestID uuid.UUID, recipients []Recipient, payload Payload) (*DispatchReport, error) {
	report := &DispatchReport{
		RequestID:  requestID,
		Attempted:  len(recipients),
		Recipients: make([]RecipientDispatch, len(recipients)),
	}

	related := requestID
	for i, recipient := range recipients {
		dispatch := RecipientDispatch{
			UserID:      recipient.UserID,
			SMSStatus:   StatusSkipped,
			InAppStatus: StatusFailed,
		}

		notification := &Notification{
			UserID:    recipient.UserID,
			Type:      payload.Type,
			Title:     payload.Title,
			TitleBn:   payload.TitleBn,
			Message:   payload.Message,
			MessageBn: payload.MessageBn,
			RelatedID: &related,
			CreatedAt: time.Now(),
		}

		created, err := s.store.Insert(ctx, notification)
		switch {
		case err != nil:
			dispatch.Error = err.Error()
			s.logger.Error("in-app notification insert failed",
				zap.String("request_id", requestID.String()),
				zap.String("user_id", recipient.UserID.String()),
				zap.Error(err))
		case created:
			dispatch.InAppStatus = StatusDelivered
			dispatch.NotificationID = &notification.ID
			report.Delivered++
		default:
			dispatch.InAppStatus = StatusDuplicate
			report.Duplicates++
		}
		s.metrics.ObserveDispatch("in_app", dispatch.InAppStatus)

		report.Recipients[i] = dispatch
	}

	s.sendSMSBatch(ctx, recipients, payload, report)

	return report, nil
}

// sendSMSBatch fans SMS sends out concurrently. Only recipients whose in-app
// record was freshly created get a text; duplicates were already informed.
func (s *Service) sendSMSBatch(ctx context.Context, recipients []Recipient, payload Payload, report *DispatchReport) {
	if s.sms == nil || !payload.SMS {
		return
	}

	body := payload.MessageBn
	if body == "" {
		body = payload.Message
	}
	text := "গুদাম: " + body

	group, groupCtx := errgroup.WithContext(ctx)
	var sent, failed int64
	results := make([]string, len(recipients))

	for i, recipient := range recipients {
		if report.Recipients[i].InAppStatus != StatusDelivered || recipient.Phone == "" {
			results[i] = StatusSkipped
			continue
		}

		i, recipient := i, recipient
		group.Go(func() error {
			sendCtx, cancel := context.WithTimeout(groupCtx, s.smsTimeout)
			defer cancel()

			if err := s.sms.Send(sendCtx, recipient.Phone, text); err != nil {
				results[i] = StatusFailed
				s.logger.Warn("sms delivery failed",
					zap.String("user_id", recipient.UserID.String()),
					zap.Error(err))
				return nil // SMS failure never fails the dispatch
			}
			results[i] = StatusDelivered
			return nil
		})
	}
	_ = group.Wait()

	for i, status := range results {
		report.Recipients[i].SMSStatus = status
		switch status {
		case StatusDelivered:
			sent++
		case StatusFailed:
			failed++
		}
		s.metrics.ObserveDispatch("sms", status)
	}
	report.SMSSent = int(sent)
	report.SMSFailed = int(failed)
}

// Send dispatches a single notification outside the request/agent fan-out,
// e.g. the farmer-facing verification outcome notice. Same dedupe rules.
func (s *Service) Send(ctx context.Context, recipient Recipient, relatedID uuid.UUID, payload Payload) (*DispatchReport, error) {
	return s.Notify(ctx, relatedID, []Recipient{recipient}, payload)
}

// ListForUser returns a page of a user's notifications
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, isRead *bool, page, pageSize int) ([]Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.store.ListForUser(ctx, userID, isRead, pageSize, (page-1)*pageSize)
}

// MarkRead marks one notification as read
func (s *Service) MarkRead(ctx context.Context, notificationID uuid.UUID) (*Notification, error) {
	return s.store.MarkRead(ctx, notificationID)
}

// MarkAllRead marks every unread notification for the user as read
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.store.MarkAllRead(ctx, userID)
}

// UnreadCount returns the user's unread notification count
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}
