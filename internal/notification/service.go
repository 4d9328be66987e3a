package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service is the recipient-facing read side.
type Service struct {
	store   Store
	counter Counter
	pusher  Pusher
	logger  zerolog.Logger
}

func NewService(store Store, counter Counter, pusher Pusher, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		counter: counter,
		pusher:  pusher,
		logger:  logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *Service) List(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	list, err := s.store.List(ctx, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// UnreadCount serves from the counter and recounts from the store when the
// counter has no entry or is unreachable.
func (s *Service) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	log := logging.FromContext(ctx, s.logger)

	n, ok, err := s.counter.Get(ctx, recipientID)
	if err == nil && ok {
		return n, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", recipientID.String()).Msg("unread counter unavailable, recounting")
	}

	n, err = s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	if err := s.counter.Set(ctx, recipientID, n); err != nil {
		log.Warn().Err(err).Str("recipient_id", recipientID.String()).Msg("failed to heal unread counter")
	}
	return n, nil
}

// MarkRead flips the notification to read. The counter only moves when the
// row actually changed, so repeated calls are harmless.
func (s *Service) MarkRead(ctx context.Context, recipientID, id uuid.UUID) error {
	flipped, err := s.store.MarkRead(ctx, recipientID, id)
	if err != nil {
		return err
	}
	if flipped {
		if err := s.counter.Decr(ctx, recipientID); err != nil {
			logging.FromContext(ctx, s.logger).Warn().Err(err).
				Str("recipient_id", recipientID.String()).
				Msg("failed to decrement unread counter")
		}
	}
	return nil
}

func (s *Service) Subscribe(ctx context.Context, recipientID uuid.UUID) (<-chan Notification, error) {
	return s.pusher.Subscribe(ctx, recipientID)
}
