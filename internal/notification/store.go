package notification

import (
	"context"

	"github.com/google/uuid"
)

// Store holds the persisted notifications. It is the source of truth the
// unread counter is healed from.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	List(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error)
	// MarkRead reports whether the row flipped from unread to read.
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) (bool, error)
}
