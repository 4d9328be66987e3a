package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("actor may not perform this action")
	ErrConcurrentUpdate  = errors.New("appointment was modified concurrently")

	// ErrStaleVersion is returned by Repository.Update when the row moved
	// past the expected version.
	ErrStaleVersion = errors.New("stale appointment version")
)

// Repository is the appointment ledger. Every write appends one history
// entry in the same unit of work.
type Repository interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)

	Create(ctx context.Context, a *Appointment, h HistoryEntry) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Update writes a's mutable fields if the stored version still equals
	// expectedVersion and bumps the version.
	Update(ctx context.Context, a *Appointment, expectedVersion int, h HistoryEntry) (*Appointment, error)

	List(ctx context.Context, f Filter) ([]Appointment, error)
}
