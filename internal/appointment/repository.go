package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract the conflict detector and the lifecycle rely on.
// Implementations must give read-your-writes consistency per appointment id.
type Repository interface {
	ActiveLister

	// FindByID returns ErrAppointmentNotFound when the id is unknown.
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Save inserts a (Version == 0) or replaces it if the stored version still equals
	// a.Version, returning the stored row. A lost race yields ErrConcurrentModification.
	Save(ctx context.Context, a *Appointment) (*Appointment, error)
}

// Store is everything the service needs from the backing database.
type Store interface {
	Repository

	List(ctx context.Context, f Filter) ([]Appointment, error)

	// FindOverdue returns scheduled or confirmed appointments that ended before the cutoff.
	FindOverdue(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error)

	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	ProviderExists(ctx context.Context, id uuid.UUID) (bool, error)
}
