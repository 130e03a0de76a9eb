package appointment

import (
	"context"

	"github.com/google/uuid"
)

// ActiveLister returns a provider's appointments that still hold time on the schedule.
type ActiveLister interface {
	FindActiveByProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error)
}

// ConflictDetector decides whether a candidate interval collides with a provider's
// existing appointments. It holds no state and performs no writes.
type ConflictDetector struct {
	repo ActiveLister
}

func NewConflictDetector(repo ActiveLister) *ConflictDetector {
	return &ConflictDetector{repo: repo}
}

// FindConflict returns the first active appointment of providerID overlapping candidate,
// skipping exclude (pass uuid.Nil to skip nothing). It returns nil when the slot is free.
func (d *ConflictDetector) FindConflict(ctx context.Context, providerID uuid.UUID, candidate Interval, exclude uuid.UUID) (*Appointment, error) {
	existing, err := d.repo.FindActiveByProvider(ctx, providerID)
	if err != nil {
		return nil, storeError("find active appointments", err)
	}

	for i := range existing {
		appt := &existing[i]
		if appt.ID == exclude || !appt.Status.BlocksSchedule() {
			continue
		}
		if appt.Interval().Overlaps(candidate) {
			return appt, nil
		}
	}
	return nil, nil
}

// HasConflict reports whether candidate overlaps any active appointment of providerID.
func (d *ConflictDetector) HasConflict(ctx context.Context, providerID uuid.UUID, candidate Interval, exclude uuid.UUID) (bool, error) {
	appt, err := d.FindConflict(ctx, providerID, candidate, exclude)
	if err != nil {
		return false, err
	}
	return appt != nil, nil
}
