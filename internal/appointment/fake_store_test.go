package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same version semantics as PgRepository.
type memStore struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]Appointment
	patients  map[uuid.UUID]bool
	providers map[uuid.UUID]bool

	failFind error
	failSave error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{
		appts:     map[uuid.UUID]Appointment{},
		patients:  map[uuid.UUID]bool{},
		providers: map[uuid.UUID]bool{},
	}
}

func (m *memStore) FindActiveByProvider(_ context.Context, providerID uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind != nil {
		return nil, m.failFind
	}
	var out []Appointment
	for _, a := range m.appts {
		if a.ProviderID == providerID && a.Status.BlocksSchedule() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

func (m *memStore) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind != nil {
		return nil, m.failFind
	}
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) Save(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return nil, m.failSave
	}
	m.saves++

	stored := *a
	if a.Version == 0 {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.Version = 1
	} else {
		current, ok := m.appts[a.ID]
		if !ok || current.Version != a.Version {
			return nil, ErrConcurrentModification
		}
		stored.Version = a.Version + 1
	}
	m.appts[stored.ID] = stored
	return &stored, nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f = f.normalized()
	var out []Appointment
	for _, a := range m.appts {
		if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		if f.From != nil && a.DateTime.Before(*f.From) {
			continue
		}
		if f.To != nil && a.DateTime.After(*f.To) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

func (m *memStore) FindOverdue(_ context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if (a.Status == StatusScheduled || a.Status == StatusConfirmed) && a.EndTime.Before(endedBefore) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[id], nil
}

func (m *memStore) ProviderExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.providers[id], nil
}

func (m *memStore) status(id uuid.UUID) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id].Status
}
