package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	appointments map[string]models.Appointment
	providers    map[string]models.Provider
	slots        []models.AvailabilitySlot
	contacts     map[string]models.Contact
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[string]models.Appointment),
		providers:    make(map[string]models.Provider),
		contacts:     make(map[string]models.Contact),
		now:          time.Now,
	}
}

func (s *MemoryStore) GetAppointmentsForProviderOnDate(_ context.Context, providerID, date string) ([]models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Appointment
	for _, apt := range s.appointments {
		if apt.ProviderID == providerID && apt.Date == date {
			out = append(out, cloneAppointment(apt))
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) GetAppointmentsStartingBetween(_ context.Context, from, to time.Time) ([]models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Appointment
	for _, apt := range s.appointments {
		if apt.StartTime.After(from) && !apt.StartTime.After(to) {
			out = append(out, cloneAppointment(apt))
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apt, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneAppointment(apt)
	return &out, nil
}

func (s *MemoryStore) CreateAppointment(_ context.Context, apt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[apt.ID]; exists {
		return fmt.Errorf("appointment %s already exists", apt.ID)
	}
	s.appointments[apt.ID] = cloneAppointment(*apt)
	return nil
}

func (s *MemoryStore) UpdateAppointment(_ context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apt, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(&apt, s.now())
	s.appointments[id] = apt
	out := cloneAppointment(apt)
	return &out, nil
}

func (s *MemoryStore) GetProvider(_ context.Context, id string) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) CreateProvider(_ context.Context, p *models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = *p
	return nil
}

func (s *MemoryStore) CreateAvailabilitySlot(_ context.Context, slot *models.AvailabilitySlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = append(s.slots, *slot)
	return nil
}

func (s *MemoryStore) GetAvailabilitySlots(_ context.Context, providerID, date string) ([]models.AvailabilitySlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AvailabilitySlot
	for _, slot := range s.slots {
		if slot.ProviderID == providerID && slot.Date == date {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (s *MemoryStore) GetContact(_ context.Context, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// PutContact registers a patient contact.
func (s *MemoryStore) PutContact(c models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

func cloneAppointment(apt models.Appointment) models.Appointment {
	if apt.RemindersSent != nil {
		apt.RemindersSent = append([]string(nil), apt.RemindersSent...)
	}
	return apt
}

func sortByStart(apts []models.Appointment) {
	sort.Slice(apts, func(i, j int) bool { return apts[i].StartTime.Before(apts[j].StartTime) })
}
