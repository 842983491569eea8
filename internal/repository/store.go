package repository

import (
	"context"
	"errors"
	"time"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence collaborator of the scheduling core. It is the single
// source of truth for appointment state; callers never cache what it returns.
type Store interface {
	GetAppointmentsForProviderOnDate(ctx context.Context, providerID, date string) ([]models.Appointment, error)
	// GetAppointmentsStartingBetween returns appointments with from < startTime <= to, ordered by startTime.
	GetAppointmentsStartingBetween(ctx context.Context, from, to time.Time) ([]models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	CreateAppointment(ctx context.Context, apt *models.Appointment) error
	UpdateAppointment(ctx context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error)

	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	CreateProvider(ctx context.Context, p *models.Provider) error

	CreateAvailabilitySlot(ctx context.Context, slot *models.AvailabilitySlot) error
	GetAvailabilitySlots(ctx context.Context, providerID, date string) ([]models.AvailabilitySlot, error)

	GetContact(ctx context.Context, id string) (*models.Contact, error)
}
