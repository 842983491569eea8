package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/repository"
	"github.com/harentsoaR/dentist-scheduling/internal/retry"
)

var testNow = time.Date(2023, 12, 15, 8, 0, 0, 0, time.UTC)

// at returns a January 2024 instant in UTC.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func stockDurations() map[models.AppointmentType]int {
	return map[models.AppointmentType]int{
		models.TypeCheckUp:      30,
		models.TypeCleaning:     60,
		models.TypeFilling:      60,
		models.TypeRootCanal:    90,
		models.TypeExtraction:   45,
		models.TypeConsultation: 30,
		models.TypeFollowUp:     20,
		models.TypeEmergency:    45,
	}
}

func newTestEngine(t *testing.T, configure ...func(*Options)) (*Engine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateProvider(context.Background(), &models.Provider{
		ID:        "dr-smith",
		Name:      "Dr Smith",
		WorkStart: "09:00",
		WorkEnd:   "17:00",
	}))

	opts := Options{
		Durations: stockDurations(),
		Buffer:    10 * time.Minute,
		Location:  time.UTC,
		Clock:     func() time.Time { return testNow },
		Logger:    zerolog.Nop(),
		Retry:     retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
	}
	for _, c := range configure {
		c(&opts)
	}
	e := NewEngine(store, opts)
	t.Cleanup(e.Wait)
	return e, store
}

func book(t *testing.T, e *Engine, start time.Time, minutes int) *models.Appointment {
	t.Helper()
	apt, err := e.ScheduleAppointment(context.Background(), ScheduleRequest{
		PatientID:       "patient-1",
		ProviderID:      "dr-smith",
		Type:            models.TypeCheckUp,
		StartTime:       start,
		DurationMinutes: minutes,
	})
	require.NoError(t, err)
	return apt
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyAppointmentEvent(_ context.Context, apt models.Appointment, event Event) error {
	args := m.Called(apt.ID, event)
	return args.Error(0)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(_ context.Context, apt models.Appointment) error {
	args := m.Called(apt.ID)
	return args.Error(0)
}
