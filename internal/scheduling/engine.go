package scheduling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/locking"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/repository"
	"github.com/harentsoaR/dentist-scheduling/internal/retry"
)

// Event names an appointment change that patients are told about.
type Event string

const (
	EventCreated     Event = "created"
	EventRescheduled Event = "rescheduled"
	EventCancelled   Event = "cancelled"
)

// Notifier delivers appointment change notices. Calls happen off the request path.
type Notifier interface {
	NotifyAppointmentEvent(ctx context.Context, apt models.Appointment, event Event) error
}

// InsuranceVerifier checks coverage for a booked appointment.
type InsuranceVerifier interface {
	Verify(ctx context.Context, apt models.Appointment) error
}

// Options configures an Engine. Zero values fall back to sensible defaults.
type Options struct {
	Locker       locking.Locker
	Notifier     Notifier
	Verifier     InsuranceVerifier
	Durations    map[models.AppointmentType]int
	Buffer       time.Duration
	Location     *time.Location
	Clock        func() time.Time
	Logger       zerolog.Logger
	Retry        retry.Config
	AsyncTimeout time.Duration
}

// Engine owns availability, recurrence, booking and the appointment lifecycle.
// It holds no appointment state of its own; every decision re-reads the store.
type Engine struct {
	store        repository.Store
	locker       locking.Locker
	notifier     Notifier
	verifier     InsuranceVerifier
	durations    map[models.AppointmentType]int
	buffer       time.Duration
	loc          *time.Location
	now          func() time.Time
	logger       zerolog.Logger
	retry        retry.Config
	asyncTimeout time.Duration

	async sync.WaitGroup
}

func NewEngine(store repository.Store, opts Options) *Engine {
	e := &Engine{
		store:        store,
		locker:       opts.Locker,
		notifier:     opts.Notifier,
		verifier:     opts.Verifier,
		durations:    opts.Durations,
		buffer:       opts.Buffer,
		loc:          opts.Location,
		now:          opts.Clock,
		logger:       opts.Logger.With().Str("component", "scheduling").Logger(),
		retry:        opts.Retry,
		asyncTimeout: opts.AsyncTimeout,
	}
	if e.locker == nil {
		e.locker = locking.NewKeyedMutex()
	}
	if e.durations == nil {
		e.durations = map[models.AppointmentType]int{}
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.retry.MaxAttempts == 0 {
		e.retry = retry.DefaultConfig()
	}
	if e.asyncTimeout <= 0 {
		e.asyncTimeout = time.Minute
	}
	return e
}

// DurationFor returns the configured length in minutes of an appointment type.
func (e *Engine) DurationFor(t models.AppointmentType) (int, bool) {
	minutes, ok := e.durations[t]
	return minutes, ok && minutes > 0
}

// Location is the practice-local zone calendar days are computed in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Wait blocks until every background side effect started so far has finished.
func (e *Engine) Wait() {
	e.async.Wait()
}

// goAsync runs fn detached from the caller's request. Panics are contained.
func (e *Engine) goAsync(name string, fn func(ctx context.Context)) {
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Interface("panic", r).Str("task", name).Msg("background task panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.asyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(e.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}

func (e *Engine) dateKey(t time.Time) string {
	return t.In(e.loc).Format(models.DateLayout)
}

func lockKey(providerID, date string) string {
	return providerID + "|" + date
}

func (e *Engine) loadProvider(ctx context.Context, id string) (*models.Provider, error) {
	if id == "" {
		return nil, apperr.Validation("providerId is required")
	}
	p, err := e.store.GetProvider(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("provider %s not found", id)
	}
	if err != nil {
		return nil, apperr.Upstream("load provider", err)
	}
	return p, nil
}

func (e *Engine) loadAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	if id == "" {
		return nil, apperr.Validation("appointment id is required")
	}
	apt, err := e.store.GetAppointment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, apperr.Upstream("load appointment", err)
	}
	return apt, nil
}

// GetAppointment reads one appointment from the store.
func (e *Engine) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return e.loadAppointment(ctx, id)
}

// ListAppointments returns a provider's appointments on the day of date, ordered by
// start time. A non-empty status keeps only appointments in that status.
func (e *Engine) ListAppointments(ctx context.Context, providerID string, date time.Time, status models.AppointmentStatus) ([]models.Appointment, error) {
	if date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	switch status {
	case "", models.StatusScheduled, models.StatusRescheduled, models.StatusCancelled:
	default:
		return nil, apperr.Validation("unknown appointment status %q", status)
	}
	if _, err := e.loadProvider(ctx, providerID); err != nil {
		return nil, err
	}

	all, err := e.store.GetAppointmentsForProviderOnDate(ctx, providerID, e.dateKey(date))
	if err != nil {
		return nil, apperr.Upstream("load appointments", err)
	}
	out := make([]models.Appointment, 0, len(all))
	for _, apt := range all {
		if status != "" && apt.Status != status {
			continue
		}
		out = append(out, apt)
	}
	return out, nil
}

// withAppointmentLock runs fn while holding the provider-day lock of the appointment,
// plus any extra days. fn receives a copy read after the lock was taken.
func (e *Engine) withAppointmentLock(ctx context.Context, id string, extraDates []string, fn func(apt *models.Appointment) error) error {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		apt, err := e.loadAppointment(ctx, id)
		if err != nil {
			return err
		}

		keys := []string{lockKey(apt.ProviderID, apt.Date)}
		for _, d := range extraDates {
			keys = append(keys, lockKey(apt.ProviderID, d))
		}
		unlock, err := locking.LockAll(ctx, e.locker, keys...)
		if err != nil {
			return apperr.Upstream("acquire provider-day lock", err)
		}

		fresh, err := e.loadAppointment(ctx, id)
		if err != nil {
			unlock()
			return err
		}
		if fresh.Date != apt.Date {
			// moved by a concurrent reschedule before we got the lock
			unlock()
			continue
		}
		err = fn(fresh)
		unlock()
		return err
	}
	return apperr.Upstream("acquire provider-day lock", errors.New("appointment kept moving"))
}
