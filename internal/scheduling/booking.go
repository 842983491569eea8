package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

type ScheduleRequest struct {
	PatientID  string
	ProviderID string
	Type       models.AppointmentType
	StartTime  time.Time
	// DurationMinutes overrides the type's configured length when positive.
	DurationMinutes               int
	Notes                         string
	IsOnline                      bool
	RequiresInsuranceVerification bool
}

func (e *Engine) validateSchedule(req ScheduleRequest) (int, error) {
	var missing []string
	if req.PatientID == "" {
		missing = append(missing, "patientId")
	}
	if req.ProviderID == "" {
		missing = append(missing, "providerId")
	}
	if req.Type == "" {
		missing = append(missing, "type")
	}
	if req.StartTime.IsZero() {
		missing = append(missing, "startTime")
	}
	if len(missing) > 0 {
		return 0, apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !req.Type.Valid() {
		return 0, apperr.Validation("unknown appointment type %q", req.Type)
	}
	if req.DurationMinutes < 0 {
		return 0, apperr.Validation("duration must not be negative")
	}
	if req.StartTime.Before(e.now()) {
		return 0, apperr.Validation("cannot book an appointment in the past")
	}

	if req.DurationMinutes > 0 {
		return req.DurationMinutes, nil
	}
	minutes, ok := e.DurationFor(req.Type)
	if !ok {
		return 0, apperr.Validation("no duration configured for %s", req.Type)
	}
	return minutes, nil
}

// findConflict returns the first non-cancelled appointment overlapping candidate,
// ignoring excludeID.
func findConflict(existing []models.Appointment, candidate TimeRange, excludeID string) *models.Appointment {
	for i := range existing {
		apt := &existing[i]
		if apt.ID == excludeID || apt.Status == models.StatusCancelled {
			continue
		}
		if candidate.Overlaps(appointmentRange(apt)) {
			return apt
		}
	}
	return nil
}

func (e *Engine) conflictError(providerID string, c *models.Appointment) error {
	return apperr.SlotUnavailable("provider %s is booked from %s to %s",
		providerID,
		c.StartTime.In(e.loc).Format("15:04"),
		c.EndTime().In(e.loc).Format("15:04"))
}

// ScheduleAppointment books a new appointment. The overlap check and the insert
// happen under the provider-day lock, so concurrent requests for the same interval
// cannot both succeed.
func (e *Engine) ScheduleAppointment(ctx context.Context, req ScheduleRequest) (*models.Appointment, error) {
	duration, err := e.validateSchedule(req)
	if err != nil {
		return nil, err
	}
	if _, err := e.loadProvider(ctx, req.ProviderID); err != nil {
		return nil, err
	}

	start := req.StartTime.In(e.loc)
	date := start.Format(models.DateLayout)
	candidate := TimeRange{Start: start, End: start.Add(time.Duration(duration) * time.Minute)}

	unlock, err := e.locker.Lock(ctx, lockKey(req.ProviderID, date))
	if err != nil {
		return nil, apperr.Upstream("acquire provider-day lock", err)
	}
	defer unlock()

	existing, err := e.store.GetAppointmentsForProviderOnDate(ctx, req.ProviderID, date)
	if err != nil {
		return nil, apperr.Upstream("load appointments", err)
	}
	if c := findConflict(existing, candidate, ""); c != nil {
		return nil, e.conflictError(req.ProviderID, c)
	}

	insurance := models.InsuranceNotRequired
	if req.RequiresInsuranceVerification {
		insurance = models.InsurancePending
	}
	now := e.now()
	apt := &models.Appointment{
		ID:              uuid.NewString(),
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		Type:            req.Type,
		Date:            date,
		StartTime:       start,
		DurationMinutes: duration,
		Status:          models.StatusScheduled,
		InsuranceState:  insurance,
		Notes:           req.Notes,
		IsOnline:        req.IsOnline,
		RemindersSent:   []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateAppointment(ctx, apt); err != nil {
		return nil, apperr.Upstream("create appointment", err)
	}

	e.logger.Info().
		Str("appointment_id", apt.ID).
		Str("provider_id", apt.ProviderID).
		Time("start", apt.StartTime).
		Int("duration", apt.DurationMinutes).
		Msg("appointment scheduled")

	e.notify(*apt, EventCreated)
	if apt.InsuranceState == models.InsurancePending {
		e.triggerInsuranceVerification(*apt)
	}
	return apt, nil
}

// RescheduleAppointment moves an appointment to [newStart, newEnd). A zero newEnd keeps
// the current length. The appointment itself is excluded from the overlap check.
func (e *Engine) RescheduleAppointment(ctx context.Context, id string, newStart, newEnd time.Time) (*models.Appointment, error) {
	if newStart.IsZero() {
		return nil, apperr.Validation("new start time is required")
	}
	if !newEnd.IsZero() && !newEnd.After(newStart) {
		return nil, apperr.Validation("new end time must be after the new start time")
	}
	if newStart.Before(e.now()) {
		return nil, apperr.Validation("cannot move an appointment into the past")
	}

	start := newStart.In(e.loc)
	newDate := start.Format(models.DateLayout)

	var updated *models.Appointment
	err := e.withAppointmentLock(ctx, id, []string{newDate}, func(apt *models.Appointment) error {
		if err := CheckTransition(apt.Status, models.StatusRescheduled); err != nil {
			return err
		}

		duration := apt.DurationMinutes
		if !newEnd.IsZero() {
			duration = int(newEnd.Sub(newStart) / time.Minute)
			if duration <= 0 {
				return apperr.Validation("appointment must last at least one minute")
			}
		}
		candidate := TimeRange{Start: start, End: start.Add(time.Duration(duration) * time.Minute)}

		existing, err := e.store.GetAppointmentsForProviderOnDate(ctx, apt.ProviderID, newDate)
		if err != nil {
			return apperr.Upstream("load appointments", err)
		}
		if c := findConflict(existing, candidate, apt.ID); c != nil {
			return e.conflictError(apt.ProviderID, c)
		}

		status := models.StatusRescheduled
		updated, err = e.updateAppointment(ctx, apt.ID, models.AppointmentPatch{
			StartTime:       &start,
			Date:            &newDate,
			DurationMinutes: &duration,
			Status:          &status,
			// reminders already sent were for the old start
			ResetReminders: !start.Equal(apt.StartTime),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("appointment_id", updated.ID).
		Time("start", updated.StartTime).
		Msg("appointment rescheduled")
	e.notify(*updated, EventRescheduled)
	return updated, nil
}

// CancelAppointment marks an appointment cancelled and appends the reason to its notes.
// The record itself is kept.
func (e *Engine) CancelAppointment(ctx context.Context, id, reason string) (*models.Appointment, error) {
	var updated *models.Appointment
	err := e.withAppointmentLock(ctx, id, nil, func(apt *models.Appointment) error {
		if err := CheckTransition(apt.Status, models.StatusCancelled); err != nil {
			return err
		}
		status := models.StatusCancelled
		patch := models.AppointmentPatch{Status: &status}
		if reason = strings.TrimSpace(reason); reason != "" {
			notes := appendNote(apt.Notes, fmt.Sprintf("Cancelled %s: %s", e.now().In(e.loc).Format(time.RFC3339), reason))
			patch.Notes = &notes
		}
		var err error
		updated, err = e.updateAppointment(ctx, apt.ID, patch)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("appointment_id", updated.ID).Msg("appointment cancelled")
	e.notify(*updated, EventCancelled)
	return updated, nil
}

func (e *Engine) updateAppointment(ctx context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error) {
	apt, err := e.store.UpdateAppointment(ctx, id, patch)
	if err != nil {
		return nil, apperr.Upstream("update appointment", err)
	}
	return apt, nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func (e *Engine) notify(apt models.Appointment, event Event) {
	if e.notifier == nil {
		return
	}
	e.goAsync("notify", func(ctx context.Context) {
		if err := e.notifier.NotifyAppointmentEvent(ctx, apt, event); err != nil {
			e.logger.Error().Err(err).
				Str("appointment_id", apt.ID).
				Str("event", string(event)).
				Msg("failed to send appointment notification")
		}
	})
}
