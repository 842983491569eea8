package scheduling

import (
	"context"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// allowedTransitions is the appointment status machine. cancelled has no exits.
var allowedTransitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.StatusScheduled:   {models.StatusRescheduled, models.StatusCancelled},
	models.StatusRescheduled: {models.StatusRescheduled, models.StatusCancelled},
}

// CheckTransition reports whether an appointment may move from one status to another.
func CheckTransition(from, to models.AppointmentStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	if from == models.StatusCancelled {
		return apperr.InvalidTransition("appointment is cancelled; no further changes are allowed")
	}
	return apperr.InvalidTransition("cannot change appointment status from %q to %q", from, to)
}

// CheckInsuranceTransition validates a move on the insurance axis. verified to verified
// is accepted so a repeated completion callback is harmless.
func CheckInsuranceTransition(status models.AppointmentStatus, from, to models.InsuranceState) error {
	if status == models.StatusCancelled {
		return apperr.InvalidTransition("appointment is cancelled; no further changes are allowed")
	}
	switch {
	case from == models.InsurancePending && to == models.InsuranceVerified:
		return nil
	case from == models.InsuranceVerified && to == models.InsuranceVerified:
		return nil
	}
	return apperr.InvalidTransition("cannot change insurance state from %q to %q", from, to)
}

// CompleteInsuranceVerification records a successful coverage check.
func (e *Engine) CompleteInsuranceVerification(ctx context.Context, id string) (*models.Appointment, error) {
	var updated *models.Appointment
	err := e.withAppointmentLock(ctx, id, nil, func(apt *models.Appointment) error {
		if err := CheckInsuranceTransition(apt.Status, apt.InsuranceState, models.InsuranceVerified); err != nil {
			return err
		}
		if apt.InsuranceState == models.InsuranceVerified {
			updated = apt
			return nil
		}
		verified := models.InsuranceVerified
		var err error
		updated, err = e.updateAppointment(ctx, apt.ID, models.AppointmentPatch{InsuranceState: &verified})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("appointment_id", id).Msg("insurance verified")
	return updated, nil
}
