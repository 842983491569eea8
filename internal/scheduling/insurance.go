package scheduling

import (
	"context"
	"time"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/retry"
)

// triggerInsuranceVerification asks the verifier about apt in the background and
// records the outcome. Failures are logged; the booking that fired it is unaffected.
func (e *Engine) triggerInsuranceVerification(apt models.Appointment) {
	if e.verifier == nil {
		e.logger.Warn().Str("appointment_id", apt.ID).Msg("no insurance verifier configured; leaving verification pending")
		return
	}
	e.goAsync("insurance", func(ctx context.Context) {
		logger := e.logger.With().Str("appointment_id", apt.ID).Logger()

		err := retry.Do(ctx, e.retry, func() error {
			return e.verifier.Verify(ctx, apt)
		}, func(attempt int, err error, next time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("insurance verification failed, retrying")
		})
		if err != nil {
			logger.Error().Err(err).Msg("insurance verification gave up")
			return
		}

		if _, err := e.CompleteInsuranceVerification(ctx, apt.ID); err != nil {
			if apperr.Is(err, apperr.KindInvalidTransition) {
				logger.Info().Err(err).Msg("insurance verified after appointment left the pending state")
				return
			}
			logger.Error().Err(err).Msg("failed to record insurance verification")
		}
	})
}
