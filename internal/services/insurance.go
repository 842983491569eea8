package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// AutoApproveVerifier accepts coverage for any patient on file. Practices
// without a clearinghouse integration use it; others confirm through the
// insurance callback endpoint instead.
type AutoApproveVerifier struct {
	dir    Directory
	logger zerolog.Logger
}

func NewAutoApproveVerifier(dir Directory, logger zerolog.Logger) *AutoApproveVerifier {
	return &AutoApproveVerifier{dir: dir, logger: logger.With().Str("component", "insurance").Logger()}
}

func (v *AutoApproveVerifier) Verify(ctx context.Context, apt models.Appointment) error {
	if _, err := v.dir.GetContact(ctx, apt.PatientID); err != nil {
		return fmt.Errorf("load patient %s: %w", apt.PatientID, err)
	}
	v.logger.Info().Str("appointment_id", apt.ID).Str("patient_id", apt.PatientID).Msg("insurance coverage auto-approved")
	return nil
}
