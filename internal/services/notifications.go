package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/scheduling"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Directory resolves the records a message is addressed from.
type Directory interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// SMSSender is satisfied by TextbeltClient.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) (string, error)
	Status(ctx context.Context, textID string) (string, error)
}

// EmailSender delivers one email and returns a message id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// NotificationService sends appointment notices and reminders over SMS and email.
type NotificationService struct {
	dir    Directory
	sms    SMSSender
	email  EmailSender
	logger zerolog.Logger

	now    func() time.Time
	mu     sync.Mutex
	emails map[string]time.Time // accepted email id -> accepted at
}

// emailStatusTTL bounds how long an accepted email id can still be reported.
const emailStatusTTL = 24 * time.Hour

func NewNotificationService(dir Directory, sms SMSSender, email EmailSender, logger zerolog.Logger) *NotificationService {
	if email == nil {
		email = NewLogEmailSender(logger)
	}
	return &NotificationService{
		dir:    dir,
		sms:    sms,
		email:  email,
		logger: logger.With().Str("component", "notifications").Logger(),
		now:    time.Now,
		emails: map[string]time.Time{},
	}
}

// NotifyAppointmentEvent texts the patient about a booking change.
func (s *NotificationService) NotifyAppointmentEvent(ctx context.Context, apt models.Appointment, event scheduling.Event) error {
	patient, err := s.dir.GetContact(ctx, apt.PatientID)
	if err != nil {
		return fmt.Errorf("load patient %s: %w", apt.PatientID, err)
	}

	var body string
	when := apt.StartTime.Format("Jan 2 at 3:04 PM")
	switch event {
	case scheduling.EventCreated:
		body = fmt.Sprintf("Appointment Confirmed: %s for %s on %s.", label(apt.Type), patient.FullName, when)
	case scheduling.EventRescheduled:
		body = fmt.Sprintf("Appointment Moved: your %s is now on %s.", label(apt.Type), when)
	case scheduling.EventCancelled:
		body = fmt.Sprintf("Appointment Cancelled: your %s on %s has been cancelled.", label(apt.Type), when)
	default:
		return fmt.Errorf("unknown appointment event %q", event)
	}

	if patient.Phone != "" && s.sms != nil {
		_, err := s.sms.Send(ctx, patient.Phone, body)
		return err
	}
	if patient.Email != "" {
		_, err := s.sendEmail(ctx, patient.Email, "Your appointment", body)
		return err
	}
	s.logger.Info().Str("patient_id", patient.ID).Msg("notification not sent: patient has no phone number or email")
	return nil
}

// SendReminder dispatches one reminder on every requested channel. The returned
// deliveries describe each channel; the error joins the channel failures.
func (s *NotificationService) SendReminder(ctx context.Context, appointmentID, bucket string, channels []string) ([]models.Delivery, error) {
	apt, err := s.dir.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment %s: %w", appointmentID, err)
	}
	patient, err := s.dir.GetContact(ctx, apt.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", apt.PatientID, err)
	}

	body := fmt.Sprintf("Reminder: your %s is on %s.", label(apt.Type), apt.StartTime.Format("Mon Jan 2 at 3:04 PM"))

	var (
		deliveries []models.Delivery
		errs       []error
	)
	for _, channel := range channels {
		d := models.Delivery{AppointmentID: apt.ID, Bucket: bucket, Channel: channel, Status: models.DeliveryFailed}
		var id string
		var sendErr error

		switch channel {
		case ChannelSMS:
			switch {
			case s.sms == nil:
				sendErr = errors.New("sms transport not configured")
			case patient.Phone == "":
				sendErr = errors.New("patient has no phone number")
			default:
				id, sendErr = s.sms.Send(ctx, patient.Phone, body)
				if sendErr == nil {
					d.Status = models.DeliveryQueued
				}
			}
		case ChannelEmail:
			if patient.Email == "" {
				sendErr = errors.New("patient has no email")
			} else {
				id, sendErr = s.sendEmail(ctx, patient.Email, "Appointment reminder", body)
				if sendErr == nil {
					d.Status = models.DeliveryDelivered
				}
			}
		default:
			sendErr = fmt.Errorf("unknown channel %q", channel)
		}

		if sendErr != nil {
			d.Error = sendErr.Error()
			errs = append(errs, fmt.Errorf("%s: %w", channel, sendErr))
		} else {
			d.MessageID = channel + ":" + id
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, errors.Join(errs...)
}

// BatchStatus reports the current status of previously returned message ids.
func (s *NotificationService) BatchStatus(ctx context.Context, messageIDs []string) ([]models.Delivery, error) {
	out := make([]models.Delivery, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		channel, id, _ := strings.Cut(messageID, ":")
		d := models.Delivery{MessageID: messageID, Channel: channel, Status: models.DeliveryQueued}

		switch channel {
		case ChannelSMS:
			if s.sms == nil {
				d.Status = models.DeliveryFailed
				break
			}
			raw, err := s.sms.Status(ctx, id)
			if err != nil {
				s.logger.Warn().Err(err).Str("message_id", messageID).Msg("failed to query sms status")
				break
			}
			d.Status = textbeltStatus(raw)
		case ChannelEmail:
			// each accepted email is reported once
			s.mu.Lock()
			if _, ok := s.emails[id]; ok {
				d.Status = models.DeliveryDelivered
				delete(s.emails, id)
			}
			s.mu.Unlock()
		default:
			d.Status = models.DeliveryFailed
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *NotificationService) sendEmail(ctx context.Context, to, subject, body string) (string, error) {
	id, err := s.email.SendEmail(ctx, to, subject, body)
	if err != nil {
		return "", err
	}
	now := s.now()
	s.mu.Lock()
	for old, at := range s.emails {
		if now.Sub(at) > emailStatusTTL {
			delete(s.emails, old)
		}
	}
	s.emails[id] = now
	s.mu.Unlock()
	return id, nil
}

func textbeltStatus(raw string) models.DeliveryStatus {
	switch strings.ToUpper(raw) {
	case "DELIVERED":
		return models.DeliveryDelivered
	case "FAILED":
		return models.DeliveryFailed
	default:
		return models.DeliveryQueued
	}
}

func label(t models.AppointmentType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// LogEmailSender writes emails to the log. It stands in for a mail provider.
type LogEmailSender struct {
	logger zerolog.Logger
}

func NewLogEmailSender(logger zerolog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger.With().Str("component", "email").Logger()}
}

func (l *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	id := uuid.NewString()
	l.logger.Info().Str("message_id", id).Str("to", to).Str("subject", subject).Str("body", body).Msg("email sent")
	return id, nil
}
