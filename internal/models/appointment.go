package models

import (
	"time"
)

type AppointmentType string

const (
	TypeCheckUp      AppointmentType = "check_up"
	TypeCleaning     AppointmentType = "cleaning"
	TypeFilling      AppointmentType = "filling"
	TypeRootCanal    AppointmentType = "root_canal"
	TypeExtraction   AppointmentType = "extraction"
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeEmergency    AppointmentType = "emergency"
)

// AppointmentTypes lists the closed set of bookable types.
var AppointmentTypes = []AppointmentType{
	TypeCheckUp, TypeCleaning, TypeFilling, TypeRootCanal,
	TypeExtraction, TypeConsultation, TypeFollowUp, TypeEmergency,
}

func (t AppointmentType) Valid() bool {
	for _, known := range AppointmentTypes {
		if t == known {
			return true
		}
	}
	return false
}

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCancelled   AppointmentStatus = "cancelled"
)

type InsuranceState string

const (
	InsuranceNotRequired InsuranceState = "not_required"
	InsurancePending     InsuranceState = "pending"
	InsuranceVerified    InsuranceState = "verified"
)

// DateLayout is the calendar-day key used for provider-day lookups.
const DateLayout = "2006-01-02"

type Appointment struct {
	ID              string            `bson:"_id" json:"id"`
	PatientID       string            `bson:"patientId" json:"patientId"`
	ProviderID      string            `bson:"providerId" json:"providerId"`
	Type            AppointmentType   `bson:"type" json:"type"`
	Date            string            `bson:"date" json:"date"`
	StartTime       time.Time         `bson:"startTime" json:"startTime"`
	DurationMinutes int               `bson:"durationMinutes" json:"durationMinutes"`
	Status          AppointmentStatus `bson:"status" json:"status"`
	InsuranceState  InsuranceState    `bson:"insuranceState" json:"insuranceState"`
	Notes           string            `bson:"notes" json:"notes"`
	IsOnline        bool              `bson:"isOnline" json:"isOnline"`
	RemindersSent   []string          `bson:"remindersSent" json:"remindersSent"`
	CreatedAt       time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time         `bson:"updatedAt" json:"updatedAt"`
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a *Appointment) ReminderSent(bucket string) bool {
	for _, b := range a.RemindersSent {
		if b == bucket {
			return true
		}
	}
	return false
}

// AppointmentPatch lists the fields UpdateAppointment may change. Nil fields are left alone.
type AppointmentPatch struct {
	StartTime       *time.Time
	Date            *string
	DurationMinutes *int
	Status          *AppointmentStatus
	InsuranceState  *InsuranceState
	Notes           *string
	// ResetReminders clears RemindersSent before AddReminder is applied.
	ResetReminders bool
	// AddReminder records a dispatched reminder bucket.
	AddReminder string
}

// Apply copies the patch onto apt. Stores that keep whole documents in memory use it.
func (p AppointmentPatch) Apply(apt *Appointment, now time.Time) {
	if p.StartTime != nil {
		apt.StartTime = *p.StartTime
	}
	if p.Date != nil {
		apt.Date = *p.Date
	}
	if p.DurationMinutes != nil {
		apt.DurationMinutes = *p.DurationMinutes
	}
	if p.Status != nil {
		apt.Status = *p.Status
	}
	if p.InsuranceState != nil {
		apt.InsuranceState = *p.InsuranceState
	}
	if p.Notes != nil {
		apt.Notes = *p.Notes
	}
	if p.ResetReminders {
		apt.RemindersSent = []string{}
	}
	if p.AddReminder != "" && !apt.ReminderSent(p.AddReminder) {
		apt.RemindersSent = append(apt.RemindersSent, p.AddReminder)
	}
	apt.UpdatedAt = now
}
