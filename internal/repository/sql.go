package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// appointments
type appointmentRow struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	PatientID       string    `gorm:"type:varchar(64);not null;index"`
	ProviderID      string    `gorm:"type:varchar(64);not null;index:idx_appointments_provider_date"`
	Date            string    `gorm:"type:varchar(10);not null;index:idx_appointments_provider_date"`
	Type            string    `gorm:"type:varchar(32);not null"`
	StartTime       time.Time `gorm:"not null;index"`
	DurationMinutes int       `gorm:"not null"`
	Status          string    `gorm:"type:varchar(32);not null;index"`
	InsuranceState  string    `gorm:"type:varchar(32);not null"`
	Notes           string    `gorm:"type:text"`
	IsOnline        bool
	RemindersSent   datatypes.JSONSlice[string]
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (appointmentRow) TableName() string { return "appointments" }

// providers
type providerRow struct {
	ID         string `gorm:"type:varchar(64);primaryKey"`
	Name       string `gorm:"type:varchar(255);not null"`
	WorkStart  string `gorm:"type:varchar(5);not null"`
	WorkEnd    string `gorm:"type:varchar(5);not null"`
	LunchStart string `gorm:"type:varchar(5)"`
	LunchEnd   string `gorm:"type:varchar(5)"`
	WorkDays   datatypes.JSONSlice[int]
}

func (providerRow) TableName() string { return "providers" }

// availability_slots
type slotRow struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	ProviderID string    `gorm:"type:varchar(64);not null;index:idx_slots_provider_date"`
	Date       string    `gorm:"type:varchar(10);not null;index:idx_slots_provider_date"`
	StartTime  string    `gorm:"type:varchar(5);not null"`
	EndTime    string    `gorm:"type:varchar(5);not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (slotRow) TableName() string { return "availability_slots" }

// contacts
type contactRow struct {
	ID       string `gorm:"type:varchar(64);primaryKey"`
	FullName string `gorm:"type:varchar(255)"`
	Email    string `gorm:"type:varchar(255)"`
	Phone    string `gorm:"type:varchar(32)"`
}

func (contactRow) TableName() string { return "contacts" }

// SQLStore persists scheduling records through gorm (PostgreSQL or SQLite).
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL opens a gorm connection for driver "postgres" or "sqlite" and migrates the schema.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&appointmentRow{}, &providerRow{}, &slotRow{}, &contactRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

func (s *SQLStore) GetAppointmentsForProviderOnDate(ctx context.Context, providerID, date string) ([]models.Appointment, error) {
	var rows []appointmentRow
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND date = ?", providerID, date).
		Order("start_time").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	return toAppointments(rows), nil
}

func (s *SQLStore) GetAppointmentsStartingBetween(ctx context.Context, from, to time.Time) ([]models.Appointment, error) {
	var rows []appointmentRow
	err := s.db.WithContext(ctx).
		Where("start_time > ? AND start_time <= ?", from.UTC(), to.UTC()).
		Order("start_time").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	return toAppointments(rows), nil
}

func (s *SQLStore) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	var row appointmentRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapGormErr(err)
	}
	apt := row.toModel()
	return &apt, nil
}

func (s *SQLStore) CreateAppointment(ctx context.Context, apt *models.Appointment) error {
	row := fromAppointment(*apt)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateAppointment(ctx context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error) {
	var out models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row appointmentRow
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&row, "id = ?", id).Error; err != nil {
			return mapGormErr(err)
		}
		apt := row.toModel()
		patch.Apply(&apt, time.Now())
		updated := fromAppointment(apt)
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}
		out = apt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var row providerRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &models.Provider{
		ID:         row.ID,
		Name:       row.Name,
		WorkStart:  row.WorkStart,
		WorkEnd:    row.WorkEnd,
		LunchStart: row.LunchStart,
		LunchEnd:   row.LunchEnd,
		WorkDays:   []int(row.WorkDays),
	}, nil
}

func (s *SQLStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	row := providerRow{
		ID:         p.ID,
		Name:       p.Name,
		WorkStart:  p.WorkStart,
		WorkEnd:    p.WorkEnd,
		LunchStart: p.LunchStart,
		LunchEnd:   p.LunchEnd,
		WorkDays:   datatypes.JSONSlice[int](p.WorkDays),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save provider: %w", err)
	}
	return nil
}

func (s *SQLStore) CreateAvailabilitySlot(ctx context.Context, slot *models.AvailabilitySlot) error {
	row := slotRow{
		ID:         slot.ID,
		ProviderID: slot.ProviderID,
		Date:       slot.Date,
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
		CreatedAt:  slot.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert availability slot: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAvailabilitySlots(ctx context.Context, providerID, date string) ([]models.AvailabilitySlot, error) {
	var rows []slotRow
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND date = ?", providerID, date).
		Order("start_time").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find availability slots: %w", err)
	}
	slots := make([]models.AvailabilitySlot, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, models.AvailabilitySlot{
			ID:         r.ID,
			ProviderID: r.ProviderID,
			Date:       r.Date,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			CreatedAt:  r.CreatedAt,
		})
	}
	return slots, nil
}

func (s *SQLStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var row contactRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &models.Contact{ID: row.ID, FullName: row.FullName, Email: row.Email, Phone: row.Phone}, nil
}

// PutContact upserts a patient contact.
func (s *SQLStore) PutContact(ctx context.Context, c models.Contact) error {
	row := contactRow{ID: c.ID, FullName: c.FullName, Email: c.Email, Phone: c.Phone}
	return s.db.WithContext(ctx).Save(&row).Error
}

func fromAppointment(apt models.Appointment) appointmentRow {
	return appointmentRow{
		ID:              apt.ID,
		PatientID:       apt.PatientID,
		ProviderID:      apt.ProviderID,
		Date:            apt.Date,
		Type:            string(apt.Type),
		StartTime:       apt.StartTime.UTC(),
		DurationMinutes: apt.DurationMinutes,
		Status:          string(apt.Status),
		InsuranceState:  string(apt.InsuranceState),
		Notes:           apt.Notes,
		IsOnline:        apt.IsOnline,
		RemindersSent:   datatypes.JSONSlice[string](apt.RemindersSent),
		CreatedAt:       apt.CreatedAt.UTC(),
		UpdatedAt:       apt.UpdatedAt.UTC(),
	}
}

func (r appointmentRow) toModel() models.Appointment {
	return models.Appointment{
		ID:              r.ID,
		PatientID:       r.PatientID,
		ProviderID:      r.ProviderID,
		Type:            models.AppointmentType(r.Type),
		Date:            r.Date,
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		Status:          models.AppointmentStatus(r.Status),
		InsuranceState:  models.InsuranceState(r.InsuranceState),
		Notes:           r.Notes,
		IsOnline:        r.IsOnline,
		RemindersSent:   []string(r.RemindersSent),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toAppointments(rows []appointmentRow) []models.Appointment {
	out := make([]models.Appointment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func mapGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
