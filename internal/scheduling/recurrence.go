package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

const (
	defaultRecurrenceSpan = 3 // months
	maxRecurrenceDays     = 366
)

// ExpandRecurrence returns the calendar days in [start, end] matched by pattern.
// start and end must be midnights in the same location.
//
// daily repeats every Interval days; weekly every Interval weeks, where a week runs
// Sunday to Saturday and DaysOfWeek selects days inside every matching week (the start
// weekday when empty); monthly repeats on the start day-of-month every Interval
// months, clamped to the month's last day. DaysOfWeek also filters daily patterns.
func ExpandRecurrence(start, end time.Time, pattern models.RecurrencePattern) []time.Time {
	interval := pattern.Interval
	if interval < 1 {
		interval = 1
	}
	var days []time.Time

	switch pattern.Frequency {
	case models.FrequencyDaily:
		for d := start; !d.After(end); d = d.AddDate(0, 0, interval) {
			if weekdayAllowed(pattern.DaysOfWeek, d.Weekday()) {
				days = append(days, d)
			}
		}

	case models.FrequencyWeekly:
		weekdays := pattern.DaysOfWeek
		if len(weekdays) == 0 {
			weekdays = []int{int(start.Weekday())}
		}
		firstWeek := start.AddDate(0, 0, -int(start.Weekday()))
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if !weekdayAllowed(weekdays, d.Weekday()) {
				continue
			}
			if weeksBetween(firstWeek, d)%interval == 0 {
				days = append(days, d)
			}
		}

	case models.FrequencyMonthly:
		for n := 0; ; n += interval {
			d := addMonthsClamped(start, n)
			if d.After(end) {
				break
			}
			days = append(days, d)
		}
	}
	return days
}

func weekdayAllowed(set []int, day time.Weekday) bool {
	if len(set) == 0 {
		return true
	}
	for _, d := range set {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// weeksBetween counts whole Sunday-started weeks from weekStart to d.
func weeksBetween(weekStart, d time.Time) int {
	y1, m1, d1 := weekStart.Date()
	y2, m2, d2 := d.Date()
	// compare as UTC dates so DST shifts do not distort the day count
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours()/24) / 7
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

func validatePattern(p models.RecurrencePattern) error {
	switch p.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
	default:
		return apperr.Validation("unknown recurrence frequency %q", p.Frequency)
	}
	if p.Interval < 0 {
		return apperr.Validation("recurrence interval must be at least 1")
	}
	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			return apperr.Validation("day of week %d out of range 0-6", d)
		}
	}
	return nil
}

// CreateRecurringAvailability persists one availability slot per day matched by pattern
// between startDate and the pattern's end date (three months later when unset).
// Days whose stored availability already overlaps the requested hours are skipped.
func (e *Engine) CreateRecurringAvailability(ctx context.Context, providerID string, startDate time.Time, startTime, endTime string, pattern models.RecurrencePattern) ([]models.AvailabilitySlot, error) {
	if startDate.IsZero() {
		return nil, apperr.Validation("startDate is required")
	}
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}
	from, err := ParseClock(startTime)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	to, err := ParseClock(endTime)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if to <= from {
		return nil, apperr.Validation("endTime must be after startTime")
	}

	start := e.startOfDay(startDate)
	if start.Before(e.startOfDay(e.now())) {
		return nil, apperr.Validation("startDate %s is in the past", start.Format(models.DateLayout))
	}
	end := start.AddDate(0, defaultRecurrenceSpan, 0)
	if pattern.EndDate != nil {
		end = e.startOfDay(*pattern.EndDate)
	}
	if end.Before(start) {
		return nil, apperr.Validation("endDate must not be before startDate")
	}
	if end.Sub(start) > maxRecurrenceDays*24*time.Hour {
		return nil, apperr.Validation("recurrence range may not exceed %d days", maxRecurrenceDays)
	}

	if _, err := e.loadProvider(ctx, providerID); err != nil {
		return nil, err
	}

	clockStart := formatClock(from)
	clockEnd := formatClock(to)
	now := e.now()

	days := ExpandRecurrence(start, end, pattern)
	slots := make([]models.AvailabilitySlot, 0, len(days))
	skipped := 0
	for _, day := range days {
		slot := models.AvailabilitySlot{
			ID:         uuid.NewString(),
			ProviderID: providerID,
			Date:       day.Format(models.DateLayout),
			StartTime:  clockStart,
			EndTime:    clockEnd,
			CreatedAt:  now,
		}
		created, err := e.createSlotIfFree(ctx, day, &slot)
		if err != nil {
			e.logger.Error().Err(err).
				Str("provider_id", providerID).
				Int("created", len(slots)).
				Msg("recurring availability stopped part way")
			return slots, err
		}
		if !created {
			skipped++
			continue
		}
		slots = append(slots, slot)
	}

	e.logger.Info().
		Str("provider_id", providerID).
		Str("frequency", string(pattern.Frequency)).
		Int("slots", len(slots)).
		Int("skipped", skipped).
		Msg("recurring availability created")
	return slots, nil
}

// createSlotIfFree stores slot unless it overlaps availability already stored for
// that provider-day. It reports whether the slot was written.
func (e *Engine) createSlotIfFree(ctx context.Context, day time.Time, slot *models.AvailabilitySlot) (bool, error) {
	window, err := clockRange(day, slot.StartTime, slot.EndTime)
	if err != nil {
		return false, apperr.Validation("%v", err)
	}

	unlock, err := e.locker.Lock(ctx, lockKey(slot.ProviderID, slot.Date))
	if err != nil {
		return false, apperr.Upstream("acquire provider-day lock", err)
	}
	defer unlock()

	existing, err := e.store.GetAvailabilitySlots(ctx, slot.ProviderID, slot.Date)
	if err != nil {
		return false, apperr.Upstream("load availability", err)
	}
	for _, s := range existing {
		w, err := clockRange(day, s.StartTime, s.EndTime)
		if err != nil {
			continue
		}
		if w.Overlaps(window) {
			e.logger.Debug().
				Str("provider_id", slot.ProviderID).
				Str("date", slot.Date).
				Str("existing_slot_id", s.ID).
				Msg("availability already covers this day, skipping")
			return false, nil
		}
	}

	if err := e.store.CreateAvailabilitySlot(ctx, slot); err != nil {
		return false, apperr.Upstream("create availability slot", err)
	}
	return true, nil
}

func formatClock(d time.Duration) string {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04")
}
