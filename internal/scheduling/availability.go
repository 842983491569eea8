package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether r and o share any instant. Touching endpoints do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func appointmentRange(apt *models.Appointment) TimeRange {
	return TimeRange{Start: apt.StartTime, End: apt.EndTime()}
}

// GenerateSlots splits window into floor(window/(duration+buffer)) evenly spaced
// candidates of exactly duration, dropping those that overlap any busy interval.
func GenerateSlots(window TimeRange, busy []TimeRange, duration, buffer time.Duration) []TimeRange {
	if duration <= 0 || buffer < 0 || duration > window.Duration() {
		return []TimeRange{}
	}
	step := duration + buffer
	count := int(window.Duration() / step)

	slots := make([]TimeRange, 0, count)
	for i := 0; i < count; i++ {
		start := window.Start.Add(time.Duration(i) * step)
		candidate := TimeRange{Start: start, End: start.Add(duration)}
		if !overlapsAny(candidate, busy) {
			slots = append(slots, candidate)
		}
	}
	return slots
}

func overlapsAny(r TimeRange, busy []TimeRange) bool {
	for _, b := range busy {
		if r.Overlaps(b) {
			return true
		}
	}
	return false
}

// ParseClock parses a practice-local time of day such as "09:30" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, use HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func clockRange(day time.Time, start, end string) (TimeRange, error) {
	from, err := ParseClock(start)
	if err != nil {
		return TimeRange{}, err
	}
	to, err := ParseClock(end)
	if err != nil {
		return TimeRange{}, err
	}
	if to <= from {
		return TimeRange{}, fmt.Errorf("end %s must be after start %s", end, start)
	}
	return TimeRange{Start: day.Add(from), End: day.Add(to)}, nil
}

// DayAvailability is the answer to a free-slot query for one provider and day.
type DayAvailability struct {
	ProviderID      string      `json:"providerId"`
	Date            string      `json:"date"`
	DurationMinutes int         `json:"durationMinutes"`
	Slots           []TimeRange `json:"slots"`
	Message         string      `json:"message,omitempty"`
}

// GetAvailableSlots lists bookable candidates of durationMinutes for a provider on date.
// Persisted availability for that day replaces the provider's default work window.
func (e *Engine) GetAvailableSlots(ctx context.Context, providerID string, date time.Time, durationMinutes int) (*DayAvailability, error) {
	if durationMinutes <= 0 {
		return nil, apperr.Validation("duration must be a positive number of minutes")
	}
	provider, err := e.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	day := e.startOfDay(date)
	dateKey := day.Format(models.DateLayout)
	result := &DayAvailability{
		ProviderID:      providerID,
		Date:            dateKey,
		DurationMinutes: durationMinutes,
		Slots:           []TimeRange{},
	}
	now := e.now()
	if day.Before(e.startOfDay(now)) {
		result.Message = "date is in the past"
		return result, nil
	}

	windows, err := e.workWindows(ctx, provider, day)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		result.Message = fmt.Sprintf("%s does not work on %s", provider.Name, day.Weekday())
		return result, nil
	}

	busy, err := e.busyRanges(ctx, provider, day)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	fits := false
	for _, w := range windows {
		if duration <= w.Duration() {
			fits = true
		}
		for _, slot := range GenerateSlots(w, busy, duration, e.buffer) {
			// already started; booking it would be rejected
			if slot.Start.Before(now) {
				continue
			}
			result.Slots = append(result.Slots, slot)
		}
	}
	if !fits {
		result.Message = "requested duration is longer than the working window"
	} else if len(result.Slots) == 0 {
		result.Message = "no free slots on this day"
	}
	return result, nil
}

func (e *Engine) workWindows(ctx context.Context, provider *models.Provider, day time.Time) ([]TimeRange, error) {
	slots, err := e.store.GetAvailabilitySlots(ctx, provider.ID, day.Format(models.DateLayout))
	if err != nil {
		return nil, apperr.Upstream("load availability", err)
	}
	if len(slots) > 0 {
		windows := make([]TimeRange, 0, len(slots))
		for _, s := range slots {
			w, err := clockRange(day, s.StartTime, s.EndTime)
			if err != nil {
				e.logger.Warn().Err(err).Str("slot_id", s.ID).Msg("skipping malformed availability slot")
				continue
			}
			windows = append(windows, w)
		}
		return mergeWindows(windows), nil
	}

	if !provider.WorksOn(day.Weekday()) {
		return nil, nil
	}
	w, err := clockRange(day, provider.WorkStart, provider.WorkEnd)
	if err != nil {
		return nil, apperr.Validation("provider %s has an invalid work window: %v", provider.ID, err)
	}
	return []TimeRange{w}, nil
}

// mergeWindows sorts windows and joins the ones that overlap or touch, so repeated
// or overlapping stored availability never yields the same candidate twice.
func mergeWindows(windows []TimeRange) []TimeRange {
	if len(windows) < 2 {
		return windows
	}
	sorted := append([]TimeRange(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []TimeRange{sorted[0]}
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if w.Start.After(last.End) {
			merged = append(merged, w)
			continue
		}
		if w.End.After(last.End) {
			last.End = w.End
		}
	}
	return merged
}

func (e *Engine) busyRanges(ctx context.Context, provider *models.Provider, day time.Time) ([]TimeRange, error) {
	appointments, err := e.store.GetAppointmentsForProviderOnDate(ctx, provider.ID, day.Format(models.DateLayout))
	if err != nil {
		return nil, apperr.Upstream("load appointments", err)
	}
	busy := make([]TimeRange, 0, len(appointments)+1)
	for i := range appointments {
		if appointments[i].Status == models.StatusCancelled {
			continue
		}
		busy = append(busy, appointmentRange(&appointments[i]))
	}
	if provider.HasLunchBreak() {
		lunch, err := clockRange(day, provider.LunchStart, provider.LunchEnd)
		if err != nil {
			e.logger.Warn().Err(err).Str("provider_id", provider.ID).Msg("ignoring malformed lunch break")
		} else {
			busy = append(busy, lunch)
		}
	}
	return busy, nil
}
