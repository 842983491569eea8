package models

import "time"

type Provider struct {
	ID         string `bson:"_id" json:"id"`
	Name       string `bson:"name" json:"name"`
	WorkStart  string `bson:"workStart" json:"workStart"` // "09:00"
	WorkEnd    string `bson:"workEnd" json:"workEnd"`
	LunchStart string `bson:"lunchStart,omitempty" json:"lunchStart,omitempty"`
	LunchEnd   string `bson:"lunchEnd,omitempty" json:"lunchEnd,omitempty"`
	// WorkDays holds weekdays (0=Sunday..6=Saturday). Empty means Monday to Friday.
	WorkDays []int `bson:"workDays,omitempty" json:"workDays,omitempty"`
}

func (p *Provider) WorksOn(day time.Weekday) bool {
	if len(p.WorkDays) == 0 {
		return day >= time.Monday && day <= time.Friday
	}
	for _, d := range p.WorkDays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

func (p *Provider) HasLunchBreak() bool {
	return p.LunchStart != "" && p.LunchEnd != ""
}

// AvailabilitySlot is a concrete work window for one provider on one day.
type AvailabilitySlot struct {
	ID         string    `bson:"_id" json:"id"`
	ProviderID string    `bson:"providerId" json:"providerId"`
	Date       string    `bson:"date" json:"date"`
	StartTime  string    `bson:"startTime" json:"startTime"`
	EndTime    string    `bson:"endTime" json:"endTime"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type RecurrencePattern struct {
	Frequency  Frequency  `json:"frequency"`
	Interval   int        `json:"interval"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	DaysOfWeek []int      `json:"daysOfWeek,omitempty"`
}
