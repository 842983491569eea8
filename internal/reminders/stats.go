package reminders

import (
	"time"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

type ChannelStats struct {
	Delivered int `json:"delivered"`
	Opened    int `json:"opened"`
	Failed    int `json:"failed"`
}

// Stats counts reminders sent per bucket and delivery outcomes per channel.
type Stats struct {
	Sent     map[string]int           `json:"sent"`
	Channels map[string]*ChannelStats `json:"channels"`
	// Failures counts appointments whose reminder could not be dispatched.
	Failures int `json:"failures"`
}

func newStats() Stats {
	return Stats{Sent: map[string]int{}, Channels: map[string]*ChannelStats{}}
}

func (s *Stats) channel(name string) *ChannelStats {
	cs, ok := s.Channels[name]
	if !ok {
		cs = &ChannelStats{}
		s.Channels[name] = cs
	}
	return cs
}

// record tallies a delivery outcome. Queued messages are counted once their
// final status is known.
func (s *Stats) record(d models.Delivery) {
	switch d.Status {
	case models.DeliveryDelivered:
		s.channel(d.Channel).Delivered++
	case models.DeliveryOpened:
		cs := s.channel(d.Channel)
		cs.Delivered++
		cs.Opened++
	case models.DeliveryFailed:
		s.channel(d.Channel).Failed++
	}
}

func (s *Stats) add(o Stats) {
	for bucket, n := range o.Sent {
		s.Sent[bucket] += n
	}
	for name, cs := range o.Channels {
		mine := s.channel(name)
		mine.Delivered += cs.Delivered
		mine.Opened += cs.Opened
		mine.Failed += cs.Failed
	}
	s.Failures += o.Failures
}

func (s Stats) clone() Stats {
	out := newStats()
	out.add(s)
	return out
}

// RunStats describes one scan.
type RunStats struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Scanned    int       `json:"scanned"`
	Panicked   bool      `json:"panicked,omitempty"`
	Stats
}
