package reminders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/repository"
)

// ErrAlreadyStarted is returned by Start when the periodic task is running.
var ErrAlreadyStarted = errors.New("reminder scheduler already started")

// Sender is the notification transport used to dispatch reminders.
type Sender interface {
	SendReminder(ctx context.Context, appointmentID, bucket string, channels []string) ([]models.Delivery, error)
	BatchStatus(ctx context.Context, messageIDs []string) ([]models.Delivery, error)
}

// Bucket is a lead-time window. It covers appointments starting in
// (now+previous bucket lead, now+Lead].
type Bucket struct {
	Name     string
	Lead     time.Duration
	Channels []string
}

// DefaultBuckets builds the 24h, 48h and 1week buckets with the given channels.
func DefaultBuckets(channels map[string][]string) []Bucket {
	buckets := []Bucket{
		{Name: "24h", Lead: 24 * time.Hour},
		{Name: "48h", Lead: 48 * time.Hour},
		{Name: "1week", Lead: 7 * 24 * time.Hour},
	}
	for i := range buckets {
		buckets[i].Channels = channels[buckets[i].Name]
	}
	return buckets
}

type Config struct {
	Buckets    []Bucket
	Interval   time.Duration
	// PendingTTL bounds how long a queued message is polled for a final status.
	PendingTTL time.Duration
	Clock      func() time.Time
	Logger     zerolog.Logger
}

const defaultPendingTTL = 72 * time.Hour

// Scheduler periodically scans upcoming appointments and dispatches reminders.
// At most one scan runs at a time.
type Scheduler struct {
	store      repository.Store
	sender     Sender
	buckets    []Bucket
	interval   time.Duration
	pendingTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	scanning atomic.Bool
	runs     sync.WaitGroup

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	totals   Stats
	lastRun  *RunStats
	// queued message id -> time it was sent
	pending  map[string]time.Time
}

func New(store repository.Store, sender Sender, cfg Config) *Scheduler {
	s := &Scheduler{
		store:      store,
		sender:     sender,
		buckets:    append([]Bucket(nil), cfg.Buckets...),
		interval:   cfg.Interval,
		pendingTTL: cfg.PendingTTL,
		now:        cfg.Clock,
		logger:     cfg.Logger.With().Str("component", "reminders").Logger(),
		totals:     newStats(),
		pending:    map[string]time.Time{},
	}
	if len(s.buckets) == 0 {
		s.buckets = DefaultBuckets(nil)
	}
	sort.Slice(s.buckets, func(i, j int) bool { return s.buckets[i].Lead < s.buckets[j].Lead })
	if s.interval <= 0 {
		s.interval = time.Hour
	}
	if s.pendingTTL <= 0 {
		s.pendingTTL = defaultPendingTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start runs a scan immediately and then on every interval until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done

	// scans outlive the loop context so Stop can let the current one finish
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		s.trigger(runCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.trigger(runCtx)
			}
		}
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("reminder scheduler started")
	return nil
}

// Stop prevents further ticks and waits for an in-flight scan, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	finished := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.logger.Info().Msg("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the periodic task is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// RunOnce scans synchronously. It returns false when another scan is in flight.
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, bool) {
	if !s.scanning.CompareAndSwap(false, true) {
		return RunStats{}, false
	}
	s.runs.Add(1)
	defer s.runs.Done()
	defer s.scanning.Store(false)
	return s.run(ctx), true
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous reminder scan still running, skipping tick")
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.scanning.Store(false)
		runCtx, cancel := context.WithTimeout(ctx, s.interval)
		defer cancel()
		s.run(runCtx)
	}()
}

func (s *Scheduler) run(ctx context.Context) (stats RunStats) {
	now := s.now()
	stats = RunStats{StartedAt: now, Stats: newStats()}

	defer func() {
		if r := recover(); r != nil {
			stats.Panicked = true
			s.logger.Error().Interface("panic", r).Msg("reminder scan panicked")
		}
		stats.FinishedAt = s.now()
		s.finish(stats)
	}()

	s.refreshDeliveries(ctx, &stats.Stats)

	lower := now
	for _, b := range s.buckets {
		upper := now.Add(b.Lead)
		apts, err := s.store.GetAppointmentsStartingBetween(ctx, lower, upper)
		lower = upper
		if err != nil {
			s.logger.Error().Err(err).Str("bucket", b.Name).Msg("failed to load upcoming appointments")
			continue
		}
		for i := range apts {
			apt := apts[i]
			if apt.Status == models.StatusCancelled || apt.ReminderSent(b.Name) {
				continue
			}
			stats.Scanned++
			s.dispatch(ctx, apt, b, &stats.Stats)
		}
	}

	s.logger.Info().
		Int("scanned", stats.Scanned).
		Interface("sent", stats.Sent).
		Int("failures", stats.Failures).
		Msg("reminder scan finished")
	return stats
}

// dispatch sends one reminder. A failure here never stops the scan.
func (s *Scheduler) dispatch(ctx context.Context, apt models.Appointment, b Bucket, stats *Stats) {
	log := s.logger.With().Str("appointment_id", apt.ID).Str("bucket", b.Name).Logger()
	defer func() {
		if r := recover(); r != nil {
			stats.Failures++
			log.Error().Interface("panic", r).Msg("reminder dispatch panicked")
		}
	}()

	deliveries, err := s.sender.SendReminder(ctx, apt.ID, b.Name, b.Channels)
	accepted := false
	for _, d := range deliveries {
		stats.record(d)
		switch d.Status {
		case models.DeliveryFailed:
		case models.DeliveryQueued:
			accepted = true
			s.track(d.MessageID)
		default:
			accepted = true
		}
	}
	if err != nil && len(deliveries) == 0 {
		for _, ch := range b.Channels {
			stats.channel(ch).Failed++
		}
	}
	if !accepted {
		stats.Failures++
		log.Error().Err(err).Msg("reminder not delivered on any channel")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("reminder partially delivered")
	}

	stats.Sent[b.Name]++
	if _, err := s.store.UpdateAppointment(ctx, apt.ID, models.AppointmentPatch{AddReminder: b.Name}); err != nil {
		log.Error().Err(err).Msg("failed to record sent reminder")
	}
}

func (s *Scheduler) track(messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	s.pending[messageID] = s.now()
	s.mu.Unlock()
}

// refreshDeliveries asks the transport for the final status of queued messages.
// Messages still queued after the pending TTL are no longer polled.
func (s *Scheduler) refreshDeliveries(ctx context.Context, stats *Stats) {
	cutoff := s.now().Add(-s.pendingTTL)
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	expired := 0
	for id, sentAt := range s.pending {
		if sentAt.Before(cutoff) {
			delete(s.pending, id)
			expired++
			continue
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()
	if expired > 0 {
		s.logger.Warn().Int("messages", expired).Dur("ttl", s.pendingTTL).Msg("gave up on delivery status for queued messages")
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)

	statuses, err := s.sender.BatchStatus(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("messages", len(ids)).Msg("failed to refresh delivery status")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range statuses {
		if d.Status == models.DeliveryQueued {
			continue
		}
		if _, ok := s.pending[d.MessageID]; !ok {
			continue
		}
		delete(s.pending, d.MessageID)
		stats.record(d)
	}
}

func (s *Scheduler) finish(stats RunStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.add(stats.Stats)
	last := stats
	last.Stats = stats.Stats.clone()
	s.lastRun = &last
}

type BucketSettings struct {
	Name     string   `json:"name"`
	Lead     string   `json:"lead"`
	Channels []string `json:"channels"`
}

// Settings is the observable configuration and counters of a Scheduler.
type Settings struct {
	Running  bool             `json:"running"`
	Interval string           `json:"interval"`
	Buckets  []BucketSettings `json:"buckets"`
	Pending  int              `json:"pendingDeliveries"`
	LastRun  *RunStats        `json:"lastRun,omitempty"`
	Totals   Stats            `json:"totals"`
}

func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Settings{
		Running:  s.cancel != nil,
		Interval: s.interval.String(),
		Pending:  len(s.pending),
		Totals:   s.totals.clone(),
	}
	for _, b := range s.buckets {
		out.Buckets = append(out.Buckets, BucketSettings{
			Name:     b.Name,
			Lead:     b.Lead.String(),
			Channels: append([]string(nil), b.Channels...),
		})
	}
	if s.lastRun != nil {
		last := *s.lastRun
		last.Stats = s.lastRun.Stats.clone()
		out.LastRun = &last
	}
	return out
}
