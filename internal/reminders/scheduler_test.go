package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/repository"
)

var baseNow = time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

type sentReminder struct {
	AppointmentID string
	Bucket        string
	Channels      []string
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentReminder
	failFor  map[string]bool
	panicFor map[string]bool
	queue    bool
	block    chan struct{}
	entered  chan struct{}
	statuses map[string]models.DeliveryStatus
	seq      int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failFor:  map[string]bool{},
		panicFor: map[string]bool{},
		statuses: map[string]models.DeliveryStatus{},
	}
}

func (f *fakeSender) SendReminder(_ context.Context, appointmentID, bucket string, channels []string) ([]models.Delivery, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panicFor[appointmentID] {
		panic("transport exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[appointmentID] {
		return nil, errors.New("gateway down")
	}
	f.sent = append(f.sent, sentReminder{AppointmentID: appointmentID, Bucket: bucket, Channels: channels})

	var out []models.Delivery
	for _, ch := range channels {
		f.seq++
		status := models.DeliveryDelivered
		if f.queue {
			status = models.DeliveryQueued
		}
		out = append(out, models.Delivery{
			MessageID:     fmt.Sprintf("msg-%d", f.seq),
			AppointmentID: appointmentID,
			Bucket:        bucket,
			Channel:       ch,
			Status:        status,
		})
	}
	return out, nil
}

func (f *fakeSender) BatchStatus(_ context.Context, ids []string) ([]models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Delivery
	for _, id := range ids {
		status, ok := f.statuses[id]
		if !ok {
			status = models.DeliveryQueued
		}
		out = append(out, models.Delivery{MessageID: id, Channel: "sms", Status: status})
	}
	return out, nil
}

func (f *fakeSender) calls() []sentReminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReminder(nil), f.sent...)
}

func (f *fakeSender) callsFor(bucket string) int {
	n := 0
	for _, c := range f.calls() {
		if c.Bucket == bucket {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seed(t *testing.T, store *repository.MemoryStore, id string, start time.Time, status models.AppointmentStatus) {
	t.Helper()
	require.NoError(t, store.CreateAppointment(context.Background(), &models.Appointment{
		ID:              id,
		PatientID:       "patient-" + id,
		ProviderID:      "dr-smith",
		Type:            models.TypeCheckUp,
		Date:            start.Format(models.DateLayout),
		StartTime:       start,
		DurationMinutes: 30,
		Status:          status,
		InsuranceState:  models.InsuranceNotRequired,
	}))
}

func newTestScheduler(sender Sender, store repository.Store, clk *clock) *Scheduler {
	return New(store, sender, Config{
		Buckets:  DefaultBuckets(map[string][]string{"24h": {"sms", "email"}, "48h": {"email"}, "1week": {"email"}}),
		Interval: time.Hour,
		Clock:    clk.Now,
		Logger:   zerolog.Nop(),
	})
}

func TestRunOnce_ExactlyOne24hReminderAcrossTicks(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(25*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	s := newTestScheduler(sender, store, clk)

	_, ran := s.RunOnce(context.Background())
	require.True(t, ran)
	assert.Equal(t, 0, sender.callsFor("24h"))
	assert.Equal(t, 1, sender.callsFor("48h"))

	clk.Advance(time.Hour)
	_, ran = s.RunOnce(context.Background())
	require.True(t, ran)
	assert.Equal(t, 1, sender.callsFor("24h"))

	clk.Advance(time.Hour)
	_, _ = s.RunOnce(context.Background())
	assert.Equal(t, 1, sender.callsFor("24h"))
	assert.Equal(t, 1, sender.callsFor("48h"))

	apt, err := store.GetAppointment(context.Background(), "apt-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"48h", "24h"}, apt.RemindersSent)
}

func TestRunOnce_BucketsAreDisjoint(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "soon", baseNow.Add(3*time.Hour), models.StatusScheduled)
	seed(t, store, "edge", baseNow.Add(24*time.Hour), models.StatusScheduled)
	seed(t, store, "two-days", baseNow.Add(30*time.Hour), models.StatusScheduled)
	seed(t, store, "week", baseNow.Add(5*24*time.Hour), models.StatusScheduled)
	seed(t, store, "far", baseNow.Add(10*24*time.Hour), models.StatusScheduled)
	seed(t, store, "cancelled", baseNow.Add(2*time.Hour), models.StatusCancelled)
	sender := newFakeSender()
	s := newTestScheduler(sender, store, clk)

	stats, ran := s.RunOnce(context.Background())
	require.True(t, ran)

	got := map[string]string{}
	for _, c := range sender.calls() {
		got[c.AppointmentID] = c.Bucket
	}
	assert.Equal(t, map[string]string{
		"soon":     "24h",
		"edge":     "24h",
		"two-days": "48h",
		"week":     "1week",
	}, got)
	assert.Equal(t, map[string]int{"24h": 2, "48h": 1, "1week": 1}, stats.Sent)
	assert.Equal(t, 2, stats.Channels["sms"].Delivered)
	assert.Equal(t, 4, stats.Channels["email"].Delivered)
}

func TestRunOnce_UsesConfiguredChannels(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(2*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	s := New(store, sender, Config{
		Buckets: DefaultBuckets(map[string][]string{"24h": {"sms"}}),
		Clock:   clk.Now,
		Logger:  zerolog.Nop(),
	})

	s.RunOnce(context.Background())

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"sms"}, calls[0].Channels)
}

func TestRunOnce_FailureIsIsolatedAndRetried(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "broken", baseNow.Add(2*time.Hour), models.StatusScheduled)
	seed(t, store, "panics", baseNow.Add(3*time.Hour), models.StatusScheduled)
	seed(t, store, "fine", baseNow.Add(4*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	sender.failFor["broken"] = true
	sender.panicFor["panics"] = true
	s := newTestScheduler(sender, store, clk)

	stats, ran := s.RunOnce(context.Background())
	require.True(t, ran)
	assert.False(t, stats.Panicked)
	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, 1, stats.Sent["24h"])
	assert.Equal(t, 1, stats.Channels["sms"].Failed)
	assert.Equal(t, 1, stats.Channels["email"].Failed)

	broken, err := store.GetAppointment(context.Background(), "broken")
	require.NoError(t, err)
	assert.Empty(t, broken.RemindersSent)

	sender.failFor["broken"] = false
	sender.panicFor["panics"] = false
	clk.Advance(time.Hour)
	stats, _ = s.RunOnce(context.Background())
	assert.Equal(t, 2, stats.Sent["24h"])
	assert.Equal(t, 3, sender.callsFor("24h"))
}

type failingStore struct {
	repository.Store
}

func (failingStore) GetAppointmentsStartingBetween(context.Context, time.Time, time.Time) ([]models.Appointment, error) {
	return nil, errors.New("connection refused")
}

func TestRunOnce_StoreErrorDoesNotAbortScan(t *testing.T) {
	sender := newFakeSender()
	s := newTestScheduler(sender, failingStore{repository.NewMemoryStore()}, &clock{now: baseNow})

	stats, ran := s.RunOnce(context.Background())
	require.True(t, ran)
	assert.Zero(t, stats.Scanned)
	assert.Empty(t, sender.calls())
}

type panickingStore struct {
	repository.Store
}

func (panickingStore) GetAppointmentsStartingBetween(context.Context, time.Time, time.Time) ([]models.Appointment, error) {
	panic("nil cursor")
}

func TestRunOnce_RecoversFromPanic(t *testing.T) {
	s := newTestScheduler(newFakeSender(), panickingStore{repository.NewMemoryStore()}, &clock{now: baseNow})

	stats, ran := s.RunOnce(context.Background())
	require.True(t, ran)
	assert.True(t, stats.Panicked)

	_, ran = s.RunOnce(context.Background())
	assert.True(t, ran, "a panicking scan must release the single-flight guard")
	require.NotNil(t, s.Settings().LastRun)
}

func TestRunOnce_SkipsWhileScanInFlight(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(2*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	sender.block = make(chan struct{})
	sender.entered = make(chan struct{}, 1)
	s := newTestScheduler(sender, store, clk)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunOnce(context.Background())
	}()
	<-sender.entered

	_, ran := s.RunOnce(context.Background())
	assert.False(t, ran)

	close(sender.block)
	<-done
	assert.Len(t, sender.calls(), 1)
}

func TestDeliveryStatusRefresh(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(2*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	sender.queue = true
	s := New(store, sender, Config{
		Buckets: DefaultBuckets(map[string][]string{"24h": {"sms"}}),
		Clock:   clk.Now,
		Logger:  zerolog.Nop(),
	})

	stats, _ := s.RunOnce(context.Background())
	assert.Equal(t, 1, stats.Sent["24h"])
	assert.Equal(t, 1, s.Settings().Pending)

	sender.mu.Lock()
	sender.statuses["msg-1"] = models.DeliveryOpened
	sender.mu.Unlock()

	stats, _ = s.RunOnce(context.Background())
	assert.Equal(t, 1, stats.Channels["sms"].Delivered)
	assert.Equal(t, 1, stats.Channels["sms"].Opened)

	settings := s.Settings()
	assert.Zero(t, settings.Pending)
	assert.Equal(t, 1, settings.Totals.Sent["24h"])
	assert.Equal(t, 1, settings.Totals.Channels["sms"].Opened)
}

func TestStartStop(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(2*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	s := New(store, sender, Config{
		Buckets:  DefaultBuckets(map[string][]string{"24h": {"email"}}),
		Interval: 10 * time.Millisecond,
		Clock:    clk.Now,
		Logger:   zerolog.Nop(),
	})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	assert.True(t, s.Running())

	// the first scan runs without waiting for a tick
	assert.Eventually(t, func() bool { return len(sender.calls()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())

	seed(t, store, "apt-2", baseNow.Add(3*time.Hour), models.StatusScheduled)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.calls(), 1)
}

func TestStopWaitsForInFlightScan(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(2*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	sender.block = make(chan struct{})
	sender.entered = make(chan struct{}, 1)
	s := newTestScheduler(sender, store, clk)

	require.NoError(t, s.Start(context.Background()))
	<-sender.entered

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(short), context.DeadlineExceeded)

	close(sender.block)
	require.NoError(t, s.Stop(context.Background()))

	apt, err := store.GetAppointment(context.Background(), "apt-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"24h"}, apt.RemindersSent)
}

func TestSettings(t *testing.T) {
	s := newTestScheduler(newFakeSender(), repository.NewMemoryStore(), &clock{now: baseNow})

	settings := s.Settings()
	assert.False(t, settings.Running)
	assert.Equal(t, "1h0m0s", settings.Interval)
	require.Len(t, settings.Buckets, 3)
	assert.Equal(t, "24h", settings.Buckets[0].Name)
	assert.Equal(t, []string{"sms", "email"}, settings.Buckets[0].Channels)
	assert.Equal(t, "1week", settings.Buckets[2].Name)
	assert.Nil(t, settings.LastRun)
}

func TestRunOnce_RescheduledAppointmentIsRemindedAgain(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(10*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	s := newTestScheduler(sender, store, clk)

	_, _ = s.RunOnce(context.Background())
	require.Equal(t, 1, sender.callsFor("24h"))

	start := baseNow.Add(72 * time.Hour)
	date := start.Format(models.DateLayout)
	status := models.StatusRescheduled
	_, err := store.UpdateAppointment(context.Background(), "apt-1", models.AppointmentPatch{
		StartTime:      &start,
		Date:           &date,
		Status:         &status,
		ResetReminders: true,
	})
	require.NoError(t, err)

	clk.Advance(50 * time.Hour)
	_, _ = s.RunOnce(context.Background())
	assert.Equal(t, 2, sender.callsFor("24h"))

	apt, err := store.GetAppointment(context.Background(), "apt-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"24h"}, apt.RemindersSent)
}

func TestDeliveryStatusRefresh_GivesUpAfterTTL(t *testing.T) {
	store := repository.NewMemoryStore()
	clk := &clock{now: baseNow}
	seed(t, store, "apt-1", baseNow.Add(2*time.Hour), models.StatusScheduled)
	sender := newFakeSender()
	sender.queue = true
	s := New(store, sender, Config{
		Buckets:    DefaultBuckets(map[string][]string{"24h": {"sms"}}),
		PendingTTL: 6 * time.Hour,
		Clock:      clk.Now,
		Logger:     zerolog.Nop(),
	})

	_, _ = s.RunOnce(context.Background())
	require.Equal(t, 1, s.Settings().Pending)

	clk.Advance(5 * time.Hour)
	_, _ = s.RunOnce(context.Background())
	assert.Equal(t, 1, s.Settings().Pending, "still within the TTL")

	clk.Advance(2 * time.Hour)
	_, _ = s.RunOnce(context.Background())
	assert.Zero(t, s.Settings().Pending)
}
