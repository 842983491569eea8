package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/repository"
	"github.com/harentsoaR/dentist-scheduling/internal/scheduling"
)

type textbeltStub struct {
	mu       sync.Mutex
	messages []map[string]string
	reject   bool
	statuses map[string]string
}

func newTextbeltStub(t *testing.T) (*textbeltStub, *httptest.Server) {
	stub := &textbeltStub{statuses: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		stub.mu.Lock()
		defer stub.mu.Unlock()
		if stub.reject {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Out of quota"})
			return
		}
		stub.messages = append(stub.messages, body)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "textId": "txt-1", "quotaRemaining": 10})
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/status/")
		stub.mu.Lock()
		status, ok := stub.statuses[id]
		stub.mu.Unlock()
		if !ok {
			status = "UNKNOWN"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return stub, srv
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingEmail) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to+"|"+subject+"|"+body)
	return "mail-1", nil
}

func seedDirectory(t *testing.T, contact models.Contact) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutContact(contact)
	require.NoError(t, store.CreateAppointment(context.Background(), &models.Appointment{
		ID:              "apt-1",
		PatientID:       contact.ID,
		ProviderID:      "dr-smith",
		Type:            models.TypeRootCanal,
		Date:            "2024-03-05",
		StartTime:       time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC),
		DurationMinutes: 90,
		Status:          models.StatusScheduled,
	}))
	return store
}

func TestSendReminder_AllChannels(t *testing.T) {
	stub, srv := newTextbeltStub(t)
	email := &recordingEmail{}
	store := seedDirectory(t, models.Contact{ID: "p-1", FullName: "Ada Patient", Email: "ada@example.com", Phone: "+15550001"})
	svc := NewNotificationService(store, NewTextbeltClient(srv.URL, "key-123"), email, zerolog.Nop())

	deliveries, err := svc.SendReminder(context.Background(), "apt-1", "24h", []string{ChannelSMS, ChannelEmail})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	assert.Equal(t, models.DeliveryQueued, deliveries[0].Status)
	assert.Equal(t, "sms:txt-1", deliveries[0].MessageID)
	assert.Equal(t, models.DeliveryDelivered, deliveries[1].Status)
	assert.Equal(t, "email:mail-1", deliveries[1].MessageID)

	require.Len(t, stub.messages, 1)
	assert.Equal(t, "+15550001", stub.messages[0]["phone"])
	assert.Equal(t, "key-123", stub.messages[0]["key"])
	assert.Contains(t, stub.messages[0]["message"], "root canal")
	require.Len(t, email.sent, 1)
	assert.True(t, strings.HasPrefix(email.sent[0], "ada@example.com|Appointment reminder|"))
}

func TestSendReminder_ChannelFailuresAreReported(t *testing.T) {
	stub, srv := newTextbeltStub(t)
	stub.reject = true
	store := seedDirectory(t, models.Contact{ID: "p-1", FullName: "Ada Patient", Phone: "+15550001"})
	svc := NewNotificationService(store, NewTextbeltClient(srv.URL, ""), &recordingEmail{}, zerolog.Nop())

	deliveries, err := svc.SendReminder(context.Background(), "apt-1", "48h", []string{ChannelSMS, ChannelEmail, "pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Out of quota")
	assert.Contains(t, err.Error(), "no email")
	assert.Contains(t, err.Error(), "pigeon")

	require.Len(t, deliveries, 3)
	for _, d := range deliveries {
		assert.Equal(t, models.DeliveryFailed, d.Status, d.Channel)
		assert.NotEmpty(t, d.Error)
		assert.Equal(t, "48h", d.Bucket)
	}
}

func TestSendReminder_UnknownAppointment(t *testing.T) {
	svc := NewNotificationService(repository.NewMemoryStore(), nil, nil, zerolog.Nop())

	deliveries, err := svc.SendReminder(context.Background(), "missing", "24h", []string{ChannelEmail})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, deliveries)
}

func TestBatchStatus(t *testing.T) {
	stub, srv := newTextbeltStub(t)
	stub.statuses["txt-1"] = "DELIVERED"
	stub.statuses["txt-2"] = "FAILED"
	stub.statuses["txt-3"] = "SENDING"
	store := seedDirectory(t, models.Contact{ID: "p-1", Email: "ada@example.com"})
	svc := NewNotificationService(store, NewTextbeltClient(srv.URL, ""), &recordingEmail{}, zerolog.Nop())

	_, err := svc.SendReminder(context.Background(), "apt-1", "1week", []string{ChannelEmail})
	require.NoError(t, err)

	got, err := svc.BatchStatus(context.Background(), []string{"sms:txt-1", "sms:txt-2", "sms:txt-3", "email:mail-1", "fax:1"})
	require.NoError(t, err)

	statuses := map[string]models.DeliveryStatus{}
	for _, d := range got {
		statuses[d.MessageID] = d.Status
	}
	assert.Equal(t, map[string]models.DeliveryStatus{
		"sms:txt-1":    models.DeliveryDelivered,
		"sms:txt-2":    models.DeliveryFailed,
		"sms:txt-3":    models.DeliveryQueued,
		"email:mail-1": models.DeliveryDelivered,
		"fax:1":        models.DeliveryFailed,
	}, statuses)
}

func TestNotifyAppointmentEvent(t *testing.T) {
	stub, srv := newTextbeltStub(t)
	store := seedDirectory(t, models.Contact{ID: "p-1", FullName: "Ada Patient", Phone: "+15550001"})
	svc := NewNotificationService(store, NewTextbeltClient(srv.URL, ""), nil, zerolog.Nop())
	apt, err := store.GetAppointment(context.Background(), "apt-1")
	require.NoError(t, err)

	require.NoError(t, svc.NotifyAppointmentEvent(context.Background(), *apt, scheduling.EventCreated))
	require.NoError(t, svc.NotifyAppointmentEvent(context.Background(), *apt, scheduling.EventCancelled))

	require.Len(t, stub.messages, 2)
	assert.Contains(t, stub.messages[0]["message"], "Appointment Confirmed: root canal for Ada Patient on Mar 5 at 2:30 PM")
	assert.Contains(t, stub.messages[1]["message"], "Appointment Cancelled")

	assert.Error(t, svc.NotifyAppointmentEvent(context.Background(), *apt, scheduling.Event("archived")))
}

func TestNotifyAppointmentEvent_FallsBackToEmail(t *testing.T) {
	email := &recordingEmail{}
	store := seedDirectory(t, models.Contact{ID: "p-1", FullName: "Ada Patient", Email: "ada@example.com"})
	svc := NewNotificationService(store, nil, email, zerolog.Nop())
	apt, err := store.GetAppointment(context.Background(), "apt-1")
	require.NoError(t, err)

	require.NoError(t, svc.NotifyAppointmentEvent(context.Background(), *apt, scheduling.EventRescheduled))
	require.Len(t, email.sent, 1)
	assert.Contains(t, email.sent[0], "Appointment Moved")
}

func TestAutoApproveVerifier(t *testing.T) {
	store := seedDirectory(t, models.Contact{ID: "p-1"})
	v := NewAutoApproveVerifier(store, zerolog.Nop())

	assert.NoError(t, v.Verify(context.Background(), models.Appointment{ID: "apt-1", PatientID: "p-1"}))
	assert.ErrorIs(t, v.Verify(context.Background(), models.Appointment{ID: "apt-2", PatientID: "ghost"}), repository.ErrNotFound)
}

func TestBatchStatus_EmailIDsAreReleased(t *testing.T) {
	store := seedDirectory(t, models.Contact{ID: "p-1", Email: "ada@example.com"})
	svc := NewNotificationService(store, nil, &recordingEmail{}, zerolog.Nop())

	_, err := svc.SendReminder(context.Background(), "apt-1", "24h", []string{ChannelEmail})
	require.NoError(t, err)
	require.Len(t, svc.emails, 1)

	got, err := svc.BatchStatus(context.Background(), []string{"email:mail-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, got[0].Status)
	assert.Empty(t, svc.emails)

	got, err = svc.BatchStatus(context.Background(), []string{"email:mail-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryQueued, got[0].Status)
}

func TestSendEmail_PrunesStaleIDs(t *testing.T) {
	store := seedDirectory(t, models.Contact{ID: "p-1", FullName: "Ada Patient", Email: "ada@example.com"})
	svc := NewNotificationService(store, nil, &recordingEmail{}, zerolog.Nop())
	now := time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.emails["stale"] = now.Add(-25 * time.Hour)
	svc.emails["recent"] = now.Add(-time.Hour)

	apt, err := store.GetAppointment(context.Background(), "apt-1")
	require.NoError(t, err)
	require.NoError(t, svc.NotifyAppointmentEvent(context.Background(), *apt, scheduling.EventCreated))

	assert.NotContains(t, svc.emails, "stale")
	assert.Contains(t, svc.emails, "recent")
	assert.Contains(t, svc.emails, "mail-1")
}
