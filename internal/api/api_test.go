package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

// 2025-06-10 is a Tuesday.
const testDate = "2025-06-10"

type testServer struct {
	handler  http.Handler
	provider uuid.UUID
	patient  uuid.UUID
	other    uuid.UUID
}

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }
	logger := zerolog.Nop()

	src := calendar.NewMemorySource()
	providerID := uuid.New()
	src.PutProvider(calendar.Provider{
		ID:   providerID,
		Name: "Dr. D",
		Hours: []calendar.Rule{
			{Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 11 * 60, SlotMinutes: 30},
		},
	})
	catalog := timeslot.NewCatalog(timeslot.NewMemoryStore().WithClock(now), src, time.UTC, logger).WithClock(now)

	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulingMetrics(reg)

	store := notification.NewMemoryStore()
	counter := notification.NewMemoryCounter()
	hub := notification.NewMemoryHub()
	dispatcher := notification.NewDispatcher(store, counter, hub, m, logger)

	repo := appointment.NewMemoryRepository()
	ts := &testServer{provider: providerID, patient: uuid.New(), other: uuid.New()}
	repo.AddPatient(ts.patient)
	repo.AddPatient(ts.other)

	appts := appointment.NewService(repo, catalog, dispatcher, m, logger).WithClock(now)

	ts.handler = NewRouter(RouterConfig{
		Appointments:   appts,
		Catalog:        catalog,
		Notifications:  notification.NewService(store, counter, hub, logger),
		Health:         NewHealthHandler(nil, nil, "test", "v0.0.1"),
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ActorJWTSecret: jwtSecret,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, actor appointment.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.Role != "" {
		req.Header.Set(HeaderActorID, actor.ID.String())
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) patientActor() appointment.Actor {
	return appointment.Actor{ID: ts.patient, Role: appointment.RolePatient}
}

func (ts *testServer) providerActor() appointment.Actor {
	return appointment.Actor{ID: ts.provider, Role: appointment.RoleProvider}
}

func (ts *testServer) book(t *testing.T, patient uuid.UUID, start string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/appointments", appointment.Actor{ID: patient, Role: appointment.RolePatient}, BookAppointmentRequest{
		PatientID:  patient.String(),
		ProviderID: ts.provider.String(),
		Date:       testDate,
		StartTime:  start,
		Reason:     "checkup",
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAvailabilityAndBooking(t *testing.T) {
	ts := newTestServer(t, "")
	path := "/providers/" + ts.provider.String() + "/availability?date=" + testDate

	rec := ts.do(t, http.MethodGet, path, ts.patientActor(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 4)

	rec = ts.book(t, ts.patient, "09:30")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", appt.Status)
	assert.Equal(t, "09:30", appt.StartTime)
	assert.Equal(t, 30, appt.DurationMinutes)

	rec = ts.do(t, http.MethodGet, path, ts.patientActor(), nil)
	slots := decode[[]SlotResponse](t, rec)
	var starts []string
	for _, s := range slots {
		starts = append(starts, s.StartTime)
	}
	assert.Equal(t, []string{"09:00", "10:00", "10:30"}, starts)

	rec = ts.do(t, http.MethodGet, path+"&exclude_appointment_id="+appt.ID.String(), ts.patientActor(), nil)
	assert.Len(t, decode[[]SlotResponse](t, rec), 4)
}

func TestDoubleBookingConflict(t *testing.T) {
	ts := newTestServer(t, "")

	require.Equal(t, http.StatusCreated, ts.book(t, ts.patient, "10:00").Code)

	rec := ts.book(t, ts.other, "10:00")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.book(t, ts.patient, "09:00")
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)
	base := "/appointments/" + appt.ID.String()

	stranger := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}

	tests := []struct {
		name   string
		method string
		path   string
		actor  appointment.Actor
		body   any
		status int
		code   string
	}{
		{"no identity", http.MethodGet, base, appointment.Actor{}, nil, http.StatusUnauthorized, "unauthenticated"},
		{"bad id", http.MethodGet, "/appointments/nope", ts.patientActor(), nil, http.StatusBadRequest, "invalid_request"},
		{"unknown appointment", http.MethodGet, "/appointments/" + uuid.NewString(), ts.patientActor(), nil, http.StatusNotFound, "not_found"},
		{"stranger reads", http.MethodGet, base, stranger, nil, http.StatusForbidden, "forbidden"},
		{"patient confirms", http.MethodPost, base + "/confirm", ts.patientActor(), nil, http.StatusForbidden, "forbidden"},
		{"patient completes", http.MethodPost, base + "/complete", ts.patientActor(), nil, http.StatusForbidden, "forbidden"},
		{"bad start time", http.MethodPost, base + "/reschedule", ts.providerActor(), RescheduleRequest{Date: testDate, StartTime: "9am"}, http.StatusBadRequest, "invalid_request"},
		{"availability without date", http.MethodGet, "/providers/" + ts.provider.String() + "/availability", ts.patientActor(), nil, http.StatusBadRequest, "invalid_request"},
		{"unknown provider", http.MethodGet, "/providers/" + uuid.NewString() + "/availability?date=" + testDate, ts.patientActor(), nil, http.StatusNotFound, "not_found"},
		{"bad status filter", http.MethodGet, "/appointments?status=lost", ts.patientActor(), nil, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, "")
	appt := decode[AppointmentResponse](t, ts.book(t, ts.patient, "09:00"))
	base := "/appointments/" + appt.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", ts.providerActor(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, base+"/reschedule", ts.providerActor(), RescheduleRequest{Date: testDate, StartTime: "10:30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "10:30", moved.StartTime)
	assert.NotEqual(t, appt.TimeslotID, moved.TimeslotID)

	rec = ts.do(t, http.MethodPost, base+"/cancel", ts.patientActor(), CancelRequest{Reason: "feeling better"})
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	require.NotEmpty(t, cancelled.History)
	assert.Equal(t, "cancelled", cancelled.History[len(cancelled.History)-1].Status)

	rec = ts.do(t, http.MethodPost, base+"/complete", ts.providerActor(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, base+"/cancel", ts.patientActor(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListIsScopedToActor(t *testing.T) {
	ts := newTestServer(t, "")
	require.Equal(t, http.StatusCreated, ts.book(t, ts.patient, "09:00").Code)
	require.Equal(t, http.StatusCreated, ts.book(t, ts.other, "09:30").Code)

	rec := ts.do(t, http.MethodGet, "/appointments", ts.patientActor(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]AppointmentResponse](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, ts.patient, mine[0].PatientID)

	rec = ts.do(t, http.MethodGet, "/appointments?from="+testDate+"&to="+testDate+"&status=pending&limit=1", ts.providerActor(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/appointments?offset=1", ts.providerActor(), nil)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)
}

func TestCancelNotifiesProvider(t *testing.T) {
	ts := newTestServer(t, "")
	appt := decode[AppointmentResponse](t, ts.book(t, ts.patient, "09:00"))

	count := func(actor appointment.Actor) int64 {
		rec := ts.do(t, http.MethodGet, "/notifications/unread-count", actor, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[UnreadCountResponse](t, rec).Count
	}
	require.Equal(t, int64(1), count(ts.providerActor()))

	rec := ts.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", ts.patientActor(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int64(2), count(ts.providerActor()))
	assert.Equal(t, int64(0), count(ts.patientActor()))

	rec = ts.do(t, http.MethodGet, "/notifications", ts.providerActor(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]notification.Notification](t, rec)
	require.Len(t, list, 2)
	var cancelled *notification.Notification
	for i := range list {
		if list[i].EventType == appointment.EventCancelled {
			cancelled = &list[i]
		}
	}
	require.NotNil(t, cancelled)
	assert.Equal(t, appt.ID, cancelled.AppointmentID)

	readPath := "/notifications/" + cancelled.ID.String() + "/read"
	rec = ts.do(t, http.MethodPost, readPath, ts.providerActor(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodPost, readPath, ts.providerActor(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(1), count(ts.providerActor()))

	rec = ts.do(t, http.MethodPost, "/notifications/"+uuid.NewString()+"/read", ts.providerActor(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTIdentity(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, secret)

	sign := func(key, sub, role string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  sub,
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		s, err := token.SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}

	get := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		// Gateway headers are ignored once tokens are required.
		req.Header.Set(HeaderActorID, ts.patient.String())
		req.Header.Set(HeaderActorRole, "patient")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get(sign(secret, ts.patient.String(), "patient")))
	assert.Equal(t, http.StatusUnauthorized, get(""))
	assert.Equal(t, http.StatusUnauthorized, get(sign("wrong", ts.patient.String(), "patient")))
	assert.Equal(t, http.StatusUnauthorized, get(sign(secret, ts.patient.String(), "admin")))
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/health/live", appointment.Actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/ready", appointment.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "memory", ready.Dependencies["storage"])

	ts.book(t, ts.patient, "09:00")
	ts.book(t, ts.other, "09:00")

	rec = ts.do(t, http.MethodGet, "/metrics", appointment.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `clinic_scheduling_bookings_total{outcome="booked"} 1`)
	assert.Contains(t, body, `clinic_scheduling_bookings_total{outcome="conflict"} 1`)
	assert.Contains(t, body, "clinic_http_request_duration_seconds")
}

func TestReadinessDegradedWithoutRedis(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		status   string
		code     int
	}{
		{"all up", ok, ok, "ok", http.StatusOK},
		{"redis down", ok, down, "degraded", http.StatusOK},
		{"postgres down", down, ok, "error", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.postgres, tt.redis, "test", "")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.status, decode[ReadinessResponse](t, rec).Status)
		})
	}
}

func TestNotificationStream(t *testing.T) {
	ts := newTestServer(t, "")
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderActorID, ts.provider.String())
	req.Header.Set(HeaderActorRole, "provider")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
				return name
			}
		}
	}

	require.Equal(t, "connected", nextEvent())
	require.Equal(t, http.StatusCreated, ts.book(t, ts.patient, "09:00").Code)
	assert.Equal(t, "notification", nextEvent())
}

type closedPusher struct{}

func (closedPusher) Push(context.Context, notification.Notification) error { return nil }

func (closedPusher) Subscribe(context.Context, uuid.UUID) (<-chan notification.Notification, error) {
	ch := make(chan notification.Notification)
	close(ch)
	return ch, nil
}

func TestNotificationStreamEndsWhenSubscriptionCloses(t *testing.T) {
	svc := notification.NewService(notification.NewMemoryStore(), notification.NewMemoryCounter(), closedPusher{}, zerolog.Nop())
	handler := streamNotificationsHandler(svc, zerolog.Nop())

	actor := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}
	req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil)
	req = req.WithContext(context.WithValue(req.Context(), actorKey, actor))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running after its subscription closed")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.NotContains(t, body, "event: notification")
}
