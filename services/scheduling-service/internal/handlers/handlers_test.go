package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	slotsReq  booking.SlotsRequest
	avail     booking.Availability
	bookReq   booking.BookRequest
	cancelled string
	reason    string
	appt      model.Appointment
	list      []model.Appointment
	err       error
}

func (f *fakeScheduler) AvailableSlots(_ context.Context, req booking.SlotsRequest) (booking.Availability, error) {
	f.slotsReq = req
	return f.avail, f.err
}

func (f *fakeScheduler) Book(_ context.Context, req booking.BookRequest) (model.Appointment, error) {
	f.bookReq = req
	return f.appt, f.err
}

func (f *fakeScheduler) Cancel(_ context.Context, _, id, reason string) (model.Appointment, error) {
	f.cancelled, f.reason = id, reason
	return f.appt, f.err
}

func (f *fakeScheduler) Complete(_ context.Context, _, _ string) (model.Appointment, error) {
	return f.appt, f.err
}

func (f *fakeScheduler) NoShow(_ context.Context, _, _ string) (model.Appointment, error) {
	return f.appt, f.err
}

func (f *fakeScheduler) Get(_ context.Context, _, _ string) (model.Appointment, error) {
	return f.appt, f.err
}

func (f *fakeScheduler) List(_ context.Context, _, _ string, _ time.Time) ([]model.Appointment, error) {
	return f.list, f.err
}

func (f *fakeScheduler) Location() *time.Location { return time.UTC }

type fakeHours struct {
	week     []model.BusinessHours
	upserted []model.BusinessHours
	err      error
}

func (f *fakeHours) List(_ context.Context, _ string) ([]model.BusinessHours, error) {
	return f.week, f.err
}

func (f *fakeHours) Upsert(_ context.Context, h model.BusinessHours) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, h)
	return nil
}

func newTestAPI(s Scheduler, h HoursRegistry) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := chi.NewRouter()
	root.Mount("/api/v1", API(auth.TrustHeaders, NewSchedulingHandler(s, logger), NewHoursHandler(h, logger)))
	return root
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(auth.HeaderOrganizationID, "org-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAvailableSlotsResponseShape(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s := &fakeScheduler{avail: booking.Availability{
		Date:            day,
		ProfessionalID:  "prof-1",
		DurationMinutes: 60,
		Hours:           &model.BusinessHours{Weekday: time.Monday, Start: 540, End: 1020, Enabled: true},
		BookedSlots:     []string{"10:00"},
		Slots: []model.TimeSlot{
			{Time: "09:00", DisplayTime: "9:00 AM", Status: model.SlotAvailable, IsBusinessHours: true},
			{Time: "10:00", DisplayTime: "10:00 AM", Status: model.SlotBooked, IsBusinessHours: true},
		},
	}}
	api := newTestAPI(s, &fakeHours{})

	rec := do(t, api, http.MethodGet, "/api/v1/professionals/prof-1/available-slots?date=2026-03-02&serviceId=svc-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Date           string `json:"date"`
		ProfessionalID string `json:"professionalId"`
		BusinessHours  *struct {
			StartTime string `json:"startTime"`
			EndTime   string `json:"endTime"`
		} `json:"businessHours"`
		BookedSlots    []string         `json:"bookedSlots"`
		AvailableSlots []model.TimeSlot `json:"availableSlots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-03-02", body.Date)
	assert.Equal(t, "prof-1", body.ProfessionalID)
	require.NotNil(t, body.BusinessHours)
	assert.Equal(t, "09:00", body.BusinessHours.StartTime)
	assert.Equal(t, "17:00", body.BusinessHours.EndTime)
	assert.Equal(t, []string{"10:00"}, body.BookedSlots)
	require.Len(t, body.AvailableSlots, 2)
	assert.Equal(t, model.SlotBooked, body.AvailableSlots[1].Status)

	assert.Equal(t, "org-1", s.slotsReq.OrganizationID)
	assert.Equal(t, "svc-1", s.slotsReq.ServiceID)
	assert.Equal(t, 0, s.slotsReq.DurationMinutes)
	assert.True(t, s.slotsReq.Date.Equal(day))
}

func TestAvailableSlotsClosedDayHasNullHours(t *testing.T) {
	s := &fakeScheduler{avail: booking.Availability{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), BookedSlots: []string{}}}
	rec := do(t, newTestAPI(s, &fakeHours{}), http.MethodGet, "/api/v1/professionals/prof-1/available-slots?date=2026-03-01", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "null", string(raw["businessHours"]))
	assert.Equal(t, "[]", string(raw["bookedSlots"]))
}

func TestAvailableSlotsRejectsBadInput(t *testing.T) {
	api := newTestAPI(&fakeScheduler{}, &fakeHours{})
	cases := []struct {
		query string
		code  string
	}{
		{"date=2026-13-01", "invalid_date"},
		{"date=2026-03-02&durationMinutes=0", booking.CodeInvalidDuration},
		{"date=2026-03-02&durationMinutes=-30", booking.CodeInvalidDuration},
		{"date=2026-03-02&durationMinutes=abc", booking.CodeInvalidDuration},
	}
	for _, tc := range cases {
		rec := do(t, api, http.MethodGet, "/api/v1/professionals/prof-1/available-slots?"+tc.query, "", nil)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), tc.code) {
			t.Fatalf("%s: expected 400 %s, got %d %s", tc.query, tc.code, rec.Code, rec.Body.String())
		}
	}
}

func TestBookBuildsRequest(t *testing.T) {
	s := &fakeScheduler{appt: model.Appointment{ID: "appt-1", Status: model.StatusScheduled}}
	api := newTestAPI(s, &fakeHours{})

	body := `{"patientId":"pat-1","professionalId":"prof-1","serviceId":"svc-1","date":"2026-03-02","startTime":"09:00","endTime":"10:30","notes":" first visit "}`
	rec := do(t, api, http.MethodPost, "/api/v1/appointments", body, map[string]string{IdempotencyKeyHeader: "key-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	want := booking.BookRequest{
		OrganizationID: "org-1",
		ProfessionalID: "prof-1",
		PatientID:      "pat-1",
		ServiceID:      "svc-1",
		Start:          time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:            time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		Notes:          "first visit",
		IdempotencyKey: "key-1",
	}
	if s.bookReq != want {
		t.Fatalf("unexpected book request %+v", s.bookReq)
	}
}

func TestBookEndOfDayStaysOnRequestedDate(t *testing.T) {
	s := &fakeScheduler{}
	body := `{"patientId":"pat-1","professionalId":"prof-1","date":"2026-03-02","startTime":"23:30","endTime":"24:00"}`
	rec := do(t, newTestAPI(s, &fakeHours{}), http.MethodPost, "/api/v1/appointments", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), s.bookReq.Start)
	require.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), s.bookReq.End)
}

func TestBookWithoutEndLeavesDurationToService(t *testing.T) {
	s := &fakeScheduler{}
	body := `{"patientId":"pat-1","professionalId":"prof-1","date":"2026-03-02","startTime":"14:30"}`
	rec := do(t, newTestAPI(s, &fakeHours{}), http.MethodPost, "/api/v1/appointments", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !s.bookReq.End.IsZero() {
		t.Fatalf("expected zero end, got %s", s.bookReq.End)
	}
}

func TestBookValidation(t *testing.T) {
	api := newTestAPI(&fakeScheduler{}, &fakeHours{})
	cases := []struct {
		name string
		body string
		code string
	}{
		{"not json", `nope`, "invalid_json"},
		{"unknown field", `{"patientId":"p","professionalId":"x","date":"2026-03-02","startTime":"09:00","room":"1"}`, "invalid_json"},
		{"missing patient", `{"professionalId":"x","date":"2026-03-02","startTime":"09:00"}`, "invalid_request"},
		{"bad date", `{"patientId":"p","professionalId":"x","date":"02/03/2026","startTime":"09:00"}`, "invalid_request"},
		{"bad start", `{"patientId":"p","professionalId":"x","date":"2026-03-02","startTime":"9am"}`, "invalid_request"},
		{"bad end", `{"patientId":"p","professionalId":"x","date":"2026-03-02","startTime":"09:00","endTime":"25:00"}`, "invalid_request"},
		{"start at end of day", `{"patientId":"p","professionalId":"x","date":"2026-03-02","startTime":"24:00"}`, "startTime must be HH:MM before 24:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPost, "/api/v1/appointments", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tc.code)
		})
	}
}

func TestBookErrorMapping(t *testing.T) {
	body := `{"patientId":"pat-1","professionalId":"prof-1","date":"2026-03-02","startTime":"09:00","endTime":"10:00"}`
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{booking.ErrInvalidInterval, http.StatusBadRequest, booking.CodeInvalidInterval},
		{fmt.Errorf("patient pat-1: %w", booking.ErrCrossTenantViolation), http.StatusForbidden, booking.CodeCrossTenantViolation},
		{booking.ErrNotFound, http.StatusNotFound, booking.CodeNotFound},
		{booking.ErrSlotUnavailable, http.StatusConflict, booking.CodeSlotUnavailable},
		{booking.ErrLedgerBusy, http.StatusServiceUnavailable, booking.CodeLedgerBusy},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError, booking.CodeInternal},
	}
	for _, tc := range cases {
		rec := do(t, newTestAPI(&fakeScheduler{err: tc.err}, &fakeHours{}), http.MethodPost, "/api/v1/appointments", body, nil)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Retry   string `json:"retry"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &eb); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if eb.Error != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, eb.Error)
		}
		if tc.code == booking.CodeSlotUnavailable && eb.Retry != "requery_availability" {
			t.Fatalf("slot_unavailable must advise re-query, got %q", eb.Retry)
		}
		if tc.code == booking.CodeInternal && strings.Contains(eb.Message, "connection reset") {
			t.Fatalf("internal errors must not leak details: %q", eb.Message)
		}
	}
}

func TestCancelAndTransitions(t *testing.T) {
	s := &fakeScheduler{appt: model.Appointment{ID: "appt-1", Status: model.StatusCancelled}}
	api := newTestAPI(s, &fakeHours{})

	rec := do(t, api, http.MethodPost, "/api/v1/appointments/appt-1/cancel", `{"reason":"patient request"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "appt-1", s.cancelled)
	assert.Equal(t, "patient request", s.reason)

	rec = do(t, api, http.MethodPost, "/api/v1/appointments/appt-2/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "appt-2", s.cancelled)
	assert.Empty(t, s.reason)

	s.err = booking.ErrInvalidTransition
	rec = do(t, api, http.MethodPost, "/api/v1/appointments/appt-1/complete", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, api, http.MethodPost, "/api/v1/appointments/appt-1/no-show", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAppointments(t *testing.T) {
	api := newTestAPI(&fakeScheduler{}, &fakeHours{})

	rec := do(t, api, http.MethodGet, "/api/v1/appointments?date=2026-03-02", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/appointments?professionalId=prof-1&date=2026-03-02", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"appointments":[]}`, rec.Body.String())
}

func TestRequestsWithoutOrganizationAreRejected(t *testing.T) {
	api := newTestAPI(&fakeScheduler{}, &fakeHours{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?professionalId=p&date=2026-03-02", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBusinessHoursRequiresAdminRole(t *testing.T) {
	fh := &fakeHours{week: []model.BusinessHours{{OrganizationID: "org-1", Weekday: time.Monday, Start: 540, End: 1020, Enabled: true}}}
	api := newTestAPI(&fakeScheduler{}, fh)

	rec := do(t, api, http.MethodGet, "/api/v1/business-hours", "", map[string]string{auth.HeaderRole: "staff"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/business-hours", "", map[string]string{auth.HeaderRole: "owner"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"businessHours":[{"weekday":1,"dayName":"Monday","startTime":"09:00","endTime":"17:00","enabled":true}]}`, rec.Body.String())
}

func TestPutBusinessHours(t *testing.T) {
	fh := &fakeHours{}
	api := newTestAPI(&fakeScheduler{}, fh)
	admin := map[string]string{auth.HeaderRole: "admin"}

	rec := do(t, api, http.MethodPut, "/api/v1/business-hours/2", `{"startTime":"08:30","endTime":"18:00"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, fh.upserted, 1)
	assert.Equal(t, model.BusinessHours{OrganizationID: "org-1", Weekday: time.Tuesday, Start: 510, End: 1080, Enabled: true}, fh.upserted[0])

	rec = do(t, api, http.MethodPut, "/api/v1/business-hours/7", `{"startTime":"08:30","endTime":"18:00"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fh.err = hours.ErrInvalidHours
	rec = do(t, api, http.MethodPut, "/api/v1/business-hours/2", `{"startTime":"18:00","endTime":"08:30"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_hours")
}
