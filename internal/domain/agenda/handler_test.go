package agenda

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinica/agenda/internal/platform/auth"
	"github.com/clinica/agenda/internal/platform/validation"
)

func newTestHandler() (*Handler, *echo.Echo, *testDeps) {
	svc, deps := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = validation.New()
	return h, e, deps
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, e, deps := newTestHandler()
	body := `{"date":"2024-01-10","time":"10:00","duration":50,"therapist_id":"` + therapistT.String() +
		`","patient_id":"` + uuid.New().String() + `","room_id":"` + roomR1.String() + `","cost":"80.00"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)

	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Duration != 50 || !got.InRoom(roomR1) || got.Cost.String() != "80" {
		t.Errorf("unexpected appointment %+v", got)
	}
	if !got.Date.Equal(at(2024, time.January, 10, 10, 0)) {
		t.Errorf("expected 10:00 start, got %s", got.Date)
	}
	if len(deps.appts.appts) != 1 {
		t.Errorf("expected 1 stored appointment, got %d", len(deps.appts.appts))
	}
}

func TestHandler_CreateAppointment_Validation(t *testing.T) {
	h, e, _ := newTestHandler()
	patient := uuid.New().String()
	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"bad time", `{"date":"2024-01-10","time":"25:00","therapist_id":"` + therapistT.String() + `","patient_id":"` + patient + `"}`},
		{"bad date", `{"date":"10/01/2024","time":"10:00","therapist_id":"` + therapistT.String() + `","patient_id":"` + patient + `"}`},
		{"bad therapist", `{"date":"2024-01-10","time":"10:00","therapist_id":"T","patient_id":"` + patient + `"}`},
		{"bad type", `{"date":"2024-01-10","time":"10:00","therapist_id":"` + therapistT.String() + `","patient_id":"` + patient + `","type":"yoga"}`},
		{"malformed json", `{"date":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(jsonRequest(http.MethodPost, "/", tt.body), httptest.NewRecorder())
			err := h.CreateAppointment(c)
			if code := httpStatus(t, err); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_MoveAppointment(t *testing.T) {
	h, e, deps := newTestHandler()
	a := deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 10, 0), 60))

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"date":"2024-01-11","time":"09:30"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	if err := h.MoveAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stored, _ := deps.appts.GetByID(context.Background(), a.ID)
	if !stored.Date.Equal(at(2024, time.January, 11, 9, 30)) {
		t.Errorf("expected stored start Jan 11 09:30, got %s", stored.Date)
	}
}

func TestHandler_MoveAppointment_AbandonedDrop(t *testing.T) {
	h, e, deps := newTestHandler()
	a := deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 10, 0), 60))

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	if code := httpStatus(t, h.MoveAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if len(deps.events.events) != 0 {
		t.Error("abandoned drop must not publish")
	}
}

func TestHandler_MoveAppointment_Conflict(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Location = time.UTC
	cfg.Policy = PolicyEnforcing
	svc, deps := newTestServiceWith(cfg)
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = validation.New()

	deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 10, 0), 60))
	b := deps.appts.add(booking(therapistT, nil, at(2024, time.January, 10, 14, 0), 60))

	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"date":"2024-01-10","time":"10:30"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.MoveAppointment(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	body, ok := he.Message.(map[string]interface{})
	if !ok {
		t.Fatalf("expected structured message, got %T", he.Message)
	}
	if conflicts, _ := body["conflicts"].([]Conflict); len(conflicts) != 1 {
		t.Errorf("expected 1 conflict in response, got %v", body["conflicts"])
	}
}

func TestHandler_GetAppointment(t *testing.T) {
	h, e, deps := newTestHandler()
	a := deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 10, 0), 60))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got struct {
		ID                 uuid.UUID           `json:"id"`
		Status             AppointmentStatus   `json:"status"`
		AllowedTransitions []AppointmentStatus `json:"allowed_transitions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != a.ID || got.Status != StatusScheduled {
		t.Errorf("unexpected appointment %+v", got)
	}
	if want := allowedTransitions(StatusScheduled); len(got.AllowedTransitions) != len(want) || got.AllowedTransitions[0] != want[0] {
		t.Errorf("allowed_transitions = %v, want %v", got.AllowedTransitions, want)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if code := httpStatus(t, h.GetAppointment(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpStatus(t, h.GetAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_UpdateAppointment(t *testing.T) {
	h, e, deps := newTestHandler()
	a := deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 10, 0), 60))

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"notes":"prefers afternoons","paid":true}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.UpdateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := deps.appts.GetByID(context.Background(), a.ID)
	if stored.Notes == nil || *stored.Notes != "prefers afternoons" || !stored.Paid {
		t.Errorf("patch not applied: %+v", stored)
	}

	c = e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"archived"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if code := httpStatus(t, h.UpdateAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_SetStatus(t *testing.T) {
	h, e, deps := newTestHandler()
	done := booking(therapistT, roomPtr(roomR1), at(2024, time.January, 9, 10, 0), 60)
	done.Status = StatusCompleted
	deps.appts.add(done)
	open := deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 10, 0), 60))

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"status":"confirmed"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(open.ID.String())
	if err := h.SetStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"status":"confirmed"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(done.ID.String())
	if code := httpStatus(t, h.SetStatus(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"status":"scheduled"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(open.ID.String())
	if code := httpStatus(t, h.SetStatus(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetCalendar(t *testing.T) {
	h, e, deps := newTestHandler()
	deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 9, 0), 60))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2024-01-10&view=day&show_conflicts=false", nil), rec)
	if err := h.GetCalendar(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cal struct {
		Label string           `json:"label"`
		State ViewState        `json:"state"`
		Days  []CalendarDay    `json:"days"`
		Slots []string         `json:"slots"`
		Rooms []ConsultingRoom `json:"rooms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cal.Label != "Wednesday, 10 January 2024" {
		t.Errorf("unexpected label %q", cal.Label)
	}
	if cal.State.ShowConflicts {
		t.Error("expected conflicts hidden")
	}
	if len(cal.Days) != 1 || len(cal.Slots) != 24 || cal.Slots[0] != "08:00" {
		t.Errorf("unexpected grid: %d days, slots %v", len(cal.Days), cal.Slots)
	}
}

func TestHandler_GetCalendar_Navigation(t *testing.T) {
	h, e, _ := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2024-01-31&view=month&nav=next", nil), rec)
	if err := h.GetCalendar(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cal Calendar
	if err := json.Unmarshal(rec.Body.Bytes(), &cal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cal.Label != "February 2024" {
		t.Errorf("expected February 2024, got %q", cal.Label)
	}

	for _, q := range []string{"?view=year", "?nav=sideways", "?date=yesterday", "?therapist_id=x", "?show_conflicts=maybe"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+q, nil), httptest.NewRecorder())
		if code := httpStatus(t, h.GetCalendar(c)); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestHandler_GetConflicts(t *testing.T) {
	h, e, _ := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?from=2024-01-08&to=2024-01-14", nil), rec)
	if err := h.GetConflicts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"conflicts":[]`) {
		t.Errorf("expected empty conflict list, got %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?from=2024-01-14&to=2024-01-08", nil), httptest.NewRecorder())
	if code := httpStatus(t, h.GetConflicts(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	h, e, deps := newTestHandler()
	deps.appts.add(booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 9, 0), 60))
	deps.appts.add(booking(therapistU, roomPtr(roomR1), at(2024, time.January, 10, 11, 0), 60))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?therapist_id="+therapistT.String(), nil), rec)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
		Links []struct {
			Relation string `json:"relation"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].TherapistID != therapistT {
		t.Errorf("unexpected listing %+v", resp)
	}
	if len(resp.Links) != 1 || resp.Links[0].Relation != "self" {
		t.Errorf("expected a self link, got %+v", resp.Links)
	}
}

func TestHandler_Rooms(t *testing.T) {
	h, e, _ := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"Sala 3","capacity":4}`), rec)
	if err := h.CreateRoom(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var room ConsultingRoom
	json.Unmarshal(rec.Body.Bytes(), &room)

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"maintenance"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(room.ID.String())
	if err := h.UpdateRoomStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"maintenance"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"closed"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(room.ID.String())
	if code := httpStatus(t, h.UpdateRoomStatus(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.ListRooms(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rooms []ConsultingRoom
	json.Unmarshal(rec.Body.Bytes(), &rooms)
	if len(rooms) != 3 {
		t.Errorf("expected 3 rooms, got %d", len(rooms))
	}
}

func TestHandler_Schedules(t *testing.T) {
	h, e, _ := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"day_of_week":2,"start_time":"09:00","end_time":"13:00"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(therapistT.String())
	if err := h.CreateSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"start_time":"09:00"`) || !strings.Contains(rec.Body.String(), `"active":true`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"day_of_week":2,"start_time":"13:00","end_time":"09:00"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(therapistT.String())
	if code := httpStatus(t, h.CreateSchedule(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(therapistT.String())
	if err := h.ListSchedules(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []TherapistSchedule
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("expected 1 schedule, got %d", len(list))
	}
}

func TestHandler_RouteRoles(t *testing.T) {
	h, e, _ := newTestHandler()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := strings.Split(c.Request().Header.Get("X-Test-Roles"), ",")
			ctx := auth.WithIdentity(c.Request().Context(), "tester", roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		method, path, roles, body string
		want                      int
	}{
		{http.MethodGet, "/api/v1/rooms", auth.RoleTherapist, "", http.StatusOK},
		{http.MethodGet, "/api/v1/rooms", "patient", "", http.StatusForbidden},
		{http.MethodPost, "/api/v1/rooms", auth.RoleReceptionist, `{"name":"Sala 9"}`, http.StatusForbidden},
		{http.MethodPost, "/api/v1/rooms", auth.RoleAdmin, `{"name":"Sala 9"}`, http.StatusCreated},
		{http.MethodGet, "/api/v1/stats?from=2024-01-08&to=2024-01-14", auth.RoleTherapist, "", http.StatusForbidden},
		{http.MethodGet, "/api/v1/stats?from=2024-01-08&to=2024-01-14", auth.RoleReceptionist, "", http.StatusOK},
	}
	for _, tt := range tests {
		var req *http.Request
		if tt.body != "" {
			req = jsonRequest(tt.method, tt.path, tt.body)
		} else {
			req = httptest.NewRequest(tt.method, tt.path, nil)
		}
		req.Header.Set("X-Test-Roles", tt.roles)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s as %s: expected %d, got %d", tt.method, tt.path, tt.roles, tt.want, rec.Code)
		}
	}
}
