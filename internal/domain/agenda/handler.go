package agenda

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinica/agenda/internal/platform/auth"
	"github.com/clinica/agenda/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: every clinic role
	read := api.Group("", auth.RequireRole(auth.RoleTherapist, auth.RoleReceptionist))
	read.GET("/calendar", h.GetCalendar)
	read.GET("/conflicts", h.GetConflicts)
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	read.GET("/rooms", h.ListRooms)
	read.GET("/therapists/:id/schedules", h.ListSchedules)

	// Booking endpoints: front desk and therapists
	write := api.Group("", auth.RequireRole(auth.RoleTherapist, auth.RoleReceptionist))
	write.POST("/appointments", h.CreateAppointment)
	write.POST("/appointments/:id/move", h.MoveAppointment)
	write.PATCH("/appointments/:id", h.UpdateAppointment)
	write.POST("/appointments/:id/status", h.SetStatus)

	// Clinic administration: receptionist or admin
	api.GET("/stats", h.GetStats, auth.RequireRole(auth.RoleReceptionist))
	api.POST("/rooms", h.CreateRoom, auth.RequireRole(auth.RoleAdmin))
	api.PUT("/rooms/:id/status", h.UpdateRoomStatus, auth.RequireRole(auth.RoleReceptionist))
	api.POST("/therapists/:id/schedules", h.CreateSchedule, auth.RequireRole(auth.RoleAdmin))
}

// -- Request bodies --

type createAppointmentRequest struct {
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string  `json:"time" validate:"required,hhmm"`
	Duration    int     `json:"duration" validate:"omitempty,gt=0,lte=480"`
	TherapistID string  `json:"therapist_id" validate:"required,uuid"`
	PatientID   string  `json:"patient_id" validate:"required,uuid"`
	RoomID      string  `json:"room_id" validate:"omitempty,uuid"`
	Type        string  `json:"type" validate:"omitempty,oneof=individual group family couple assessment supervision"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
	Cost        string  `json:"cost" validate:"omitempty,numeric"`
}

// moveRequest is a drop target. An empty body means the drag ended outside
// the grid.
type moveRequest struct {
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time   string `json:"time" validate:"omitempty,hhmm"`
	RoomID string `json:"room_id" validate:"omitempty,uuid"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed checked-in completed cancelled no-show"`
}

type createRoomRequest struct {
	Name     string  `json:"name" validate:"required,max=100"`
	Capacity int     `json:"capacity" validate:"omitempty,gte=1,lte=100"`
	Location *string `json:"location" validate:"omitempty,max=200"`
	Status   string  `json:"status" validate:"omitempty,oneof=available occupied maintenance"`
}

type roomStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available occupied maintenance"`
}

type createScheduleRequest struct {
	DayOfWeek int    `json:"day_of_week" validate:"gte=0,lte=6"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
	Active    *bool  `json:"active"`
}

// appointmentResponse is an appointment plus the statuses it may move to
// next, which the card renders as actions.
type appointmentResponse struct {
	*Appointment
	AllowedTransitions []AppointmentStatus `json:"allowed_transitions"`
}

func newAppointmentResponse(a *Appointment) appointmentResponse {
	return appointmentResponse{Appointment: a, AllowedTransitions: allowedTransitions(a.Status)}
}

func (h *Handler) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(req); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, h.svc.Config().Location)
}

// parseRange reads from/to dates. to is inclusive in the query and
// exclusive in the result; missing values default to the current week.
func (h *Handler) parseRange(c echo.Context) (time.Time, time.Time, error) {
	from := StartOfWeek(h.svc.Now())
	to := from.AddDate(0, 0, 7)
	if v := c.QueryParam("from"); v != "" {
		d, err := h.parseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		from = d
	}
	if v := c.QueryParam("to"); v != "" {
		d, err := h.parseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		to = d.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must not be after to")
	}
	return from, to, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// errorResponse maps domain errors to HTTP errors.
func errorResponse(err error) error {
	var (
		httpErr       *echo.HTTPError
		malformed     *MalformedAppointmentError
		transitionErr *TransitionError
		conflictErr   *ConflictError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownAppointment):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.As(err, &conflictErr):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":   conflictErr.Error(),
			"conflicts": conflictErr.Conflicts,
		})
	case errors.Is(err, ErrRoomUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &transitionErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &malformed),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrDropAbandoned),
		errors.Is(err, ErrInvalidSlotGrid),
		errors.Is(err, ErrInvalidViewMode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Calendar --

// viewState replays the query parameters onto the default view of today.
func (h *Handler) viewState(c echo.Context) (ViewState, error) {
	today := h.svc.Now()
	state := NewViewState(today)
	if v := c.QueryParam("date"); v != "" {
		d, err := h.parseDate(v)
		if err != nil {
			return state, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		state = Reduce(state, DateChanged{Date: d})
	}
	if v := c.QueryParam("view"); v != "" {
		mode, err := ParseViewMode(v)
		if err != nil {
			return state, errorResponse(err)
		}
		state = Reduce(state, ViewModeChanged{Mode: mode})
	}
	switch c.QueryParam("nav") {
	case "":
	case "prev":
		state = Reduce(state, NavigatePrevious{})
	case "next":
		state = Reduce(state, NavigateNext{})
	case "today":
		state = Reduce(state, NavigateToday{Today: today})
	default:
		return state, echo.NewHTTPError(http.StatusBadRequest, "nav must be prev, next or today")
	}
	if v := c.QueryParam("therapist_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return state, echo.NewHTTPError(http.StatusBadRequest, "invalid therapist_id")
		}
		state = Reduce(state, TherapistFiltered{TherapistID: &id})
	}
	if v := c.QueryParam("show_conflicts"); v != "" {
		show, err := strconv.ParseBool(v)
		if err != nil {
			return state, echo.NewHTTPError(http.StatusBadRequest, "invalid show_conflicts")
		}
		if show != state.ShowConflicts {
			state = Reduce(state, ToggleConflicts{})
		}
	}
	return state, nil
}

func (h *Handler) GetCalendar(c echo.Context) error {
	state, err := h.viewState(c)
	if err != nil {
		return err
	}
	cal, err := h.svc.Calendar(c.Request().Context(), state)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cal)
}

func (h *Handler) GetConflicts(c echo.Context) error {
	from, to, err := h.parseRange(c)
	if err != nil {
		return err
	}
	conflicts, summary, err := h.svc.Conflicts(c.Request().Context(), from, to)
	if err != nil {
		return errorResponse(err)
	}
	if conflicts == nil {
		conflicts = []Conflict{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"summary":   summary,
	})
}

func (h *Handler) GetStats(c echo.Context) error {
	from, to, err := h.parseRange(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), from, to)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// -- Appointments --

var appointmentFilters = map[string]string{
	"therapist_id": "therapist",
	"patient_id":   "patient",
	"room_id":      "room",
	"status":       "status",
	"type":         "type",
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for q, key := range appointmentFilters {
		if v := c.QueryParam(q); v != "" {
			params[key] = v
		}
	}
	for _, q := range []string{"from", "to"} {
		v := c.QueryParam(q)
		if v == "" {
			continue
		}
		d, err := h.parseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+q+" date")
		}
		if q == "to" {
			d = d.AddDate(0, 0, 1)
		}
		params[q] = d.Format(time.RFC3339)
	}
	items, total, err := h.svc.SearchAppointments(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	data := make([]appointmentResponse, len(items))
	for i, a := range items {
		data[i] = newAppointmentResponse(a)
	}
	links := pg.Links(c.Request().URL.Path, c.QueryParams(), total)
	return c.JSON(http.StatusOK, pagination.NewResponse(data, total, pg.Limit, pg.Offset).WithLinks(links))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, newAppointmentResponse(a))
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createAppointmentRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	target, err := h.slotTarget(req.Date, req.Time, req.RoomID)
	if err != nil {
		return err
	}
	target.TherapistID, _ = uuid.Parse(req.TherapistID)
	target.Duration = req.Duration
	patientID, _ := uuid.Parse(req.PatientID)

	cost := decimal.Zero
	if req.Cost != "" {
		if cost, err = decimal.NewFromString(req.Cost); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cost")
		}
	}

	a, err := h.svc.CreateAppointment(c.Request().Context(), CreateRequest{
		Target:    target,
		PatientID: patientID,
		Type:      AppointmentType(req.Type),
		Notes:     req.Notes,
		Cost:      cost,
	})
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, newAppointmentResponse(a))
}

// slotTarget resolves a date, an "HH:MM" slot and an optional room into a
// target. An empty date yields the zero target.
func (h *Handler) slotTarget(date, hhmm, roomID string) (SlotTarget, error) {
	var t SlotTarget
	if date == "" {
		return t, nil
	}
	d, err := h.parseDate(date)
	if err != nil {
		return t, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
	}
	tod, err := ParseTimeOfDay(hhmm)
	if err != nil {
		return t, echo.NewHTTPError(http.StatusBadRequest, "invalid time")
	}
	t.Date, t.Time = d, tod
	if roomID != "" {
		id, err := uuid.Parse(roomID)
		if err != nil {
			return t, echo.NewHTTPError(http.StatusBadRequest, "invalid room_id")
		}
		t.RoomID = &id
	}
	return t, nil
}

func (h *Handler) MoveAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req moveRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	target, err := h.slotTarget(req.Date, req.Time, req.RoomID)
	if err != nil {
		return err
	}
	a, err := h.svc.MoveAppointment(c.Request().Context(), id, target)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, newAppointmentResponse(a))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid type")
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, patch)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, newAppointmentResponse(a))
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.SetStatus(c.Request().Context(), id, AppointmentStatus(req.Status))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, newAppointmentResponse(a))
}

// -- Rooms --

func (h *Handler) ListRooms(c echo.Context) error {
	rooms, err := h.svc.ListRooms(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	if rooms == nil {
		rooms = []*ConsultingRoom{}
	}
	return c.JSON(http.StatusOK, rooms)
}

func (h *Handler) CreateRoom(c echo.Context) error {
	var req createRoomRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	r := &ConsultingRoom{
		Name:     req.Name,
		Capacity: req.Capacity,
		Location: req.Location,
		Status:   RoomStatus(req.Status),
	}
	if err := h.svc.CreateRoom(c.Request().Context(), r); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRoomStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req roomStatusRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	r, err := h.svc.UpdateRoomStatus(c.Request().Context(), id, RoomStatus(req.Status))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Therapist schedules --

func (h *Handler) ListSchedules(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSchedules(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	if items == nil {
		items = []*TherapistSchedule{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req createScheduleRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	start, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_time")
	}
	end, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end_time")
	}
	sched := &TherapistSchedule{
		TherapistID: id,
		DayOfWeek:   time.Weekday(req.DayOfWeek),
		StartTime:   start,
		EndTime:     end,
		Active:      req.Active == nil || *req.Active,
	}
	if err := h.svc.CreateSchedule(c.Request().Context(), sched); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, sched)
}
