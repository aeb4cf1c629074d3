package scheduling

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/scheduler/internal/platform/calendar"
)

type Handler struct {
	svc *Service
	// loc interprets date/time form input that carries no offset.
	loc *time.Location
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, loc: time.Local}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/procedures", h.ListProcedures)

	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments", h.CreateAppointment)
	api.POST("/appointments/:id/extend", h.ExtendTime)
	api.POST("/appointments/:id/reduce", h.ReduceTime)
	api.PUT("/appointments/:id", h.UpdateAppointment)
	api.DELETE("/appointments/:id", h.CancelAppointment)
	api.DELETE("/appointments", h.ClearSchedule)

	api.GET("/break-policy", h.GetBreakPolicy)
	api.PATCH("/break-policy", h.UpdateBreakPolicy)

	api.GET("/schedule.ics", h.ExportCalendar)
}

type createRequest struct {
	PatientName string  `json:"patient_name"`
	PhoneNumber *string `json:"phone_number"`
	ProcedureID string  `json:"procedure_id"`
	StartTime   string  `json:"start_time"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
}

type stepRequest struct {
	StepMinutes int `json:"step_minutes"`
}

type updateRequest struct {
	AdditionalTime *int `json:"additional_time"`
}

type mutationResponse struct {
	ID                   string       `json:"id,omitempty"`
	Message              string       `json:"message"`
	ModifiedAppointments int          `json:"modified_appointments"`
	Appointment          *Appointment `json:"appointment,omitempty"`
	Shifted              []Shift      `json:"shifted"`
}

func newMutationResponse(msg string, out Outcome) mutationResponse {
	return mutationResponse{
		Message:              msg,
		ModifiedAppointments: len(out.Shifted),
		Appointment:          out.Appointment,
		Shifted:              out.Shifted,
	}
}

// -- Catalog --

func (h *Handler) ListProcedures(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Procedures())
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	if phone := strings.TrimSpace(c.QueryParam("phone")); phone != "" {
		upcoming := false
		if raw := c.QueryParam("upcoming"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return toHTTPError(&ValidationError{Field: "upcoming", Message: "must be true or false"})
			}
			upcoming = v
		}
		return c.JSON(http.StatusOK, h.svc.AppointmentsForPhone(phone, upcoming))
	}
	return c.JSON(http.StatusOK, h.svc.Schedule())
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.svc.GetAppointment(c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	start, err := h.startTime(req)
	if err != nil {
		return toHTTPError(err)
	}

	out, err := h.svc.AddAppointment(c.Request().Context(), AddInput{
		PatientName: req.PatientName,
		PhoneNumber: req.PhoneNumber,
		ProcedureID: req.ProcedureID,
		StartTime:   start,
	})
	if err != nil {
		return toHTTPError(err)
	}
	resp := newMutationResponse("Appointment added successfully", out)
	resp.ID = out.Appointment.ID
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) startTime(req createRequest) (time.Time, error) {
	if req.StartTime != "" {
		return ParseTimestamp("start_time", req.StartTime)
	}
	if req.Date == "" && req.Time == "" {
		return time.Time{}, &ValidationError{Field: "start_time", Message: "is required"}
	}
	return ParseDateAndTime(req.Date, req.Time, h.loc)
}

func (h *Handler) ExtendTime(c echo.Context) error {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.ExtendTime(c.Request().Context(), c.Param("id"), req.StepMinutes)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newMutationResponse("Appointment extended", out))
}

func (h *Handler) ReduceTime(c echo.Context) error {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.ReduceTime(c.Request().Context(), c.Param("id"), req.StepMinutes)
	if err != nil {
		return toHTTPError(err)
	}
	msg := "Appointment shortened"
	if !out.Applied {
		msg = "No additional time to remove"
	}
	return c.JSON(http.StatusOK, newMutationResponse(msg, out))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AdditionalTime == nil {
		return toHTTPError(&ValidationError{Field: "additional_time", Message: "is required"})
	}
	out, err := h.svc.SetAdditionalTime(c.Request().Context(), c.Param("id"), *req.AdditionalTime)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newMutationResponse("Appointment updated successfully", out))
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	out, err := h.svc.CancelAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newMutationResponse("Appointment deleted successfully", out))
}

func (h *Handler) ClearSchedule(c echo.Context) error {
	n := h.svc.ClearSchedule(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Schedule cleared",
		"removed": n,
	})
}

// -- Break policy --

func (h *Handler) GetBreakPolicy(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.BreakPolicy())
}

func (h *Handler) UpdateBreakPolicy(c echo.Context) error {
	var patch BreakPolicyPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.SetBreakPolicy(c.Request().Context(), patch)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":               "Break time updated successfully",
		"break_policy":          h.svc.BreakPolicy(),
		"modified_appointments": len(out.Shifted),
		"shifted":               out.Shifted,
	})
}

// -- Export --

func (h *Handler) ExportCalendar(c echo.Context) error {
	schedule := h.svc.Schedule()
	events := make([]calendar.Event, 0, len(schedule))
	names := make(map[string]string)
	for _, p := range h.svc.Procedures() {
		names[p.ID] = p.Name
	}
	for _, a := range schedule {
		events = append(events, calendar.Event{
			UID:         a.ID,
			Summary:     fmt.Sprintf("%s: %s", names[a.ProcedureID], a.PatientName),
			Description: fmt.Sprintf("Booked %d min (+%d min extra)", a.OriginalDuration, a.AdditionalTime),
			Start:       a.StartTime,
			End:         a.EndTime,
		})
	}

	var buf bytes.Buffer
	if err := calendar.Encode(&buf, events, time.Now()); err != nil {
		if errors.Is(err, calendar.ErrNoEvents) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule is empty")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, calendar.ContentType, buf.Bytes())
}

// toHTTPError maps domain errors onto HTTP status codes.
func toHTTPError(err error) error {
	var (
		verr *ValidationError
		perr *UnknownProcedureError
		nerr *NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.As(err, &perr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, perr.Error())
	case errors.As(err, &nerr):
		return echo.NewHTTPError(http.StatusNotFound, nerr.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
