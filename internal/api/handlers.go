package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/appointment"
)

var validate = validator.New()

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// optionalDate parses query parameter key; ok is false after an error was written.
func optionalDate(w http.ResponseWriter, r *http.Request, key string) (*time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, true
	}
	d, err := appointment.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", key+" must be YYYY-MM-DD")
		return nil, false
	}
	return &d, true
}

// Availability

func listAvailabilityHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := optionalDate(w, r, "from")
		if !ok {
			return
		}
		to, ok := optionalDate(w, r, "to")
		if !ok {
			return
		}

		days, err := svc.ListAvailability(r.Context(), from, to)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		p := PrincipalFrom(r.Context())
		resp := make([]DayView, 0, len(days))
		for _, d := range days {
			resp = append(resp, DayView{
				Date:           d.Date.Format(appointment.DateLayout),
				DayType:        string(d.DayType),
				DayTypeDisplay: d.DayType.Display(),
				SpotsLeft:      d.SpotsLeft,
				Appointments:   projectAll(p, d.Appointments),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := appointment.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		day, err := svc.GetAvailability(r.Context(), date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		resp := DayView{
			Date:           day.Date.Format(appointment.DateLayout),
			DayType:        string(day.DayType),
			DayTypeDisplay: day.DayType.Display(),
			SpotsLeft:      appointment.DailyCapacity,
		}

		joined, err := svc.ListAvailability(r.Context(), &date, &date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		if len(joined) == 1 {
			resp.SpotsLeft = joined[0].SpotsLeft
			resp.Appointments = projectAll(PrincipalFrom(r.Context()), joined[0].Appointments)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func setAvailabilityHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetAvailabilityRequest
		if !decode(w, r, &req) {
			return
		}

		n, err := svc.SetAvailability(r.Context(), PrincipalFrom(r.Context()), req.StartDate, req.EndDate, req.DayType)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityChangeResponse{Days: n, Message: "availability set"})
	}
}

func removeAvailabilityHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RemoveAvailabilityRequest
		if !decode(w, r, &req) {
			return
		}

		n, err := svc.RemoveAvailability(r.Context(), PrincipalFrom(r.Context()), req.StartDate, req.EndDate)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityChangeResponse{Days: n, Message: "availability removed"})
	}
}

// Appointments

func listAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := optionalDate(w, r, "date")
		if !ok {
			return
		}

		p := PrincipalFrom(r.Context())
		appts, err := svc.ListAppointments(r.Context(), p, date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, projectAll(p, appts))
	}
}

func createAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		userID := uuid.Nil
		if req.UserID != "" {
			id, err := uuid.Parse(req.UserID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "user_id must be a valid UUID")
				return
			}
			userID = id
		}

		p := PrincipalFrom(r.Context())
		appt, err := svc.BookForUser(r.Context(), p, userID, req.Date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, Project(appt, roleFor(p, appt)))
	}
}

func createWalkInHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WalkInRequest
		if !decode(w, r, &req) {
			return
		}

		p := PrincipalFrom(r.Context())
		appt, err := svc.BookWalkIn(r.Context(), p, req.Date, appointment.WalkIn{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Phone:     req.Phone,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, Project(appt, roleFor(p, appt)))
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		p := PrincipalFrom(r.Context())
		appt, err := svc.GetAppointment(r.Context(), p, id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, Project(appt, roleFor(p, appt)))
	}
}

func confirmAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		p := PrincipalFrom(r.Context())
		appt, err := svc.Confirm(r.Context(), p, id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, Project(appt, roleFor(p, appt)))
	}
}

func denyAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.Deny(r.Context(), PrincipalFrom(r.Context()), id); err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, DenyResponse{ID: id.String(), Status: "denied"})
	}
}

func flagAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req FlagRequest
		if !decode(w, r, &req) {
			return
		}

		p := PrincipalFrom(r.Context())
		appt, err := svc.Flag(r.Context(), p, id, req.Reason)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, Project(appt, roleFor(p, appt)))
	}
}

func completeAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		p := PrincipalFrom(r.Context())
		appt, err := svc.Complete(r.Context(), p, id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, Project(appt, roleFor(p, appt)))
	}
}

func privilegesHandler(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	resp := PrivilegesResponse{
		Authenticated: !p.Anonymous(),
		IsStaff:       p.IsStaff,
		IsSuperuser:   p.IsSuperuser,
	}
	if !p.Anonymous() {
		resp.UserID = p.UserID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleError maps domain errors to HTTP responses. Unclassified errors are
// logged and reported as a generic internal error.
func handleError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrDayNotAvailable):
		writeError(w, http.StatusBadRequest, "day_not_available", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrAvailableDayNotFound):
		writeError(w, http.StatusNotFound, "day_not_found", "no availability for this date")
	case errors.Is(err, appointment.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		if PrincipalFrom(r.Context()).Anonymous() {
			writeError(w, http.StatusUnauthorized, "authentication_required", err.Error())
			return
		}
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrNoSlotsLeft):
		writeError(w, http.StatusConflict, "no_slots_left", "No slots left for this day")
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrDateBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "date_busy", err.Error())
	default:
		log.Error("request error",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
