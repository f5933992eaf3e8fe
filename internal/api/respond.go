package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"appointdesk/internal/booking"
	"appointdesk/internal/model"
	"appointdesk/internal/slots"
)

type errorResponse struct {
	Error      string          `json:"error"`
	Code       string          `json:"code,omitempty"`
	Violations []violationView `json:"violations,omitempty"`
}

type violationView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := booking.AsValidationError(err); ok {
		resp := errorResponse{Error: "Booking could not be completed.", Code: "validation_failed"}
		for _, v := range ve.Violations {
			resp.Violations = append(resp.Violations, violationView{Code: v.Code(), Message: v.Error()})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	code := model.Code(err)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, "Appointment not found."
	case errors.Is(err, model.ErrBookingDisabled):
		status, msg = http.StatusBadRequest, "Booking system is disabled"
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrSingletonViolation),
		errors.Is(err, model.ErrWindowExists):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		id, _ := r.Context().Value(ctxRequestID).(string)
		s.logger.Error().Err(err).Str("request_id", id).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
		code = ""
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// appointmentView is the JSON form of an appointment.
type appointmentView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	FormattedDate string    `json:"formatted_date"`
	FormattedTime string    `json:"formatted_time"`
	Purpose       string    `json:"purpose"`
	Notes         string    `json:"notes,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newAppointmentView(a *model.Appointment) appointmentView {
	return appointmentView{
		ID:            a.ID,
		Name:          a.Name,
		Email:         a.Email,
		Phone:         a.Phone,
		Date:          a.DateString(),
		Time:          a.Time.String(),
		FormattedDate: model.FormatLongDate(a.Date),
		FormattedTime: a.Time.Display(),
		Purpose:       a.Purpose,
		Notes:         a.Notes,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type slotView struct {
	Value     string `json:"value"`
	Text      string `json:"text"`
	Formatted string `json:"formatted"`
}

type slotsResponse struct {
	Date  string     `json:"date"`
	Slots []slotView `json:"slots"`
}

func newSlotsResponse(res slots.Result) slotsResponse {
	out := slotsResponse{Date: res.Date.Format(model.DateLayout), Slots: make([]slotView, len(res.Slots))}
	for i, sl := range res.Slots {
		out.Slots[i] = slotView{Value: sl.Value, Text: sl.Formatted, Formatted: sl.Formatted}
	}
	return out
}
