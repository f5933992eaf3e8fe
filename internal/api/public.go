package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"appointdesk/internal/booking"
	"appointdesk/internal/model"
	"appointdesk/internal/slots"

	"github.com/gorilla/mux"
)

const maxDatesRange = 90

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.booking.GetSettings(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// GET /api/v1/dates?days=N
func (s *HTTPServer) handleListDates(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDatesRange {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxDatesRange))
			return
		}
		days = n
	}

	dates, err := s.booking.ListAvailableDates(r.Context(), days)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dates": dates})
}

// GET /api/v1/slots?date=YYYY-MM-DD
func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "No date provided")
		return
	}
	date, err := model.ParseDate(raw, s.booking.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format")
		return
	}

	res, err := s.booking.ListOpenSlots(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	switch {
	case res.Reason == slots.ReasonPastDate:
		writeError(w, http.StatusBadRequest, "Cannot book appointments in the past")
		return
	case res.Empty():
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "No available time slots on " + model.FormatLongDate(date),
			Code:  res.Reason,
		})
		return
	}
	writeJSON(w, http.StatusOK, newSlotsResponse(res))
}

type submitRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Purpose string `json:"purpose"`
	Notes   string `json:"notes"`
}

// POST /api/v1/appointments
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	date, err := model.ParseDate(req.Date, s.booking.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	at, err := model.ParseTimeOfDay(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "time must be HH:MM")
		return
	}

	a, err := s.booking.SubmitBooking(r.Context(), booking.BookingRequest{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Date:    date,
		Time:    at,
		Purpose: req.Purpose,
		Notes:   req.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAppointmentView(a))
}

// GET /api/v1/appointments/{id}?email=
func (s *HTTPServer) handleOwnerGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.booking.GetOwnAppointment(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("email"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentView(a))
}

type ownerCancelRequest struct {
	Email string `json:"email"`
}

// POST /api/v1/appointments/{id}/cancel
func (s *HTTPServer) handleOwnerCancel(w http.ResponseWriter, r *http.Request) {
	var req ownerCancelRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	a, err := s.booking.CancelBooking(r.Context(), mux.Vars(r)["id"], booking.Owner(req.Email))
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error: "This appointment can no longer be cancelled.",
				Code:  model.Code(err),
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentView(a))
}
