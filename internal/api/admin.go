package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"appointdesk/internal/booking"
	"appointdesk/internal/database"
	"appointdesk/internal/model"

	"github.com/gorilla/mux"
)

// GET /api/v1/admin/appointments?status=&from=&to=&email=&limit=&offset=
func (s *HTTPServer) handleAdminList(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.booking.ListAppointments(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	views := make([]appointmentView, len(list))
	for i := range list {
		views[i] = newAppointmentView(&list[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"appointments": views})
}

func (s *HTTPServer) parseFilter(r *http.Request) (database.AppointmentFilter, error) {
	q := r.URL.Query()
	var f database.AppointmentFilter

	if raw := q.Get("status"); raw != "" {
		st, ok := model.ParseStatus(raw)
		if !ok {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.DateFrom}, {"to", &f.DateTo}} {
		if raw := q.Get(p.name); raw != "" {
			d, err := model.ParseDate(raw, s.booking.Location())
			if err != nil {
				return f, fmt.Errorf("%s must be YYYY-MM-DD", p.name)
			}
			*p.dst = d
		}
	}
	f.Email = q.Get("email")
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if raw := q.Get(p.name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return f, fmt.Errorf("%s must be a non-negative integer", p.name)
			}
			*p.dst = n
		}
	}
	return f, nil
}

func (s *HTTPServer) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	a, err := s.booking.ApproveBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentView(a))
}

func (s *HTTPServer) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	a, err := s.booking.CancelBooking(r.Context(), mux.Vars(r)["id"], booking.Admin(adminSubject(r)))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentView(a))
}

type bulkAppointmentsRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

// POST /api/v1/admin/appointments/bulk
func (s *HTTPServer) handleAdminBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkAppointmentsRequest
	if err := decodeJSON(w, r, &req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "action and ids are required")
		return
	}

	var results []booking.BatchResult
	switch req.Action {
	case "approve":
		results = s.booking.ApproveMany(r.Context(), req.IDs)
	case "cancel":
		results = s.booking.CancelMany(r.Context(), req.IDs, booking.Admin(adminSubject(r)))
	default:
		writeError(w, http.StatusBadRequest, "action must be approve or cancel")
		return
	}

	updated := 0
	for _, res := range results {
		if res.Err == nil {
			updated++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
		"results": results,
		"message": fmt.Sprintf("%d appointment(s) updated.", updated),
	})
}

func (s *HTTPServer) handleListWindows(w http.ResponseWriter, r *http.Request) {
	views, err := s.booking.ListWindows(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"windows": views})
}

type windowRequest struct {
	DayOfWeek    model.Weekday    `json:"day_of_week"`
	StartTime    *model.TimeOfDay `json:"start_time"`
	EndTime      *model.TimeOfDay `json:"end_time"`
	SlotDuration int              `json:"slot_duration"`
	IsActive     *bool            `json:"is_active"`
}

func (req windowRequest) toWindow(id int64) (*model.AvailabilityWindow, error) {
	if req.StartTime == nil || req.EndTime == nil {
		return nil, fmt.Errorf("%w: start_time and end_time are required", model.ErrInvalidWindow)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &model.AvailabilityWindow{
		ID:           id,
		DayOfWeek:    req.DayOfWeek,
		Start:        *req.StartTime,
		End:          *req.EndTime,
		SlotDuration: req.SlotDuration,
		IsActive:     active,
	}, nil
}

func (s *HTTPServer) saveWindow(w http.ResponseWriter, r *http.Request, id int64, status int) {
	var req windowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	win, err := req.toWindow(id)
	if err == nil {
		err = s.booking.UpsertAvailabilityWindow(r.Context(), win)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, booking.WindowView{AvailabilityWindow: *win, SlotCount: win.SlotCount()})
}

// POST /api/v1/admin/windows
func (s *HTTPServer) handleCreateWindow(w http.ResponseWriter, r *http.Request) {
	s.saveWindow(w, r, 0, http.StatusCreated)
}

// PUT /api/v1/admin/windows/{id}
func (s *HTTPServer) handleUpdateWindow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid window id")
		return
	}
	s.saveWindow(w, r, id, http.StatusOK)
}

type bulkWindowsRequest struct {
	Active *bool   `json:"active"`
	IDs    []int64 `json:"ids"`
}

// POST /api/v1/admin/windows/bulk
func (s *HTTPServer) handleBulkWindows(w http.ResponseWriter, r *http.Request) {
	var req bulkWindowsRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Active == nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "active and ids are required")
		return
	}
	n, err := s.booking.SetWindowsActive(r.Context(), req.IDs, *req.Active)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": n})
}

type settingsRequest struct {
	Enabled      *bool   `json:"enabled"`
	Instructions *string `json:"instructions"`
}

// PUT /api/v1/admin/settings
func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	settings, err := s.booking.UpdateSettings(r.Context(), booking.SettingsUpdate{
		Enabled:      req.Enabled,
		Instructions: req.Instructions,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// GET /api/v1/admin/export.xlsx
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "export is not configured")
		return
	}
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filename := fmt.Sprintf("appointments_%s.xlsx", s.booking.Today().Format(model.DateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := s.audit.Export(r.Context(), w, filter); err != nil {
		s.logger.Error().Err(err).Msg("export workbook")
	}
}
