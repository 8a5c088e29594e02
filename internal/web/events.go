package web

import (
	"net/http"
	"strings"
	"time"

	"agendacal/internal/calendar"
	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// GET /api/events?start=...&end=...
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evs, err := s.deps.Controller.Events(r.Context(), start, end)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// createRequest mirrors the create form. For all-day events End is the last
// included day.
type createRequest struct {
	Title          string `json:"title"`
	Start          string `json:"start"`
	End            string `json:"end,omitempty"`
	AllDay         bool   `json:"allDay"`
	Notes          string `json:"notes,omitempty"`
	Color          string `json:"color,omitempty"`
	PractitionerID *int   `json:"dentista_id,omitempty"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	d := calendar.Draft{
		Title:          req.Title,
		AllDay:         req.AllDay,
		Notes:          req.Notes,
		Color:          req.Color,
		PractitionerID: req.PractitionerID,
	}
	var err error
	if strings.TrimSpace(req.Start) != "" {
		if d.Start, err = timecodec.ParseWire(req.Start, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, "start: "+err.Error())
			return
		}
	}
	if strings.TrimSpace(req.End) != "" {
		if d.End, err = timecodec.ParseWire(req.End, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, "end: "+err.Error())
			return
		}
	}
	ev, err := s.deps.Controller.Create(r.Context(), d)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := model.EventID(r.PathValue("id"))
	if err := s.deps.Controller.Delete(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	Start  string `json:"start"`
	End    string `json:"end,omitempty"`
	AllDay bool   `json:"allDay"`
}

// handleMoveEvent persists a drag the client already rendered. On failure
// the client is expected to put the event back.
func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	d := calendar.DropInfo{EventID: model.EventID(r.PathValue("id")), AllDay: req.AllDay}
	var err error
	if d.Start, err = timecodec.ParseWire(req.Start, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	if req.End != "" {
		if d.End, err = timecodec.ParseWire(req.End, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, "end: "+err.Error())
			return
		}
	}
	if err := s.deps.Controller.Move(r.Context(), d); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeCached(w, d.EventID)
}

func (s *Server) handleEditNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id := model.EventID(r.PathValue("id"))
	if err := s.deps.Controller.EditNotes(r.Context(), id, req.Notes); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeCached(w, id)
}

// handleEditPractitioner accepts {"dentista_id": 3} or {"dentista_id": null}.
func (s *Server) handleEditPractitioner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PractitionerID *int `json:"dentista_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id := model.EventID(r.PathValue("id"))
	if err := s.deps.Controller.EditPractitioner(r.Context(), id, req.PractitionerID); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeCached(w, id)
}

func (s *Server) handleEditColor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color string `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id := model.EventID(r.PathValue("id"))
	if err := s.deps.Controller.EditColor(r.Context(), id, req.Color); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeCached(w, id)
}

// writeCached answers with the cached copy of id, or 204 when the event is
// outside the cached window.
func (s *Server) writeCached(w http.ResponseWriter, id model.EventID) {
	if ev, ok := s.deps.Cache.Lookup(id); ok {
		writeJSON(w, http.StatusOK, ev)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// duplicateRequest names either a quick offset ("1w" … "1m") or an RRULE.
type duplicateRequest struct {
	Offset string `json:"offset,omitempty"`
	RRule  string `json:"rrule,omitempty"`
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id := model.EventID(r.PathValue("id"))

	switch {
	case req.RRule != "":
		created, err := s.deps.Controller.DuplicateSeries(r.Context(), id, req.RRule)
		if err != nil && len(created) == 0 {
			writeFailure(w, err)
			return
		}
		if created == nil {
			created = []model.Event{}
		}
		status := http.StatusCreated
		if err != nil {
			// partial series
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, created)
	case req.Offset != "":
		off, ok := calendar.Offsets[req.Offset]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown offset "+req.Offset)
			return
		}
		ev, err := s.deps.Controller.Duplicate(r.Context(), id, off)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, []model.Event{ev})
	default:
		writeError(w, http.StatusBadRequest, "offset or rrule is required")
	}
}

type searchResponse struct {
	Count int       `json:"count"`
	View  string    `json:"view"`
	Focus time.Time `json:"focus,omitzero"`
}

// GET /api/search?q=...
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Controller.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Count: res.Count, View: res.View, Focus: res.Focus})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	t, err := timecodec.ParseWire(req.Date, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date: "+err.Error())
		return
	}
	s.deps.Controller.Navigate(t)
	w.WriteHeader(http.StatusNoContent)
}
