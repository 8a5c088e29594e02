package web

import (
	"errors"
	"net/http"

	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// GET /api/indicators?start=...&end=... (end exclusive)
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Mini.Indicators(r.Context(), start, end))
}

// handleMiniMonth pages the mini calendar. The month becomes the window of
// the next primary fetch until the primary navigates again.
func (s *Server) handleMiniMonth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month string `json:"month"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	t, err := timecodec.ParseWire(req.Month, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "month: "+err.Error())
		return
	}
	s.deps.Mini.ShowMonth(t)
	writeJSON(w, http.StatusOK, map[string]string{"month": s.deps.Mini.Month().Format(timecodec.DateLayout)})
}

// GET /api/holidays?start=YYYY-MM-DD&end=YYYY-MM-DD (end inclusive)
func (s *Server) handleHolidays(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Holidays == nil {
		writeJSON(w, http.StatusOK, map[string]model.HolidayMeta{})
		return
	}
	s.deps.Holidays.EnsureRange(r.Context(), start, end)
	writeJSON(w, http.StatusOK, s.deps.Holidays.Visible(start, end))
}

type practitionersResponse struct {
	Practitioners     []model.Practitioner `json:"practitioners"`
	Selected          []int                `json:"selected"`
	IncludeUnassigned bool                 `json:"includeUnassigned"`
}

func (s *Server) handlePractitioners(w http.ResponseWriter, r *http.Request) {
	if s.deps.Directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory not configured")
		return
	}
	list, err := s.deps.Directory.List(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, practitionersResponse{
		Practitioners:     list,
		Selected:          s.deps.Prefs.SelectedPractitioners(),
		IncludeUnassigned: s.deps.Prefs.IncludeUnassigned(),
	})
}

// handleSelection changes the practitioner filter. Either field may be
// omitted.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs               *[]int `json:"selected"`
		IncludeUnassigned *bool  `json:"includeUnassigned"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.IDs != nil {
		if err := s.deps.Controller.SetSelectedPractitioners(*req.IDs); err != nil {
			writeFailure(w, err)
			return
		}
	}
	if req.IncludeUnassigned != nil {
		if err := s.deps.Controller.SetIncludeUnassigned(*req.IncludeUnassigned); err != nil {
			writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"filterKey": s.deps.Cache.FilterKey()})
}

type preferencesDTO struct {
	SelectedPractitioners  []int  `json:"selectedPractitioners"`
	IncludeUnassigned      bool   `json:"includeUnassigned"`
	SearchQuery            string `json:"searchQuery"`
	Theme                  string `json:"theme"`
	CompactOverride        string `json:"compactOverride"`
	DefaultDurationMinutes int    `json:"defaultDurationMinutes"`
	Weekends               bool   `json:"weekends"`
}

func (s *Server) preferences() preferencesDTO {
	p := s.deps.Prefs
	return preferencesDTO{
		SelectedPractitioners:  p.SelectedPractitioners(),
		IncludeUnassigned:      p.IncludeUnassigned(),
		SearchQuery:            p.SearchQuery(),
		Theme:                  p.Theme(),
		CompactOverride:        p.CompactOverride(),
		DefaultDurationMinutes: p.DefaultDurationMinutes(),
		Weekends:               p.Weekends(),
	}
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("raw") == "1" {
		writeJSON(w, http.StatusOK, s.deps.Prefs.Export())
		return
	}
	writeJSON(w, http.StatusOK, s.preferences())
}

// handlePutPreferences updates display preferences. Filters and the search
// query have their own routes because they trigger refetches.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme                  *string `json:"theme"`
		CompactOverride        *string `json:"compactOverride"`
		DefaultDurationMinutes *int    `json:"defaultDurationMinutes"`
		Weekends               *bool   `json:"weekends"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	p := s.deps.Prefs
	var errs []error
	if req.Theme != nil {
		errs = append(errs, p.SetTheme(*req.Theme))
	}
	if req.CompactOverride != nil {
		errs = append(errs, p.SetCompactOverride(*req.CompactOverride))
	}
	if req.DefaultDurationMinutes != nil {
		errs = append(errs, p.SetDefaultDurationMinutes(*req.DefaultDurationMinutes))
	}
	if req.Weekends != nil {
		errs = append(errs, p.SetWeekends(*req.Weekends))
	}
	if err := errors.Join(errs...); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.preferences())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.pdfMu.Lock()
	clear(s.pdfCache)
	s.pdfMu.Unlock()

	cleared := s.deps.Controller.HardRefresh(r.Context())
	status := http.StatusOK
	if !cleared {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]bool{"serverCleared": cleared})
}
