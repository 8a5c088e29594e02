package calendar

import (
	"context"
	"sync"
	"time"

	"agendacal/internal/eventcache"
	"agendacal/internal/holidays"
	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// DayIndicator summarizes one cell of the mini calendar.
type DayIndicator struct {
	Date    string             `json:"date"`
	Count   int                `json:"count"`
	Holiday *model.HolidayMeta `json:"holiday,omitempty"`
}

// MiniController drives the month-sized side calendar. It never fetches
// events itself: it reads whatever the shared cache holds and asks its
// widget to redraw when that changes.
type MiniController struct {
	cache *eventcache.Coordinator
	hol   *holidays.Cache
	view  View

	mu    sync.Mutex
	month time.Time
}

func NewMini(cache *eventcache.Coordinator, hol *holidays.Cache, view View) *MiniController {
	if view == nil {
		view = NopView{}
	}
	return &MiniController{cache: cache, hol: hol, view: view}
}

// Month returns the first day of the displayed month.
func (m *MiniController) Month() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.month
}

func (m *MiniController) setMonth(t time.Time) time.Time {
	t = t.In(m.cache.Location())
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	m.mu.Lock()
	m.month = first
	m.mu.Unlock()
	return first
}

// SyncDate follows the primary calendar to t. The fetch window goes back
// to being derived from the primary's range.
func (m *MiniController) SyncDate(t time.Time) {
	m.setMonth(t)
	m.cache.ClearMonthOverride()
	safely("mini goto date", func() { m.view.GotoDate(t) })
}

// ShowMonth is the user paging the mini calendar. The month it shows becomes
// the window the primary's next fetch covers.
func (m *MiniController) ShowMonth(t time.Time) {
	first := m.setMonth(t)
	m.cache.SetMonthOverride(eventcache.Window{Start: first, End: first.AddDate(0, 1, 0)})
	safely("mini goto date", func() { m.view.GotoDate(first) })
}

// Refresh asks the widget to recompute its indicators. Failures are ignored.
func (m *MiniController) Refresh() {
	safely("mini refetch", m.view.RefetchEvents)
}

// Events serves the mini widget from the cache only.
func (m *MiniController) Events(start, end time.Time) []model.Event {
	return m.cache.ReadRange(start, end, m.cache.FilterKey())
}

// Indicators returns one entry per day of [start, end): the number of cached
// events touching that day and the holiday falling on it, if any.
func (m *MiniController) Indicators(ctx context.Context, start, end time.Time) []DayIndicator {
	loc := m.cache.Location()
	start = timecodec.StartOfDay(start.In(loc))
	end = end.In(loc)
	if !end.After(start) {
		return []DayIndicator{}
	}

	var hols map[string]model.HolidayMeta
	if m.hol != nil {
		last := end.Add(-time.Nanosecond)
		m.hol.EnsureRange(ctx, start, last)
		hols = m.hol.Visible(start, last)
	}

	key := m.cache.FilterKey()
	out := []DayIndicator{}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		next := d.AddDate(0, 0, 1)
		date := d.Format(timecodec.DateLayout)
		ind := DayIndicator{Date: date, Count: len(m.cache.ReadRange(d, next, key))}
		if meta, ok := hols[date]; ok {
			ind.Holiday = &meta
		}
		out = append(out, ind)
	}
	return out
}
