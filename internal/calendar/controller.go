// Package calendar turns user gestures into remote mutations and keeps the
// widget and the shared event cache consistent with the server's answers.
//
// Gesture contracts differ on purpose:
//
//   - create, duplicate, delete and field edits touch the cache and the
//     view only after the server confirmed;
//   - drag and resize are already visible when the PATCH goes out and are
//     reverted if it fails.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"agendacal/internal/api"
	"agendacal/internal/directory"
	"agendacal/internal/eventcache"
	"agendacal/internal/holidays"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/prefs"
	"agendacal/internal/timecodec"
)

// DuplicateColor highlights copies so they stand out until reviewed.
const DuplicateColor = "#f59e42"

// maxSeriesCopies bounds DuplicateSeries for open-ended rules.
const maxSeriesCopies = 52

var (
	ErrInvalidDraft = errors.New("calendar: title and start are required")
	ErrNotFound     = errors.New("calendar: event not in cache")
)

// Draft is a new event as entered by the user. For all-day drafts End is the
// last included day (zero means a single day); for timed drafts a zero End
// means "use the default duration".
type Draft struct {
	Title          string
	Start          time.Time
	End            time.Time
	AllDay         bool
	Notes          string
	Color          string
	PractitionerID *int
}

// DropInfo describes a drag or resize the widget already rendered.
type DropInfo struct {
	EventID model.EventID
	Start   time.Time
	End     time.Time
	AllDay  bool
	// Revert moves the event back to where it was before the gesture.
	Revert func()
}

// Offset shifts a duplicate by whole days and months.
type Offset struct {
	Days   int
	Months int
}

// Offsets are the quick-duplicate choices offered in the context menu.
var Offsets = map[string]Offset{
	"1w": {Days: 7},
	"2w": {Days: 14},
	"3w": {Days: 21},
	"4w": {Days: 28},
	"1m": {Months: 1},
}

// Deps wires a Controller. Directory, Holidays, Mini and Notifier are
// optional.
type Deps struct {
	Remote    Remote
	Cache     *eventcache.Coordinator
	Prefs     *prefs.Preferences
	Directory *directory.Cache
	Holidays  *holidays.Cache
	View      View
	Mini      *MiniController
	Notifier  Notifier
}

type Controller struct {
	remote Remote
	cache  *eventcache.Coordinator
	prefs  *prefs.Preferences
	dir    *directory.Cache
	hol    *holidays.Cache
	view   View
	mini   *MiniController
	notify Notifier
	loc    *time.Location
}

func NewController(d Deps) *Controller {
	c := &Controller{
		remote: d.Remote,
		cache:  d.Cache,
		prefs:  d.Prefs,
		dir:    d.Directory,
		hol:    d.Holidays,
		view:   d.View,
		mini:   d.Mini,
		notify: d.Notifier,
		loc:    d.Cache.Location(),
	}
	if c.view == nil {
		c.view = NopView{}
	}
	if c.notify == nil {
		c.notify = logNotifier{}
	}
	return c
}

// Events is the widget's event source.
func (c *Controller) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	evs, err := c.cache.Events(ctx, start, end)
	if err != nil {
		return nil, err
	}
	c.refreshMini()
	return evs, nil
}

// Create validates d, posts it and inserts the server's copy.
func (c *Controller) Create(ctx context.Context, d Draft) (model.Event, error) {
	if strings.TrimSpace(d.Title) == "" || d.Start.IsZero() {
		return model.Event{}, ErrInvalidDraft
	}
	body := api.NewEvent{
		Title:          d.Title,
		AllDay:         d.AllDay,
		Notes:          d.Notes,
		Color:          d.Color,
		PractitionerID: d.PractitionerID,
	}
	if d.AllDay {
		body.Start = timecodec.ToWire(d.Start, true)
		body.End = timecodec.ExclusiveEnd(d.Start, d.End)
	} else {
		end := d.End
		if end.IsZero() {
			end = d.Start.Add(c.prefs.DefaultDuration())
		}
		body.Start = timecodec.ToWire(d.Start, false)
		body.End = timecodec.ToWire(end, false)
	}
	return c.createAndInsert(ctx, body, "Could not create the event.")
}

func (c *Controller) createAndInsert(ctx context.Context, body api.NewEvent, failMsg string) (model.Event, error) {
	ev, err := c.remote.CreateEvent(ctx, body)
	if err != nil {
		appLog.Error("create event failed", err, "title", body.Title, "start", body.Start)
		c.notify.Alert(failMsg)
		return model.Event{}, err
	}
	c.insert(ev)
	appLog.Info("event created", "id", ev.ID, "start", ev.Start)
	return ev, nil
}

// insert applies a confirmed event to view and cache. If either side panics
// the cache is dropped and the view refetches, so the two never diverge.
func (c *Controller) insert(ev model.Event) {
	ok := safely("add event", func() {
		c.view.AddEvent(ev.Clone())
		c.cache.ApplyInsertion(ev)
	})
	if !ok {
		c.cache.Reset()
		safely("refetch events", c.view.RefetchEvents)
		return
	}
	c.refreshMini()
}

// Move persists a drag or resize. A zero End makes the event open-ended.
// On failure the gesture is reverted.
func (c *Controller) Move(ctx context.Context, d DropInfo) error {
	var p api.Patch
	start := timecodec.ToWire(d.Start, d.AllDay)
	p.Start = &start
	if d.End.IsZero() {
		p.ClearEnd()
	} else {
		end := timecodec.ToWire(d.End, d.AllDay)
		p.End = &end
	}

	if err := c.remote.PatchEvent(ctx, d.EventID, p); err != nil {
		appLog.Error("move event failed", err, "id", d.EventID)
		c.notify.Alert("Could not update the event.")
		if d.Revert != nil {
			safely("revert drop", d.Revert)
		}
		return err
	}

	changes := p.Changes()
	allDay := d.AllDay
	changes.AllDay = &allDay
	c.cache.ApplyUpdate(d.EventID, changes)
	c.refreshMini()
	return nil
}

// Delete removes the event once the server confirmed.
func (c *Controller) Delete(ctx context.Context, id model.EventID) error {
	if err := c.remote.DeleteEvent(ctx, id); err != nil {
		appLog.Error("delete event failed", err, "id", id)
		c.notify.Alert("Could not delete the event.")
		return err
	}
	safely("remove event", func() { c.view.RemoveEvent(id) })
	c.cache.ApplyRemoval(id)
	c.refreshMini()
	appLog.Info("event deleted", "id", id)
	return nil
}

func (c *Controller) EditNotes(ctx context.Context, id model.EventID, notes string) error {
	return c.edit(ctx, id, api.Patch{Notes: &notes})
}

// EditPractitioner assigns the event, or unassigns it when practitionerID is nil.
func (c *Controller) EditPractitioner(ctx context.Context, id model.EventID, practitionerID *int) error {
	var p api.Patch
	p.SetPractitioner(practitionerID)
	return c.edit(ctx, id, p)
}

func (c *Controller) EditColor(ctx context.Context, id model.EventID, color string) error {
	return c.edit(ctx, id, api.Patch{Color: &color})
}

func (c *Controller) edit(ctx context.Context, id model.EventID, p api.Patch) error {
	if err := c.remote.PatchEvent(ctx, id, p); err != nil {
		appLog.Error("edit event failed", err, "id", id)
		c.notify.Alert("Could not save the change.")
		return err
	}
	changes := p.Changes()
	safely("set event props", func() { c.view.SetEventProps(id, changes) })
	c.cache.ApplyUpdate(id, changes)
	return nil
}

type bounds struct {
	start, end time.Time
	allDay     bool
}

func (c *Controller) sourceBounds(ev model.Event) (bounds, error) {
	start, err := timecodec.ParseWire(ev.Start, c.loc)
	if err != nil {
		return bounds{}, fmt.Errorf("calendar: event %s start: %w", ev.ID, err)
	}
	start = start.In(c.loc)
	end := start.AddDate(0, 0, 1)
	if strings.TrimSpace(ev.End) != "" {
		if end, err = timecodec.ParseWire(ev.End, c.loc); err != nil {
			return bounds{}, fmt.Errorf("calendar: event %s end: %w", ev.ID, err)
		}
		end = end.In(c.loc)
	}
	return bounds{start: start, end: end, allDay: ev.AllDay}, nil
}

func (c *Controller) copyBody(src model.Event, start, end time.Time) api.NewEvent {
	return api.NewEvent{
		Title:          src.Title,
		Start:          timecodec.ToWire(start, src.AllDay),
		End:            timecodec.ToWire(end, src.AllDay),
		AllDay:         src.AllDay,
		Color:          DuplicateColor,
		PractitionerID: src.PractitionerID(),
	}
}

// Duplicate copies a cached event shifted by off.
func (c *Controller) Duplicate(ctx context.Context, id model.EventID, off Offset) (model.Event, error) {
	src, ok := c.cache.Lookup(id)
	if !ok {
		return model.Event{}, ErrNotFound
	}
	b, err := c.sourceBounds(src)
	if err != nil {
		return model.Event{}, err
	}
	body := c.copyBody(src, b.start.AddDate(0, off.Months, off.Days), b.end.AddDate(0, off.Months, off.Days))
	return c.createAndInsert(ctx, body, "Could not duplicate the event.")
}

// DuplicateSeries copies a cached event to every occurrence of rule after
// the source event, e.g. "FREQ=WEEKLY;COUNT=4". Rules without COUNT or UNTIL
// are capped. It stops at the first failed create and returns what was
// created so far.
func (c *Controller) DuplicateSeries(ctx context.Context, id model.EventID, rule string) ([]model.Event, error) {
	src, ok := c.cache.Lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	b, err := c.sourceBounds(src)
	if err != nil {
		return nil, err
	}
	r, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("calendar: parse rule %q: %w", rule, err)
	}
	r.DTStart(b.start)

	duration := b.end.Sub(b.start)
	occ := r.Between(b.start, b.start.AddDate(5, 0, 0), true)
	var created []model.Event
	for _, at := range occ {
		if !at.After(b.start) {
			continue
		}
		if len(created) == maxSeriesCopies {
			appLog.Warn("series truncated", "id", id, "rule", rule, "cap", maxSeriesCopies)
			break
		}
		at = at.In(c.loc)
		end := at.Add(duration)
		if src.AllDay {
			// keep whole days across DST changes
			days := int(math.Round(duration.Hours() / 24))
			end = at.AddDate(0, 0, days)
		}
		ev, err := c.createAndInsert(ctx, c.copyBody(src, at, end), "Could not duplicate the event.")
		if err != nil {
			return created, err
		}
		created = append(created, ev)
	}
	return created, nil
}

// SearchResult is where GotoResults navigated to.
type SearchResult struct {
	Count int
	View  string
	Focus time.Time
}

// Search persists q as the active query and navigates to its results.
func (c *Controller) Search(ctx context.Context, q string) (SearchResult, error) {
	if err := c.prefs.SetSearchQuery(strings.TrimSpace(q)); err != nil {
		return SearchResult{}, err
	}
	return c.GotoResults(ctx), nil
}

// GotoResults picks a list view wide enough for the span of the matching
// events and moves to the first one. Without results (or when the lookup
// fails) it falls back to the week list.
func (c *Controller) GotoResults(ctx context.Context) SearchResult {
	res := SearchResult{View: ViewListWeek}
	sr, err := c.remote.SearchRange(ctx, api.SearchQuery{
		Query:             strings.TrimSpace(c.prefs.SearchQuery()),
		PractitionerIDs:   c.prefs.SelectedPractitioners(),
		IncludeUnassigned: c.prefs.IncludeUnassigned(),
	})
	if err != nil {
		appLog.Warn("search range failed", "err", err)
	}
	res.Count = sr.Count

	first, errFirst := timecodec.ParseWire(sr.Min, c.loc)
	last, errLast := timecodec.ParseWire(sr.Max, c.loc)
	if err == nil && errFirst == nil && errLast == nil {
		end := last.AddDate(0, 0, 1)
		days := int(math.Round(end.Sub(first).Hours() / 24))
		if days < 1 {
			days = 1
		}
		switch {
		case days > 35:
			res.View = ViewListYear
		case days > 28:
			res.View = ViewListMon
		}
		res.Focus = first
	}

	safely("change view", func() { c.view.ChangeView(res.View) })
	if !res.Focus.IsZero() {
		safely("goto date", func() { c.view.GotoDate(res.Focus) })
	}
	safely("refetch events", c.view.RefetchEvents)
	return res
}

// SetSelectedPractitioners changes the practitioner filter.
func (c *Controller) SetSelectedPractitioners(ids []int) error {
	if err := c.prefs.SetSelectedPractitioners(ids); err != nil {
		return err
	}
	c.filtersChanged()
	return nil
}

func (c *Controller) SetIncludeUnassigned(v bool) error {
	if err := c.prefs.SetIncludeUnassigned(v); err != nil {
		return err
	}
	c.filtersChanged()
	return nil
}

func (c *Controller) filtersChanged() {
	safely("refetch events", c.view.RefetchEvents)
	c.refreshMini()
}

// Navigate moves the primary view and keeps the mini calendar on the same
// date.
func (c *Controller) Navigate(t time.Time) {
	safely("goto date", func() { c.view.GotoDate(t) })
	if c.mini != nil {
		c.mini.SyncDate(t)
	}
}

// HardRefresh drops every client-side cache, asks the server to drop its
// own and reloads. It reports whether the server-side clear succeeded.
func (c *Controller) HardRefresh(ctx context.Context) bool {
	c.cache.Reset()
	if c.dir != nil {
		if err := c.dir.Clear(); err != nil {
			appLog.Warn("directory snapshot not cleared", "err", err)
		}
	}
	if c.hol != nil {
		c.hol.Clear()
	}

	serverCleared := true
	if err := c.remote.ClearServerCache(ctx); err != nil {
		appLog.Warn("server cache clear failed", "err", err)
		serverCleared = false
	}

	if c.dir != nil {
		if _, err := c.dir.List(ctx); err != nil {
			appLog.Warn("directory reload failed", "err", err)
		}
	}
	safely("refetch events", c.view.RefetchEvents)
	c.refreshMini()

	if serverCleared {
		c.notify.Toast("Cache cleared and reloaded.", "success")
	} else {
		c.notify.Toast("Local cache cleared. Server cache could not be cleared.", "danger")
	}
	return serverCleared
}

func (c *Controller) refreshMini() {
	if c.mini != nil {
		c.mini.Refresh()
	}
}

// safely runs fn and recovers a panic, reporting whether fn completed.
func safely(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("view callback panicked", fmt.Errorf("%v", r), "op", what)
			ok = false
		}
	}()
	fn()
	return true
}

type logNotifier struct{}

func (logNotifier) Alert(msg string) { appLog.Warn(msg) }

func (logNotifier) Toast(msg, level string) { appLog.Info(msg, "level", level) }
