// Package eventcache owns the in-memory event store shared by the primary
// and mini calendars.
//
// Events are cached for exactly one filter key at a time together with a
// coverage window [start, end) in which the cache is known to be complete.
// Reads outside the coverage (or for another key) go to the network through
// a single coalescing fetch per (filter key, padded window).
package eventcache

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agendacal/internal/api"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// DefaultPaddingDays widens the fetched month on both sides.
const DefaultPaddingDays = 7

// FilterSource exposes the current filter state. *prefs.Preferences
// satisfies it.
type FilterSource interface {
	SelectedPractitioners() []int
	IncludeUnassigned() bool
	SearchQuery() string
}

// Lister fetches events from the remote API. *api.Client satisfies it.
type Lister interface {
	ListEvents(ctx context.Context, q api.EventQuery) ([]model.Event, error)
}

// Window is a half-open time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	filters FilterSource
	lister  Lister
	loc     *time.Location
	padDays int

	mu       sync.RWMutex
	key      string
	covered  bool
	covStart time.Time
	covEnd   time.Time
	events   []model.Event
	override *Window
	// gen changes on Reset; fetches started under an older gen do not store.
	gen uint64

	fetches singleflight.Group
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLocation sets the zone used for naive timestamps and month math.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithPaddingDays overrides DefaultPaddingDays. Negative values are ignored.
func WithPaddingDays(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.padDays = n
		}
	}
}

func New(filters FilterSource, lister Lister, opts ...Option) *Coordinator {
	c := &Coordinator{
		filters: filters,
		lister:  lister,
		loc:     time.Local,
		padDays: DefaultPaddingDays,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the zone the coordinator interprets wall-clock times in.
func (c *Coordinator) Location() *time.Location { return c.loc }

type filterState struct {
	ids               []int
	includeUnassigned bool
	query             string
}

func (c *Coordinator) snapshot() filterState {
	ids := slices.Clone(c.filters.SelectedPractitioners())
	sort.Ints(ids)
	return filterState{
		ids:               ids,
		includeUnassigned: c.filters.IncludeUnassigned(),
		query:             strings.TrimSpace(c.filters.SearchQuery()),
	}
}

func (f filterState) key() string {
	parts := make([]string, len(f.ids))
	for i, id := range f.ids {
		parts[i] = strconv.Itoa(id)
	}
	flag := ""
	if f.includeUnassigned {
		flag = "1"
	}
	return strings.Join(parts, ",") + "|" + flag + "|" + f.query
}

// FilterKey derives the cache partition key from the current filter state:
// sorted practitioner ids, the unassigned flag and the trimmed query.
func (c *Coordinator) FilterKey() string {
	return c.snapshot().key()
}

// CoversRange reports whether the cache holds every event of [start, end)
// for key.
func (c *Coordinator) CoversRange(start, end time.Time, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coversLocked(start, end, key)
}

func (c *Coordinator) coversLocked(start, end time.Time, key string) bool {
	if !c.covered || c.key != key {
		return false
	}
	return !c.covStart.After(start) && !c.covEnd.Before(end)
}

// ReadRange returns copies of the cached events intersecting [start, end).
// A key other than the cached one yields an empty slice. Events whose
// timestamps do not parse are left out.
func (c *Coordinator) ReadRange(start, end time.Time, key string) []model.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []model.Event{}
	if c.key != key {
		return out
	}
	for _, ev := range c.events {
		if c.intersects(ev, start, end) {
			out = append(out, ev.Clone())
		}
	}
	return out
}

func (c *Coordinator) intersects(ev model.Event, rs, re time.Time) bool {
	s, err := timecodec.ParseWire(ev.Start, c.loc)
	if err != nil {
		return false
	}
	if !s.Before(re) {
		return false
	}
	if strings.TrimSpace(ev.End) == "" {
		return true
	}
	e, err := timecodec.ParseWire(ev.End, c.loc)
	if err != nil {
		return false
	}
	if e.Equal(s) {
		// zero-length events sit at a single instant
		return !s.Before(rs)
	}
	return e.After(rs)
}

// Store records a fetch result. A different key (or no coverage yet) replaces
// the cache wholesale; the same key merges by id, later write wins, and
// widens the coverage window.
func (c *Coordinator) Store(list []model.Event, start, end time.Time, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(list, start, end, key)
}

func (c *Coordinator) storeLocked(list []model.Event, start, end time.Time, key string) {
	if c.key != key || !c.covered {
		c.key = key
		c.covered = true
		c.covStart, c.covEnd = start, end
		c.events = make([]model.Event, 0, len(list))
		seen := make(map[model.EventID]int, len(list))
		for _, ev := range list {
			if i, ok := seen[ev.ID]; ok {
				c.events[i] = ev.Clone()
				continue
			}
			seen[ev.ID] = len(c.events)
			c.events = append(c.events, ev.Clone())
		}
		return
	}

	idx := make(map[model.EventID]int, len(c.events))
	for i, ev := range c.events {
		idx[ev.ID] = i
	}
	for _, ev := range list {
		if i, ok := idx[ev.ID]; ok {
			c.events[i] = ev.Clone()
			continue
		}
		idx[ev.ID] = len(c.events)
		c.events = append(c.events, ev.Clone())
	}
	if start.Before(c.covStart) {
		c.covStart = start
	}
	if end.After(c.covEnd) {
		c.covEnd = end
	}
}

// ApplyUpdate merges changes into the cached event with id. It returns the
// updated copy, or false when the id is not cached. Coverage is untouched.
func (c *Coordinator) ApplyUpdate(id model.EventID, changes model.Changes) (model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.events {
		if ev.ID == id {
			c.events[i] = changes.Apply(ev)
			return c.events[i].Clone(), true
		}
	}
	return model.Event{}, false
}

// ApplyRemoval drops the event with id. Removing an absent id is a no-op.
func (c *Coordinator) ApplyRemoval(id model.EventID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = slices.DeleteFunc(c.events, func(ev model.Event) bool { return ev.ID == id })
}

// ApplyInsertion appends ev unless an event with the same id is cached.
// Events without an id are not cached.
func (c *Coordinator) ApplyInsertion(ev model.Event) {
	if ev.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.ContainsFunc(c.events, func(x model.Event) bool { return x.ID == ev.ID }) {
		return
	}
	c.events = append(c.events, ev.Clone())
}

// Lookup returns a copy of the cached event with id.
func (c *Coordinator) Lookup(id model.EventID) (model.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ev := range c.events {
		if ev.ID == id {
			return ev.Clone(), true
		}
	}
	return model.Event{}, false
}

// Coverage returns the cached key and coverage window.
func (c *Coordinator) Coverage() (key string, w Window, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key, Window{Start: c.covStart, End: c.covEnd}, c.covered
}

// Len returns the number of cached events.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Reset forgets key, coverage and events. Fetches already in flight still
// complete but their results are dropped, and later reads start new fetches.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.key = ""
	c.covered = false
	c.covStart, c.covEnd = time.Time{}, time.Time{}
	c.events = nil
}

// SetMonthOverride pins the fetched window to w (before padding) regardless
// of the requested range. The mini calendar uses it to fetch the month it
// displays.
func (c *Coordinator) SetMonthOverride(w Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = &w
}

func (c *Coordinator) ClearMonthOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = nil
}

// PaddedWindow returns the window fetched for a request starting at focus:
// the month containing focus (or the override), padded on both sides and
// truncated to start of day.
func (c *Coordinator) PaddedWindow(focus time.Time) Window {
	c.mu.RLock()
	override := c.override
	c.mu.RUnlock()

	return c.paddedMonth(focus, override)
}

func (c *Coordinator) paddedMonth(focus time.Time, override *Window) Window {
	var monthStart, monthEnd time.Time
	if override != nil && !override.Start.IsZero() {
		f := override.Start.In(c.loc)
		monthStart = time.Date(f.Year(), f.Month(), 1, 0, 0, 0, 0, c.loc)
		if override.End.IsZero() {
			monthEnd = monthStart.AddDate(0, 1, 0)
		} else {
			monthEnd = override.End.In(c.loc)
		}
	} else {
		f := focus.In(c.loc)
		monthStart = time.Date(f.Year(), f.Month(), 1, 0, 0, 0, 0, c.loc)
		monthEnd = monthStart.AddDate(0, 1, 0)
	}
	return Window{
		Start: timecodec.StartOfDay(monthStart.AddDate(0, 0, -c.padDays)),
		End:   timecodec.StartOfDay(monthEnd.AddDate(0, 0, c.padDays)),
	}
}

// FetchWindow returns the window fetched to answer [start, end): the padded
// month override, the padded month of start, or the padded month that start
// falls into the leading margin of, whichever first contains the request.
// A request none of them contains is padded on its own past the month end.
func (c *Coordinator) FetchWindow(start, end time.Time) Window {
	c.mu.RLock()
	override := c.override
	c.mu.RUnlock()

	if override != nil {
		if w := c.paddedMonth(start, override); contains(w, start, end) {
			return w
		}
	}
	w := c.paddedMonth(start, nil)
	if contains(w, start, end) {
		return w
	}
	if next := c.paddedMonth(start.AddDate(0, 0, c.padDays), nil); contains(next, start, end) {
		return next
	}
	if end.After(w.End) {
		e := timecodec.StartOfDay(end.AddDate(0, 0, c.padDays))
		if e.Before(end) {
			e = e.AddDate(0, 0, 1)
		}
		w.End = e
	}
	return w
}

func contains(w Window, start, end time.Time) bool {
	return !w.Start.After(start) && !w.End.Before(end)
}

// Events serves [start, end) for the current filter state. When the padded
// window is covered it answers from memory; otherwise it joins or starts the
// fetch for that window and answers from the cache once the fetch settled.
// A failed fetch leaves previously cached data in place.
func (c *Coordinator) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	fs := c.snapshot()
	key := fs.key()
	win := c.FetchWindow(start, end)

	if c.CoversRange(win.Start, win.End, key) {
		return c.ReadRange(start, end, key), nil
	}

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	dedup := strconv.FormatUint(gen, 10) + "|" + key + "|" +
		win.Start.UTC().Format(time.RFC3339) + "|" + win.End.UTC().Format(time.RFC3339)
	ch := c.fetches.DoChan(dedup, func() (any, error) {
		return nil, c.fetch(context.WithoutCancel(ctx), fs, key, win, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}
	return c.ReadRange(start, end, key), nil
}

// ErrNoLister is returned by Events when the coordinator was built without
// a Lister.
var ErrNoLister = errors.New("eventcache: no lister configured")

func (c *Coordinator) fetch(ctx context.Context, fs filterState, key string, win Window, gen uint64) error {
	if c.lister == nil {
		return ErrNoLister
	}
	started := time.Now()
	list, err := c.lister.ListEvents(ctx, api.EventQuery{
		PractitionerIDs:   fs.ids,
		IncludeUnassigned: fs.includeUnassigned,
		Query:             fs.query,
		Start:             win.Start,
		End:               win.End,
	})
	if err != nil {
		appLog.Error("event fetch failed", err, "key", key, "start", win.Start, "end", win.End)
		return err
	}

	// The filter may have changed while the request was out; a late answer
	// for an old key must not replace the current cache.
	if current := c.FilterKey(); current != key {
		appLog.Debug("discarding stale event fetch", "fetched_key", key, "current_key", current)
		return nil
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		appLog.Debug("discarding event fetch started before reset", "key", key)
		return nil
	}
	c.storeLocked(list, win.Start, win.End, key)
	c.mu.Unlock()
	appLog.Debug("events cached", "key", key, "count", len(list), "elapsed", time.Since(started))
	return nil
}
