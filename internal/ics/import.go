package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "agendacal/internal/log"
)

const defaultMaxOccurrences = 500

// Item is one appointment read from an iCalendar document, ready to be
// turned into a create draft. For all-day items End is exclusive.
type Item struct {
	UID    string
	Title  string
	Notes  string
	Color  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

// ImportOptions bounds recurrence expansion.
type ImportOptions struct {
	Location    *time.Location
	WindowStart time.Time
	WindowEnd   time.Time
	// MaxOccurrences caps each recurring VEVENT; zero uses a default.
	MaxOccurrences int
}

type vevent struct {
	Item
	rule    string
	exdates []time.Time
}

// Import parses body and returns its events. Recurring events are expanded
// into [WindowStart, WindowEnd]; single events outside the window are kept
// only when no window is given. Malformed VEVENTs are skipped.
func Import(body []byte, opts ImportOptions) ([]Item, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty document")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}
	windowed := !opts.WindowStart.IsZero() && !opts.WindowEnd.IsZero()
	if windowed && opts.WindowEnd.Before(opts.WindowStart) {
		return nil, errors.New("ics: window end before start")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse: %w", err)
	}

	out := []Item{}
	for _, comp := range cal.Events() {
		ev, err := readVEvent(comp, opts.Location)
		if err != nil {
			appLog.Warn("ics import: skipping vevent", "err", err)
			continue
		}
		if ev.rule == "" {
			if !windowed || overlaps(ev.Start, ev.End, opts.WindowStart, opts.WindowEnd) {
				out = append(out, ev.Item)
			}
			continue
		}
		if !windowed {
			appLog.Warn("ics import: recurring event needs a window, keeping first occurrence", "uid", ev.UID)
			out = append(out, ev.Item)
			continue
		}
		out = append(out, expand(ev, opts)...)
	}
	appLog.Info("ics import parsed", "events", len(out))
	return out, nil
}

func readVEvent(ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var ev vevent
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Notes = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyColor); p != nil {
		ev.Color = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.AllDay = isDateValue(dtStart.Value, dtStart.ICalParameters)

	var err error
	if ev.AllDay {
		ev.Start, err = ve.GetAllDayStartAt()
		if err != nil {
			return ev, err
		}
		ev.Start = inLocationDate(ev.Start, loc)
		if end, err := ve.GetAllDayEndAt(); err == nil {
			ev.End = inLocationDate(end, loc)
		} else {
			ev.End = ev.Start.AddDate(0, 0, 1)
		}
	} else {
		ev.Start, err = ve.GetStartAt()
		if err != nil {
			return ev, err
		}
		ev.Start = ev.Start.In(loc)
		if end, err := ve.GetEndAt(); err == nil {
			ev.End = end.In(loc)
		}
	}
	if !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return ev, fmt.Errorf("uid %q ends before it starts", ev.UID)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseExdate(strings.TrimSpace(part), loc); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	return ev, nil
}

func expand(ev vevent, opts ImportOptions) []Item {
	r, err := rrule.StrToRRule(ev.rule)
	if err != nil {
		appLog.Warn("ics import: bad RRULE", "uid", ev.UID, "rrule", ev.rule, "err", err)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(opts.WindowStart.In(ev.Start.Location()), opts.WindowEnd.In(ev.Start.Location()), true)
	if len(starts) > opts.MaxOccurrences {
		appLog.Warn("ics import: occurrences truncated", "uid", ev.UID, "cap", opts.MaxOccurrences)
		starts = starts[:opts.MaxOccurrences]
	}

	out := make([]Item, 0, len(starts))
	for _, s := range starts {
		it := ev.Item
		it.Start = s
		switch {
		case ev.AllDay:
			days := int(ev.End.Sub(ev.Start).Hours()/24 + 0.5)
			if days < 1 {
				days = 1
			}
			it.End = s.AddDate(0, 0, days)
		case !ev.End.IsZero():
			it.End = s.Add(ev.End.Sub(ev.Start))
		}
		out = append(out, it)
	}
	return out
}

func isDateValue(v string, params map[string][]string) bool {
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

func inLocationDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func parseExdate(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty EXDATE")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func overlaps(start, end, ws, we time.Time) bool {
	if end.IsZero() {
		end = start
	}
	return !end.Before(ws) && !start.After(we)
}
