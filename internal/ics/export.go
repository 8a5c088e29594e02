// Package ics converts between cached appointments and iCalendar data.
//
// Export writes the events of the shared cache as a VCALENDAR feed; Import
// reads VEVENTs (expanding RRULEs inside a window) into create drafts.
package ics

import (
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// uidSpace namespaces the deterministic UIDs derived from event ids, so a
// calendar client sees the same UID for the same appointment on every pull.
var uidSpace = uuid.MustParse("6f1c7f0e-4a3b-5d8e-9c21-3b7a0d5e8f42")

// ExportOptions controls feed metadata.
type ExportOptions struct {
	Name     string
	Location *time.Location
	// PractitionerName resolves an id to a display name; used as CATEGORIES.
	PractitionerName func(id int) (string, bool)
	Now              func() time.Time
}

// UID returns the iCalendar UID of an event id.
func UID(id model.EventID) string {
	if id == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uidSpace, []byte(id)).String()
}

// Export writes events as an iCalendar document to w. Events whose times do
// not parse are skipped and logged.
func Export(w io.Writer, events []model.Event, opts ExportOptions) error {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	cal := ical.NewCalendarFor("agendacal")
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	stamp := now()
	skipped := 0
	for _, ev := range events {
		start, err := timecodec.ParseWire(ev.Start, loc)
		if err != nil {
			skipped++
			appLog.Warn("ics export: bad start", "id", ev.ID, "start", ev.Start)
			continue
		}
		var end time.Time
		if ev.End != "" {
			if end, err = timecodec.ParseWire(ev.End, loc); err != nil {
				skipped++
				appLog.Warn("ics export: bad end", "id", ev.ID, "end", ev.End)
				continue
			}
		}

		ve := cal.AddEvent(UID(ev.ID))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if n := ev.Notes(); n != "" {
			ve.SetDescription(n)
		}
		if ev.Color != "" {
			ve.SetColor(ev.Color)
		}
		if ev.AllDay {
			ve.SetAllDayStartAt(start.In(loc))
			if end.IsZero() {
				end = start.AddDate(0, 0, 1)
			}
			ve.SetAllDayEndAt(end.In(loc))
		} else {
			ve.SetStartAt(start)
			if !end.IsZero() {
				ve.SetEndAt(end)
			}
		}
		if pid := ev.PractitionerID(); pid != nil {
			name := strconv.Itoa(*pid)
			if opts.PractitionerName != nil {
				if n, ok := opts.PractitionerName(*pid); ok {
					name = n
				}
			}
			ve.SetProperty(ical.ComponentPropertyCategories, name)
		}
	}

	if skipped > 0 {
		appLog.Info("ics export completed with skips", "exported", len(events)-skipped, "skipped", skipped)
	}
	return cal.SerializeTo(w)
}
