package model

import (
	"bytes"
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// EventID is the server identifier of an event. The server sends integers,
// the widget may hand back strings; both are compared as strings.
type EventID string

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *EventID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = EventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = EventID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers so round trips to the server keep
// their original shape.
func (id EventID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id EventID) String() string { return string(id) }

// Keys used inside the extendedProps map.
const (
	PropNotes          = "notes"
	PropPractitionerID = "dentista_id"
	// PropLegacyPractitionerID is the older name still sent by the server.
	PropLegacyPractitionerID = "profissional_id"
	PropPatientID            = "paciente_id"
)

// Event is one calendar appointment as exchanged with the events API.
//
// Start and End keep their wire representation; they are only interpreted
// when a range check or a conversion needs a time.Time (see timecodec).
// An empty End means the event is open-ended.
type Event struct {
	ID       EventID        `json:"id"`
	Title    string         `json:"title"`
	Start    string         `json:"start"`
	End      string         `json:"end,omitempty"`
	AllDay   bool           `json:"allDay"`
	Color    string         `json:"color,omitempty"`
	Extended map[string]any `json:"extendedProps,omitempty"`
}

// Notes returns the free-text notes, if any.
func (e Event) Notes() string {
	if v, ok := e.Extended[PropNotes].(string); ok {
		return v
	}
	return ""
}

// PractitionerID returns the assigned practitioner, preferring the current
// key over the legacy one. nil means unassigned.
func (e Event) PractitionerID() *int {
	for _, k := range []string{PropPractitionerID, PropLegacyPractitionerID} {
		if id, ok := intValue(e.Extended[k]); ok {
			return &id
		}
	}
	return nil
}

// Clone returns a copy that shares no mutable state with e.
func (e Event) Clone() Event {
	out := e
	if e.Extended != nil {
		out.Extended = maps.Clone(e.Extended)
	}
	return out
}

// Changes is a partial update applied to a cached event. Nil fields are left
// untouched; Extended is merged key by key into the existing map.
type Changes struct {
	Title    *string
	Start    *string
	End      *string
	AllDay   *bool
	Color    *string
	Extended map[string]any
}

// Apply returns e with c merged in.
func (c Changes) Apply(e Event) Event {
	out := e.Clone()
	if c.Title != nil {
		out.Title = *c.Title
	}
	if c.Start != nil {
		out.Start = *c.Start
	}
	if c.End != nil {
		out.End = *c.End
	}
	if c.AllDay != nil {
		out.AllDay = *c.AllDay
	}
	if c.Color != nil {
		out.Color = *c.Color
	}
	if len(c.Extended) > 0 {
		if out.Extended == nil {
			out.Extended = make(map[string]any, len(c.Extended))
		}
		maps.Copy(out.Extended, c.Extended)
	}
	return out
}

// Practitioner is an entry of the dentist directory.
type Practitioner struct {
	ID    int    `json:"id"`
	Name  string `json:"nome"`
	Color string `json:"color,omitempty"`
}

// Holiday is one entry of the holidays-by-year endpoint.
type Holiday struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Level string `json:"level"`
}

// HolidayMeta is the per-date annotation kept by the holiday cache.
type HolidayMeta struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Level string `json:"level"`
}

// SearchRange is the response of the search_range endpoint. Min and Max are
// empty when nothing matched.
type SearchRange struct {
	Count int    `json:"count"`
	Min   string `json:"min"`
	Max   string `json:"max"`
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}
