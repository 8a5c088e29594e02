package api

import (
	"encoding/json"

	"agendacal/internal/model"
)

// Patch is a partial event update. Only the fields that were set are sent.
// The practitioner and the end can be cleared explicitly, which goes out as
// "dentista_id": null and "end": null.
type Patch struct {
	Start  *string
	End    *string
	AllDay *bool
	Notes  *string
	Color  *string

	practitionerSet bool
	practitioner    *int
	endCleared      bool
}

// SetPractitioner assigns id, or clears the assignment when id is nil.
func (p *Patch) SetPractitioner(id *int) {
	p.practitionerSet = true
	p.practitioner = id
}

// ClearEnd makes the event open-ended. It overrides End.
func (p *Patch) ClearEnd() {
	p.End = nil
	p.endCleared = true
}

// Practitioner reports the practitioner change carried by p.
func (p Patch) Practitioner() (id *int, set bool) {
	return p.practitioner, p.practitionerSet
}

// Empty reports whether p carries no change.
func (p Patch) Empty() bool {
	return p.Start == nil && p.End == nil && p.AllDay == nil && p.Notes == nil &&
		p.Color == nil && !p.practitionerSet && !p.endCleared
}

func (p Patch) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 6)
	if p.Start != nil {
		m["start"] = *p.Start
	}
	if p.endCleared {
		m["end"] = nil
	} else if p.End != nil {
		m["end"] = *p.End
	}
	if p.AllDay != nil {
		m["allDay"] = *p.AllDay
	}
	if p.Notes != nil {
		m["notes"] = *p.Notes
	}
	if p.Color != nil {
		m["color"] = *p.Color
	}
	if p.practitionerSet {
		if p.practitioner == nil {
			m[model.PropPractitionerID] = nil
		} else {
			m[model.PropPractitionerID] = *p.practitioner
		}
	}
	return json.Marshal(m)
}

// Changes converts p into the cache-side representation. Notes and the
// practitioner live in extendedProps.
func (p Patch) Changes() model.Changes {
	c := model.Changes{
		Start:  p.Start,
		End:    p.End,
		AllDay: p.AllDay,
		Color:  p.Color,
	}
	if p.endCleared {
		open := ""
		c.End = &open
	}
	ext := map[string]any{}
	if p.Notes != nil {
		ext[model.PropNotes] = *p.Notes
	}
	if p.practitionerSet {
		if p.practitioner == nil {
			ext[model.PropPractitionerID] = nil
			ext[model.PropLegacyPractitionerID] = nil
		} else {
			ext[model.PropPractitionerID] = *p.practitioner
			ext[model.PropLegacyPractitionerID] = *p.practitioner
		}
	}
	if len(ext) > 0 {
		c.Extended = ext
	}
	return c
}
