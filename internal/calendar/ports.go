package calendar

import (
	"context"
	"time"

	"agendacal/internal/api"
	"agendacal/internal/model"
)

// View names understood by the calendar widget.
const (
	ViewMonth    = "dayGridMonth"
	ViewWeek     = "timeGridWeek"
	ViewDay      = "timeGridDay"
	ViewListWeek = "listWeek"
	ViewListMon  = "listMonth"
	ViewListYear = "listYear"
)

// View is the rendering widget. Implementations may panic; the controller
// recovers around every call it makes after a successful mutation.
type View interface {
	AddEvent(ev model.Event)
	RemoveEvent(id model.EventID)
	SetEventProps(id model.EventID, changes model.Changes)
	RefetchEvents()
	ChangeView(name string)
	GotoDate(t time.Time)
}

// Notifier presents messages to the user.
type Notifier interface {
	Alert(msg string)
	Toast(msg, level string)
}

// Remote is the subset of the API client the controller mutates through.
// *api.Client satisfies it.
type Remote interface {
	CreateEvent(ctx context.Context, ev api.NewEvent) (model.Event, error)
	PatchEvent(ctx context.Context, id model.EventID, p api.Patch) error
	DeleteEvent(ctx context.Context, id model.EventID) error
	SearchRange(ctx context.Context, q api.SearchQuery) (model.SearchRange, error)
	ClearServerCache(ctx context.Context) error
}

// NopView ignores every call. It backs the controller when no widget is
// attached, e.g. in the CLI.
type NopView struct{}

func (NopView) AddEvent(model.Event)                      {}
func (NopView) RemoveEvent(model.EventID)                 {}
func (NopView) SetEventProps(model.EventID, model.Changes) {}
func (NopView) RefetchEvents()                            {}
func (NopView) ChangeView(string)                         {}
func (NopView) GotoDate(time.Time)                        {}
