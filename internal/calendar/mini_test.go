package calendar

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"agendacal/internal/api"
	"agendacal/internal/eventcache"
	"agendacal/internal/holidays"
	"agendacal/internal/model"
	"agendacal/internal/prefs"
)

func TestIndicators(t *testing.T) {
	h := newHarness(t,
		model.Event{ID: "1", Start: "2025-11-14T09:00", End: "2025-11-14T10:00"},
		model.Event{ID: "2", Start: "2025-11-14T11:00", End: "2025-11-14T12:00"},
		model.Event{ID: "3", Start: "2025-11-15", End: "2025-11-17", AllDay: true},
	)
	start := time.Date(2025, 11, 14, 0, 0, 0, 0, saoPaulo)
	got := h.ctrl.mini.Indicators(context.Background(), start, start.AddDate(0, 0, 4))

	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	wantCounts := map[string]int{"2025-11-14": 2, "2025-11-15": 1, "2025-11-16": 1, "2025-11-17": 0}
	for _, ind := range got {
		if ind.Count != wantCounts[ind.Date] {
			t.Errorf("%s count = %d, want %d", ind.Date, ind.Count, wantCounts[ind.Date])
		}
	}
	if got[1].Holiday == nil || got[1].Holiday.Name != "Proclamação da República" {
		t.Fatalf("holiday on %s = %+v", got[1].Date, got[1].Holiday)
	}
	if got[0].Holiday != nil {
		t.Fatal("unexpected holiday")
	}
}

func TestIndicatorsEmptyRange(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	if got := h.ctrl.mini.Indicators(context.Background(), now, now); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestShowMonthOverridesFetchWindow(t *testing.T) {
	h := newHarness(t)
	h.ctrl.mini.ShowMonth(time.Date(2025, 3, 18, 0, 0, 0, 0, saoPaulo))
	w := h.cache.PaddedWindow(time.Date(2025, 1, 5, 0, 0, 0, 0, saoPaulo))
	want := eventcache.Window{
		Start: time.Date(2025, 2, 22, 0, 0, 0, 0, saoPaulo),
		End:   time.Date(2025, 4, 8, 0, 0, 0, 0, saoPaulo),
	}
	if !w.Start.Equal(want.Start) || !w.End.Equal(want.End) {
		t.Fatalf("window = %v, want %v", w, want)
	}

	h.ctrl.mini.SyncDate(time.Date(2025, 1, 5, 0, 0, 0, 0, saoPaulo))
	w = h.cache.PaddedWindow(time.Date(2025, 1, 5, 0, 0, 0, 0, saoPaulo))
	if !w.Start.Equal(time.Date(2024, 12, 25, 0, 0, 0, 0, saoPaulo)) {
		t.Fatalf("override survived SyncDate: %v", w)
	}
}

// rangeLister returns the events starting inside the queried window.
type rangeLister struct {
	calls atomic.Int32
	all   []model.Event
}

func (l *rangeLister) ListEvents(ctx context.Context, q api.EventQuery) ([]model.Event, error) {
	l.calls.Add(1)
	var out []model.Event
	for _, ev := range l.all {
		s, err := time.ParseInLocation("2006-01-02T15:04:05", ev.Start, saoPaulo)
		if err == nil && !s.Before(q.Start) && s.Before(q.End) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestShowMonthDoesNotHideOtherMonths(t *testing.T) {
	l := &rangeLister{all: []model.Event{
		{ID: "1", Title: "Maria", Start: "2025-03-05T09:00:00", End: "2025-03-05T10:00:00"},
		{ID: "2", Title: "João", Start: "2025-06-10T09:00:00", End: "2025-06-10T10:00:00"},
	}}
	cache := eventcache.New(prefs.New(prefs.NewMemoryStore()), l, eventcache.WithLocation(saoPaulo))
	mini := NewMini(cache, holidays.New(&fakeRemote{}), nil)
	ctx := context.Background()

	mini.ShowMonth(time.Date(2025, 3, 18, 0, 0, 0, 0, saoPaulo))
	if got, err := cache.Events(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, saoPaulo), time.Date(2025, 4, 1, 0, 0, 0, 0, saoPaulo)); err != nil || len(got) != 1 {
		t.Fatalf("march = %v, %v", got, err)
	}

	// the primary calendar jumps to June while the mini still shows March
	got, err := cache.Events(ctx, time.Date(2025, 6, 9, 0, 0, 0, 0, saoPaulo), time.Date(2025, 6, 16, 0, 0, 0, 0, saoPaulo))
	if err != nil || len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("june = %v, %v", got, err)
	}
	if n := l.calls.Load(); n != 2 {
		t.Fatalf("lister calls = %d, want 2", n)
	}
}

func TestMiniEventsReadOnlyFromCache(t *testing.T) {
	h := newHarness(t, model.Event{ID: "1", Start: "2025-06-02T09:00"})
	got := h.ctrl.mini.Events(time.Date(2025, 6, 1, 0, 0, 0, 0, saoPaulo), time.Date(2025, 7, 1, 0, 0, 0, 0, saoPaulo))
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

type panickyView struct{ NopView }

func (panickyView) RefetchEvents() { panic("gone") }

func TestMiniRefreshSwallowsPanics(t *testing.T) {
	h := newHarness(t)
	m := NewMini(h.cache, nil, panickyView{})
	m.Refresh()
}
