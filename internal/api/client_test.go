package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agendacal/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api/agenda", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	for _, in := range []string{"", "/api/agenda", "clinic.local"} {
		if _, err := NewClient(in, nil); err == nil {
			t.Errorf("NewClient(%q) succeeded", in)
		}
	}
}

func TestListEventsQuery(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	var gotPath string
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		w.Write([]byte(`[{"id":12,"title":"Canal","start":"2025-01-10 09:00:00","end":"2025-01-10 10:00:00","allDay":false,"extendedProps":{"dentista_id":3}}]`))
	})

	evs, err := c.ListEvents(context.Background(), EventQuery{
		PractitionerIDs:   []int{3, 1},
		IncludeUnassigned: true,
		Query:             "canal",
		Start:             time.Date(2024, 12, 25, 0, 0, 0, 0, loc),
		End:               time.Date(2025, 2, 8, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if gotPath != "/api/agenda/events" {
		t.Errorf("path = %q", gotPath)
	}
	want := map[string]string{
		"dentists":           "3,1",
		"include_unassigned": "1",
		"q":                  "canal",
		"start":              "2024-12-25T00:00:00",
		"end":                "2025-02-08T00:00:00",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
	if len(evs) != 1 || evs[0].ID != "12" {
		t.Fatalf("events = %+v", evs)
	}
	if id := evs[0].PractitionerID(); id == nil || *id != 3 {
		t.Fatalf("PractitionerID = %v", id)
	}
}

func TestListEventsNon2xxIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	_, err := c.ListEvents(context.Background(), EventQuery{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("err = %v, want *StatusError 502", err)
	}
}

func TestListEventsNullBodyIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	})
	evs, err := c.ListEvents(context.Background(), EventQuery{})
	if err != nil || evs == nil || len(evs) != 0 {
		t.Fatalf("ListEvents = %v, %v", evs, err)
	}
}

func TestMutationsUseBodyStatus(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantErr bool
	}{
		{"success on 200", 200, `{"status":"success"}`, false},
		{"success on 500 still success", 500, `{"status":"success"}`, false},
		{"error body on 200", 200, `{"status":"error","message":"nope"}`, true},
		{"missing status", 200, `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			})
			notes := "x"
			err := c.PatchEvent(context.Background(), "7", Patch{Notes: &notes})
			if tt.wantErr != (err != nil) {
				t.Fatalf("PatchEvent err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrRejected) {
				t.Fatalf("err = %v, want ErrRejected", err)
			}
		})
	}
}

func TestPatchEncodesOnlySetFields(t *testing.T) {
	var body map[string]any
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"status":"success"}`))
	})

	var p Patch
	p.SetPractitioner(nil)
	color := "#dc2626"
	p.Color = &color
	if err := c.PatchEvent(context.Background(), "42", p); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPatch || path != "/api/agenda/events/42" {
		t.Errorf("%s %s", method, path)
	}
	if len(body) != 2 {
		t.Fatalf("body = %v, want exactly color and dentista_id", body)
	}
	if v, ok := body["dentista_id"]; !ok || v != nil {
		t.Errorf("dentista_id = %v (present %v), want explicit null", v, ok)
	}
	if body["color"] != color {
		t.Errorf("color = %v", body["color"])
	}
}

func TestPatchChanges(t *testing.T) {
	var p Patch
	id := 5
	p.SetPractitioner(&id)
	notes := "retorno"
	p.Notes = &notes

	ev := p.Changes().Apply(model.Event{ID: "1", Extended: map[string]any{"paciente_id": 9}})
	if got := ev.PractitionerID(); got == nil || *got != 5 {
		t.Fatalf("PractitionerID = %v", got)
	}
	if ev.Notes() != "retorno" {
		t.Fatalf("Notes = %q", ev.Notes())
	}
	if ev.Extended["paciente_id"] != 9 {
		t.Fatal("unrelated extended prop lost")
	}
	if !(Patch{}).Empty() || p.Empty() {
		t.Fatal("Empty mismatch")
	}
}

func TestCreateEvent(t *testing.T) {
	var got NewEvent
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"success","event":{"id":99,"title":"Limpeza","start":"2025-11-07T18:00:00Z","end":"2025-11-07T19:00:00Z","allDay":false}}`))
	})
	id := 2
	ev, err := c.CreateEvent(context.Background(), NewEvent{
		Title: "Limpeza", Start: "2025-11-07T18:00:00.000Z", End: "2025-11-07T19:00:00.000Z", PractitionerID: &id,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != "99" || ev.Title != "Limpeza" {
		t.Fatalf("event = %+v", ev)
	}
	if got.PractitionerID == nil || *got.PractitionerID != 2 {
		t.Fatalf("sent dentista_id = %v", got.PractitionerID)
	}
}

func TestCreateEventWithoutEventPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success"}`))
	})
	_, err := c.CreateEvent(context.Background(), NewEvent{Title: "x", Start: "2025-01-01"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.Write([]byte(`{"status":"success"}`))
	})
	if err := c.DeleteEvent(context.Background(), "13"); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodDelete || path != "/api/agenda/events/13" {
		t.Fatalf("%s %s", method, path)
	}
}

func TestDirectoryHolidaysSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agenda/dentists":
			w.Write([]byte(`[{"id":1,"nome":"Ana","color":"#111111"},{"id":2,"nome":"Bruno"}]`))
		case "/api/agenda/holidays/year":
			if r.URL.Query().Get("year") != "2025" {
				t.Errorf("year = %q", r.URL.Query().Get("year"))
			}
			w.Write([]byte(`[{"date":"2025-12-25","name":"Natal","type":"national","level":"federal"}]`))
		case "/api/agenda/events/search_range":
			w.Write([]byte(`{"count":3,"min":"2025-01-02T10:00:00","max":"2025-03-01T10:00:00"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	ps, err := c.ListPractitioners(ctx)
	if err != nil || len(ps) != 2 || ps[0].Name != "Ana" {
		t.Fatalf("ListPractitioners = %+v, %v", ps, err)
	}
	hs, err := c.HolidaysForYear(ctx, 2025)
	if err != nil || len(hs) != 1 || hs[0].Name != "Natal" {
		t.Fatalf("HolidaysForYear = %+v, %v", hs, err)
	}
	sr, err := c.SearchRange(ctx, SearchQuery{Query: "x"})
	if err != nil || sr.Count != 3 || sr.Min == "" {
		t.Fatalf("SearchRange = %+v, %v", sr, err)
	}
}

func TestClearServerCache(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/api/agenda/cache/clear" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.ClearServerCache(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestPatchClearEndSendsNull(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"status":"success"}`))
	})

	var p Patch
	start := "2025-01-11T12:00:00.000Z"
	p.Start = &start
	p.ClearEnd()
	if p.Empty() {
		t.Fatal("patch with cleared end reported empty")
	}
	if err := c.PatchEvent(context.Background(), "7", p); err != nil {
		t.Fatal(err)
	}
	if v, ok := body["end"]; !ok || v != nil {
		t.Fatalf("end = %v (present %v), want explicit null", v, ok)
	}

	ev := p.Changes().Apply(model.Event{ID: "7", Start: "x", End: "2025-01-10T10:00"})
	if ev.End != "" || ev.Start != start {
		t.Fatalf("applied = %+v", ev)
	}
}
