package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agendacal/internal/model"
)

var saoPaulo = time.FixedZone("UTC-3", -3*60*60)

func TestExport(t *testing.T) {
	events := []model.Event{
		{ID: "12", Title: "Canal", Start: "2025-11-07T18:00:00Z", End: "2025-11-07T19:00:00Z",
			Color: "#dc2626", Extended: map[string]any{"notes": "anestesia", "dentista_id": 3}},
		{ID: "13", Title: "Congresso", Start: "2025-11-10", End: "2025-11-12", AllDay: true},
		{ID: "14", Title: "Quebrado", Start: "ontem"},
	}
	var buf bytes.Buffer
	err := Export(&buf, events, ExportOptions{
		Name:     "Agenda",
		Location: saoPaulo,
		PractitionerName: func(id int) (string, bool) {
			return "Dra. Ana", id == 3
		},
		Now: func() time.Time { return time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"X-WR-CALNAME:Agenda",
		"SUMMARY:Canal",
		"DTSTART:20251107T180000Z",
		"DESCRIPTION:anestesia",
		"CATEGORIES:Dra. Ana",
		"DTSTART;VALUE=DATE:20251110",
		"DTEND;VALUE=DATE:20251112",
		"UID:" + UID("12"),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export lacks %q", want)
		}
	}
	if strings.Contains(out, "Quebrado") {
		t.Error("event with unparsable start exported")
	}
}

func TestUIDStable(t *testing.T) {
	if UID("12") != UID("12") {
		t.Fatal("UID not deterministic")
	}
	if UID("12") == UID("13") {
		t.Fatal("distinct ids share a UID")
	}
	if UID("") == UID("") {
		t.Fatal("empty ids should get random UIDs")
	}
}

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:single@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"SUMMARY:Avaliação\r\n" +
	"DESCRIPTION:primeira consulta\r\n" +
	"DTSTART:20250110T120000Z\r\n" +
	"DTEND:20250110T130000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"SUMMARY:Manutenção\r\n" +
	"DTSTART:20250106T120000Z\r\n" +
	"DTEND:20250106T123000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=10\r\n" +
	"EXDATE:20250113T120000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allday@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"SUMMARY:Recesso\r\n" +
	"DTSTART;VALUE=DATE:20250115\r\n" +
	"DTEND;VALUE=DATE:20250117\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestImport(t *testing.T) {
	items, err := Import([]byte(sample), ImportOptions{
		Location:    saoPaulo,
		WindowStart: time.Date(2025, 1, 1, 0, 0, 0, 0, saoPaulo),
		WindowEnd:   time.Date(2025, 1, 31, 0, 0, 0, 0, saoPaulo),
	})
	if err != nil {
		t.Fatal(err)
	}

	var single, weekly, allDay []Item
	for _, it := range items {
		switch it.UID {
		case "single@test":
			single = append(single, it)
		case "weekly@test":
			weekly = append(weekly, it)
		case "allday@test":
			allDay = append(allDay, it)
		}
	}
	if len(single) != 1 || single[0].Notes != "primeira consulta" || single[0].Start.Hour() != 9 {
		t.Fatalf("single = %+v", single)
	}
	// Jan 6, 20, 27; Jan 13 is excluded
	if len(weekly) != 3 {
		t.Fatalf("weekly occurrences = %d, want 3", len(weekly))
	}
	for _, it := range weekly {
		if it.End.Sub(it.Start) != 30*time.Minute {
			t.Errorf("occurrence duration = %v", it.End.Sub(it.Start))
		}
		if it.Start.Day() == 13 {
			t.Error("EXDATE not applied")
		}
	}
	if len(allDay) != 1 || !allDay[0].AllDay {
		t.Fatalf("allDay = %+v", allDay)
	}
	if got := allDay[0].Start; got.Day() != 15 || got.Location() != saoPaulo {
		t.Fatalf("all-day start = %v", got)
	}
	if got := allDay[0].End; got.Day() != 17 {
		t.Fatalf("all-day end = %v", got)
	}
}

func TestImportRejectsEmpty(t *testing.T) {
	if _, err := Import(nil, ImportOptions{}); err == nil {
		t.Fatal("empty document accepted")
	}
}

func TestLoaderLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.ics")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	b, cached, err := NewLoader("", 0).Load(context.Background(), path)
	if err != nil || cached || len(b) != len(sample) {
		t.Fatalf("Load = %d bytes, cached %v, err %v", len(b), cached, err)
	}
}

func TestLoaderRevalidatesWithETag(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(sample))
	}))
	defer srv.Close()

	l := NewLoader(t.TempDir(), time.Second)
	ctx := context.Background()
	url := srv.URL + "/feed.ics?token=secret"

	if _, cached, err := l.Load(ctx, url); err != nil || cached {
		t.Fatalf("first load cached=%v err=%v", cached, err)
	}
	b, cached, err := l.Load(ctx, url)
	if err != nil || !cached || len(b) != len(sample) {
		t.Fatalf("second load cached=%v err=%v", cached, err)
	}
	down.Store(true)
	if _, cached, err := l.Load(ctx, url); err != nil || !cached {
		t.Fatalf("fallback load cached=%v err=%v", cached, err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestRedact(t *testing.T) {
	if got := redact("https://cal.example.com/private/x.ics?token=abc"); got != "https://cal.example.com/..." {
		t.Fatalf("redact = %q", got)
	}
	if !IsRemote("HTTPS://x") || IsRemote("/tmp/x.ics") {
		t.Fatal("IsRemote mismatch")
	}
}
