package prefs

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agendacal/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newTestSQLite(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			if _, ok := s.Get("missing"); ok {
				t.Fatal("Get on empty store reported a value")
			}
			if err := s.Set("k", "v1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set("k", "v2"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			if v, ok := s.Get("k"); !ok || v != "v2" {
				t.Fatalf("Get = %q,%v want v2,true", v, ok)
			}
			if err := s.Delete("k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete("k"); err != nil {
				t.Fatalf("Delete absent key: %v", err)
			}
			if _, ok := s.Get("k"); ok {
				t.Fatal("key still present after Delete")
			}
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := New(s).SetSelectedPractitioners([]int{3, 1}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got := New(s2).SelectedPractitioners()
	if len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Fatalf("SelectedPractitioners after reopen = %v, want [3 1]", got)
	}
}

func TestPreferencesDefaults(t *testing.T) {
	p := New(NewMemoryStore())
	if ids := p.SelectedPractitioners(); len(ids) != 0 {
		t.Errorf("SelectedPractitioners = %v, want empty", ids)
	}
	if p.IncludeUnassigned() {
		t.Error("IncludeUnassigned default should be false")
	}
	if p.SearchQuery() != "" {
		t.Error("SearchQuery default should be empty")
	}
	if p.Theme() != DefaultTheme {
		t.Errorf("Theme = %q", p.Theme())
	}
	if p.CompactOverride() != CompactAuto {
		t.Errorf("CompactOverride = %q", p.CompactOverride())
	}
	if p.DefaultDuration() != 60*time.Minute {
		t.Errorf("DefaultDuration = %v", p.DefaultDuration())
	}
	if !p.Weekends() {
		t.Error("Weekends default should be true")
	}
}

func TestPreferencesTolerateGarbage(t *testing.T) {
	kv := NewMemoryStore()
	kv.Set(KeySelectedPractitioners, "{not json")
	kv.Set(KeyDefaultDuration, "-15")
	kv.Set(KeyCompactOverride, "huge")
	kv.Set(KeyDirectorySnapshot, `{"list":null,"at":0}`)
	p := New(kv)

	if ids := p.SelectedPractitioners(); len(ids) != 0 {
		t.Errorf("SelectedPractitioners = %v, want empty", ids)
	}
	if p.DefaultDurationMinutes() != DefaultDurationMinutes {
		t.Errorf("DefaultDurationMinutes = %d", p.DefaultDurationMinutes())
	}
	if p.CompactOverride() != CompactAuto {
		t.Errorf("CompactOverride = %q", p.CompactOverride())
	}
	if _, _, ok := p.DirectorySnapshot(); ok {
		t.Error("DirectorySnapshot accepted an empty snapshot")
	}
}

func TestPreferencesSetters(t *testing.T) {
	p := New(NewMemoryStore())

	if err := p.SetIncludeUnassigned(true); err != nil || !p.IncludeUnassigned() {
		t.Fatalf("SetIncludeUnassigned: err=%v value=%v", err, p.IncludeUnassigned())
	}
	if err := p.SetCompactOverride(CompactUltra); err != nil || p.CompactOverride() != CompactUltra {
		t.Fatalf("SetCompactOverride: err=%v value=%q", err, p.CompactOverride())
	}
	if err := p.SetCompactOverride("tiny"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("SetCompactOverride(tiny) err = %v, want ErrInvalidValue", err)
	}
	if err := p.SetDefaultDurationMinutes(0); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("SetDefaultDurationMinutes(0) err = %v", err)
	}
	if err := p.SetDefaultDurationMinutes(30); err != nil || p.DefaultDuration() != 30*time.Minute {
		t.Fatalf("SetDefaultDurationMinutes(30): err=%v value=%v", err, p.DefaultDuration())
	}
	if err := p.SetWeekends(false); err != nil || p.Weekends() {
		t.Fatalf("SetWeekends(false): err=%v value=%v", err, p.Weekends())
	}
	if err := p.SetTheme("  "); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("SetTheme(blank) err = %v", err)
	}
}

func TestDirectorySnapshot(t *testing.T) {
	p := New(NewMemoryStore())
	at := time.UnixMilli(1_700_000_000_000)
	list := []model.Practitioner{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Bruno", Color: "#123456"}}
	if err := p.SaveDirectorySnapshot(list, at); err != nil {
		t.Fatal(err)
	}
	got, gotAt, ok := p.DirectorySnapshot()
	if !ok {
		t.Fatal("DirectorySnapshot missing after save")
	}
	if !gotAt.Equal(at) {
		t.Errorf("saved at %v, want %v", gotAt, at)
	}
	if len(got) != 2 || got[1].Color != "#123456" {
		t.Errorf("snapshot = %+v", got)
	}
	if err := p.ClearDirectorySnapshot(); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := p.DirectorySnapshot(); ok {
		t.Error("snapshot still present after clear")
	}
}

func TestExportOnlyRecognizedKeys(t *testing.T) {
	kv := NewMemoryStore()
	kv.Set("somethingElse", "x")
	p := New(kv)
	p.SetSearchQuery("canal")
	got := p.Export()
	if len(got) != 1 || got[KeySearchQuery] != "canal" {
		t.Fatalf("Export = %v", got)
	}
}
