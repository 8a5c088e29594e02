package model

import (
	"encoding/json"
	"testing"
)

func TestEventIDJSON(t *testing.T) {
	tests := []struct {
		in   string
		want EventID
		out  string
	}{
		{`42`, "42", `42`},
		{`"42"`, "42", `42`},
		{`"tmp-a1"`, "tmp-a1", `"tmp-a1"`},
		{`null`, "", `null`},
	}
	for _, tt := range tests {
		var id EventID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("unmarshal %s = %q, want %q", tt.in, id, tt.want)
		}
		b, err := json.Marshal(id)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.out {
			t.Errorf("marshal %q = %s, want %s", id, b, tt.out)
		}
	}
}

func TestPractitionerID(t *testing.T) {
	tests := []struct {
		name string
		ext  map[string]any
		want int
		nil_ bool
	}{
		{"none", nil, 0, true},
		{"float from json", map[string]any{PropPractitionerID: float64(3)}, 3, false},
		{"legacy key", map[string]any{PropLegacyPractitionerID: "7"}, 7, false},
		{"current wins", map[string]any{PropPractitionerID: 2, PropLegacyPractitionerID: 9}, 2, false},
		{"null value", map[string]any{PropPractitionerID: nil}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Event{Extended: tt.ext}.PractitionerID()
			if tt.nil_ {
				if got != nil {
					t.Fatalf("got %d, want nil", *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Fatalf("got %v, want %d", got, tt.want)
			}
		})
	}
}

func TestChangesApplyDoesNotAlias(t *testing.T) {
	orig := Event{ID: "1", Title: "Maria", Extended: map[string]any{PropNotes: "a"}}
	title := "Maria Silva"
	got := Changes{Title: &title, Extended: map[string]any{PropNotes: "b"}}.Apply(orig)

	if got.Title != "Maria Silva" || got.Notes() != "b" {
		t.Fatalf("applied = %+v", got)
	}
	if orig.Title != "Maria" || orig.Notes() != "a" {
		t.Fatalf("original mutated: %+v", orig)
	}
}

func TestChangesApplyCreatesExtended(t *testing.T) {
	got := Changes{Extended: map[string]any{PropPractitionerID: 4}}.Apply(Event{ID: "1"})
	if id := got.PractitionerID(); id == nil || *id != 4 {
		t.Fatalf("PractitionerID = %v", id)
	}
}
