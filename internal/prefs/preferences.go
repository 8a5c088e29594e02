package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agendacal/internal/model"
)

// Recognized keys. The names match what earlier clients stored so an
// exported preference file keeps working.
const (
	KeySelectedPractitioners = "selectedDentists"
	KeyIncludeUnassigned     = "includeUnassigned"
	KeySearchQuery           = "calendarSearchQuery"
	KeyTheme                 = "calendarTheme"
	KeyCompactOverride       = "calendarCompactOverride"
	KeyDefaultDuration       = "defaultEventDurationMin"
	KeyWeekends              = "timeGridWeek_weekends"
	KeyDirectorySnapshot     = "dentistsCacheV1"
)

// Compacting override values.
const (
	CompactAuto    = "auto"
	CompactCompact = "compact"
	CompactUltra   = "ultra"
)

const (
	DefaultTheme           = "default"
	DefaultDurationMinutes = 60
)

// ErrInvalidValue is returned when a setter receives a value outside its domain.
var ErrInvalidValue = errors.New("prefs: invalid value")

// Keys lists every recognized key, in display order.
var Keys = []string{
	KeySelectedPractitioners,
	KeyIncludeUnassigned,
	KeySearchQuery,
	KeyTheme,
	KeyCompactOverride,
	KeyDefaultDuration,
	KeyWeekends,
	KeyDirectorySnapshot,
}

// Preferences gives typed access to a Store. Getters never fail: an absent
// or unreadable value yields the documented default.
type Preferences struct {
	kv Store
}

// New wraps kv.
func New(kv Store) *Preferences {
	return &Preferences{kv: kv}
}

// SelectedPractitioners returns the saved practitioner ids, in saved order.
func (p *Preferences) SelectedPractitioners() []int {
	raw, ok := p.kv.Get(KeySelectedPractitioners)
	if !ok || raw == "" {
		return []int{}
	}
	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return []int{}
	}
	return ids
}

func (p *Preferences) SetSelectedPractitioners(ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return p.kv.Set(KeySelectedPractitioners, string(b))
}

func (p *Preferences) IncludeUnassigned() bool {
	v, _ := p.kv.Get(KeyIncludeUnassigned)
	return v == "true"
}

func (p *Preferences) SetIncludeUnassigned(v bool) error {
	return p.kv.Set(KeyIncludeUnassigned, strconv.FormatBool(v))
}

func (p *Preferences) SearchQuery() string {
	v, _ := p.kv.Get(KeySearchQuery)
	return v
}

func (p *Preferences) SetSearchQuery(q string) error {
	return p.kv.Set(KeySearchQuery, q)
}

func (p *Preferences) Theme() string {
	if v, ok := p.kv.Get(KeyTheme); ok && v != "" {
		return v
	}
	return DefaultTheme
}

func (p *Preferences) SetTheme(theme string) error {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return fmt.Errorf("%w: empty theme", ErrInvalidValue)
	}
	return p.kv.Set(KeyTheme, theme)
}

// CompactOverride returns auto, compact or ultra.
func (p *Preferences) CompactOverride() string {
	v, _ := p.kv.Get(KeyCompactOverride)
	switch v {
	case CompactCompact, CompactUltra:
		return v
	default:
		return CompactAuto
	}
}

func (p *Preferences) SetCompactOverride(v string) error {
	switch v {
	case CompactAuto, CompactCompact, CompactUltra:
		return p.kv.Set(KeyCompactOverride, v)
	default:
		return fmt.Errorf("%w: compact override %q", ErrInvalidValue, v)
	}
}

// DefaultDuration is applied to timed events created without an end.
func (p *Preferences) DefaultDuration() time.Duration {
	return time.Duration(p.DefaultDurationMinutes()) * time.Minute
}

func (p *Preferences) DefaultDurationMinutes() int {
	v, _ := p.kv.Get(KeyDefaultDuration)
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return DefaultDurationMinutes
	}
	return n
}

func (p *Preferences) SetDefaultDurationMinutes(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: duration %d", ErrInvalidValue, n)
	}
	return p.kv.Set(KeyDefaultDuration, strconv.Itoa(n))
}

// Weekends reports whether week views show Saturday and Sunday.
func (p *Preferences) Weekends() bool {
	v, ok := p.kv.Get(KeyWeekends)
	if !ok {
		return true
	}
	return v != "false"
}

func (p *Preferences) SetWeekends(v bool) error {
	return p.kv.Set(KeyWeekends, strconv.FormatBool(v))
}

type directorySnapshot struct {
	List []model.Practitioner `json:"list"`
	At   int64                `json:"at"` // unix millis
}

// DirectorySnapshot returns the stored practitioner list and when it was saved.
func (p *Preferences) DirectorySnapshot() ([]model.Practitioner, time.Time, bool) {
	raw, ok := p.kv.Get(KeyDirectorySnapshot)
	if !ok || raw == "" {
		return nil, time.Time{}, false
	}
	var snap directorySnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.List == nil || snap.At == 0 {
		return nil, time.Time{}, false
	}
	return snap.List, time.UnixMilli(snap.At), true
}

func (p *Preferences) SaveDirectorySnapshot(list []model.Practitioner, at time.Time) error {
	if list == nil {
		list = []model.Practitioner{}
	}
	b, err := json.Marshal(directorySnapshot{List: list, At: at.UnixMilli()})
	if err != nil {
		return err
	}
	return p.kv.Set(KeyDirectorySnapshot, string(b))
}

func (p *Preferences) ClearDirectorySnapshot() error {
	return p.kv.Delete(KeyDirectorySnapshot)
}

// Export returns the raw stored value of every recognized key that is set.
func (p *Preferences) Export() map[string]string {
	out := make(map[string]string, len(Keys))
	for _, k := range Keys {
		if v, ok := p.kv.Get(k); ok {
			out[k] = v
		}
	}
	return out
}
