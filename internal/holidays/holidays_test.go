package holidays

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"agendacal/internal/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[int]int
	fail  map[int]bool
	gate  chan struct{}
}

func (f *fakeFetcher) HolidaysForYear(ctx context.Context, year int) ([]model.Holiday, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[int]int{}
	}
	f.calls[year]++
	fail := f.fail[year]
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if fail {
		return nil, errors.New("unavailable")
	}
	y := strconv.Itoa(year)
	return []model.Holiday{
		{Date: y + "-01-01", Name: "Confraternização Universal", Type: "national", Level: "federal"},
		{Date: y + "-12-25", Name: "Natal", Type: "national", Level: "federal"},
	}, nil
}

func (f *fakeFetcher) count(year int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[year]
}

func TestEnsureYearOnce(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f)
	ctx := context.Background()
	c.EnsureYear(ctx, 2025)
	c.EnsureYear(ctx, 2025)
	if n := f.count(2025); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
	if meta, ok := c.Lookup("2025-12-25"); !ok || meta.Name != "Natal" {
		t.Fatalf("Lookup = %+v, %v", meta, ok)
	}
}

func TestEnsureYearConcurrentCallsShareFetch(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := New(f)
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.EnsureYear(context.Background(), 2026)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	if n := f.count(2026); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
}

func TestEnsureYearErrorSwallowedAndRetried(t *testing.T) {
	f := &fakeFetcher{fail: map[int]bool{2024: true}}
	c := New(f)
	c.EnsureYear(context.Background(), 2024)
	if _, ok := c.Years()[2024]; ok {
		t.Fatal("failed year was cached")
	}
	f.mu.Lock()
	f.fail[2024] = false
	f.mu.Unlock()
	c.EnsureYear(context.Background(), 2024)
	if _, ok := c.Years()[2024]; !ok {
		t.Fatal("retry did not cache the year")
	}
}

func TestVisibleAcrossYears(t *testing.T) {
	c := New(&fakeFetcher{})
	start := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	c.EnsureRange(context.Background(), start, end)

	got := c.Visible(start, end)
	if len(got) != 2 {
		t.Fatalf("Visible = %v", got)
	}
	if _, ok := got["2025-12-25"]; !ok {
		t.Error("missing 2025-12-25")
	}
	if _, ok := got["2026-01-01"]; !ok {
		t.Error("missing 2026-01-01")
	}
	if _, ok := got["2025-01-01"]; ok {
		t.Error("date outside range included")
	}
}

func TestClear(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f)
	c.EnsureYear(context.Background(), 2025)
	c.Clear()
	if len(c.Years()) != 0 {
		t.Fatal("Clear left years behind")
	}
	c.EnsureYear(context.Background(), 2025)
	if n := f.count(2025); n != 2 {
		t.Fatalf("fetches = %d, want 2", n)
	}
}

func TestLookupMalformed(t *testing.T) {
	c := New(&fakeFetcher{})
	if _, ok := c.Lookup("25/12/2025"); ok {
		t.Fatal("malformed date matched")
	}
}
