// Package holidays caches holiday dates per calendar year and merges them
// into the range a calendar is currently showing.
package holidays

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// Fetcher loads one year. *api.Client satisfies it.
type Fetcher interface {
	HolidaysForYear(ctx context.Context, year int) ([]model.Holiday, error)
}

type yearEntry struct {
	dates map[string]model.HolidayMeta
}

type Cache struct {
	fetcher Fetcher

	mu      sync.RWMutex
	years   map[int]yearEntry
	pending map[int]struct{}
	gen     int

	group singleflight.Group
}

func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		years:   make(map[int]yearEntry),
		pending: make(map[int]struct{}),
	}
}

// EnsureYear loads year once per session. A failed fetch is logged and
// leaves the year uncached so a later call retries.
func (c *Cache) EnsureYear(ctx context.Context, year int) {
	c.mu.RLock()
	_, ok := c.years[year]
	c.mu.RUnlock()
	if ok {
		return
	}

	ch := c.group.DoChan(strconv.Itoa(year), func() (any, error) {
		c.mu.Lock()
		c.pending[year] = struct{}{}
		gen := c.gen
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			if c.gen == gen {
				delete(c.pending, year)
			}
			c.mu.Unlock()
		}()

		list, err := c.fetcher.HolidaysForYear(context.WithoutCancel(ctx), year)
		if err != nil {
			appLog.Warn("holiday fetch failed", "year", year, "err", err)
			return nil, err
		}
		entry := yearEntry{dates: make(map[string]model.HolidayMeta, len(list))}
		for _, h := range list {
			entry.dates[h.Date] = model.HolidayMeta{Name: h.Name, Type: h.Type, Level: h.Level}
		}
		c.mu.Lock()
		if c.gen == gen {
			c.years[year] = entry
		}
		c.mu.Unlock()
		return nil, nil
	})
	select {
	case <-ctx.Done():
	case <-ch:
	}
}

// EnsureRange loads every year touched by [start, endInclusive].
func (c *Cache) EnsureRange(ctx context.Context, start, endInclusive time.Time) {
	var wg sync.WaitGroup
	for y := start.Year(); y <= endInclusive.Year(); y++ {
		wg.Add(1)
		go func(year int) {
			defer wg.Done()
			c.EnsureYear(ctx, year)
		}(y)
	}
	wg.Wait()
}

// Visible returns the holidays of the cached years falling in
// [start, endInclusive], keyed by YYYY-MM-DD. Uncached years contribute
// nothing.
func (c *Cache) Visible(start, endInclusive time.Time) map[string]model.HolidayMeta {
	from := timecodec.StartOfDay(start).Format(timecodec.DateLayout)
	to := timecodec.StartOfDay(endInclusive).Format(timecodec.DateLayout)

	out := map[string]model.HolidayMeta{}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for y := start.Year(); y <= endInclusive.Year(); y++ {
		entry, ok := c.years[y]
		if !ok {
			continue
		}
		for d, meta := range entry.dates {
			if d >= from && d <= to {
				out[d] = meta
			}
		}
	}
	return out
}

// Lookup reports whether date (YYYY-MM-DD) is a cached holiday.
func (c *Cache) Lookup(date string) (model.HolidayMeta, bool) {
	t, err := time.Parse(timecodec.DateLayout, date)
	if err != nil {
		return model.HolidayMeta{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.years[t.Year()].dates[date]
	return meta, ok
}

// Years returns a copy of the cached years and their dates.
func (c *Cache) Years() map[int]map[string]model.HolidayMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int]map[string]model.HolidayMeta, len(c.years))
	for y, e := range c.years {
		out[y] = maps.Clone(e.dates)
	}
	return out
}

// Clear drops every cached year and detaches pending fetches, so the next
// EnsureYear starts a new request.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.years = make(map[int]yearEntry)
	c.gen++
	for y := range c.pending {
		c.group.Forget(strconv.Itoa(y))
	}
	clear(c.pending)
}
