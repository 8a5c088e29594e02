// Package directory caches the practitioner list: in memory for the process,
// and in the preference store for DefaultTTL so a restart does not refetch.
package directory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

const DefaultTTL = 5 * time.Minute

// Palette colors practitioners without an explicit color.
var Palette = []string{
	"#2563eb", "#16a34a", "#dc2626", "#9333ea",
	"#ea580c", "#0891b2", "#4f46e5", "#059669",
}

// ColorFor returns the palette color derived from id.
func ColorFor(id int) string {
	n := len(Palette)
	return Palette[(id%n+n)%n]
}

// Fetcher loads the directory. *api.Client satisfies it.
type Fetcher interface {
	ListPractitioners(ctx context.Context) ([]model.Practitioner, error)
}

// SnapshotStore persists the directory. *prefs.Preferences satisfies it.
type SnapshotStore interface {
	DirectorySnapshot() ([]model.Practitioner, time.Time, bool)
	SaveDirectorySnapshot(list []model.Practitioner, at time.Time) error
	ClearDirectorySnapshot() error
	SelectedPractitioners() []int
	SetSelectedPractitioners(ids []int) error
}

type Cache struct {
	fetcher Fetcher
	store   SnapshotStore
	ttl     time.Duration
	now     func() time.Time

	mu   sync.RWMutex
	list []model.Practitioner
	at   time.Time

	group singleflight.Group
}

func New(fetcher Fetcher, store SnapshotStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{fetcher: fetcher, store: store, ttl: ttl, now: time.Now}
}

// List returns the directory, fetching it when neither the memory copy nor
// the stored snapshot is fresh. Concurrent callers share one fetch.
func (c *Cache) List(ctx context.Context) ([]model.Practitioner, error) {
	now := c.now()

	c.mu.RLock()
	if c.list != nil && now.Sub(c.at) < c.ttl {
		out := clone(c.list)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	if list, at, ok := c.store.DirectorySnapshot(); ok && now.Sub(at) < c.ttl {
		list = normalize(list)
		c.mu.Lock()
		c.list, c.at = list, at
		c.mu.Unlock()
		return clone(list), nil
	}

	ch := c.group.DoChan("directory", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]model.Practitioner)), nil
	}
}

func (c *Cache) refresh(ctx context.Context) ([]model.Practitioner, error) {
	list, err := c.fetcher.ListPractitioners(ctx)
	if err != nil {
		appLog.Error("directory fetch failed", err)
		return nil, err
	}
	list = normalize(list)
	at := c.now()

	c.mu.Lock()
	c.list, c.at = list, at
	c.mu.Unlock()

	if err := c.store.SaveDirectorySnapshot(list, at); err != nil {
		appLog.Warn("directory snapshot not saved", "err", err)
	}
	if len(c.store.SelectedPractitioners()) == 0 && len(list) > 0 {
		ids := make([]int, len(list))
		for i, p := range list {
			ids[i] = p.ID
		}
		if err := c.store.SetSelectedPractitioners(ids); err != nil {
			appLog.Warn("default practitioner selection not saved", "err", err)
		}
	}
	appLog.Debug("directory refreshed", "count", len(list))
	return list, nil
}

// Refresh drops the memory copy and fetches again, regardless of TTL.
func (c *Cache) Refresh(ctx context.Context) ([]model.Practitioner, error) {
	c.mu.Lock()
	c.list = nil
	c.mu.Unlock()
	v, err, _ := c.group.Do("directory", func() (any, error) { return c.refresh(ctx) })
	if err != nil {
		return nil, err
	}
	return clone(v.([]model.Practitioner)), nil
}

// ByID returns the cached entry for id without fetching.
func (c *Cache) ByID(id int) (model.Practitioner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.list {
		if p.ID == id {
			return p, true
		}
	}
	return model.Practitioner{}, false
}

// Clear forgets both the memory copy and the stored snapshot.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.list, c.at = nil, time.Time{}
	c.mu.Unlock()
	return c.store.ClearDirectorySnapshot()
}

func normalize(list []model.Practitioner) []model.Practitioner {
	out := make([]model.Practitioner, len(list))
	for i, p := range list {
		if p.Color == "" {
			p.Color = ColorFor(p.ID)
		}
		out[i] = p
	}
	return out
}

func clone(list []model.Practitioner) []model.Practitioner {
	out := make([]model.Practitioner, len(list))
	copy(out, list)
	return out
}
