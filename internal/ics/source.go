package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "agendacal/internal/log"
)

// Loader reads an iCalendar document from a local path or an http(s) URL.
// Remote documents are revalidated with ETag/Last-Modified and kept on disk,
// so an unreachable feed falls back to the last good copy.
type Loader struct {
	client   *http.Client
	cacheDir string
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewLoader returns a Loader caching under cacheDir. An empty cacheDir
// disables the disk cache.
func NewLoader(cacheDir string, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Loader{client: &http.Client{Timeout: timeout}, cacheDir: cacheDir}
}

// Load returns the document at location and whether it came from the cache.
func (l *Loader) Load(ctx context.Context, location string) ([]byte, bool, error) {
	if location == "" {
		return nil, false, errors.New("ics: empty source")
	}
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		b, err := os.ReadFile(location)
		return b, false, err
	}
	return l.fetch(ctx, location)
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, bool, error) {
	dir := l.cacheDirFor(location)
	var meta cacheMeta
	var cached []byte
	if dir != "" {
		meta, _ = readMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, false, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("ics source unreachable, using cached copy", "source", redact(location), "err", err)
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && len(cached) > 0:
		appLog.Debug("ics source not modified", "source", redact(location))
		return cached, true, nil
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		if dir != "" {
			m := cacheMeta{
				URL:          location,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				UpdatedAt:    time.Now().UTC(),
			}
			if err := writeCache(dir, m, body); err != nil {
				appLog.Error("ics cache save failed", err, "source", redact(location))
			}
		}
		return body, false, nil
	case len(cached) > 0:
		appLog.Warn("ics source answered "+resp.Status+", using cached copy", "source", redact(location))
		return cached, true, nil
	default:
		return nil, false, fmt.Errorf("ics: %s: %s", redact(location), resp.Status)
	}
}

func (l *Loader) cacheDirFor(location string) string {
	if l.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(location))
	return filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var m cacheMeta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// writeCache stores the body before the metadata so meta.json never refers
// to a missing body.
func writeCache(dir string, m cacheMeta, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o600)
}

// redact keeps scheme and host only; feed URLs often embed access tokens.
func redact(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}

// IsRemote reports whether location is fetched over HTTP.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
