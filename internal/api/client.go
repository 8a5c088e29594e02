// Package api is the client for the agenda endpoints of the practice server.
//
// Two failure channels are kept apart, because callers branch on both:
//
//   - transport failure: network errors and, for read endpoints, any non-2xx
//     status (reported as *StatusError);
//   - body-level failure: a mutation whose JSON body does not carry
//     status == "success", whatever the HTTP status code (ErrRejected).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// ErrRejected is returned when the server answered a mutation without
// status "success".
var ErrRejected = errors.New("api: request rejected by server")

// StatusError is a non-2xx answer on an endpoint that signals failure at
// the transport level.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "api: unexpected HTTP status " + e.Status
}

// Client talks to one server. The zero value is not usable; use NewClient.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request. Zero keeps the transport default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

// NewClient builds a client for baseURL, e.g. "http://clinic.local/api/agenda".
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("api: base URL is empty")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: base URL %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{base: u, http: &http.Client{}, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EventQuery selects events for the list endpoint.
type EventQuery struct {
	PractitionerIDs   []int
	IncludeUnassigned bool
	Query             string
	Start             time.Time
	End               time.Time
}

func (q EventQuery) values() url.Values {
	v := filterValues(q.PractitionerIDs, q.IncludeUnassigned, q.Query)
	v.Set("start", timecodec.NaiveLocal(q.Start))
	v.Set("end", timecodec.NaiveLocal(q.End))
	return v
}

func filterValues(ids []int, includeUnassigned bool, query string) url.Values {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	v := url.Values{}
	v.Set("dentists", strings.Join(parts, ","))
	if includeUnassigned {
		v.Set("include_unassigned", "1")
	} else {
		v.Set("include_unassigned", "")
	}
	v.Set("q", query)
	return v
}

// ListEvents fetches the events overlapping [q.Start, q.End].
func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]model.Event, error) {
	var out []model.Event
	if err := c.getJSON(ctx, "/events", q.values(), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Event{}
	}
	return out, nil
}

// NewEvent is the body of a create call.
type NewEvent struct {
	Title          string `json:"title"`
	Start          string `json:"start"`
	End            string `json:"end,omitempty"`
	AllDay         bool   `json:"allDay,omitempty"`
	Notes          string `json:"notes"`
	Color          string `json:"color,omitempty"`
	PractitionerID *int   `json:"dentista_id"`
}

type mutationResponse struct {
	Status string       `json:"status"`
	Event  *model.Event `json:"event,omitempty"`
}

// CreateEvent posts a new event and returns the server's canonical copy.
func (c *Client) CreateEvent(ctx context.Context, ev NewEvent) (model.Event, error) {
	resp, err := c.mutate(ctx, http.MethodPost, "/events", ev)
	if err != nil {
		return model.Event{}, err
	}
	if resp.Event == nil {
		return model.Event{}, fmt.Errorf("%w: no event in response", ErrRejected)
	}
	return *resp.Event, nil
}

// PatchEvent sends a partial update.
func (c *Client) PatchEvent(ctx context.Context, id model.EventID, p Patch) error {
	_, err := c.mutate(ctx, http.MethodPatch, "/events/"+url.PathEscape(id.String()), p)
	return err
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, id model.EventID) error {
	_, err := c.mutate(ctx, http.MethodDelete, "/events/"+url.PathEscape(id.String()), nil)
	return err
}

// ListPractitioners returns the dentist directory.
func (c *Client) ListPractitioners(ctx context.Context) ([]model.Practitioner, error) {
	var out []model.Practitioner
	if err := c.getJSON(ctx, "/dentists", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HolidaysForYear returns the holidays of one calendar year.
func (c *Client) HolidaysForYear(ctx context.Context, year int) ([]model.Holiday, error) {
	var out []model.Holiday
	v := url.Values{}
	v.Set("year", strconv.Itoa(year))
	if err := c.getJSON(ctx, "/holidays/year", v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchQuery selects events for the search_range endpoint.
type SearchQuery struct {
	Query             string
	PractitionerIDs   []int
	IncludeUnassigned bool
}

// SearchRange returns the count and the [min, max] span of matching events.
func (c *Client) SearchRange(ctx context.Context, q SearchQuery) (model.SearchRange, error) {
	var out model.SearchRange
	err := c.getJSON(ctx, "/events/search_range", filterValues(q.PractitionerIDs, q.IncludeUnassigned, q.Query), &out)
	return out, err
}

// ClearServerCache asks the server to drop its holiday cache.
func (c *Client) ClearServerCache(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/cache/clear", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// mutate sends body (when non-nil) and checks the body-level status. The
// HTTP status code is deliberately not consulted.
func (c *Client) mutate(ctx context.Context, method, path string, body any) (mutationResponse, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return mutationResponse{}, fmt.Errorf("api: encode %s body: %w", path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, nil, r)
	if err != nil {
		return mutationResponse{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return mutationResponse{}, err
	}
	defer resp.Body.Close()

	var out mutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return mutationResponse{}, fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	if out.Status != "success" {
		return out, fmt.Errorf("%w: %s %s answered status %q (HTTP %d)", ErrRejected, method, path, out.Status, resp.StatusCode)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	started := time.Now()
	rid := req.Header.Get("X-Request-ID")
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("api request failed", "request_id", rid, "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	c.logger.Debug("api request done", "request_id", rid, "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "elapsed", time.Since(started))
	return resp, nil
}
