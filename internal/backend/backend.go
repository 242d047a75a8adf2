// Package backend wraps the tenant's domain endpoints. Calls go through the request
// executor unchanged: errors propagate, nothing is probed or defaulted.
package backend

import (
	"context"
	"net/url"
	"strings"

	"github.com/kimhsiao/gatesync/internal/client"
	"github.com/kimhsiao/gatesync/internal/errors"
)

// API is a set of read-only domain calls.
type API struct {
	client *client.Client
}

// New creates an API over c.
func New(c *client.Client) *API {
	return &API{client: c}
}

func (a *API) get(ctx context.Context, path string, params url.Values) (interface{}, error) {
	res, err := a.client.Request(ctx, client.WithQuery(path, params), client.Options{})
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

// ListEvents lists events.
func (a *API) ListEvents(ctx context.Context, params url.Values) (interface{}, error) {
	return a.get(ctx, "/events", params)
}

// ListDays lists the days of an event; a scan's day_event_id is one of them.
func (a *API) ListDays(ctx context.Context, eventID string, params url.Values) (interface{}, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, errors.New(errors.ErrInvalid, "event id is required")
	}
	return a.get(ctx, "/events/"+url.PathEscape(eventID)+"/days", params)
}

// Attendance lists attendance records. At least one non-empty filter is required.
func (a *API) Attendance(ctx context.Context, filter url.Values) (interface{}, error) {
	if client.WithQuery("", filter) == "" {
		return nil, errors.New(errors.ErrInvalid, "an attendance filter such as event_id is required")
	}
	return a.get(ctx, "/attendance", filter)
}

// GateStats returns the gate counters of an event.
func (a *API) GateStats(ctx context.Context, eventID string, params url.Values) (interface{}, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, errors.New(errors.ErrInvalid, "event id is required")
	}
	return a.get(ctx, "/gate/stats/"+url.PathEscape(eventID), params)
}

// Me returns the logged-in user.
func (a *API) Me(ctx context.Context) (interface{}, error) {
	return a.get(ctx, "/users", nil)
}
