package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/httputil"
	"github.com/banshee-data/exit.guide/internal/status"
)

// Client queries a running guide over HTTP. It backs the exitguide status
// and toggle subcommands.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the server at base, e.g.
// "http://localhost:8080". A nil hc uses http.DefaultClient.
func NewClient(base string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Status fetches /status.
func (c *Client) Status(ctx context.Context) (status.Summary, error) {
	var s status.Summary
	err := c.do(ctx, http.MethodGet, "/status", http.StatusOK, &s)
	return s, err
}

// Direction fetches the direction shown at one guidance point.
func (c *Client) Direction(ctx context.Context, id int) (l4signal.Direction, error) {
	var d directionResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/direction/%d", id), http.StatusOK, &d); err != nil {
		return l4signal.Stop, err
	}
	return d.Direction, nil
}

// ToggleLock queues a wall lock toggle and returns the lock state as seen
// before the toggle is applied.
func (c *Client) ToggleLock(ctx context.Context) (locked bool, pending int64, err error) {
	var l lockResponse
	if err := c.do(ctx, http.MethodPost, "/api/lock/toggle", http.StatusAccepted, &l); err != nil {
		return false, 0, err
	}
	return l.Locked, l.PendingToggles, nil
}
