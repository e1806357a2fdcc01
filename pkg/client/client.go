// Package client wraps the Sentinel HTTP API for CLI usage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/types"
)

// Client talks to a running agent's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for the given base URL, e.g. http://localhost:8080.
func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Stats is the dashboard summary returned by /api/stats.
type Stats struct {
	TotalEvents         uint64  `json:"total_events"`
	ThreatsDetected     uint64  `json:"threats_detected"`
	ActionsTaken        uint64  `json:"actions_taken"`
	CurrentOraclePrice  float64 `json:"current_oracle_price"`
	CurrentAMMPrice     float64 `json:"current_amm_price"`
	PriceDeviation      float64 `json:"price_deviation"`
	AMMPaused           bool    `json:"amm_paused"`
	VaultPaused         bool    `json:"vault_paused"`
	LiquidationsBlocked bool    `json:"liquidations_blocked"`
	LastUpdate          string  `json:"last_update_iso"`
}

// Stats fetches the current agent summary.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.get(ctx, "/api/stats", &out)
	return out, err
}

// Events fetches the most recent events, oldest first.
func (c *Client) Events(ctx context.Context, limit int) ([]types.Event, error) {
	var out []types.Event
	err := c.get(ctx, fmt.Sprintf("/api/events?limit=%d", limit), &out)
	return out, err
}

// Threats fetches the most recent non-natural classifications.
func (c *Client) Threats(ctx context.Context, limit int) ([]types.Event, error) {
	var out []types.Event
	err := c.get(ctx, fmt.Sprintf("/api/events/threats?limit=%d", limit), &out)
	return out, err
}

// SimulateAttack triggers the demo manipulation swap.
func (c *Client) SimulateAttack(ctx context.Context) (api.AttackResult, error) {
	var out api.AttackResult
	err := c.post(ctx, "/api/admin/simulate-attack", &out)
	return out, err
}

// ResetAMM runs the restore routine immediately.
func (c *Client) ResetAMM(ctx context.Context) (api.ResetResult, error) {
	var out api.ResetResult
	err := c.post(ctx, "/api/admin/reset-amm", &out)
	return out, err
}

// UnpauseAll clears every on-chain protection.
func (c *Client) UnpauseAll(ctx context.Context) error {
	return c.post(ctx, "/api/admin/unpause", nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Kind != "" {
			return fmt.Errorf("%s: %s", body.Error.Kind, body.Error.Message)
		}
		return fmt.Errorf("request %s: status %d", req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
