// Package cli is the HTTP client behind the gamectl admin tool.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client calls the game engine HTTP API with the admin token.
type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

// NewClient returns a client for baseURL with a 30 second timeout.
func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Public reads ---

func (c *Client) Teams(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/api/v1/teams", nil)
}

func (c *Client) CurrentRound(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/api/v1/rounds/current", nil)
}

func (c *Client) Leaderboard(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/api/v1/leaderboard", nil)
}

func (c *Client) RoundLeaderboard(ctx context.Context, roundNumber int) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, fmt.Sprintf("/api/v1/rounds/%d/leaderboard", roundNumber), nil)
}

func (c *Client) Auction(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/api/v1/auction", nil)
}

// --- Admin ---

func (c *Client) StartRound(ctx context.Context, roundNumber int, minutes decimal.Decimal) (json.RawMessage, error) {
	body := map[string]any{}
	if roundNumber > 0 {
		body["roundNumber"] = roundNumber
	}
	if !minutes.IsZero() {
		body["duration"] = minutes
	}
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/rounds", body)
}

func (c *Client) EndRound(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/rounds/end", nil)
}

func (c *Client) PublishNews(ctx context.Context, title, content string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/news", map[string]string{"title": title, "content": content})
}

func (c *Client) SetPrices(ctx context.Context, changes map[string]decimal.Decimal) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/prices", changes)
}

func (c *Client) Recalculate(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/recalculate", nil)
}

func (c *Client) DeductCash(ctx context.Context, teamID string, amount decimal.Decimal) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/teams/"+teamID+"/deduct", map[string]any{"amount": amount})
}

func (c *Client) StartAuction(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/auction/start", nil)
}

func (c *Client) EndAuction(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/auction/end", nil)
}

func (c *Client) ShowAuctionItem(ctx context.Context, itemID string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/auction/current", map[string]string{"itemId": itemID})
}

func (c *Client) AwardAuctionItem(ctx context.Context, teamID, itemID string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/auction/award", map[string]string{"teamId": teamID, "itemId": itemID})
}

func (c *Client) Reset(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/api/v1/admin/reset", nil)
}

func (c *Client) raw(ctx context.Context, method, path string, in any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.jsonRequest(ctx, method, path, in, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParsePriceChanges parses "asset=percent" pairs such as "gold=10" or
// "crypto=-12.5".
func ParsePriceChanges(pairs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected asset=percent, got %q", p)
		}
		pct, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("invalid percent for %s: %w", key, err)
		}
		out[strings.TrimSpace(key)] = pct
	}
	return out, nil
}
