// Package wolvesville is the client for the Wolvesville core API: profile
// updates, gem-offer purchases, and player lookups.
package wolvesville

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/cSxrpent/gem-nexus/internal/auth/session"
)

const (
	// DefaultBaseURL is the Wolvesville core API
	DefaultBaseURL = "https://core.api-wolvesville.com"

	// browserUserAgent is sent on profile updates; the endpoint rejects
	// requests without a browser-looking origin
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	webOrigin        = "https://www.wolvesville.com"
)

// TokenSource provides valid credentials for API calls and accepts
// invalidation when the API rejects them.
type TokenSource interface {
	GetValidTokens(ctx context.Context) (session.Tokens, error)
	Invalidate()
}

// APIError is a non-200 response from the core API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wolvesville API error %d: %s", e.Status, e.Body)
}

// GiftRequest describes a gem-offer purchase sent as a gift.
type GiftRequest struct {
	Type        string // item-type discriminator, e.g. "CALENDAR"
	RecipientID string // pre-validated player ID
	Message     string
	CalendarID  string // only sent for CALENDAR-type items
}

// GiftReceipt is the purchase response. Balance carries the authoritative
// gem balance when the response included one (under either of the two field
// names the API uses), nil otherwise.
type GiftReceipt struct {
	Balance *int
	Body    map[string]interface{}
}

// Client calls the Wolvesville core API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a core API client. An empty baseURL selects production.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UpdateNickname changes the account's display name via PUT /players/self.
func (c *Client) UpdateNickname(ctx context.Context, tokens session.Tokens, username string) error {
	log.Printf("🔄 Changing nickname to: %s", username)

	payload, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/players/self", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setAuthHeaders(req, tokens)
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Referer", webOrigin+"/")
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nickname update request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	log.Printf("✅ Nickname changed to: %s", username)
	return nil
}

// PurchaseGift posts a gem-offer purchase. The returned receipt is non-nil
// whenever a response body was read, so callers can sync an authoritative
// balance even when the purchase itself failed; a non-200 status is reported
// as *APIError alongside the receipt.
func (c *Client) PurchaseGift(ctx context.Context, tokens session.Tokens, gift GiftRequest) (*GiftReceipt, error) {
	body := map[string]interface{}{
		"type":            gift.Type,
		"giftRecipientId": gift.RecipientID,
		"giftMessage":     gift.Message,
	}
	if gift.Type == "CALENDAR" && gift.CalendarID != "" {
		body["calendarId"] = gift.CalendarID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/gemOffers/purchases", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req, tokens)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gift purchase request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Printf("🔄 Gift purchase response: %d %s", resp.StatusCode, string(respBody))

	receipt := &GiftReceipt{}
	var parsed map[string]interface{}
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		receipt.Body = parsed
		receipt.Balance = extractBalance(parsed)
	}

	if resp.StatusCode != http.StatusOK {
		return receipt, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return receipt, nil
}

// Player is the subset of a player record the shop cares about.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Level    int    `json:"level"`
}

// SearchPlayer looks up a player by username. Returns nil when no player
// matches. A 403 invalidates the token source and the lookup is retried once
// with fresh credentials.
func (c *Client) SearchPlayer(ctx context.Context, ts TokenSource, username string) (*Player, error) {
	var players []Player
	path := "/players/search?username=" + url.QueryEscape(username)
	if err := c.getJSONWithRetry(ctx, ts, path, &players); err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return nil, nil
	}
	return &players[0], nil
}

// PlayerProfile fetches a full player profile by ID, with the same
// invalidate-and-retry-once behavior on 403.
func (c *Client) PlayerProfile(ctx context.Context, ts TokenSource, playerID string) (map[string]interface{}, error) {
	var profile map[string]interface{}
	if err := c.getJSONWithRetry(ctx, ts, "/players/"+url.PathEscape(playerID), &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// getJSONWithRetry performs an authenticated GET, invalidating the token
// source and retrying exactly once on 403.
func (c *Client) getJSONWithRetry(ctx context.Context, ts TokenSource, path string, out interface{}) error {
	for attempt := 0; attempt < 2; attempt++ {
		tokens, err := ts.GetValidTokens(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		c.setAuthHeaders(req, tokens)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusForbidden && attempt == 0 {
			log.Printf("⚠️ 403 from core API, refreshing tokens and retrying...")
			ts.Invalidate()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return &APIError{Status: resp.StatusCode, Body: string(body)}
		}
		return json.Unmarshal(body, out)
	}
	return nil
}

// setAuthHeaders applies the standard authenticated request headers.
func (c *Client) setAuthHeaders(req *http.Request, tokens session.Tokens) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokens.Bearer)
	req.Header.Set("Cf-JWT", tokens.CfJWT)
	req.Header.Set("ids", "1")
}

// extractBalance adapts the API's duck-typed balance field: responses carry
// the authoritative gem balance as either "gemCount" or "gems".
func extractBalance(body map[string]interface{}) *int {
	for _, key := range []string{"gemCount", "gems"} {
		if v, ok := body[key]; ok {
			if f, ok := v.(float64); ok {
				n := int(f)
				return &n
			}
		}
	}
	return nil
}
