// Package captcha solves Cloudflare Turnstile challenges through the
// 2Captcha HTTP API.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the 2Captcha service endpoint
	DefaultBaseURL = "https://2captcha.com"
	// DefaultPollInterval is the wait between result polls
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxAttempts bounds polling to an effective 5-minute ceiling
	DefaultMaxAttempts = 60

	notReady = "CAPCHA_NOT_READY"
)

// ErrTimeout is returned when the challenge is not solved within the
// polling ceiling.
var ErrTimeout = errors.New("captcha solving timeout")

// Config holds client construction options. Zero values fall back to the
// production defaults.
type Config struct {
	APIKey       string
	SiteKey      string
	PageURL      string
	BaseURL      string
	PollInterval time.Duration
	MaxAttempts  int
	HTTPClient   *http.Client
}

// Client submits Turnstile tasks to 2Captcha and polls for their solution.
type Client struct {
	apiKey       string
	siteKey      string
	pageURL      string
	baseURL      string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
}

// NewClient creates a 2Captcha client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiKey:       cfg.APIKey,
		siteKey:      cfg.SiteKey,
		pageURL:      cfg.PageURL,
		baseURL:      cfg.BaseURL,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		httpClient:   cfg.HTTPClient,
	}
}

// apiResponse is the common 2Captcha envelope: status 1 means success and
// request carries the payload (task ID or solved token); status 0 with
// request "CAPCHA_NOT_READY" means keep polling.
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits a Turnstile task and polls until a solved token is returned.
// It blocks for up to PollInterval*MaxAttempts (5 minutes with defaults) and
// returns ErrTimeout when the ceiling is exceeded.
func (c *Client) Solve(ctx context.Context) (string, error) {
	log.Printf("🔐 Solving Turnstile captcha with 2Captcha...")

	taskID, err := c.createTask(ctx)
	if err != nil {
		return "", err
	}
	log.Printf("📋 Captcha task created: %s", taskID)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		result, err := c.pollResult(ctx, taskID)
		if err != nil {
			return "", err
		}

		if result.Status == 1 {
			log.Printf("✅ Captcha solved successfully")
			return result.Request, nil
		}
		if result.Request == notReady {
			if attempt%6 == 0 {
				log.Printf("⏳ Waiting for captcha solution... (%ds elapsed)", attempt*int(c.pollInterval.Seconds()))
			}
			continue
		}
		return "", fmt.Errorf("2captcha error: %s", result.Request)
	}

	return "", fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxAttempts)
}

// createTask submits the Turnstile task and returns its 2Captcha task ID.
func (c *Client) createTask(ctx context.Context) (string, error) {
	form := url.Values{
		"key":     {c.apiKey},
		"method":  {"turnstile"},
		"sitekey": {c.siteKey},
		"pageurl": {c.pageURL},
		"json":    {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("task creation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse task creation response: %w", err)
	}
	if result.Status != 1 {
		return "", fmt.Errorf("2captcha task creation failed: %s", result.Request)
	}
	return result.Request, nil
}

// pollResult fetches the current state of a submitted task.
func (c *Client) pollResult(ctx context.Context, taskID string) (*apiResponse, error) {
	query := url.Values{
		"key":    {c.apiKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/res.php?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result poll request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result response: %w", err)
	}
	return &result, nil
}
