// Package netatmo fetches hourly temperature measurements from the Netatmo
// weather API, handling OAuth token refresh and the API's request budget.
package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

// ErrRateLimited reports that the API refused the request because the
// hourly budget is exhausted. Callers should checkpoint and resume later.
var ErrRateLimited = errors.New("netatmo: request budget exhausted")

// TokenStore persists the rotating refresh token between runs. Netatmo may
// issue a new refresh token on every renewal; losing it strands the client.
type TokenStore interface {
	Load() (string, error)
	Save(refreshToken string) error
}

// Config holds the OAuth application credentials and client tuning.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // defaults to the public API
	Timeout      time.Duration
	MaxRetries   int           // transient-failure retries per request
	RetryBackoff time.Duration // initial backoff, doubled per retry
}

// Client is an authenticated Netatmo API client. Safe for concurrent use.
type Client struct {
	cfg        Config
	store      TokenStore
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
}

// NewClient creates a Netatmo client. The store must hold a valid refresh
// token before the first request.
func NewClient(cfg Config, store TokenStore, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.netatmo.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Client{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// GetMeasure returns the hourly temperature series of one module in
// [from, to], sorted by time. An empty slice means the module reported
// nothing in the window, which the API signals with an empty body.
func (c *Client) GetMeasure(ctx context.Context, deviceID, moduleID string, from, to time.Time) ([]domain.Observation, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"access_token": {token},
		"device_id":    {deviceID},
		"module_id":    {moduleID},
		"scale":        {"1hour"},
		"type":         {"temperature"},
		"date_begin":   {strconv.FormatInt(from.UTC().Unix(), 10)},
		"date_end":     {strconv.FormatInt(to.UTC().Unix(), 10)},
		"optimize":     {"false"},
		"real_time":    {"true"},
	}

	body, err := c.doWithRetry(ctx, c.cfg.BaseURL+"/api/getmeasure?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp measureResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("netatmo: decode getmeasure response: %w", err)
	}

	out := make([]domain.Observation, 0, len(resp.Body))
	for ts, values := range resp.Body {
		if len(values) == 0 {
			continue
		}
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("netatmo: bad timestamp key %q: %w", ts, err)
		}
		out = append(out, domain.Observation{
			StationID:   deviceID,
			Time:        time.Unix(sec, 0).UTC(),
			Temperature: values[0],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// doWithRetry performs the GET with exponential backoff on transient
// failures. 403 and 429 are the API's budget signals and surface as
// ErrRateLimited immediately; 401 triggers one token refresh.
func (c *Client) doWithRetry(ctx context.Context, fullURL string) ([]byte, error) {
	backoff := c.cfg.RetryBackoff
	refreshed := false

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("netatmo: create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt >= c.cfg.MaxRetries {
				return nil, fmt.Errorf("netatmo: request failed after %d attempts: %w", attempt+1, err)
			}
			if !sleepWithContext(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("netatmo: read response: %w", readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			refreshed = true
			c.invalidateToken()
			token, err := c.token(ctx)
			if err != nil {
				return nil, err
			}
			fullURL = replaceAccessToken(fullURL, token)

		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("netatmo: status %d: %w", resp.StatusCode, ErrRateLimited)

		case resp.StatusCode >= 500 && attempt < c.cfg.MaxRetries:
			c.logger.Warn("netatmo request failed, retrying",
				"status", resp.StatusCode, "attempt", attempt+1, "backoff", backoff.String())
			if !sleepWithContext(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2

		default:
			return nil, fmt.Errorf("netatmo: API error: status %d: %s", resp.StatusCode, body)
		}
	}
}

// token returns a valid access token, refreshing via the stored refresh
// token when none is cached.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" {
		return c.accessToken, nil
	}

	refresh, err := c.store.Load()
	if err != nil {
		return "", fmt.Errorf("netatmo: load refresh token: %w", err)
	}
	if refresh == "" {
		return "", errors.New("netatmo: no refresh token available")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("netatmo: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("netatmo: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("netatmo: token refresh: status %d: %s", resp.StatusCode, body)
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("netatmo: decode token response: %w", err)
	}

	c.accessToken = tokens.AccessToken
	if tokens.RefreshToken != "" && tokens.RefreshToken != refresh {
		if err := c.store.Save(tokens.RefreshToken); err != nil {
			// The old token may already be revoked; losing the new one is
			// worth a loud log but not a failed fetch.
			c.logger.Error("failed to persist rotated refresh token", "error", err)
		}
	}
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

func replaceAccessToken(fullURL, token string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type measureResponse struct {
	// Keys are unix-second strings, values single-element temperature
	// arrays (optimize=false layout).
	Body map[string][]float64 `json:"body"`
}
