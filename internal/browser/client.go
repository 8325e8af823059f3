// Package browser talks to the local browser-pool HTTP API that owns the
// actual browser profiles (one profile per scheduler token).
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "scraperd/pkg/logx"
)

var ErrProfileBusy = errors.New("browser profile is busy")

type Config struct {
	APIURL  string
	Timeout time.Duration
}

type Client struct {
	base string
	hc   *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if base == "" {
		return nil, errors.New("browser api_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// apiResponse is the envelope every browser-pool endpoint returns.
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type startData struct {
	WS struct {
		Puppeteer string `json:"puppeteer"`
	} `json:"ws"`
}

// StartProfile opens the browser profile bound to the given token and
// returns its remote-debugging websocket endpoint.
func (c *Client) StartProfile(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("profile token is required")
	}
	raw, err := c.get(ctx, "/api/v1/browser/start", url.Values{"user_id": {token}})
	if err != nil {
		return "", err
	}
	var d startData
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if d.WS.Puppeteer == "" {
		return "", errors.New("browser start returned no debug endpoint")
	}
	c.log.Debug("browser profile started", logx.String("token", token))
	return d.WS.Puppeteer, nil
}

// StopProfile closes the browser profile. Best effort: callers treat a stop
// failure as a warning, not a job failure.
func (c *Client) StopProfile(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("profile token is required")
	}
	_, err := c.get(ctx, "/api/v1/browser/stop", url.Values{"user_id": {token}})
	if err != nil {
		return err
	}
	c.log.Debug("browser profile stopped", logx.String("token", token))
	return nil
}

// IsActive reports whether the profile currently has an open browser.
func (c *Client) IsActive(ctx context.Context, token string) (bool, error) {
	raw, err := c.get(ctx, "/api/v1/browser/active", url.Values{"user_id": {token}})
	if err != nil {
		return false, err
	}
	var d struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return false, fmt.Errorf("decode active response: %w", err)
	}
	return strings.EqualFold(d.Status, "Active"), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser api unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser api %s: http %d", path, resp.StatusCode)
	}
	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode browser api response: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("browser api %s: %s", path, env.Msg)
	}
	return env.Data, nil
}
