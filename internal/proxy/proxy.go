// Package proxy manages the residential egress identity: the lease handed to
// new browser sessions, the rotate-now endpoint of the provider, and the
// egress IP check. Rotation is rate-limited so recovery storms cannot burn
// through the provider's quota.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const ipCheckURL = "https://api.ipify.org/?format=json"

// ErrRotateCooldown is returned when a rotation is requested before the
// cooldown since the previous one has elapsed.
var ErrRotateCooldown = fmt.Errorf("proxy rotation on cooldown")

// Settings describes one upstream proxy and its rotation endpoint.
type Settings struct {
	Enabled    bool
	Host       string
	Port       string
	Username   string
	Password   string
	RefreshURL string
}

// View is the operator-facing representation with credentials masked.
type View struct {
	Enabled bool   `json:"enabled"`
	Proxy   string `json:"proxy,omitempty"`
	HasAuth bool   `json:"has_auth"`
}

// Client is the rotation/lease manager. Safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	settings Settings
	limiter  *rate.Limiter
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(settings Settings, rotateCooldown time.Duration, logger *slog.Logger) *Client {
	if rotateCooldown <= 0 {
		rotateCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		settings: settings,
		limiter:  rate.NewLimiter(rate.Every(rotateCooldown), 1),
		http:     &http.Client{Timeout: 20 * time.Second},
		logger:   logger.With("component", "proxy"),
	}
}

// Update replaces the proxy settings. The next created session picks them up.
func (c *Client) Update(settings Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = settings
	if settings.Enabled {
		c.logger.Info("proxy settings updated", "proxy", settings.Host+":"+settings.Port)
	} else {
		c.logger.Info("proxy disabled")
	}
}

// Enabled reports whether an upstream proxy is configured and active.
func (c *Client) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Enabled && c.settings.Host != "" && c.settings.Port != ""
}

// Server returns the proxy server URL for browser launch, or "" when disabled.
func (c *Client) Server() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.settings.Enabled || c.settings.Host == "" {
		return ""
	}
	return "http://" + c.settings.Host + ":" + c.settings.Port
}

// Lease returns the connection details for the next browser launch: server
// URL plus the credentials the browser must present. Empty server means a
// direct connection.
func (c *Client) Lease() (server, username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.settings.Enabled || c.settings.Host == "" {
		return "", "", ""
	}
	server = "http://" + c.settings.Host + ":" + c.settings.Port
	return server, c.settings.Username, c.settings.Password
}

// CanRotate reports whether a rotation endpoint is configured.
func (c *Client) CanRotate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Enabled && c.settings.RefreshURL != ""
}

// View returns the masked operator view.
func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Enabled: c.settings.Enabled,
		HasAuth: c.settings.Username != "" && c.settings.Password != "",
	}
	if c.settings.Host != "" {
		v.Proxy = c.settings.Host + ":" + c.settings.Port
	}
	return v
}

// Rotate calls the provider's refresh endpoint. Best effort: rate-limited
// locally, tolerant of the provider's own 429, and never fatal to the caller.
// After a successful rotation the next session created uses the new egress IP.
func (c *Client) Rotate(ctx context.Context) error {
	c.mu.Lock()
	refreshURL := c.settings.RefreshURL
	c.mu.Unlock()

	if refreshURL == "" {
		return fmt.Errorf("no rotation endpoint configured")
	}
	if !c.limiter.Allow() {
		c.logger.Info("rotation skipped, cooldown active")
		return ErrRotateCooldown
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, refreshURL, nil)
	if err != nil {
		return fmt.Errorf("build rotate request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rotate request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		c.logger.Info("egress IP rotated")
		return nil
	case http.StatusTooManyRequests:
		c.logger.Info("rotation throttled by provider")
		return ErrRotateCooldown
	default:
		return fmt.Errorf("rotate endpoint returned %d", resp.StatusCode)
	}
}

// CheckIP fetches the current egress IP through the configured proxy.
func (c *Client) CheckIP(ctx context.Context) (string, error) {
	c.mu.Lock()
	s := c.settings
	c.mu.Unlock()

	client := c.http
	if s.Enabled && s.Host != "" {
		proxyURL := &url.URL{Scheme: "http", Host: s.Host + ":" + s.Port}
		if s.Username != "" {
			proxyURL.User = url.UserPassword(s.Username, s.Password)
		}
		client = &http.Client{
			Timeout:   20 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ipCheckURL, nil)
	if err != nil {
		return "", fmt.Errorf("build ip check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip check returned %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode ip check response: %w", err)
	}
	return body.IP, nil
}
