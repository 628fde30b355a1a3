package flightaware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "flightwatch/pkg/logx"
)

const (
	DefaultBaseURL  = "https://aeroapi.flightaware.com/aeroapi"
	DefaultTimezone = "Pacific/Auckland"
	defaultTimeout  = 15 * time.Second

	// maxBody bounds how much of a response we read.
	maxBody = 4 << 20
)

// Config configures the AeroAPI client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Location   *time.Location
	RatePerSec int
}

// Client fetches flight status from FlightAware AeroAPI.
//
// It is safe for concurrent use; Apply swaps settings at runtime.
type Client struct {
	log logx.Logger

	mu      sync.RWMutex
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log}
	c.Apply(cfg)
	return c
}

// Apply replaces the client settings. In-flight requests keep the old ones.
func (c *Client) Apply(cfg Config) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Location == nil {
		if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
			cfg.Location = loc
		} else {
			cfg.Location = time.UTC
		}
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}

	c.mu.Lock()
	c.cfg = cfg
	c.http = &http.Client{Timeout: cfg.Timeout}
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
}

func (c *Client) snapshot() (Config, *http.Client, *rate.Limiter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.http, c.limiter
}

// FetchStatus returns the formatted status message for flight.
func (c *Client) FetchStatus(ctx context.Context, flight string) (string, error) {
	f, err := c.Fetch(ctx, flight)
	if err != nil {
		return "", err
	}
	cfg, _, _ := c.snapshot()
	return FormatStatus(flight, f, cfg.Location), nil
}

// Fetch returns the most recent AeroAPI record for flight.
func (c *Client) Fetch(ctx context.Context, flight string) (Flight, error) {
	cfg, hc, lim := c.snapshot()
	flight = strings.TrimSpace(flight)
	if cfg.APIKey == "" {
		return Flight{}, &FetchError{Kind: KindConfig, Message: "missing AEROAPI_KEY"}
	}
	if flight == "" {
		return Flight{}, &FetchError{Kind: KindConfig, Message: "flight identifier is empty"}
	}
	if err := lim.Wait(ctx); err != nil {
		return Flight{}, &FetchError{Kind: KindTransport, Message: "rate limit wait", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/flights/"+url.PathEscape(flight), nil)
	if err != nil {
		return Flight{}, &FetchError{Kind: KindConfig, Message: "build request", Err: err}
	}
	req.Header.Set("x-apikey", cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return Flight{}, &FetchError{Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Flight{}, &FetchError{Kind: KindTransport, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	c.log.Debug("aeroapi response",
		logx.Flight(flight),
		logx.Int("status", resp.StatusCode),
		logx.Duration("dur", time.Since(start)),
		logx.Int("bytes", len(body)),
	)

	if resp.StatusCode != http.StatusOK {
		return Flight{}, statusError(resp.StatusCode, body)
	}

	var payload struct {
		Flights []Flight `json:"flights"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Flight{}, &FetchError{Kind: KindMalformed, Message: "malformed response", Err: err}
	}
	if len(payload.Flights) == 0 {
		return Flight{}, &FetchError{Kind: KindNotFound, StatusCode: http.StatusNotFound, Message: "flight not found"}
	}
	// AeroAPI lists the most relevant flight first.
	return payload.Flights[0], nil
}

// statusError builds a FetchError from a non-200 response, preferring the
// API's own explanation.
func statusError(code int, body []byte) error {
	var apiErr struct {
		Message string `json:"message"`
		Title   string `json:"title"`
		Reason  string `json:"reason"`
		Detail  string `json:"detail"`
	}
	msg := "API request failed"
	if json.Unmarshal(body, &apiErr) == nil {
		for _, m := range []string{apiErr.Message, apiErr.Detail, apiErr.Title, apiErr.Reason} {
			if m = strings.TrimSpace(m); m != "" {
				msg = m
				break
			}
		}
	}
	kind := KindStatus
	if code == http.StatusNotFound {
		kind = KindNotFound
	}
	return &FetchError{Kind: kind, StatusCode: code, Message: msg}
}
