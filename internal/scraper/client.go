// Package scraper is a client for the third-party SERP scraping API.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

// Scraper errors.
var (
	ErrNotConfigured    = errors.New("scraper token not configured")
	ErrInvalidQuery     = errors.New("invalid scraper query")
	ErrUpstream         = errors.New("scraper upstream error")
	ErrUpstreamRejected = errors.New("scraper rejected request")
)

// UpstreamError is returned when the API answers with a non-2xx status
// after all retries.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("scraper upstream returned %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// Temporary reports whether the request is worth retrying later.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether a Fetch error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrUpstreamRejected) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Temporary()
	}
	return true
}

// Config holds scraper client settings.
type Config struct {
	Endpoint   string
	Token      string
	Module     string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
	Depth      int
}

// Client fetches raw SERP payloads from the scraping API.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *slog.Logger
}

const maxErrorBody = 512

// New creates a scraper client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Module == "" {
		cfg.Module = "GoogleScraper"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 2 * time.Second
	}

	logger = logger.With("component", "scraper")

	client := resty.New()
	client.SetLogger(restyLogger{logger: logger, token: cfg.Token})
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", "rankwatch/1.0")
	client.SetHeader("Accept", "application/json")
	client.SetRetryCount(cfg.MaxRetries)
	client.SetRetryWaitTime(cfg.RetryWait)
	client.SetRetryMaxWaitTime(cfg.RetryWait * 8)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
		code := res.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	})

	return &Client{
		http:   client,
		cfg:    cfg,
		logger: logger,
	}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.cfg.Token != ""
}

type statusEnvelope struct {
	Status  string          `json:"status"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// Fetch issues the scraping request and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, q Query) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Depth <= 0 {
		q.Depth = c.cfg.Depth
	}

	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"token":   c.cfg.Token,
			"url":     BuildSearchURL(q),
			"module":  c.cfg.Module,
			"json":    "1",
			"country": strings.ToUpper(q.Country),
		}).
		Get(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("scraper request: %w", c.redact(err))
	}

	body := res.Body()
	c.logger.Debug("scraper_response",
		"status", res.StatusCode(),
		"bytes", len(body),
		"attempts", res.Request.Attempt,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if res.IsError() || res.StatusCode() >= 300 {
		return nil, &UpstreamError{StatusCode: res.StatusCode(), Body: Snippet(string(body), maxErrorBody)}
	}

	if err := checkEnvelope(body); err != nil {
		return nil, err
	}
	return body, nil
}

// MaxFetchDuration is the longest a Fetch can take: every attempt running
// into the timeout plus the longest wait before each retry.
func (c *Client) MaxFetchDuration() time.Duration {
	retries := time.Duration(max(c.cfg.MaxRetries, 0))
	return c.cfg.Timeout*(retries+1) + c.http.RetryMaxWaitTime*retries
}

// redact drops the query string from transport errors. net/http puts the
// full request URL in them, and the query carries the API token.
func (c *Client) redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	clean := c.cfg.Endpoint
	if u, perr := url.Parse(uerr.URL); perr == nil {
		u.RawQuery = ""
		u.User = nil
		clean = u.String()
	}
	return &url.Error{Op: uerr.Op, URL: clean, Err: uerr.Err}
}

// Snippet returns at most n bytes of s as text Postgres accepts: invalid
// UTF-8 and NUL bytes are dropped and the cut never splits a rune.
func Snippet(s string, n int) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// checkEnvelope rejects 2xx responses whose envelope reports a failure.
func checkEnvelope(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var env statusEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}

	switch strings.ToLower(env.Status) {
	case "error", "fail", "failed", "failure":
		return fmt.Errorf("%w: %s", ErrUpstreamRejected, envelopeReason(env))
	}

	raw := bytes.TrimSpace(env.Error)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("false")) && !bytes.Equal(raw, []byte(`""`)) {
		return fmt.Errorf("%w: %s", ErrUpstreamRejected, envelopeReason(env))
	}
	return nil
}

func envelopeReason(env statusEnvelope) string {
	var msg string
	if err := json.Unmarshal(env.Error, &msg); err == nil && msg != "" {
		return msg
	}
	if env.Message != "" {
		return env.Message
	}
	if len(env.Error) > 0 {
		return string(env.Error)
	}
	return env.Status
}
