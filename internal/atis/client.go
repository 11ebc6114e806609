package atis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

const maxResponseBodySize = 1 << 20 // 1MB

const (
	defaultMaxIdleConns        = 4
	defaultMaxIdleConnsPerHost = 2
	defaultIdleConnTimeout     = 90 * time.Second
)

var reICAO = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// Client fetches ATIS reports for one airport from one provider.
//
// Timeouts are applied per request via context rather than on the http.Client,
// so a cancelled parent context also aborts an in-flight fetch.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient validates cfg, fills defaults, and builds the pooled HTTP/2-capable transport.
func NewClient(cfg Config) (*Client, error) {
	cfg = withDefaults(cfg)
	endpoint, err := BuildURL(cfg.BaseURL, cfg.ICAO, cfg.Source)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}

	return &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Transport: tr},
		now:        time.Now,
	}, nil
}

// NewClientWithHTTP is NewClient with a caller-supplied http.Client (tests, proxies).
func NewClientWithHTTP(cfg Config, hc *http.Client) (*Client, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if hc != nil {
		c.httpClient = hc
	}
	return c, nil
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.ICAO) == "" {
		cfg.ICAO = DefaultICAO
	}
	if strings.TrimSpace(cfg.Source) == "" {
		cfg.Source = DefaultSource
	}
	if strings.TrimSpace(cfg.Field) == "" {
		cfg.Field = DefaultField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "atisbot"
	}
	cfg.ICAO = strings.ToUpper(strings.TrimSpace(cfg.ICAO))
	cfg.Source = strings.TrimSpace(cfg.Source)
	return cfg
}

// BuildURL renders <base>/atis/<ICAO>?source=<network>.
func BuildURL(base, icao, source string) (string, error) {
	icao = strings.ToUpper(strings.TrimSpace(icao))
	if !reICAO.MatchString(icao) {
		return "", fmt.Errorf("invalid ICAO code %q (want 4 letters/digits, e.g. KPDX)", icao)
	}
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", fmt.Errorf("invalid atis base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid atis base url %q: scheme must be http or https", base)
	}
	u = u.JoinPath("atis", icao)
	q := u.Query()
	if s := strings.TrimSpace(source); s != "" {
		q.Set("source", s)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Endpoint returns the fully rendered request URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Fetch performs one GET and extracts the report.
//
// Errors:
//   - *StatusError for non-2xx responses
//   - ErrMissingReport when the body decodes but the report field is absent/empty/not a string
//   - any other error (network, timeout, malformed JSON) wrapped with context
func (c *Client) Fetch(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Report{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
		return Report{}, &StatusError{StatusCode: resp.StatusCode, URL: c.endpoint}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Report{}, fmt.Errorf("failed to read response body: %w", err)
	}

	text, err := ExtractReport(body, c.cfg.Field)
	if err != nil {
		return Report{}, err
	}
	return Report{
		ICAO:      c.cfg.ICAO,
		Source:    c.cfg.Source,
		Text:      text,
		FetchedAt: c.now().UTC(),
	}, nil
}

// ExtractReport decodes body and returns the string under field.
// Invalid JSON is a decode error; any other shape yields ErrMissingReport.
func ExtractReport(body []byte, field string) (string, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("decode atis response: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", ErrMissingReport
	}
	s, ok := obj[field].(string)
	if !ok || s == "" {
		return "", ErrMissingReport
	}
	return s, nil
}

// IsMissing reports whether err means "provider answered, but without a report".
func IsMissing(err error) bool { return errors.Is(err, ErrMissingReport) }
