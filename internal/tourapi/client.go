// Package tourapi is a client for the public tour-data service (KorService2).
package tourapi

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Defaults for Config.
const (
	DefaultBaseURL = "http://apis.data.go.kr/B551011/KorService2"
	DefaultAppName = "Nomadly"
	DefaultTimeout = 10 * time.Second
)

var okResultCodes = map[string]bool{"": true, "00": true, "0000": true}

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("tourapi: client closed")

// Config holds connection settings.
type Config struct {
	ServiceKey string
	BaseURL    string
	AppName    string
	Timeout    time.Duration
}

// PortalError is a gateway-level failure, usually reported as XML.
type PortalError struct {
	Code    string
	Message string
	Raw     string
}

func (e *PortalError) Error() string {
	if e.Code == "" && e.Message == "" {
		return "tourapi portal: non-JSON response"
	}
	return fmt.Sprintf("tourapi portal error %s: %s", e.Code, e.Message)
}

// ProviderError is a non-success resultCode in the JSON response header.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tourapi provider error %s: %s", e.Code, e.Message)
}

// Client issues GET requests against the service. One Client serves one
// plan run; the limiter may be shared between clients.
type Client struct {
	http       *resty.Client
	baseURL    string
	serviceKey string
	appName    string
	limiter    *rate.Limiter
	logger     *slog.Logger
	closed     atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter throttles requests through l.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client. The service key is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, errbuilder.GenericErr("tourapi: service key is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	hc := resty.New()
	hc.SetTimeout(cfg.Timeout)
	hc.SetRetryCount(0)

	c := &Client{
		http:       hc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		appName:    cfg.AppName,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get calls path with query merged over the base parameters and returns
// the decoded JSON document.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (map[string]interface{}, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := map[string]string{
		"serviceKey": c.serviceKey,
		"_type":      "json",
		"MobileOS":   "ETC",
		"MobileApp":  c.appName,
	}
	for k, v := range query {
		params[k] = v
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.baseURL + path)
	if err != nil {
		return nil, transportError(path, err)
	}
	c.logger.Debug("tourapi request",
		"path", path,
		"status", resp.StatusCode(),
		"duration", time.Since(start))

	if resp.IsError() {
		return nil, fmt.Errorf("tourapi %s: HTTP %d", path, resp.StatusCode())
	}
	return decode(resp.Body())
}

// transportError drops the request URL from err. The URL carries the
// service key and every query parameter name.
func transportError(path string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return fmt.Errorf("tourapi %s: request failed: %w", path, err)
}

func decode(body []byte) (map[string]interface{}, error) {
	var data map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, portalError(body)
	}

	header, ok := nested(data, "response", "header")
	if !ok {
		return data, nil
	}
	code := strings.TrimSpace(fmt.Sprint(valueOr(header["resultCode"], "")))
	if !okResultCodes[code] {
		return nil, &ProviderError{
			Code:    code,
			Message: strings.TrimSpace(fmt.Sprint(valueOr(header["resultMsg"], ""))),
		}
	}
	return data, nil
}

type portalEnvelope struct {
	Header *struct {
		ErrMsg           string `xml:"errMsg"`
		ReturnAuthMsg    string `xml:"returnAuthMsg"`
		ReturnReasonCode string `xml:"returnReasonCode"`
	} `xml:"cmmMsgHeader"`
}

func portalError(body []byte) error {
	raw := string(body)
	var env portalEnvelope
	if err := xml.Unmarshal(body, &env); err != nil || env.Header == nil {
		return &PortalError{Raw: raw}
	}
	msg := strings.TrimSpace(env.Header.ErrMsg)
	if msg == "" {
		msg = strings.TrimSpace(env.Header.ReturnAuthMsg)
	}
	return &PortalError{
		Code:    strings.TrimSpace(env.Header.ReturnReasonCode),
		Message: msg,
		Raw:     raw,
	}
}

// Close releases idle connections. Later requests fail with ErrClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// Items returns response.body.items.item as a list. A single object becomes
// a one-element list; a missing or malformed envelope yields an empty list.
func Items(resp map[string]interface{}) []map[string]interface{} {
	items, ok := nested(resp, "response", "body", "items")
	if !ok {
		return []map[string]interface{}{}
	}
	switch v := items["item"].(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, it := range v {
			if m, ok := it.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return []map[string]interface{}{}
	}
}

func nested(m map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func valueOr(v, fallback interface{}) interface{} {
	if v == nil {
		return fallback
	}
	return v
}
