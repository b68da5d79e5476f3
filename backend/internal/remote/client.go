package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

// maxErrorDetail bounds how much of an error body ends up in a message
const maxErrorDetail = 500

// Client is a bearer-authenticated JSON client for one backend
type Client struct {
	service    string
	apiKey     string
	httpClient *http.Client
	rewrite    func(target string) string
	headers    map[string]string
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRewrite routes every target URL through fn, e.g. a forwarding proxy
func WithRewrite(fn func(target string) string) Option {
	return func(c *Client) {
		c.rewrite = fn
	}
}

// WithHeader adds a static header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// NewClient creates a client. service names the backend in errors and logs.
func NewClient(service, apiKey string, opts ...Option) *Client {
	c := &Client{
		service: service,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		headers: make(map[string]string),
		logger:  logger.Named("remote").With(zap.String("service", service)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Service returns the backend name
func (c *Client) Service() string {
	return c.service
}

// DoJSON sends body (if non-nil) as JSON and decodes a 2xx response into out
func (c *Client) DoJSON(ctx context.Context, method, target string, body, out interface{}) error {
	raw, err := c.Do(ctx, method, target, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Error("Failed to decode response",
			zap.Error(err),
			zap.String("response_body", truncate(string(raw))),
		)
		return apperrors.NewMalformedResponse(c.service, "response body is not valid JSON", err)
	}
	return nil
}

// Do sends the request and returns the raw 2xx body
func (c *Client) Do(ctx context.Context, method, target string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := target
	if c.rewrite != nil {
		url = c.rewrite(target)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("Calling backend",
		zap.String("method", method),
		zap.String("target", target),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransport(c.service, 0, fmt.Sprintf("network error, ensure %s is reachable", hostOf(url)), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransport(c.service, resp.StatusCode, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperrors.NewUnauthorized(c.service)
	}

	if looksLikeHTML(raw) {
		c.logger.Error("Backend returned HTML",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", url),
		)
		return nil, apperrors.NewTransport(c.service, resp.StatusCode,
			fmt.Sprintf("proxy error (%d): the server returned HTML instead of JSON (%s). Check your proxy URL", resp.StatusCode, htmlSummary(raw)), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Backend API error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", url),
			zap.String("response_body", truncate(string(raw))),
		)
		return nil, apperrors.NewTransport(c.service, resp.StatusCode,
			fmt.Sprintf("API error (%d): %s", resp.StatusCode, errorDetail(raw)), nil)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperrors.NewMalformedResponse(c.service, "empty response body", nil)
	}

	return raw, nil
}

func looksLikeHTML(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("<"))
}

// htmlSummary pulls the page title, or failing that the leading body text
func htmlSummary(raw []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "unparseable page"
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return truncate(title)
	}
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if text == "" {
		return "empty page"
	}
	return truncate(text)
}

// errorDetail prefers the JSON detail/error field over the raw body.
// Inference endpoints that are still loading add an estimated wait.
func errorDetail(raw []byte) string {
	var body struct {
		Detail        string   `json:"detail"`
		Error         string   `json:"error"`
		EstimatedTime *float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" && body.EstimatedTime != nil {
			return fmt.Sprintf("%s (Estimated wait: %gs)", body.Error, *body.EstimatedTime)
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return truncate(strings.TrimSpace(string(raw)))
}

func truncate(s string) string {
	if len(s) <= maxErrorDetail {
		return s
	}
	return s[:maxErrorDetail] + "..."
}

func hostOf(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i]
	}
	return url
}
