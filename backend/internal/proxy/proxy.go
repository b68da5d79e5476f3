package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"music-tutor/backend/internal/observability"
	"music-tutor/backend/pkg/logger"
)

// UserAgent identifies forwarded requests to the upstream
const UserAgent = "Music-Tutor-Proxy"

const (
	allowMethods = "GET,OPTIONS,PATCH,DELETE,POST,PUT"
	allowHeaders = "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Content-Type, Date, X-Api-Version, Authorization"
)

// Config configures the forwarding handler
type Config struct {
	// AllowedHosts are the only hostnames requests may be forwarded to
	AllowedHosts []string
	// Timeout bounds one upstream round trip
	Timeout time.Duration
	// HTTPClient overrides the upstream client
	HTTPClient *http.Client
}

// Handler forwards ?url=<target> requests to allow-listed hosts so browser
// clients can reach APIs that do not send CORS headers
type Handler struct {
	allowed map[string]struct{}
	client  *http.Client
	logger  *zap.Logger
}

// NewHandler creates a forwarding handler
func NewHandler(cfg Config) *Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = struct{}{}
		}
	}

	var client http.Client
	if cfg.HTTPClient != nil {
		client = *cfg.HTTPClient
	} else {
		client.Timeout = cfg.Timeout
		if client.Timeout <= 0 {
			client.Timeout = 60 * time.Second
		}
	}
	// Redirects are relayed, never followed: the Location may point off the allow-list
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Handler{
		allowed: allowed,
		client:  &client,
		logger:  logger.Named("proxy"),
	}
}

// Register mounts the handler on every method at path
func (h *Handler) Register(r gin.IRoutes, path string) {
	r.Any(path, h.Handle)
}

// Allowed reports whether target may be forwarded
func (h *Handler) Allowed(target *url.URL) bool {
	_, ok := h.allowed[strings.ToLower(target.Hostname())]
	return ok
}

// Handle serves one forwarding request
func (h *Handler) Handle(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", allowMethods)
	header.Set("Access-Control-Allow-Headers", allowHeaders)

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusOK)
		return
	}

	raw := c.Query("url")
	if raw == "" {
		observability.RecordProxyRequest("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing "url" query parameter`})
		return
	}

	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "https" && target.Scheme != "http") || target.Host == "" {
		observability.RecordProxyRequest("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid "url" query parameter`})
		return
	}

	if !h.Allowed(target) {
		observability.RecordProxyRequest("forbidden")
		h.logger.Warn("Rejected forward to host outside allow-list", zap.String("host", target.Hostname()))
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden: Only Replicate API URLs are allowed."})
		return
	}

	status, contentType, body, err := h.forward(c.Request.Context(), c.Request, target)
	if err != nil {
		observability.RecordProxyRequest("upstream_error")
		h.logger.Error("Proxy error",
			zap.String("method", c.Request.Method),
			zap.String("host", target.Hostname()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error", "details": err.Error()})
		return
	}

	observability.RecordProxyRequest("forwarded")
	c.Data(status, contentType, body)
}

func (h *Handler) forward(ctx context.Context, in *http.Request, target *url.URL) (int, string, []byte, error) {
	var body io.Reader
	if in.Method != http.MethodGet && in.Method != http.MethodHead && in.Body != nil {
		payload, err := io.ReadAll(in.Body)
		if err != nil {
			return 0, "", nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, target.String(), body)
	if err != nil {
		return 0, "", nil, err
	}
	if auth := in.Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	contentType := in.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, err
	}

	respType := resp.Header.Get("Content-Type")
	if respType == "" {
		respType = "application/json"
	}

	h.logger.Debug("Forwarded request",
		zap.String("method", in.Method),
		zap.String("host", target.Hostname()),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, respType, data, nil
}
