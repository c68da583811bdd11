package restapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	"github.com/strata-data/extract-engine/pkg/apperrors"
)

// MaxResponseBytes caps a single pull at 64 MiB.
const MaxResponseBytes = 64 << 20

// Connector pulls data from an HTTP API. Each Extract issues one GET
// against base_url plus the "path" parameter.
type Connector struct {
	cfg    *Config
	client *http.Client
	logger *zap.Logger
}

var _ connector.Connector = (*Connector)(nil)

// New creates an unconnected REST API connector.
func New(cfg *Config, logger *zap.Logger) *Connector {
	return &Connector{cfg: cfg, logger: logger.Named("restapi-connector")}
}

// Connect builds the HTTP client and probes the base URL with a HEAD
// request. A 404 on the bare base URL is tolerated since many APIs only
// respond on resource paths.
func (c *Connector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	client := &http.Client{Timeout: time.Duration(c.cfg.RequestTimeout) * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", c.cfg.BaseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: server returned %d", c.cfg.BaseURL, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("probe %s: authentication rejected (%d)", c.cfg.BaseURL, resp.StatusCode)
	}

	c.client = client
	return nil
}

// Extract issues one GET and returns the raw response body. Required
// params: "path". Optional: "query" (map of string values appended to
// the URL).
func (c *Connector) Extract(ctx context.Context, params map[string]any) (*connector.Result, error) {
	if c.client == nil {
		return nil, fmt.Errorf("extract before connect")
	}

	path, ok := params["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("invalid parameter: path is required")
	}

	target := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	if qp, ok := params["query"].(map[string]any); ok && len(qp) > 0 {
		values := url.Values{}
		for k, v := range qp {
			values.Set(k, fmt.Sprintf("%v", v))
		}
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.applyHeaders(req)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(payload) > MaxResponseBytes {
		return nil, fmt.Errorf("response for %s exceeds %d bytes", path, MaxResponseBytes)
	}

	c.logger.Debug("api pull complete",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(payload)),
		zap.Duration("elapsed", time.Since(start)))

	return &connector.Result{
		Payload: payload,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"byte_size":    len(payload),
			"path":         path,
		},
	}, nil
}

// classifyStatus maps HTTP status codes onto the retryability taxonomy:
// 429 and 5xx are transient, 4xx are fatal.
func classifyStatus(status int, path string) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests:
		return &apperrors.TransientError{
			Kind: "overload",
			Err:  fmt.Errorf("fetch %s: rate limited (429)", path),
		}
	case status >= 500:
		return &apperrors.TransientError{
			Kind: "network",
			Err:  fmt.Errorf("fetch %s: server error (%d)", path, status),
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &apperrors.FatalError{
			Kind: "permission",
			Err:  fmt.Errorf("fetch %s: access denied (%d)", path, status),
		}
	default:
		return &apperrors.FatalError{
			Kind: "validation",
			Err:  fmt.Errorf("fetch %s: client error (%d)", path, status),
		}
	}
}

func (c *Connector) applyHeaders(req *http.Request) {
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

// Close releases the HTTP client's idle connections.
func (c *Connector) Close() error {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}
