package restapi

import (
	"fmt"
	"strings"
)

// Config contains REST API source connection options.
type Config struct {
	BaseURL string
	Headers map[string]string

	// AuthToken is sent as a Bearer token when set.
	AuthToken string

	// RequestTimeout in seconds for each pull.
	RequestTimeout int
}

// DefaultRequestTimeout returns the default per-request timeout in seconds.
func DefaultRequestTimeout() int {
	return 60
}

// FromMap creates a Config from a generic connection descriptor map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		RequestTimeout: DefaultRequestTimeout(),
		Headers:        make(map[string]string),
	}

	if baseURL, ok := config["base_url"].(string); ok {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	} else {
		return nil, fmt.Errorf("base_url is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base_url must be http or https")
	}

	if token, ok := config["auth_token"].(string); ok {
		cfg.AuthToken = token
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}

	if timeout, ok := config["request_timeout"].(float64); ok {
		cfg.RequestTimeout = int(timeout)
	} else if timeout, ok := config["request_timeout"].(int); ok {
		cfg.RequestTimeout = timeout
	}

	return cfg, nil
}
