package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strata-data/extract-engine/pkg/apperrors"
)

// Classifier decides whether a connector error is transient (worth
// retrying in-process with backoff) or fatal (terminal, requires
// explicit healing). The orchestrator never retries blindly: everything
// a worker sees goes through classification first.
type Classifier interface {
	Classify(err error) error
}

// ClassRule groups message patterns under an error kind. The kind ends up
// in the structured error details so the healing collaborator can act on
// it without re-parsing free text.
type ClassRule struct {
	Kind     string   `yaml:"kind"`
	Patterns []string `yaml:"patterns"`
}

// PatternClassifier classifies errors by case-insensitive substring
// matching. Fatal rules win over transient ones: a permission error that
// mentions a timeout is still a permission error.
type PatternClassifier struct {
	Transient []ClassRule `yaml:"transient"`
	Fatal     []ClassRule `yaml:"fatal"`
}

// NewDefaultClassifier returns the built-in classification rules.
func NewDefaultClassifier() *PatternClassifier {
	return &PatternClassifier{
		Fatal: []ClassRule{
			{Kind: "permission", Patterns: []string{
				"permission denied", "access denied", "unauthorized", "forbidden",
				"authentication failed", "invalid credentials", "401", "403",
			}},
			{Kind: "schema", Patterns: []string{
				"no such table", "does not exist", "unknown column", "undefined column",
				"schema mismatch", "type mismatch", "syntax error",
			}},
			{Kind: "validation", Patterns: []string{
				"invalid parameter", "malformed", "bad request", "400",
			}},
		},
		Transient: []ClassRule{
			{Kind: "network", Patterns: []string{
				"connection refused", "connection reset", "broken pipe", "no such host",
				"network is unreachable", "eof",
			}},
			{Kind: "timeout", Patterns: []string{
				"timeout", "timed out", "i/o timeout", "deadline exceeded",
			}},
			{Kind: "overload", Patterns: []string{
				"too many connections", "too many requests", "rate limit",
				"service unavailable", "429", "500", "502", "503", "504", "deadlock",
			}},
		},
	}
}

// LoadClassifier reads classification rules from a YAML file, falling
// back to the defaults for any empty section.
func LoadClassifier(path string) (*PatternClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}

	var c PatternClassifier
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}

	defaults := NewDefaultClassifier()
	if len(c.Transient) == 0 {
		c.Transient = defaults.Transient
	}
	if len(c.Fatal) == 0 {
		c.Fatal = defaults.Fatal
	}
	return &c, nil
}

// Classify wraps err in a TransientError or FatalError. Errors that
// already carry a classification pass through untouched, as does context
// cancellation. Unmatched errors default to fatal: an unrecognized
// failure needs a human or the healing collaborator, not a retry storm.
func (c *PatternClassifier) Classify(err error) error {
	if err == nil {
		return nil
	}

	var transient *apperrors.TransientError
	var fatal *apperrors.FatalError
	if errors.As(err, &transient) || errors.As(err, &fatal) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range c.Fatal {
		for _, p := range rule.Patterns {
			if strings.Contains(msg, p) {
				return &apperrors.FatalError{Kind: rule.Kind, Err: err}
			}
		}
	}
	for _, rule := range c.Transient {
		for _, p := range rule.Patterns {
			if strings.Contains(msg, p) {
				return &apperrors.TransientError{Kind: rule.Kind, Err: err}
			}
		}
	}
	return &apperrors.FatalError{Kind: "unknown", Err: err}
}
