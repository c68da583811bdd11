package extraction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-data/extract-engine/pkg/apperrors"
)

func TestClassifyTransient(t *testing.T) {
	c := NewDefaultClassifier()

	cases := map[string]string{
		"dial tcp: connection refused": "network",
		"read tcp: i/o timeout":        "timeout",
		"server returned 503":          "overload",
		"pq: too many connections":     "overload",
		"context deadline exceeded":    "timeout",
		"write: broken pipe":           "network",
	}
	for msg, kind := range cases {
		classified := c.Classify(errors.New(msg))
		var transient *apperrors.TransientError
		require.True(t, errors.As(classified, &transient), "expected transient for %q", msg)
		assert.Equal(t, kind, transient.Kind, msg)
	}
}

func TestClassifyFatal(t *testing.T) {
	c := NewDefaultClassifier()

	cases := map[string]string{
		"pq: permission denied for table orders": "permission",
		"relation \"orders\" does not exist":     "schema",
		"invalid parameter: query is required":   "validation",
		"login failed: authentication failed":    "permission",
	}
	for msg, kind := range cases {
		classified := c.Classify(errors.New(msg))
		var fatal *apperrors.FatalError
		require.True(t, errors.As(classified, &fatal), "expected fatal for %q", msg)
		assert.Equal(t, kind, fatal.Kind, msg)
	}
}

func TestClassifyFatalWinsOverTransient(t *testing.T) {
	c := NewDefaultClassifier()

	classified := c.Classify(errors.New("permission denied after timeout"))
	var fatal *apperrors.FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, "permission", fatal.Kind)
}

func TestClassifyUnknownDefaultsToFatal(t *testing.T) {
	c := NewDefaultClassifier()

	classified := c.Classify(errors.New("something entirely unexpected"))
	var fatal *apperrors.FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, "unknown", fatal.Kind)
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	c := NewDefaultClassifier()

	original := &apperrors.TransientError{Kind: "overload", Err: errors.New("permission denied")}
	assert.Equal(t, error(original), c.Classify(original))

	assert.Equal(t, context.Canceled, c.Classify(context.Canceled))
	assert.NoError(t, c.Classify(nil))
}

func TestLoadClassifierFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rules := `
transient:
  - kind: flaky_vendor
    patterns: ["vendor hiccup"]
`
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o644))

	c, err := LoadClassifier(path)
	require.NoError(t, err)

	classified := c.Classify(errors.New("upstream vendor hiccup, try again"))
	var transient *apperrors.TransientError
	require.True(t, errors.As(classified, &transient))
	assert.Equal(t, "flaky_vendor", transient.Kind)

	// fatal section was empty in the file, so defaults still apply
	classified = c.Classify(errors.New("permission denied"))
	var fatal *apperrors.FatalError
	require.True(t, errors.As(classified, &fatal))
}

func TestLoadClassifierMissingFile(t *testing.T) {
	_, err := LoadClassifier(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
