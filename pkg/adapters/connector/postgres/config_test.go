package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMapDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "db.internal",
		"user":     "etl",
		"database": "orders",
	})
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "require", cfg.SSLMode)
}

func TestFromMapJSONNumbers(t *testing.T) {
	// JSON decoding yields float64 for numbers
	cfg, err := FromMap(map[string]any{
		"host":     "db.internal",
		"user":     "etl",
		"database": "orders",
		"port":     float64(5433),
	})
	require.NoError(t, err)
	assert.Equal(t, 5433, cfg.Port)
}

func TestFromMapRequiredFields(t *testing.T) {
	_, err := FromMap(map[string]any{"user": "etl", "database": "orders"})
	require.Error(t, err)

	_, err = FromMap(map[string]any{"host": "h", "database": "orders"})
	require.Error(t, err)

	_, err = FromMap(map[string]any{"host": "h", "user": "etl"})
	require.Error(t, err)
}

func TestBuildConnectionStringEscapes(t *testing.T) {
	cfg := &Config{
		Host:     "db.internal",
		Port:     5432,
		User:     "etl",
		Password: "p@ss/word#1",
		Database: "orders",
		SSLMode:  "require",
	}
	connStr := buildConnectionString(cfg)
	assert.NotContains(t, connStr, "p@ss/word#1")
	assert.Contains(t, connStr, "p%40ss%2Fword%231")
}
