package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	enginesql "github.com/strata-data/extract-engine/pkg/sql"
)

var _ connector.Connector = (*Connector)(nil)

// MaxExtractRows caps a single pull so a misconfigured extraction query
// cannot exhaust memory. Larger pulls should paginate via parameters.
const MaxExtractRows = 100000

// Connector extracts rows from a PostgreSQL source. One connector per
// source; the pool is created on Connect and released on Close.
type Connector struct {
	cfg    *Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates an unconnected PostgreSQL connector.
func New(cfg *Config, logger *zap.Logger) *Connector {
	return &Connector{cfg: cfg, logger: logger.Named("postgres-connector")}
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// User-provided fields must be URL-escaped so special characters in
// passwords (@, /, #, ?) do not break URL parsing.
func buildConnectionString(cfg *Config) string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		cfg.SSLMode,
	)
}

// Connect creates the pool and verifies connectivity.
func (c *Connector) Connect(ctx context.Context) error {
	if c.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, buildConnectionString(c.cfg))
	if err != nil {
		return fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	c.pool = pool
	return nil
}

// Extract runs the extraction query from params and returns the rows as a
// JSON-encoded payload. Required params: "query". Optional: "args" (a
// []any of positional arguments).
func (c *Connector) Extract(ctx context.Context, params map[string]any) (*connector.Result, error) {
	if c.pool == nil {
		return nil, fmt.Errorf("extract before connect")
	}

	raw, _ := params["query"].(string)
	query, err := enginesql.ValidateExtractionQuery(raw)
	if err != nil {
		return nil, err
	}
	var args []any
	if a, ok := params["args"].([]any); ok {
		args = a
	}

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run extraction query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var records []map[string]any
	for rows.Next() {
		if len(records) >= MaxExtractRows {
			return nil, fmt.Errorf("extraction exceeds %d rows, paginate the query", MaxExtractRows)
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	c.logger.Debug("extraction query complete",
		zap.String("database", c.cfg.Database),
		zap.Int("rows", len(records)))

	return &connector.Result{
		Payload: payload,
		Metadata: map[string]any{
			"row_count":  len(records),
			"columns":    columns,
			"byte_size":  len(payload),
			"database":   c.cfg.Database,
			"query_hash": fmt.Sprintf("%x", hashString(query)),
		},
	}, nil
}

// Close releases the pool.
func (c *Connector) Close() error {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

// hashString is a small FNV-1a for query fingerprinting in metadata.
func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
