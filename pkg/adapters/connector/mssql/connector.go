package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	enginesql "github.com/strata-data/extract-engine/pkg/sql"
)

// MaxExtractRows caps a single pull. Same ceiling as the postgres
// connector so payload sizing stays uniform across source types.
const MaxExtractRows = 100000

// Connector extracts rows from a SQL Server source.
type Connector struct {
	cfg    *Config
	db     *sql.DB
	logger *zap.Logger
}

var _ connector.Connector = (*Connector)(nil)

// New creates an unconnected SQL Server connector.
func New(cfg *Config, logger *zap.Logger) *Connector {
	return &Connector{cfg: cfg, logger: logger.Named("mssql-connector")}
}

func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		query.Encode(),
	)
}

// Connect opens the database handle and verifies connectivity.
func (c *Connector) Connect(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	db, err := sql.Open("sqlserver", buildConnectionString(c.cfg))
	if err != nil {
		return fmt.Errorf("open sqlserver connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlserver: %w", err)
	}
	c.db = db
	return nil
}

// Extract runs the extraction query from params and returns the rows as a
// JSON-encoded payload. Required params: "query".
func (c *Connector) Extract(ctx context.Context, params map[string]any) (*connector.Result, error) {
	if c.db == nil {
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

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run extraction query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var records []map[string]any
	for rows.Next() {
		if len(records) >= MaxExtractRows {
			return nil, fmt.Errorf("extraction exceeds %d rows, paginate the query", MaxExtractRows)
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			// database/sql returns []byte for text columns; normalize
			// so the JSON payload carries strings instead of base64.
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
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
			"row_count": len(records),
			"columns":   columns,
			"byte_size": len(payload),
			"database":  c.cfg.Database,
		},
	}, nil
}

// Close releases the database handle.
func (c *Connector) Close() error {
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
