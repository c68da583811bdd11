package connector

import "context"

// Result is what one extraction pull returns: the raw payload destined
// for staging plus structured metadata about the pull (row counts, byte
// sizes, watermarks). The core never interprets the payload.
type Result struct {
	Payload  []byte
	Metadata map[string]any
}

// Connector pulls data from one external source. One connector instance
// serves one source; implementations own their connection and must be
// closed when done. Connect and Extract honor context deadlines so a
// stuck source cannot monopolize a worker slot indefinitely.
type Connector interface {
	// Connect establishes and verifies the connection.
	Connect(ctx context.Context) error

	// Extract performs one pull with the given parameters.
	Extract(ctx context.Context, params map[string]any) (*Result, error)

	// Close releases the connection.
	Close() error
}
