package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager persists extracted payloads before an extraction is allowed to
// complete. A success status must never point at data that is not durably
// staged, so Write fsyncs both the payload and its manifest.
type Manager interface {
	// Write stages one payload and returns its location.
	Write(ctx context.Context, extractionID uuid.UUID, payload []byte, metadata map[string]any) (string, error)
}

// Manifest describes one staged payload. Written alongside the data file
// so downstream loaders can discover payloads without a database lookup.
type Manifest struct {
	ExtractionID string         `json:"extraction_id"`
	PayloadFile  string         `json:"payload_file"`
	ByteSize     int            `json:"byte_size"`
	StagedAt     time.Time      `json:"staged_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type fsManager struct {
	root   string
	logger *zap.Logger
}

var _ Manager = (*fsManager)(nil)

// NewFilesystemManager creates a staging manager rooted at dir. The
// directory is created if missing.
func NewFilesystemManager(dir string, logger *zap.Logger) (Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("staging directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &fsManager{root: dir, logger: logger.Named("staging")}, nil
}

// Write stages the payload under <root>/<date>/<extraction-id>/ as
// payload.bin plus manifest.json. The payload lands first, then the
// manifest; a directory with no manifest is an incomplete stage and
// loaders must skip it.
func (m *fsManager) Write(ctx context.Context, extractionID uuid.UUID, payload []byte, metadata map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	dir := filepath.Join(m.root, now.Format("2006-01-02"), extractionID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stage directory: %w", err)
	}

	payloadPath := filepath.Join(dir, "payload.bin")
	if err := writeFileSync(payloadPath, payload); err != nil {
		return "", fmt.Errorf("stage payload: %w", err)
	}

	manifest := Manifest{
		ExtractionID: extractionID.String(),
		PayloadFile:  "payload.bin",
		ByteSize:     len(payload),
		StagedAt:     now,
		Metadata:     metadata,
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, "manifest.json"), encoded); err != nil {
		return "", fmt.Errorf("stage manifest: %w", err)
	}

	m.logger.Debug("payload staged",
		zap.String("extraction_id", extractionID.String()),
		zap.String("location", dir),
		zap.Int("bytes", len(payload)))
	return dir, nil
}

// writeFileSync writes data and fsyncs before closing so a crash after
// Write returns cannot lose the staged bytes.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
