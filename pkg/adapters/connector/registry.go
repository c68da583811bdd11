package connector

import (
	"sync"

	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/models"
)

// Registration binds a source type to its connector factory.
type Registration struct {
	Type        models.SourceType
	DisplayName string
	Factory     func(config map[string]any, logger *zap.Logger) (Connector, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.SourceType]Registration)
)

// Register is called by each connector package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Type] = reg
}

// GetFactory returns the factory for a source type, or nil if the type
// is not compiled in.
func GetFactory(t models.SourceType) func(config map[string]any, logger *zap.Logger) (Connector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if reg, ok := registry[t]; ok {
		return reg.Factory
	}
	return nil
}

// RegisteredTypes returns all compiled-in source types.
func RegisteredTypes() []models.SourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]models.SourceType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

// IsRegistered checks whether a connector exists for the source type.
func IsRegistered(t models.SourceType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}
