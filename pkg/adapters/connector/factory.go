package connector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/models"
)

// Factory creates connectors from the registry, keyed by source type.
type Factory interface {
	// New creates an unconnected connector for the described source.
	New(desc *models.SourceDescriptor) (Connector, error)

	// ListTypes returns the source types this factory can build.
	ListTypes() []models.SourceType
}

type registryFactory struct {
	logger *zap.Logger
}

// NewFactory returns a Factory backed by the package registry.
func NewFactory(logger *zap.Logger) Factory {
	return &registryFactory{logger: logger}
}

func (f *registryFactory) New(desc *models.SourceDescriptor) (Connector, error) {
	factory := GetFactory(desc.Type)
	if factory == nil {
		return nil, fmt.Errorf("unsupported source type: %s (not compiled in)", desc.Type)
	}
	return factory(desc.Config, f.logger)
}

func (f *registryFactory) ListTypes() []models.SourceType {
	return RegisteredTypes()
}

var _ Factory = (*registryFactory)(nil)
