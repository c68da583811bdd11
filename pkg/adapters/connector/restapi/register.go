package restapi

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	"github.com/strata-data/extract-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Type:        models.SourceTypeRESTAPI,
		DisplayName: "REST API",
		Factory: func(config map[string]any, logger *zap.Logger) (connector.Connector, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, fmt.Errorf("invalid restapi config: %w", err)
			}
			return New(cfg, logger), nil
		},
	})
}
