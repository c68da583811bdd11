package mssql

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	"github.com/strata-data/extract-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Type:        models.SourceTypeMSSQL,
		DisplayName: "SQL Server",
		Factory: func(config map[string]any, logger *zap.Logger) (connector.Connector, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, fmt.Errorf("invalid mssql config: %w", err)
			}
			return New(cfg, logger), nil
		},
	})
}
