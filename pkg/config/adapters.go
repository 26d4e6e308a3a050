package config

import (
	"fmt"

	"github.com/marmos91/dittosync/pkg/adapter"
	"github.com/marmos91/dittosync/pkg/adapter/arp"
	"github.com/marmos91/dittosync/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete DittoSync configuration
//   - replicationMetrics: Optional metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: If no adapter is enabled
func CreateAdapters(cfg *Config, replicationMetrics metrics.ReplicationMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Provider.Enabled {
		adapters = append(adapters, arp.New(cfg.Provider, replicationMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
