// Package metrics exposes replication counters to Prometheus.
//
// Collection is opt-in. Until InitRegistry runs, constructors in the
// prometheus subpackage hand out the no-op ReplicationMetrics, so sessions
// and adapters never check whether metrics are on.
//
//	metrics.InitRegistry()
//	m := prometheus.NewReplicationMetrics()
//	provider := arp.New(cfg, m)
//
//	provider := arp.New(cfg, nil) // nothing recorded
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and only read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry and registers the Go
// runtime and process collectors on it. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
