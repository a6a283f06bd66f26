package vinfra

import "github.com/uber-go/tally"

// Metrics are the counters and gauges the virtual infrastructure exposes,
// following resmgr/respool/metrics.go's scoped-counter style.
type Metrics struct {
	VMsRequested tally.Counter
	VMsDestroyed tally.Counter
	KindsDropped tally.Counter
	PoolSize     tally.Gauge
}

// NewMetrics builds a Metrics from a scope.
func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		VMsRequested: scope.Counter("vms_requested"),
		VMsDestroyed: scope.Counter("vms_destroyed"),
		KindsDropped: scope.Counter("kinds_dropped"),
		PoolSize:     scope.Gauge("pool_size"),
	}
}
