package cloud

import "github.com/uber-go/tally"

// Metrics are the counters and gauges emitted by the simulated cloud,
// following the scoped-counter/gauge style of resmgr/respool/metrics.go.
type Metrics struct {
	VMsRequested  tally.Counter
	VMsRunning    tally.Gauge
	VMsDestroyed  tally.Counter
	VMsTerminated tally.Counter

	VAsRegistered   tally.Counter
	VAsDeregistered tally.Counter
	StorageBytes    tally.Gauge
}

// NewMetrics builds a Metrics from a scope, tagging counters the way the
// teacher's resource-pool metrics tag by pool path.
func NewMetrics(scope tally.Scope) *Metrics {
	vmScope := scope.SubScope("vm")
	vaScope := scope.SubScope("va")
	return &Metrics{
		VMsRequested:    vmScope.Counter("requested"),
		VMsRunning:      vmScope.Gauge("running"),
		VMsDestroyed:    vmScope.Counter("destroyed"),
		VMsTerminated:   vmScope.Counter("terminated"),
		VAsRegistered:   vaScope.Counter("registered"),
		VAsDeregistered: vaScope.Counter("deregistered"),
		StorageBytes:    vaScope.Gauge("storage_bytes"),
	}
}
