// Package monitor implements the per-VM sliding-window CPU-utilization
// estimator described in spec.md §4.1, ported from HourlyVMMonitor in
// original_source with the same 5-minute sampling cadence and 12-slot ring.
package monitor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

// SamplePeriodMs is how often the monitor samples a VM's cumulative
// processed-work counter: 5 simulated minutes.
const SamplePeriodMs = 5 * 60 * 1000

const ringSize = 12

// ErrMonitorInactive is returned by HourlyUtilization once the monitor has
// been stopped.
var ErrMonitorInactive = errors.New("monitor: query on a stopped monitor")

// Monitor tracks one VM's hourly utilization from 5-minute deltas of its
// cumulative processed-work counter.
type Monitor struct {
	vm  *cloud.VM
	sim *simtime.Simulation

	ring       [ringSize]float64
	index      int
	subscribed bool
	finished   bool

	maxHourlyWork float64
	latched       bool

	sub      *simtime.Subscription
	stateSub cloud.StateSubscription
}

// New creates a monitor for vm. Start must be called to begin sampling.
func New(sim *simtime.Simulation, vm *cloud.VM) *Monitor {
	m := &Monitor{vm: vm, sim: sim}
	m.stateSub = vm.SubscribeStateChange(cloud.StateChangeListenerFunc(m.onStateChange))
	return m
}

// Start begins sampling: every ring slot is filled with the VM's current
// total-processed value, the write index resets to zero, and finished
// clears — exactly HourlyVMMonitor.startMon's reinitialisation.
func (m *Monitor) Start() {
	if m.subscribed {
		return
	}
	current := m.vm.TotalProcessed()
	for i := range m.ring {
		m.ring[i] = current
	}
	m.index = 0
	m.finished = false
	m.subscribed = true
	m.sub = m.sim.Subscribe(m, SamplePeriodMs)
}

// Stop marks the monitor inactive immediately — HourlyUtilization starts
// returning ErrMonitorInactive right away — but leaves the simtime
// unsubscription itself to the next scheduled fire, matching
// HourlyVMMonitor.finishMon. Calling Stop twice is a no-op.
func (m *Monitor) Stop() {
	m.finished = true
	m.subscribed = false
}

// Tick implements simtime.Tickable.
func (m *Monitor) Tick(now int64) {
	if m.finished {
		if m.sub != nil {
			m.sub.Unsubscribe()
		}
		return
	}
	m.ring[m.index%ringSize] = m.vm.TotalProcessed()
	m.index++
}

// onStateChange latches maxHourlyWork on the VM's first transition to
// RUNNING and unsubscribes from further state changes, per spec.md §4.1.
func (m *Monitor) onStateChange(vm *cloud.VM, old, new cloud.VMState) {
	if new == cloud.Running && !m.latched {
		m.maxHourlyWork = vm.PerTickProcessingPower * 3600000
		m.latched = true
		vm.UnsubscribeStateChange(m.stateSub)
	}
}

// HourlyUtilization returns the fraction of the maximum possible hourly work
// this VM has actually done, per the ring-buffer formula in spec.md §3. It
// is 0 before at least one sample has been taken, and effectively 0 before
// max_hourly_work has latched (the divisor is +Inf), which is intentional:
// the scaler must not judge a pre-RUNNING VM idle. It returns
// ErrMonitorInactive as soon as Stop has been called, even before the
// simtime subscription itself has been cancelled.
func (m *Monitor) HourlyUtilization() (float64, error) {
	if !m.subscribed {
		return 0, ErrMonitorInactive
	}
	if m.index == 0 {
		return 0, nil
	}
	divisor := m.maxHourlyWork
	if !m.latched {
		divisor = math.Inf(1)
	}
	newest := m.ring[(m.index-1)%ringSize]
	oldest := m.ring[m.index%ringSize]
	return (newest - oldest) / divisor, nil
}
