// Package vinfra implements the VirtualInfrastructure base described in
// spec.md §4.2: owner of per-kind VM pools, VA storage bookkeeping, monitor
// wiring, and the request/destroy primitives autoscaler policies use. It is
// grounded on the structure of resmgr/respool.resPool (a tree node owning
// per-resource-kind bookkeeping behind a mutex, exposing a narrow mutating
// surface) generalized from a resource-pool tree to a per-kind VM pool map,
// and on VirtualInfrastructure.java in original_source for the exact
// control-loop primitives (requestVM/destroyVM/state-change handling).
package vinfra

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/monitor"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

// ControlPeriodMs is the cadence at which the autoscaling policy's Tick
// runs: 2 simulated minutes, per spec.md §4.2.
const ControlPeriodMs = 120 * 1000

// defaultVABootCostSec and defaultVASizeBytes match original_source's
// VirtualAppliance: a short boot procedure and an approximately 1 GiB image.
const (
	defaultVABootCostSec = 15
	defaultVASizeBytes   = 1024 * 1024 * 1024
)

// Policy is the injected control law a VirtualInfrastructure runs every
// tick — the capability the abstract Java tick() method becomes per
// spec.md §9's redesign flag. Pools and helpers reach the policy through
// TickContext instead of protected fields on a base class.
type Policy interface {
	Tick(ctx *TickContext)
}

// VirtualInfrastructure owns per-kind VM pools, VA storage bookkeeping, and
// the utilization monitors that feed the injected Policy.
type VirtualInfrastructure struct {
	sim     *simtime.Simulation
	cloud   *cloud.IaaSService
	policy  Policy
	metrics *Metrics

	mu         sync.Mutex
	pools      map[string][]*cloud.VM
	underPrep  map[string]*cloud.VM
	monitors   map[*cloud.VM]*monitor.Monitor
	stateSubs  map[*cloud.VM]cloud.StateSubscription
	obsolete   *list.List
	obsoleteAt map[string]*list.Element

	pmCores int
	pmMem   int64

	sub *simtime.Subscription
}

// New creates a VirtualInfrastructure over cld, driven by policy, with VM
// sizing derived from cld.Machines[0]'s capacity per spec.md §4.2 step 3.
func New(sim *simtime.Simulation, cld *cloud.IaaSService, policy Policy, scope tally.Scope) *VirtualInfrastructure {
	pm := cld.Machines[0]
	return &VirtualInfrastructure{
		sim:        sim,
		cloud:      cld,
		policy:     policy,
		metrics:    NewMetrics(scope),
		pools:      make(map[string][]*cloud.VM),
		underPrep:  make(map[string]*cloud.VM),
		monitors:   make(map[*cloud.VM]*monitor.Monitor),
		stateSubs:  make(map[*cloud.VM]cloud.StateSubscription),
		obsolete:   list.New(),
		obsoleteAt: make(map[string]*list.Element),
		pmCores:    pm.Cores,
		pmMem:      pm.MemBytes,
	}
}

// RegisterKind marks kind as an active workload class with an empty pool.
// Idempotent: registering an already-present kind (whether empty or not) is
// a no-op.
func (vi *VirtualInfrastructure) RegisterKind(kind string) {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if _, ok := vi.pools[kind]; !ok {
		vi.pools[kind] = nil
		log.WithField("kind", kind).Info("registered new vm kind")
	}
}

// StartAutoscaling subscribes the control loop to the virtual clock at the
// 2-minute cadence spec.md §4.2 specifies.
func (vi *VirtualInfrastructure) StartAutoscaling() {
	vi.sub = vi.sim.Subscribe(vi, ControlPeriodMs)
}

// Tick implements simtime.Tickable by handing control to the injected
// policy through a scoped TickContext.
func (vi *VirtualInfrastructure) Tick(now int64) {
	vi.policy.Tick(&TickContext{vi: vi, now: now})
}

// Terminate destroys every VM in every pool — iterating each pool from the
// tail so removal during iteration is safe — and cancels the control loop
// subscription, per spec.md §4.2.
func (vi *VirtualInfrastructure) Terminate() {
	vi.mu.Lock()
	kinds := make([]string, 0, len(vi.pools))
	for k := range vi.pools {
		kinds = append(kinds, k)
	}
	vi.mu.Unlock()

	for _, kind := range kinds {
		for {
			vi.mu.Lock()
			pool := vi.pools[kind]
			if len(pool) == 0 {
				vi.mu.Unlock()
				break
			}
			vm := pool[len(pool)-1]
			vi.mu.Unlock()
			vi.DestroyVM(vm)
		}
	}
	if vi.sub != nil {
		vi.sub.Unsubscribe()
	}
	log.Info("autoscaling mechanism terminated")
}

// RequestVM arranges a new VM request for kind, registering its VA with the
// cloud's repository if needed, per spec.md §4.2. It is a no-op if kind
// already has a request in flight. Returns ErrStorageExhausted if the VA
// can't be registered and no obsolete VA is available to evict.
func (vi *VirtualInfrastructure) RequestVM(kind string) error {
	vi.mu.Lock()
	if _, busy := vi.underPrep[kind]; busy {
		vi.mu.Unlock()
		return nil
	}
	vi.mu.Unlock()

	va := vi.cloud.Storage.Lookup(kind)
	if va == nil {
		va = &cloud.VA{Kind: kind, BootCost: defaultVABootCostSec, SizeBytes: defaultVASizeBytes}
		for !vi.cloud.RegisterVA(va) {
			evictKind, ok := vi.popObsolete()
			if !ok {
				return ErrStorageExhausted
			}
			vi.cloud.DeregisterVA(evictKind)
		}
	}

	// Deterministic per-kind VM sizing: 1-4 cores from the kind's name
	// length, memory scaled proportionally to the first PM's ratio.
	cores := len(kind)%4 + 1
	memBytes := int64(cores) * vi.pmMem / int64(vi.pmCores)

	vm, err := vi.cloud.RequestVM(va, cores, memBytes, vi.cloud.Storage)
	if err != nil {
		return errors.Wrap(err, "requesting vm")
	}

	mon := monitor.New(vi.sim, vm)
	mon.Start()

	vi.mu.Lock()
	wasEmpty := len(vi.pools[kind]) == 0
	vi.pools[kind] = append(vi.pools[kind], vm)
	if wasEmpty {
		vi.removeObsoleteLocked(kind)
	}
	vi.underPrep[kind] = vm
	vi.monitors[vm] = mon
	vi.mu.Unlock()

	vi.metrics.VMsRequested.Inc(1)
	vi.metrics.PoolSize.Update(float64(vi.totalPoolSize()))
	stateSub := vm.SubscribeStateChange(cloud.StateChangeListenerFunc(vi.onVMStateChanged))
	vi.mu.Lock()
	vi.stateSubs[vm] = stateSub
	vi.mu.Unlock()
	log.WithFields(log.Fields{"kind": kind, "vm": vm.ID}).Debug("vm requested")
	return nil
}

// totalPoolSize sums every kind's pool. It takes vi.mu itself, so callers
// must not hold it.
func (vi *VirtualInfrastructure) totalPoolSize() int {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	n := 0
	for _, pool := range vi.pools {
		n += len(pool)
	}
	return n
}

// DestroyVM stops vm's monitor, removes it from its pool, clears any
// matching in-flight request, and tells the cloud to tear it down. If the
// pool becomes empty, kind is pushed onto the obsolete-VA list as an
// eviction candidate, per spec.md §4.2.
func (vi *VirtualInfrastructure) DestroyVM(vm *cloud.VM) {
	vi.mu.Lock()
	kind := vm.VA.Kind
	mon := vi.monitors[vm]
	delete(vi.monitors, vm)
	stateSub, hadStateSub := vi.stateSubs[vm]
	delete(vi.stateSubs, vm)
	pool := vi.pools[kind]
	for i, v := range pool {
		if v == vm {
			pool = append(pool[:i:i], pool[i+1:]...)
			break
		}
	}
	vi.pools[kind] = pool
	if vi.underPrep[kind] == vm {
		delete(vi.underPrep, kind)
	}
	empty := len(pool) == 0
	vi.mu.Unlock()

	if hadStateSub {
		vm.UnsubscribeStateChange(stateSub)
	}
	if mon != nil {
		mon.Stop()
	}

	if err := vi.cloud.Destroy(vm, true); err != nil {
		log.WithError(err).WithField("vm", vm.ID).Fatal("vm management failure on destroy")
	}

	if empty {
		vi.mu.Lock()
		vi.pushObsoleteLocked(kind)
		vi.mu.Unlock()
	}
	vi.metrics.VMsDestroyed.Inc(1)
	vi.metrics.PoolSize.Update(float64(vi.totalPoolSize()))
	log.WithFields(log.Fields{"kind": kind, "vm": vm.ID}).Debug("vm destroyed")
}

// DropKind removes kind from the VI entirely — the "Dropped" transition in
// spec.md §4.8. Re-registering it afterwards starts a fresh pool.
func (vi *VirtualInfrastructure) DropKind(kind string) {
	vi.mu.Lock()
	delete(vi.pools, kind)
	delete(vi.underPrep, kind)
	vi.mu.Unlock()
	vi.metrics.KindsDropped.Inc(1)
	log.WithField("kind", kind).Info("dropped vm kind")
}

// Pool returns a snapshot of the VMs currently in kind's pool. Used by the
// launcher, which dispatches outside the policy's tick but still only ever
// at a tick boundary, per spec.md §5.
func (vi *VirtualInfrastructure) Pool(kind string) []*cloud.VM {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	pool := vi.pools[kind]
	out := make([]*cloud.VM, len(pool))
	copy(out, pool)
	return out
}

// HasKind reports whether kind is currently registered (Present, whether or
// not its pool is empty).
func (vi *VirtualInfrastructure) HasKind(kind string) bool {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	_, ok := vi.pools[kind]
	return ok
}

// HourlyUtil returns vm's current hourly utilization fraction, or 0 if no
// monitor is attached (shouldn't happen for a VM still in a pool).
func (vi *VirtualInfrastructure) HourlyUtil(vm *cloud.VM) float64 {
	vi.mu.Lock()
	mon := vi.monitors[vm]
	vi.mu.Unlock()
	if mon == nil {
		return 0
	}
	u, err := mon.HourlyUtilization()
	if err != nil {
		log.WithError(err).WithField("vm", vm.ID).Warn("hourly utilization query on inactive monitor")
		return 0
	}
	return u
}

// onVMStateChanged is the VI's own state-change subscription: on RUNNING or
// NONSERVABLE it clears the kind's in-flight request and unsubscribes,
// which is how the VI-VM subscription cycle breaks by protocol rather than
// by memory management (spec.md §9).
func (vi *VirtualInfrastructure) onVMStateChanged(vm *cloud.VM, old, new cloud.VMState) {
	if new == cloud.Running || new == cloud.Nonservable {
		vi.mu.Lock()
		kind := vm.VA.Kind
		if vi.underPrep[kind] == vm {
			delete(vi.underPrep, kind)
		}
		stateSub, ok := vi.stateSubs[vm]
		delete(vi.stateSubs, vm)
		vi.mu.Unlock()
		if ok {
			vm.UnsubscribeStateChange(stateSub)
		}
	}
}

func (vi *VirtualInfrastructure) pushObsoleteLocked(kind string) {
	if _, ok := vi.obsoleteAt[kind]; ok {
		return
	}
	vi.obsoleteAt[kind] = vi.obsolete.PushBack(kind)
}

func (vi *VirtualInfrastructure) removeObsoleteLocked(kind string) {
	if elem, ok := vi.obsoleteAt[kind]; ok {
		vi.obsolete.Remove(elem)
		delete(vi.obsoleteAt, kind)
	}
}

// popObsolete pops the oldest obsolete kind (FIFO), if any.
func (vi *VirtualInfrastructure) popObsolete() (string, bool) {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	front := vi.obsolete.Front()
	if front == nil {
		return "", false
	}
	kind := front.Value.(string)
	vi.obsolete.Remove(front)
	delete(vi.obsoleteAt, kind)
	return kind, true
}
