// Package cloud is the reference IaaS substrate spec.md §1/§6 places out of
// scope for the autoscaling core: physical machines, a VM scheduler stand-in
// (first-fit onto machine 0, since capacity matching is explicitly a
// non-goal), a repository for virtual appliances, and the VM lifecycle
// itself. It is grounded on the shape of the teacher's hostmgr/host and
// hostmgr/offer/offerpool packages (host inventory + lease bookkeeping)
// simplified to what the autoscaler actually needs to observe.
package cloud

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

// PhysicalMachine is a simulated host in the datacentre. Its capacities
// bound the size of VMs the autoscaler may request, per spec.md §4.2 step 3.
type PhysicalMachine struct {
	ID                string
	Cores             int
	MemBytes          int64
	PerCoreProcessing float64
}

// IaaSService is the simulated cloud. It implements exactly the surface
// spec.md §6 lists for the IaaS contract: RequestVM, TerminateVM/Destroy,
// and the Repository accessors, nothing more — no bin-packing, no live
// migration, no energy-aware placement.
type IaaSService struct {
	sim      *simtime.Simulation
	Machines []*PhysicalMachine
	Storage  *Repository
	metrics  *Metrics

	mu         sync.Mutex
	vmSeq      uint64
	vmsRunning int64
}

// New builds a simulated cloud of numPMs identical physical machines, each
// with coresPerPM cores, and a single VMI repository. memBytesPerPM and
// repoCapacityBytes follow the teacher's DCCreation helper's proportions,
// scaled down for a simulator that never actually allocates real memory.
func New(sim *simtime.Simulation, scope tally.Scope, numPMs, coresPerPM int) *IaaSService {
	const memBytesPerPM = 256 * 1024 * 1024 * 1024 // 256 GiB, matches DCCreation's PM memory constant
	const repoCapacityBytes = 2 * 1024 * 1024 * 1024 * 1024 // 2 TiB of VMI storage by default
	const perCoreProcessing = 0.001                          // matches DCCreation's PM processing constant

	machines := make([]*PhysicalMachine, numPMs)
	for i := range machines {
		machines[i] = &PhysicalMachine{
			ID:                fmt.Sprintf("pm-%d", i),
			Cores:             coresPerPM,
			MemBytes:          memBytesPerPM,
			PerCoreProcessing: perCoreProcessing,
		}
	}
	return &IaaSService{
		sim:      sim,
		Machines: machines,
		Storage:  NewRepository(repoCapacityBytes),
		metrics:  NewMetrics(scope),
	}
}

// NewWithRepoCapacity is like New but lets the caller pin the VMI
// repository's capacity — used by tests exercising storage eviction
// (spec.md §8 scenario S4).
func NewWithRepoCapacity(sim *simtime.Simulation, scope tally.Scope, numPMs, coresPerPM int, repoCapacityBytes int64) *IaaSService {
	c := New(sim, scope, numPMs, coresPerPM)
	c.Storage = NewRepository(repoCapacityBytes)
	return c
}

// RequestVM asks the cloud for a single VM built from va, sized cores/memBytes,
// stored on repo. The VM starts in INITIAL_TRANSFER, immediately advances to
// STARTUP, and reaches RUNNING after va.BootCost simulated seconds — the
// simulated analogue of DISSECT-CF's boot procedure referenced in
// original_source.
func (c *IaaSService) RequestVM(va *VA, cores int, memBytes int64, repo *Repository) (*VM, error) {
	pm := c.Machines[0]
	c.mu.Lock()
	id := fmt.Sprintf("vm-%s-%d", va.Kind, c.vmSeq)
	c.vmSeq++
	c.mu.Unlock()

	vm := newVM(c.sim, id, va, cores, memBytes, pm.PerCoreProcessing)
	c.metrics.VMsRequested.Inc(1)
	log.WithFields(log.Fields{"vm": vm.ID, "kind": va.Kind, "cores": cores}).
		Debug("requested vm")

	vm.setState(Startup)
	c.sim.After(va.BootCost*1000, func(now int64) {
		vm.setState(Running)
		c.mu.Lock()
		c.vmsRunning++
		c.mu.Unlock()
		c.metrics.VMsRunning.Update(float64(c.vmsRunning))
	})
	return vm, nil
}

// RegisterVA registers va with the cloud's repository, mirroring
// Repository.RegisterObject but keeping the VAsRegistered counter and
// StorageBytes gauge in sync with actual occupancy.
func (c *IaaSService) RegisterVA(va *VA) bool {
	ok := c.Storage.RegisterObject(va)
	if ok {
		c.metrics.VAsRegistered.Inc(1)
		c.metrics.StorageBytes.Update(float64(c.Storage.UsedBytes()))
	}
	return ok
}

// DeregisterVA removes id's VA from the cloud's repository, mirroring
// Repository.DeregisterObject but keeping the VAsDeregistered counter and
// StorageBytes gauge in sync with actual occupancy.
func (c *IaaSService) DeregisterVA(id string) {
	c.Storage.DeregisterObject(id)
	c.metrics.VAsDeregistered.Inc(1)
	c.metrics.StorageBytes.Update(float64(c.Storage.UsedBytes()))
}

// Destroy tears down a live VM, or forwards to TerminateVM if the VM was
// already DESTROYED when the decision to remove it was made — the same
// branch VirtualInfrastructure.destroyVM makes in original_source.
func (c *IaaSService) Destroy(vm *VM, force bool) error {
	if vm.State() == Destroyed {
		return c.TerminateVM(vm, force)
	}
	wasRunning := vm.State() == Running
	vm.setState(Destroyed)
	if wasRunning {
		c.mu.Lock()
		c.vmsRunning--
		c.mu.Unlock()
		c.metrics.VMsRunning.Update(float64(c.vmsRunning))
	}
	c.metrics.VMsDestroyed.Inc(1)
	log.WithField("vm", vm.ID).Debug("destroyed vm")
	return nil
}

// TerminateVM force-cleans a VM that was already DESTROYED when the
// scaler decided to remove it. In a real substrate this could fail with a
// VMManagementException; the simulated cloud never rejects it.
func (c *IaaSService) TerminateVM(vm *VM, force bool) error {
	c.metrics.VMsTerminated.Inc(1)
	return nil
}
