package cloud

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

// VM is a simulated virtual machine. It satisfies the observable surface
// spec.md §6 requires of the IaaS substrate: state, running/pending task
// sets, and a cumulative processed-work counter.
type VM struct {
	ID                     string
	VA                     *VA
	Cores                  int
	MemBytes               int64
	PerTickProcessingPower float64

	mu           sync.Mutex
	state        VMState
	runningTasks map[string]struct{}
	pendingTasks map[string]struct{}
	listeners    map[StateSubscription]StateChangeListener
	listenerSeq  StateSubscription
	taskSeq      uint64

	totalProcessed atomic.Float64
	sim            *simtime.Simulation
}

func newVM(sim *simtime.Simulation, id string, va *VA, cores int, memBytes int64, perTickProcessingPower float64) *VM {
	return &VM{
		ID:                     id,
		VA:                     va,
		Cores:                  cores,
		MemBytes:               memBytes,
		PerTickProcessingPower: perTickProcessingPower,
		state:                  InitialTransfer,
		runningTasks:           make(map[string]struct{}),
		pendingTasks:           make(map[string]struct{}),
		listeners:              make(map[StateSubscription]StateChangeListener),
		sim:                    sim,
	}
}

// State returns the VM's current lifecycle state.
func (vm *VM) State() VMState {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state
}

// RunningTasks returns the number of tasks currently executing on the VM.
func (vm *VM) RunningTasks() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.runningTasks)
}

// PendingTasks returns the number of tasks queued on the VM but not yet
// running.
func (vm *VM) PendingTasks() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.pendingTasks)
}

// IsIdle reports whether the VM has neither running nor pending tasks.
func (vm *VM) IsIdle() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.runningTasks) == 0 && len(vm.pendingTasks) == 0
}

// IsAvailable reports whether the VM is RUNNING and idle — the dispatch
// eligibility test from spec.md §3.
func (vm *VM) IsAvailable() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state == Running && len(vm.runningTasks) == 0 && len(vm.pendingTasks) == 0
}

// TotalProcessed returns the cumulative amount of work this VM has
// completed since creation.
func (vm *VM) TotalProcessed() float64 {
	return vm.totalProcessed.Load()
}

// SubscribeStateChange registers l to be notified of every future state
// transition on this VM, returning a handle that later cancels exactly this
// registration.
func (vm *VM) SubscribeStateChange(l StateChangeListener) StateSubscription {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.listenerSeq++
	sub := vm.listenerSeq
	vm.listeners[sub] = l
	return sub
}

// UnsubscribeStateChange removes the listener registered under sub.
// Unsubscribing a handle that isn't (or is no longer) registered is a no-op.
func (vm *VM) UnsubscribeStateChange(sub StateSubscription) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.listeners, sub)
}

// setState transitions the VM and notifies subscribers. Listeners are
// snapshotted before iteration because a common listener pattern (the VI's
// own state-change callback) unsubscribes itself from inside the callback.
func (vm *VM) setState(new VMState) {
	vm.mu.Lock()
	old := vm.state
	listeners := make([]StateChangeListener, 0, len(vm.listeners))
	for _, l := range vm.listeners {
		listeners = append(listeners, l)
	}
	vm.state = new
	vm.mu.Unlock()

	for _, l := range listeners {
		l.StateChanged(vm, old, new)
	}
}

// NewComputeTask enqueues a task sized in work-units (already scaled by the
// caller as exec-time-ms × per-tick-processing-power, per spec.md §4.4) on
// this VM. Parallelism is unbounded in this model — the launcher only ever
// dispatches to an idle VM, so a VM never runs more than one task at a time
// in practice, but the running-task set still models the contract's shape.
func (vm *VM) NewComputeTask(workUnits float64, listener TaskCompletionListener) error {
	vm.mu.Lock()
	if vm.state != Running {
		vm.mu.Unlock()
		return errors.Errorf("vm %s is not running (state=%s)", vm.ID, vm.state)
	}
	power := vm.PerTickProcessingPower
	if power <= 0 {
		vm.mu.Unlock()
		return errors.Errorf("vm %s has no processing power", vm.ID)
	}
	taskID := fmt.Sprintf("%s-task-%d", vm.ID, vm.taskSeq)
	vm.taskSeq++
	vm.runningTasks[taskID] = struct{}{}
	vm.mu.Unlock()

	durationMs := int64(math.Ceil(workUnits / power))
	vm.sim.After(durationMs, func(now int64) {
		vm.mu.Lock()
		delete(vm.runningTasks, taskID)
		vm.mu.Unlock()
		vm.totalProcessed.Add(workUnits)
		listener.TaskCompleted()
	})
	return nil
}
