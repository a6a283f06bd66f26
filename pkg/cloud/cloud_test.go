package cloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

func newTestCloud(t *testing.T) (*simtime.Simulation, *IaaSService) {
	sim := simtime.New()
	scope := tally.NewTestScope("", map[string]string{})
	return sim, New(sim, scope, 2, 8)
}

func TestRequestVMTransitionsThroughBootToRunning(t *testing.T) {
	sim, c := newTestCloud(t)
	va := &VA{Kind: "A", BootCost: 15, SizeBytes: 1 << 20}
	require.True(t, c.Storage.RegisterObject(va))

	vm, err := c.RequestVM(va, 2, 1<<30, c.Storage)
	require.NoError(t, err)
	assert.Equal(t, Startup, vm.State())

	var seen []VMState
	vm.SubscribeStateChange(StateChangeListenerFunc(func(vm *VM, old, new VMState) {
		seen = append(seen, new)
	}))

	sim.RunUntilIdle()
	assert.Equal(t, Running, vm.State())
	assert.Equal(t, []VMState{Running}, seen)
}

// TestStateChangeListenersCanUnsubscribeThemselvesDuringNotify pins the
// happy path every VM boot exercises: monitor.Monitor and
// VirtualInfrastructure both call UnsubscribeStateChange from inside the
// very StateChanged callback SubscribeStateChange registered. Since every
// listener here is a StateChangeListenerFunc — a func value, which Go
// can't compare with == — unsubscribe must identify listeners by the
// handle SubscribeStateChange returned, never by comparing the listener
// itself.
func TestStateChangeListenersCanUnsubscribeThemselvesDuringNotify(t *testing.T) {
	sim, c := newTestCloud(t)
	va := &VA{Kind: "A", BootCost: 15, SizeBytes: 1 << 20}
	require.True(t, c.Storage.RegisterObject(va))
	vm, err := c.RequestVM(va, 2, 1<<30, c.Storage)
	require.NoError(t, err)

	var selfUnsubFired, plainFired int
	var sub StateSubscription
	sub = vm.SubscribeStateChange(StateChangeListenerFunc(func(vm *VM, old, new VMState) {
		selfUnsubFired++
		vm.UnsubscribeStateChange(sub)
	}))
	// A second, independent listener: the first one unsubscribing itself
	// must leave this one registered and notified.
	vm.SubscribeStateChange(StateChangeListenerFunc(func(vm *VM, old, new VMState) {
		plainFired++
	}))

	require.NotPanics(t, func() { sim.RunUntilIdle() })
	assert.Equal(t, Running, vm.State())
	assert.Equal(t, 1, selfUnsubFired)
	assert.Equal(t, 1, plainFired)
}

func TestNewComputeTaskAccumulatesTotalProcessed(t *testing.T) {
	sim, c := newTestCloud(t)
	va := &VA{Kind: "B", BootCost: 0, SizeBytes: 1}
	require.True(t, c.Storage.RegisterObject(va))
	vm, err := c.RequestVM(va, 2, 1<<20, c.Storage)
	require.NoError(t, err)
	sim.RunUntilIdle()
	require.Equal(t, Running, vm.State())

	done := 0
	err = vm.NewComputeTask(100, taskListenerFunc{onDone: func() { done++ }})
	require.NoError(t, err)
	assert.False(t, vm.IsIdle())

	sim.RunUntilIdle()
	assert.Equal(t, 1, done)
	assert.True(t, vm.IsIdle())
	assert.Equal(t, float64(100), vm.TotalProcessed())
}

func TestNewComputeTaskRejectsNonRunningVM(t *testing.T) {
	sim, c := newTestCloud(t)
	va := &VA{Kind: "C", BootCost: 60, SizeBytes: 1}
	require.True(t, c.Storage.RegisterObject(va))
	vm, err := c.RequestVM(va, 2, 1<<20, c.Storage)
	require.NoError(t, err)
	_ = sim

	err = vm.NewComputeTask(10, taskListenerFunc{})
	assert.Error(t, err)
}

func TestDestroyForwardsToTerminateWhenAlreadyDestroyed(t *testing.T) {
	_, c := newTestCloud(t)
	va := &VA{Kind: "D", BootCost: 0, SizeBytes: 1}
	require.True(t, c.Storage.RegisterObject(va))
	vm, err := c.RequestVM(va, 2, 1<<20, c.Storage)
	require.NoError(t, err)

	require.NoError(t, c.Destroy(vm, true))
	assert.Equal(t, Destroyed, vm.State())
	require.NoError(t, c.Destroy(vm, true))
}

func TestRepositoryRejectsOverCapacityUntilDeregistered(t *testing.T) {
	repo := NewRepository(10)
	require.True(t, repo.RegisterObject(&VA{Kind: "a", SizeBytes: 5}))
	require.True(t, repo.RegisterObject(&VA{Kind: "b", SizeBytes: 5}))
	assert.False(t, repo.RegisterObject(&VA{Kind: "c", SizeBytes: 5}))

	repo.DeregisterObject("a")
	assert.True(t, repo.RegisterObject(&VA{Kind: "c", SizeBytes: 5}))
	assert.Len(t, repo.Contents(), 2)
}

func TestRepositoryRegisterIsIdempotentForSameKind(t *testing.T) {
	repo := NewRepository(10)
	require.True(t, repo.RegisterObject(&VA{Kind: "a", SizeBytes: 5}))
	assert.True(t, repo.RegisterObject(&VA{Kind: "a", SizeBytes: 5}))
	assert.Len(t, repo.Contents(), 1)
}

type taskListenerFunc struct {
	onDone func()
}

func (f taskListenerFunc) TaskCompleted() {
	if f.onDone != nil {
		f.onDone()
	}
}

func (f taskListenerFunc) TaskCancelled() {}
