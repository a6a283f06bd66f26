package vinfra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

type noopPolicy struct{}

func (noopPolicy) Tick(ctx *TickContext) {}

func newTestVI(t *testing.T, numPMs, coresPerPM int) (*simtime.Simulation, *VirtualInfrastructure) {
	sim := simtime.New()
	c := cloud.New(sim, tally.NewTestScope("", map[string]string{}), numPMs, coresPerPM)
	vi := New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))
	return sim, vi
}

// bootVMs advances sim past every pending VM boot's one-shot completion
// event, without draining the heap: each VM's utilization monitor starts a
// periodic subscription that never self-terminates, so RunUntilIdle can
// never be used here. n is the number of RequestVM calls to wait out.
func bootVMs(sim *simtime.Simulation, n int) {
	for i := 0; i < n; i++ {
		sim.Step()
	}
}

func TestRegisterKindIsIdempotent(t *testing.T) {
	_, vi := newTestVI(t, 1, 8)
	vi.RegisterKind("A")
	vi.RegisterKind("A")
	assert.True(t, vi.HasKind("A"))
	assert.Empty(t, vi.Pool("A"))
}

func TestRequestVMNoOpsWhileUnderPrep(t *testing.T) {
	sim, vi := newTestVI(t, 1, 8)
	vi.RegisterKind("A")

	require.NoError(t, vi.RequestVM("A"))
	require.Len(t, vi.Pool("A"), 1) // booting, not RUNNING yet, but already in the pool
	assert.True(t, vi.underPrep["A"] != nil)

	// A second RequestVM call while the first is under prep must not add a
	// second VM to the pool.
	require.NoError(t, vi.RequestVM("A"))
	assert.Len(t, vi.Pool("A"), 1)

	bootVMs(sim, 1)
	assert.Len(t, vi.Pool("A"), 1)
	assert.Nil(t, vi.underPrep["A"])
}

func TestDestroyVMPushesEmptyPoolToObsoleteAndAllowsEviction(t *testing.T) {
	sim, vi := newTestVI(t, 1, 8)
	require.NoError(t, vi.RequestVM("A"))
	bootVMs(sim, 1)
	require.Len(t, vi.Pool("A"), 1)

	vm := vi.Pool("A")[0]
	vi.DestroyVM(vm)
	assert.Empty(t, vi.Pool("A"))

	kind, ok := vi.popObsolete()
	assert.True(t, ok)
	assert.Equal(t, "A", kind)
}

func TestRequestVMEvictsOldestObsoleteWhenStorageExhausted(t *testing.T) {
	sim := simtime.New()
	c := cloud.NewWithRepoCapacity(sim, tally.NewTestScope("", map[string]string{}), 1, 8, defaultVASizeBytes*2)
	vi := New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))

	require.NoError(t, vi.RequestVM("A"))
	bootVMs(sim, 1)
	vi.DestroyVM(vi.Pool("A")[0]) // A now obsolete

	require.NoError(t, vi.RequestVM("B"))
	bootVMs(sim, 1)
	vi.DestroyVM(vi.Pool("B")[0]) // B now obsolete, A still queued ahead of it

	// Both pools are drained but their VAs stay registered, so storage is
	// full at its 2-VA capacity. Requesting a third kind forces eviction of
	// the oldest obsolete entry (A).
	require.NoError(t, vi.RequestVM("C"))
	bootVMs(sim, 1)

	assert.Nil(t, c.Storage.Lookup("A"))
}

func TestDropKindRemovesKindEntirely(t *testing.T) {
	_, vi := newTestVI(t, 1, 8)
	vi.RegisterKind("A")
	vi.DropKind("A")
	assert.False(t, vi.HasKind("A"))
}

func TestTerminateDestroysEveryVM(t *testing.T) {
	sim, vi := newTestVI(t, 1, 8)
	require.NoError(t, vi.RequestVM("A"))
	require.NoError(t, vi.RequestVM("B"))
	bootVMs(sim, 2)
	require.Len(t, vi.Pool("A"), 1)
	require.Len(t, vi.Pool("B"), 1)

	vi.Terminate()
	assert.Empty(t, vi.Pool("A"))
	assert.Empty(t, vi.Pool("B"))
}
