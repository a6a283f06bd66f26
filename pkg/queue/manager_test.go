package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/job"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/launcher"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/progress"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"
)

type noopPolicy struct{}

func (noopPolicy) Tick(ctx *vinfra.TickContext) {}

func TestAddSubscribesRetryLoopOnce(t *testing.T) {
	sim := simtime.New()
	c := cloud.New(sim, tally.NewTestScope("", map[string]string{}), 1, 8)
	vi := vinfra.New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))
	l := launcher.New(vi, progress.New())
	m := New(sim, l)

	m.Add(&job.Job{ID: "j0", Kind: "A", ExecTime: 60})
	m.Add(&job.Job{ID: "j1", Kind: "A", ExecTime: 60})
	assert.Equal(t, 2, m.Len())
	require.NotNil(t, m.sub)
}

// TestOneBlockedKindDoesNotStarveOthers pins spec.md §4.5's rationale for a
// per-kind FIFO: a kind with no capacity never blocks another kind's queue
// from draining on the same retry tick.
func TestOneBlockedKindDoesNotStarveOthers(t *testing.T) {
	sim := simtime.New()
	c := cloud.New(sim, tally.NewTestScope("", map[string]string{}), 1, 8)
	vi := vinfra.New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))
	require.NoError(t, vi.RequestVM("B"))
	// A single Step fires the boot completion; RunUntilIdle would hang
	// forever against the VM's newly started, never-ending utilization
	// monitor.
	require.True(t, sim.Step())

	prog := progress.New()
	require.NoError(t, prog.SetTotal(2))
	l := launcher.New(vi, prog)
	m := New(sim, l)

	// Kind A has no VM at all and will never drain; kind B has one idle,
	// running VM and should drain on the very next retry tick.
	m.Add(&job.Job{ID: "a0", Kind: "A", ExecTime: 60})
	m.Add(&job.Job{ID: "b0", Kind: "B", ExecTime: 60})

	m.Tick(sim.Now() + RetryPeriodMs)

	assert.Equal(t, 1, m.Len(), "kind A's job should remain queued")
	_, stillQueued := m.queues["A"]
	assert.True(t, stillQueued)
	_, bQueued := m.queues["B"]
	assert.False(t, bQueued, "kind B should have drained")
}

func TestFIFOOrderWithinAKind(t *testing.T) {
	sim := simtime.New()
	c := cloud.New(sim, tally.NewTestScope("", map[string]string{}), 1, 8)
	vi := vinfra.New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))
	require.NoError(t, vi.RequestVM("A"))
	require.True(t, sim.Step())

	prog := progress.New()
	require.NoError(t, prog.SetTotal(2))
	l := launcher.New(vi, prog)
	m := New(sim, l)

	first := &job.Job{ID: "first", Kind: "A", ExecTime: 3600}
	second := &job.Job{ID: "second", Kind: "A", ExecTime: 60}
	m.Add(first)
	m.Add(second)

	// Only one VM is available: the head of the queue must be tried (and
	// win) before the second job is ever considered, even though the
	// second job would fit and the first will occupy the VM for the rest
	// of the run.
	m.Tick(sim.Now() + RetryPeriodMs)

	assert.True(t, first.IsStarted())
	assert.False(t, second.IsStarted())
	assert.Equal(t, 1, m.Len())
}

func TestManagerUnsubscribesWhenDrained(t *testing.T) {
	sim := simtime.New()
	c := cloud.New(sim, tally.NewTestScope("", map[string]string{}), 1, 8)
	vi := vinfra.New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))
	require.NoError(t, vi.RequestVM("A"))
	require.True(t, sim.Step())

	prog := progress.New()
	require.NoError(t, prog.SetTotal(1))
	l := launcher.New(vi, prog)
	m := New(sim, l)

	j := &job.Job{ID: "j0", Kind: "A", ExecTime: 60}
	m.Add(j)
	sub := m.sub
	require.True(t, sub.IsSubscribed())

	m.Tick(sim.Now() + RetryPeriodMs)

	assert.Equal(t, 0, m.Len())
	assert.False(t, sub.IsSubscribed())
	assert.Nil(t, m.sub)
}
