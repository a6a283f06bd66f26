package arrival

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/job"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/launcher"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/progress"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/queue"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"
)

type noopPolicy struct{}

func (noopPolicy) Tick(ctx *vinfra.TickContext) {}

func newHarness(t *testing.T) (*simtime.Simulation, *launcher.Launcher, *queue.Manager, *progress.Progress) {
	sim := simtime.New()
	c := cloud.New(sim, tally.NewTestScope("", map[string]string{}), 1, 8)
	vi := vinfra.New(sim, c, noopPolicy{}, tally.NewTestScope("", map[string]string{}))
	prog := progress.New()
	l := launcher.New(vi, prog)
	q := queue.New(sim, l)
	return sim, l, q, prog
}

func TestNewSortsJobsBySubmitTime(t *testing.T) {
	sim, l, q, prog := newHarness(t)
	jobs := []*job.Job{
		{ID: "late", Kind: "A", SubmitTime: 10, ExecTime: 1},
		{ID: "early", Kind: "A", SubmitTime: 2, ExecTime: 1},
	}
	h, err := New(sim, l, q, prog, jobs)
	require.NoError(t, err)
	assert.Equal(t, "early", h.jobs[0].ID)
	assert.Equal(t, "late", h.jobs[1].ID)
}

func TestNewShiftsTraceForwardWhenClockAlreadyPast(t *testing.T) {
	sim, l, q, prog := newHarness(t)
	sim.SkipUntil(5000)

	jobs := []*job.Job{{ID: "j0", Kind: "A", SubmitTime: 2, ExecTime: 1}}
	_, err := New(sim, l, q, prog, jobs)
	require.NoError(t, err)

	assert.Equal(t, int64(5), jobs[0].SubmitTime)
	assert.Equal(t, int64(5000), sim.Now())
}

func TestTickLaunchesAllJobsAtSameSubmitTime(t *testing.T) {
	sim, l, q, prog := newHarness(t)
	jobs := []*job.Job{
		{ID: "a", Kind: "A", SubmitTime: 0, ExecTime: 1},
		{ID: "b", Kind: "A", SubmitTime: 0, ExecTime: 1},
	}
	h, err := New(sim, l, q, prog, jobs)
	require.NoError(t, err)
	// New registers the trace's total with Progress itself.
	require.ErrorIs(t, prog.SetTotal(2), progress.ErrAlreadyInitialized)

	// Fires the arrival Tick at t=0 only; the retry queue's own periodic
	// subscription runs forever with no VM ever provisioned in this test,
	// so a single bounded step is used instead of RunUntilIdle.
	require.True(t, sim.Step())
	assert.Equal(t, 2, h.cursor)
	assert.Equal(t, 2, q.Len(), "kind A has no VM yet, both jobs should have queued")
}

func TestAverageQueueTimeAcrossJobs(t *testing.T) {
	jobs := []*job.Job{
		{ID: "a", RealQueueTime: 10},
		{ID: "b", RealQueueTime: 20},
	}
	h := &Handler{jobs: jobs}
	assert.Equal(t, 15.0, h.AverageQueueTime())
}

func TestAverageQueueTimeEmptyTrace(t *testing.T) {
	h := &Handler{}
	assert.Equal(t, 0.0, h.AverageQueueTime())
}

func TestNewWithEmptyTraceNeverArms(t *testing.T) {
	sim, l, q, prog := newHarness(t)
	h, err := New(sim, l, q, prog, nil)
	require.NoError(t, err)
	assert.Nil(t, h.sub)
}
