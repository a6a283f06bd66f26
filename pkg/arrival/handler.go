// Package arrival implements the trace-driven arrival handler from spec.md
// §4.6, grounded on JobArrivalHandler.java in original_source. It plays a
// pre-sorted trace against the launcher, rescheduling itself to fire
// exactly at each job's submit time rather than polling every tick.
package arrival

import (
	"sort"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/job"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/launcher"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/progress"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/queue"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

// Handler plays a trace's jobs into the launcher at their submit times.
type Handler struct {
	sim      *simtime.Simulation
	launcher *launcher.Launcher
	queue    *queue.Manager
	progress *progress.Progress

	jobs   []*job.Job
	cursor int
	sub    *simtime.Subscription
}

// New builds a Handler over jobs, which must already be loaded from a
// trace. Construction sorts jobs by submit time, registers the total count
// with p, and — if the simulation clock is already past the earliest
// submit time — shifts every job forward by the deficit (rounded up to
// whole seconds) and advances the clock to the new earliest submit time, so
// the first job never arrives "in the past".
func New(sim *simtime.Simulation, l *launcher.Launcher, q *queue.Manager, p *progress.Progress, jobs []*job.Job) (*Handler, error) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmitTime < jobs[j].SubmitTime })

	if err := p.SetTotal(int64(len(jobs))); err != nil {
		return nil, err
	}

	h := &Handler{sim: sim, launcher: l, queue: q, progress: p, jobs: jobs}

	if len(jobs) > 0 {
		nowSec := (sim.Now() + 999) / 1000
		if earliest := jobs[0].SubmitTime; nowSec > earliest {
			deficit := nowSec - earliest
			for _, j := range jobs {
				j.Adjust(deficit)
			}
			sim.SkipUntil(jobs[0].SubmitTime * 1000)
		}
	}

	if next := h.nextFireTime(); next >= 0 {
		h.arm(next)
	}
	return h, nil
}

// arm creates a fresh one-shot subscription firing at absoluteMs. A fresh
// subscription is used each time rather than reusing one, because a
// zero-period subscription deactivates itself the instant it fires (per
// simtime's one-shot semantics) — rescheduling means resubscribing, not
// rearming a dead handle.
func (h *Handler) arm(absoluteMs int64) {
	h.sub = h.sim.Subscribe(h, 0)
	h.sub.FireAt(absoluteMs)
}

// nextFireTime returns the absolute simulated time, in milliseconds, at
// which the cursor's job should arrive, or -1 if the trace is exhausted.
func (h *Handler) nextFireTime() int64 {
	if h.cursor >= len(h.jobs) {
		return -1
	}
	return h.jobs[h.cursor].SubmitTime * 1000
}

// Tick implements simtime.Tickable: it launches every job whose submit time
// has arrived, then reschedules itself for the next one, or unsubscribes
// once the trace is exhausted.
func (h *Handler) Tick(now int64) {
	for h.cursor < len(h.jobs) && h.jobs[h.cursor].SubmitTime*1000 == now {
		j := h.jobs[h.cursor]
		if h.launcher.Launch(j) {
			h.queue.Add(j)
		}
		h.cursor++
	}

	next := h.nextFireTime()
	if next < 0 {
		return
	}
	h.arm(next)
}

// AverageQueueTime returns the mean RealQueueTime across every loaded job.
// It is only meaningful once the trace has fully drained.
func (h *Handler) AverageQueueTime() float64 {
	if len(h.jobs) == 0 {
		return 0
	}
	var sum int64
	for _, j := range h.jobs {
		sum += j.RealQueueTime
	}
	return float64(sum) / float64(len(h.jobs))
}
