// Package queue implements the per-kind FIFO retry queue from spec.md §4.5,
// grounded on QueueManager.java in original_source and, for the FIFO
// mechanics themselves, on resmgr/queue's task queues: tail-insert with
// container/list.PushBack, head-remove with Front/Remove. spec.md §9 flags
// the original's push/peekFirst pairing as ambiguous between LIFO and FIFO;
// this package resolves it as FIFO, per the module's own stated intent.
package queue

import (
	"container/list"

	log "github.com/sirupsen/logrus"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/job"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/launcher"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
)

// RetryPeriodMs is the cadence at which queued jobs are retried: 10
// simulated seconds, per spec.md §4.5.
const RetryPeriodMs = 10 * 1000

// Manager holds one FIFO of rejected jobs per kind and periodically retries
// launching each kind's head.
type Manager struct {
	sim      *simtime.Simulation
	launcher *launcher.Launcher

	queues map[string]*list.List
	sub    *simtime.Subscription
}

// New returns a Manager that retries through l.
func New(sim *simtime.Simulation, l *launcher.Launcher) *Manager {
	return &Manager{
		sim:      sim,
		launcher: l,
		queues:   make(map[string]*list.List),
	}
}

// Add pushes j onto the tail of its kind's FIFO and subscribes the retry
// loop if it isn't already running.
func (m *Manager) Add(j *job.Job) {
	kind := j.Kind
	if kind == "" {
		kind = launcher.DefaultKind
	}
	q, ok := m.queues[kind]
	if !ok {
		q = list.New()
		m.queues[kind] = q
	}
	q.PushBack(j)

	if m.sub == nil {
		m.sub = m.sim.Subscribe(m, RetryPeriodMs)
	}
}

// Len returns the number of jobs currently queued across all kinds.
func (m *Manager) Len() int {
	n := 0
	for _, q := range m.queues {
		n += q.Len()
	}
	return n
}

// Tick implements simtime.Tickable: for each kind's FIFO, launch the head
// repeatedly until it fails or the queue drains; a failure stops that kind
// only, so one blocked kind never starves the others. Emptied kinds are
// removed; if none remain, the retry loop unsubscribes.
func (m *Manager) Tick(now int64) {
	for kind, q := range m.queues {
		for q.Len() > 0 {
			front := q.Front()
			j := front.Value.(*job.Job)
			if m.launcher.Launch(j) {
				break
			}
			j.RecordQueueTime(now)
			q.Remove(front)
			log.WithField("kind", kind).Debug("retried job launched from queue")
		}
		if q.Len() == 0 {
			delete(m.queues, kind)
		}
	}
	if len(m.queues) == 0 && m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}
