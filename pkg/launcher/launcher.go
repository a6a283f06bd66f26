// Package launcher implements the first-fit job dispatcher from spec.md
// §4.4, grounded on FirstFitJobScheduler.java in original_source and kept
// stateless the way placement's first-fit strategies are (see
// placement/plugins/mesos), reaching into the VM pool through
// vinfra.VirtualInfrastructure rather than owning any state of its own.
package launcher

import (
	log "github.com/sirupsen/logrus"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/job"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/progress"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"
)

// DefaultKind is substituted for jobs with an empty kind, per spec.md §4.4.
const DefaultKind = "default"

// Launcher dispatches jobs to idle VMs in a kind's pool, first-fit.
type Launcher struct {
	vi       *vinfra.VirtualInfrastructure
	progress *progress.Progress
}

// New returns a Launcher over vi, reporting dispatches and completions to p.
func New(vi *vinfra.VirtualInfrastructure, p *progress.Progress) *Launcher {
	return &Launcher{vi: vi, progress: p}
}

// Launch attempts to dispatch j to an idle RUNNING VM of its kind.
// It returns true when j must be enqueued for retry: either because no pool
// exists yet for the kind (which this call also registers), or because
// every VM in the pool is busy.
func (l *Launcher) Launch(j *job.Job) bool {
	kind := j.Kind
	if kind == "" {
		kind = DefaultKind
	}

	if !l.vi.HasKind(kind) {
		l.vi.RegisterKind(kind)
		return true
	}

	for _, vm := range l.vi.Pool(kind) {
		if !vm.IsAvailable() {
			continue
		}
		workUnits := float64(j.ExecTime) * 1000 * vm.PerTickProcessingPower
		if err := vm.NewComputeTask(workUnits, &completionListener{job: j, progress: l.progress}); err != nil {
			log.WithError(err).WithField("vm", vm.ID).Fatal("dispatch failed")
			return true
		}
		l.progress.RegisterDispatch()
		j.Started()
		return false
	}

	return true
}

// completionListener bridges a VM's compute-task callback back to Progress,
// per spec.md §4.4: completion always registers, cancellation is ignored
// because the harness never initiates one.
type completionListener struct {
	job      *job.Job
	progress *progress.Progress
}

var _ cloud.TaskCompletionListener = (*completionListener)(nil)

func (c *completionListener) TaskCompleted() {
	c.progress.RegisterCompletion()
}

func (c *completionListener) TaskCancelled() {}
