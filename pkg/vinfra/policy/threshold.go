// Package policy implements the three autoscaler control laws spec.md §4.3
// names: Threshold, VMCreationPriority, and Pooling. Each is a
// vinfra.Policy — the abstract Java tick() subclass rewritten as a small
// value implementing a one-method interface, per spec.md §9's redesign
// flag — grounded on ThresholdBasedVI.java, VMCreationPriorityVI.java, and
// PoolingVI.java in original_source, with per-kind bookkeeping kept the way
// resmgr/respool keeps per-resource-kind counters: a map on the policy
// value rather than fields on the VM/pool itself.
package policy

import (
	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"
)

// Shared constants across the Threshold and VMCreationPriority policies,
// per spec.md §4.3.
const (
	MinUtil   = 0.2
	MaxUtil   = 0.75
	IdleTicks = 30
)

// Threshold implements the Threshold-based policy from spec.md §4.3.
type Threshold struct {
	hits map[*cloud.VM]int

	minUtil   float64
	maxUtil   float64
	idleTicks int
}

// NewThreshold returns a ready-to-use Threshold policy using the package
// defaults (MinUtil, MaxUtil, IdleTicks).
func NewThreshold() *Threshold {
	return NewThresholdWithParams(MinUtil, MaxUtil, IdleTicks)
}

// NewThresholdWithParams returns a Threshold policy with the control-law
// constants overridden, for the config-file overlay the CLI driver applies
// on top of the package defaults.
func NewThresholdWithParams(minUtil, maxUtil float64, idleTicks int) *Threshold {
	return &Threshold{
		hits:      make(map[*cloud.VM]int),
		minUtil:   minUtil,
		maxUtil:   maxUtil,
		idleTicks: idleTicks,
	}
}

// Tick applies the threshold control law to every registered kind.
func (p *Threshold) Tick(ctx *vinfra.TickContext) {
	for _, kind := range ctx.Kinds() {
		if ctx.UnderPrep(kind) {
			continue
		}
		pool := ctx.Pool(kind)

		if len(pool) == 0 {
			ctx.RequestVM(kind)
			continue
		}

		if len(pool) == 1 {
			vm := pool[0]
			if vm.IsIdle() {
				p.hits[vm]++
				if p.hits[vm] >= p.idleTicks {
					delete(p.hits, vm)
					ctx.DestroyVM(vm)
					ctx.DropKind(kind)
				}
				continue
			}
			delete(p.hits, vm)
			// fall through to the growth check below
		} else {
			destroyed := false
			for _, vm := range pool {
				if vm.IsIdle() && ctx.HourlyUtil(vm) < p.minUtil {
					ctx.DestroyVM(vm)
					destroyed = true
				}
			}
			if destroyed {
				continue
			}
		}

		if meanUtil(ctx, pool) > p.maxUtil {
			ctx.RequestVM(kind)
		}
	}
}

func meanUtil(ctx *vinfra.TickContext, pool []*cloud.VM) float64 {
	if len(pool) == 0 {
		return 0
	}
	var sum float64
	for _, vm := range pool {
		sum += ctx.HourlyUtil(vm)
	}
	return sum / float64(len(pool))
}
