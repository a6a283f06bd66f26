package policy

import (
	"math/rand"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"
)

// Priority implements the VMCreationPriority policy from spec.md §4.3:
// growth wins ties against shrink, and eviction among under-utilized VMs is
// uniformly random rather than index-0-biased, to decorrelate eviction
// order from arrival order. The RNG is explicitly seeded so runs with
// identical inputs and identical seeds reproduce identical pool-size
// trajectories (spec.md §9's determinism note, exercised by S5).
type Priority struct {
	rng  *rand.Rand
	hits map[string]int

	minUtil   float64
	maxUtil   float64
	idleTicks int
}

// NewPriority returns a Priority policy seeded from seed, using the package
// defaults (MinUtil, MaxUtil, IdleTicks). Two Priority values constructed
// with the same seed and driven with the same tick sequence make identical
// eviction choices.
func NewPriority(seed int64) *Priority {
	return NewPriorityWithParams(seed, MinUtil, MaxUtil, IdleTicks)
}

// NewPriorityWithParams returns a Priority policy with the control-law
// constants overridden, for the config-file overlay the CLI driver applies
// on top of the package defaults.
func NewPriorityWithParams(seed int64, minUtil, maxUtil float64, idleTicks int) *Priority {
	return &Priority{
		rng:       rand.New(rand.NewSource(seed)),
		hits:      make(map[string]int),
		minUtil:   minUtil,
		maxUtil:   maxUtil,
		idleTicks: idleTicks,
	}
}

// Tick applies the VMCreationPriority control law to every registered kind.
func (p *Priority) Tick(ctx *vinfra.TickContext) {
	for _, kind := range ctx.Kinds() {
		if ctx.UnderPrep(kind) {
			continue
		}
		pool := ctx.Pool(kind)

		if len(pool) == 0 {
			ctx.RequestVM(kind)
			continue
		}

		var underUtil []*cloud.VM
		var sum float64
		for _, vm := range pool {
			u := ctx.HourlyUtil(vm)
			sum += u
			if vm.IsIdle() && u < p.minUtil {
				underUtil = append(underUtil, vm)
			}
		}
		mean := sum / float64(len(pool))

		switch {
		case mean > p.maxUtil:
			ctx.RequestVM(kind)
		case len(pool) == 1:
			vm := pool[0]
			if vm.IsIdle() {
				p.hits[kind]++
				if p.hits[kind] >= p.idleTicks {
					delete(p.hits, kind)
					ctx.DestroyVM(vm)
					ctx.DropKind(kind)
				}
			} else {
				delete(p.hits, kind)
			}
		case len(underUtil) > 0:
			victim := underUtil[p.rng.Intn(len(underUtil))]
			ctx.DestroyVM(victim)
		}
	}
}
