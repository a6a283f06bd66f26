package policy

import "github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"

// Headroom is the minimum number of idle VMs a pool must retain under the
// Pooling policy, per spec.md §4.3.
const Headroom = 4

// Pooling implements the fixed-headroom policy from spec.md §4.3: it keeps
// at least Headroom idle VMs standing by per kind, and sheds a whole kind
// once its pool sits fully idle for IdleTicks consecutive ticks.
type Pooling struct {
	hits map[string]int

	headroom  int
	idleTicks int
}

// NewPooling returns a ready-to-use Pooling policy using the package
// defaults (Headroom, IdleTicks).
func NewPooling() *Pooling {
	return NewPoolingWithParams(Headroom, IdleTicks)
}

// NewPoolingWithParams returns a Pooling policy with the control-law
// constants overridden, for the config-file overlay the CLI driver applies
// on top of the package defaults.
func NewPoolingWithParams(headroom, idleTicks int) *Pooling {
	return &Pooling{
		hits:      make(map[string]int),
		headroom:  headroom,
		idleTicks: idleTicks,
	}
}

// Tick applies the fixed-headroom control law to every registered kind.
func (p *Pooling) Tick(ctx *vinfra.TickContext) {
	for _, kind := range ctx.Kinds() {
		if ctx.UnderPrep(kind) {
			continue
		}
		pool := ctx.Pool(kind)

		if len(pool) < p.headroom {
			ctx.RequestVM(kind)
			continue
		}

		idle := make([]int, 0, len(pool))
		for i, vm := range pool {
			if vm.IsIdle() {
				idle = append(idle, i)
			}
		}

		switch {
		case len(idle) < p.headroom:
			ctx.RequestVM(kind)
		case len(idle) == len(pool):
			p.hits[kind]++
			if p.hits[kind] >= p.idleTicks {
				delete(p.hits, kind)
				for _, vm := range pool {
					ctx.DestroyVM(vm)
				}
				ctx.DropKind(kind)
			}
		default:
			delete(p.hits, kind)
			if len(idle) > p.headroom {
				ctx.DestroyVM(pool[idle[0]])
			}
		}
	}
}
