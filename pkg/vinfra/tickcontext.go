package vinfra

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
)

// TickContext is the scoped capability a Policy receives each control-loop
// tick. It exposes exactly the operations the abstract Java base class gave
// its tick() subclasses as protected members — pools, underPrepVMPerKind,
// requestVM, destroyVM — per spec.md §9's Policy-capability redesign.
type TickContext struct {
	vi  *VirtualInfrastructure
	now int64
}

// Now returns the current virtual time in milliseconds.
func (c *TickContext) Now() int64 { return c.now }

// Kinds returns a snapshot of every currently registered kind, sorted
// lexically. spec.md §5 leaves intra-tick kind ordering unspecified, but a
// policy like Priority draws from a single shared *rand.Rand while walking
// this list, so leaving the order to Go's randomized map iteration would
// make eviction choices depend on iteration order rather than just the
// seed — sorting pins the order so a given seed reproduces a given run
// regardless of map internals (spec.md §9's determinism note, S5).
func (c *TickContext) Kinds() []string {
	c.vi.mu.Lock()
	kinds := make([]string, 0, len(c.vi.pools))
	for k := range c.vi.pools {
		kinds = append(kinds, k)
	}
	c.vi.mu.Unlock()
	sort.Strings(kinds)
	return kinds
}

// Pool returns a snapshot of the VMs currently in kind's pool.
func (c *TickContext) Pool(kind string) []*cloud.VM {
	c.vi.mu.Lock()
	defer c.vi.mu.Unlock()
	pool := c.vi.pools[kind]
	out := make([]*cloud.VM, len(pool))
	copy(out, pool)
	return out
}

// UnderPrep reports whether kind currently has an in-flight VM request.
func (c *TickContext) UnderPrep(kind string) bool {
	c.vi.mu.Lock()
	defer c.vi.mu.Unlock()
	_, ok := c.vi.underPrep[kind]
	return ok
}

// RequestVM asks the VI to provision one more VM of kind. It is a no-op if
// kind already has a request in flight (spec.md §4.2 step 1). Storage
// exhaustion and cloud failures are unrecoverable per spec.md §7 and are
// logged fatally here, at the policy boundary, rather than inside the VI
// itself — so tests exercising VirtualInfrastructure.RequestVM directly can
// still observe the error.
func (c *TickContext) RequestVM(kind string) {
	if err := c.vi.RequestVM(kind); err != nil {
		log.WithError(err).WithField("kind", kind).Fatal("virtual infrastructure management failure")
	}
}

// DestroyVM tears down vm and removes it from its pool.
func (c *TickContext) DestroyVM(vm *cloud.VM) {
	c.vi.DestroyVM(vm)
}

// DropKind removes kind from the VI entirely. Re-registering it afterwards
// starts a fresh pool, per spec.md §4.8's per-kind lifecycle.
func (c *TickContext) DropKind(kind string) {
	c.vi.DropKind(kind)
}

// HourlyUtil returns vm's current hourly utilization fraction.
func (c *TickContext) HourlyUtil(vm *cloud.VM) float64 {
	return c.vi.HourlyUtil(vm)
}
