// Command autoscalesim runs a workload trace through the elastic virtual
// infrastructure simulator: it wires together the discrete-event clock, the
// simulated cloud, an autoscaler policy, and the launcher/queue/arrival
// trio, then drains the clock to completion and prints a summary line. It
// is grounded on cmd/resmgr/main.go's kingpin-flags-plus-config-overlay
// shape and on AutoScalingDemo.java in original_source for the wiring
// order itself.
package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/arrival"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/cloud"
	autoscalesimconfig "github.com/nicola-mason/vinfra-autoscaler/pkg/config"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/launcher"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/progress"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/queue"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/simtime"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/trace"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra"
	"github.com/nicola-mason/vinfra-autoscaler/pkg/vinfra/policy"
)

var (
	app = kingpin.New("autoscalesim", "Virtual infrastructure autoscaling simulator")

	debug = app.Flag("debug", "enable debug-level logging").
		Short('d').
		Default("false").
		Envar("AUTOSCALESIM_DEBUG").
		Bool()

	logLevel = app.Flag("log-level", "log level (debug|info|warn|error)").
			Default("info").
			Envar("AUTOSCALESIM_LOG_LEVEL").
			String()

	cfgFile = app.Flag("config", "optional YAML overlay of simulation tunables").
		Short('c').
		ExistingFile()

	traceFile = app.Arg("trace-file", "YAML workload trace to replay").Required().ExistingFile()
	coresPerPM = app.Arg("cores-per-pm", "cores per physical machine (must be >= 4)").Required().Int()
	numPMs     = app.Arg("num-pms", "number of physical machines in the simulated cloud").Required().Int()
	policyName = app.Arg("policy", "autoscaler policy: threshold|priority|pooling").Required().
			Enum("threshold", "priority", "pooling")
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if *debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	if *coresPerPM < 4 {
		log.WithField("cores_per_pm", *coresPerPM).
			WithError(vinfra.ErrInvalidParameter).
			Fatal("cores per physical machine must be at least 4")
	}

	cfg, err := autoscalesimconfig.Parse(*cfgFile)
	if err != nil {
		log.WithError(err).Fatal("cannot parse config overlay")
	}

	if err := run(*traceFile, *coresPerPM, *numPMs, *policyName, cfg); err != nil {
		log.WithError(err).Fatal("simulation run failed")
	}
}

func run(traceFile string, coresPerPM, numPMs int, policyName string, cfg *autoscalesimconfig.Config) error {
	jobs, err := trace.Load(traceFile)
	if err != nil {
		return err
	}

	sim := simtime.New()
	scope := tally.NewTestScope("autoscalesim", map[string]string{})
	cld := cloud.New(sim, scope.SubScope("cloud"), numPMs, coresPerPM)

	pol := newPolicy(policyName, cfg)
	vi := vinfra.New(sim, cld, pol, scope.SubScope("vinfra"))
	vi.StartAutoscaling()

	prog := progress.New()
	l := launcher.New(vi, prog)
	q := queue.New(sim, l)

	ah, err := arrival.New(sim, l, q, prog, jobs)
	if err != nil {
		return err
	}

	// Terminate must happen here, not after RunUntilIdle returns: the
	// autoscaling control loop and every VM's utilization monitor are
	// periodic subscriptions with no self-stopping condition of their own,
	// so RunUntilIdle would never return otherwise. Once every job has
	// finished, there is nothing left for the infrastructure to serve.
	prog.OnAllJobsFinished(func() {
		log.WithField("done", prog.DoneCount()).Info("all jobs finished")
		vi.Terminate()
	})

	if len(jobs) == 0 {
		// RegisterCompletion is never called against a zero total, so
		// OnAllJobsFinished would never fire on its own; there is nothing
		// for the control loop to do either way.
		vi.Terminate()
	}

	sim.RunUntilIdle()

	fmt.Printf(
		"jobs=%d dispatched=%d done=%d average_queue_time=%.2fs\n",
		len(jobs), prog.DispatchedCount(), prog.DoneCount(), ah.AverageQueueTime(),
	)
	return nil
}

// newPolicy is the idiomatic Go substitute for the original demo's
// Class.forName-based policy instantiation: a small named-registry lookup
// instead of reflection, per spec.md §6's CLI surface.
func newPolicy(name string, cfg *autoscalesimconfig.Config) vinfra.Policy {
	minUtil, maxUtil, idleTicks := policy.MinUtil, policy.MaxUtil, policy.IdleTicks
	if cfg.Threshold.MinUtil != 0 {
		minUtil = cfg.Threshold.MinUtil
	}
	if cfg.Threshold.MaxUtil != 0 {
		maxUtil = cfg.Threshold.MaxUtil
	}
	if cfg.Threshold.IdleTicks != 0 {
		idleTicks = cfg.Threshold.IdleTicks
	}

	switch name {
	case "threshold":
		return policy.NewThresholdWithParams(minUtil, maxUtil, idleTicks)
	case "priority":
		seed := cfg.RandomSeed
		if seed == 0 {
			seed = 1
		}
		return policy.NewPriorityWithParams(seed, minUtil, maxUtil, idleTicks)
	case "pooling":
		headroom, poolIdleTicks := policy.Headroom, policy.IdleTicks
		if cfg.Pooling.Headroom != 0 {
			headroom = cfg.Pooling.Headroom
		}
		if cfg.Pooling.IdleTicks != 0 {
			poolIdleTicks = cfg.Pooling.IdleTicks
		}
		return policy.NewPoolingWithParams(headroom, poolIdleTicks)
	default:
		// kingpin's Enum already rejects anything else before we get here.
		panic("unreachable policy name " + strconv.Quote(name))
	}
}
