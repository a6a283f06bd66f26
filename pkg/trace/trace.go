// Package trace loads a workload trace from a YAML file into a slice of
// jobs. spec.md §1 explicitly places trace file parsing out of the core's
// scope; this loader is the minimal ambient stack the demo driver needs to
// have something to feed the arrival handler, built the way the teacher
// loads YAML elsewhere (common/config.Parse) rather than a hand-rolled
// line-oriented reader.
package trace

import (
	"io/ioutil"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/nicola-mason/vinfra-autoscaler/pkg/job"
)

// entry is the on-disk shape of a single trace record.
type entry struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	SubmitTime int64  `yaml:"submit_time"`
	ExecTime   int64  `yaml:"exec_time"`
}

// file is the on-disk shape of a whole trace file.
type file struct {
	Jobs []entry `yaml:"jobs"`
}

// Load reads a trace file and returns its jobs in file order (the arrival
// handler is responsible for sorting by submit time per spec.md §4.6).
func Load(path string) ([]*job.Job, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading trace file")
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing trace file")
	}
	jobs := make([]*job.Job, 0, len(f.Jobs))
	for i, e := range f.Jobs {
		id := e.ID
		if id == "" {
			id = "job-" + strconv.Itoa(i)
		}
		jobs = append(jobs, &job.Job{
			ID:         id,
			Kind:       e.Kind,
			SubmitTime: e.SubmitTime,
			ExecTime:   e.ExecTime,
		})
	}
	return jobs, nil
}
