package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// JobSpec is the YAML shape of one job entry in a jobs file.
type JobSpec struct {
	Source       string   `yaml:"source"`
	JobType      string   `yaml:"job_type"`
	Enabled      bool     `yaml:"enabled"`
	Priority     int      `yaml:"priority"`
	MaxAgeHours  int      `yaml:"max_age_hours"`
	Dependencies []string `yaml:"dependencies"`
}

type jobsFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// LoadJobSpecs reads job declarations from a YAML file:
//
//	jobs:
//	  - source: espn
//	    job_type: team_stats
//	    enabled: true
//	    priority: 1
//	    max_age_hours: 24
//	    dependencies: [statsfeed]
func LoadJobSpecs(path string) ([]JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read jobs file %s", path)
	}
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "parse jobs file %s", path)
	}
	for i, spec := range f.Jobs {
		if spec.Source == "" {
			return nil, eris.Errorf("jobs file %s: entry %d has no source", path, i)
		}
		if spec.MaxAgeHours < 0 {
			return nil, eris.Errorf("jobs file %s: %s has negative max_age_hours", path, spec.Source)
		}
	}
	return f.Jobs, nil
}

// MaxAge converts the spec's hour count to a duration.
func (s JobSpec) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

// Config builds a JobConfig from the spec with the given run function.
func (s JobSpec) Config(run func(ctx context.Context) (*JobResult, error)) JobConfig {
	return JobConfig{
		Source:       s.Source,
		JobType:      s.JobType,
		Enabled:      s.Enabled,
		Priority:     s.Priority,
		MaxAge:       s.MaxAge(),
		Dependencies: s.Dependencies,
		Run:          run,
	}
}
