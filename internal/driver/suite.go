package driver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
	"convoprobe/pkg/logging"
)

// Job is one run to execute as part of a suite.
type Job struct {
	Scenario *scenario.Scenario
	// RunID is generated when empty
	RunID string
}

// Outcome is the result of one Job. Result is nil only for definition errors.
type Outcome struct {
	Job    Job
	Result *model.RunResult
	Err    error
}

// Jobs builds repeat jobs for every scenario, each with a fresh run id.
func Jobs(scenarios []*scenario.Scenario, repeat int) []Job {
	if repeat < 1 {
		repeat = 1
	}
	jobs := make([]Job, 0, len(scenarios)*repeat)
	for _, s := range scenarios {
		for i := 0; i < repeat; i++ {
			jobs = append(jobs, Job{Scenario: s.Clone(), RunID: uuid.NewString()})
		}
	}
	return jobs
}

// RunSuite executes jobs on a pool of parallel workers. Runs share nothing
// but the driver's sender and repository. Outcomes are returned in job
// order. Jobs not yet started when ctx is cancelled still run and come back
// ABORTED, so every job yields a stored result.
func (d *Driver) RunSuite(ctx context.Context, jobs []Job, parallel int) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	if len(jobs) == 0 {
		return outcomes
	}

	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(jobs) {
		parallel = len(jobs)
	}

	jobChan := make(chan int, len(jobs))
	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)

	var wg sync.WaitGroup
	for w := 0; w < parallel; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobChan {
				job := jobs[i]
				if job.RunID == "" {
					job.RunID = uuid.NewString()
				}
				logging.Debug(subsystem, "worker %d executing scenario %s as run %s", workerID, job.Scenario.ID, job.RunID)

				result, err := d.RunTest(ctx, job.Scenario, job.RunID)
				outcomes[i] = Outcome{Job: job, Result: result, Err: err}
			}
		}(w)
	}
	wg.Wait()

	return outcomes
}
