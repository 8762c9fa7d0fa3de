package business

import (
	"context"

	"github.com/pitabwire/frame/workerpool"
)

type workerPoolRunner struct {
	workMan workerpool.Manager
}

// NewWorkerPoolRunner runs tasks as jobs on the service worker pool.
func NewWorkerPoolRunner(workMan workerpool.Manager) TaskRunner {
	return &workerPoolRunner{workMan: workMan}
}

func (r *workerPoolRunner) Run(ctx context.Context, task func(ctx context.Context) error) error {
	job := workerpool.NewJob[any](func(ctx context.Context, resultPipe workerpool.JobResultPipe[any]) error {
		if err := task(ctx); err != nil {
			return resultPipe.WriteError(ctx, err)
		}
		return nil
	})
	return workerpool.SubmitJob(ctx, r.workMan, job)
}
