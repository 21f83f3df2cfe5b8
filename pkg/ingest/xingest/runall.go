package xingest

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// JobResult RunAll 中单个 Job 的结果。
type JobResult struct {
	Job    Job
	Result *Result
	Err    error
}

// RunAll 并发运行互不相关的流，每个 Job 一个 goroutine。
// 一个流失败不会取消其他流；返回与 jobs 同序的结果和合并后的错误。
func RunAll(ctx context.Context, o *Orchestrator, jobs []Job) ([]JobResult, error) {
	if o == nil {
		return nil, ErrNilOrchestrator
	}
	results := make([]JobResult, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			res, err := o.Run(ctx, job)
			results[i] = JobResult{Job: job, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	errs := make([]error, 0, len(jobs))
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}
