package scheduler

import (
	"context"
	"sync"
	"time"

	"ResQFlow/pkg/metrics"

	"go.uber.org/zap"
)

// Job is a named unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcJob) Name() string                  { return f.name }
func (f funcJob) Run(ctx context.Context) error { return f.fn(ctx) }

// FuncJob adapts fn to a Job.
func FuncJob(name string, fn func(ctx context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

// Scheduler runs jobs on fixed intervals until Stop.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger
}

func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel, log: log}
}

// Stop cancels running jobs and waits for every loop to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) Every(d time.Duration, job Job) {
	s.wg.Add(1)
	go s.loopEvery(d, job)
}

func (s *Scheduler) loopEvery(d time.Duration, job Job) {
	defer s.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			runJob(s.ctx, s.log, job)
		}
	}
}

// runJob executes job once, recovering panics and recording the outcome.
func runJob(ctx context.Context, log *zap.Logger, job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.String("job", job.Name()), zap.Any("recover", r))
			err = context.Canceled
		}
		metrics.G().RecordJob(job.Name(), err, time.Since(start))
	}()

	err = job.Run(ctx)
	if err != nil {
		log.Warn("job failed", zap.String("job", job.Name()), zap.Error(err))
	} else {
		log.Debug("job finished", zap.String("job", job.Name()), zap.Duration("took", time.Since(start)))
	}
	return err
}
