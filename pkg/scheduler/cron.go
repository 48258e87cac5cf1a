package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cron schedules jobs by standard five-field cron expressions.
type Cron struct {
	c       *cron.Cron
	loc     *time.Location
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// NewCron builds a cron runner. Each run gets a context bounded by timeout (no bound when zero)
// that is cancelled by Stop.
func NewCron(loc *time.Location, log *zap.Logger, timeout time.Duration) *Cron {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{c: c, loc: loc, log: log, ctx: ctx, cancel: cancel, timeout: timeout}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop cancels in-flight runs and waits for them to return.
func (cr *Cron) Stop() {
	cr.cancel()
	<-cr.c.Stop().Done()
}

func (cr *Cron) Add(expr string, job Job) (cron.EntryID, error) {
	return cr.c.AddFunc(expr, func() {
		ctx := cr.ctx
		if cr.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cr.timeout)
			defer cancel()
		}
		_ = runJob(ctx, cr.log, job)
	})
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
