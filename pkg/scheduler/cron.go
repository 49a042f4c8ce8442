package scheduler

import (
	"context"
	"time"

	"LifeSync/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapCronLogger 把 cron 内部日志接到 zap
type zapCronLogger struct{ s *zap.SugaredLogger }

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

type Cron struct {
	c      *cron.Cron
	loc    *time.Location
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCron 任务 panic 会被恢复，上一轮未结束时跳过本轮
func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.Local
	}
	lg := logger.Named("cron")
	cl := zapCronLogger{s: lg.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{c: c, loc: loc, log: lg, ctx: ctx, cancel: cancel}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop 取消运行中任务的 ctx 并等待其返回
func (cr *Cron) Stop() {
	cr.cancel()
	<-cr.c.Stop().Done()
}

// Add 注册任务，expr 支持标准五段式和 @every/@hourly 等描述符
func (cr *Cron) Add(name, expr string, job Job) (cron.EntryID, error) {
	return cr.c.AddFunc(expr, func() {
		start := time.Now()
		job.Run(cr.ctx)
		cr.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }
