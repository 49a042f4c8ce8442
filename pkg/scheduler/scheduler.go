package scheduler

import (
	"context"
	"sync"
	"time"

	"LifeSync/pkg/logger"

	"go.uber.org/zap"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler 固定间隔任务，每个任务一个协程
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Stop 取消全部任务并等待正在执行的一轮结束
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Every 立即执行一次，之后每隔 d 执行
func (s *Scheduler) Every(d time.Duration, job Job) {
	if d <= 0 {
		return
	}
	s.wg.Add(1)
	go s.loopEvery(d, job)
}

func (s *Scheduler) loopEvery(d time.Duration, job Job) {
	defer s.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	s.run(job)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.run(job)
		}
	}
}

func (s *Scheduler) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled job panicked", zap.Any("panic", r))
		}
	}()
	if s.ctx.Err() != nil {
		return
	}
	job.Run(s.ctx)
}
