package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"LifeSync/internal/models"
	"LifeSync/pkg/logger"
	"LifeSync/pkg/metrics"
	"LifeSync/pkg/notification"
	"LifeSync/pkg/retry"

	"go.uber.org/zap"
)

// Transport 按收件人类型投递，notification.Router 即满足
type Transport interface {
	Send(ctx context.Context, kind, to string, msg notification.Message) error
}

// Recorder 接收投递进度，由会话管理器实现
type Recorder interface {
	RecordDelivery(sessionID string, rec models.DeliveryRecord) error
}

type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	Policy      retry.Policy
}

func DefaultConfig() Config {
	return Config{
		Workers:     8,
		QueueSize:   1024,
		SendTimeout: 10 * time.Second,
		Policy:      retry.DeliveryPolicy(),
	}
}

type job struct {
	sessionID string
	to        models.Recipient
	event     string
	msg       notification.Message
	attempts  int
}

// Fanout 通知扇出：每个收件人一个任务，失败按退避重试
type Fanout struct {
	cfg       Config
	transport Transport
	recorder  Recorder
	renderer  *Renderer
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	queue  chan *job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

type Option func(*Fanout)

func WithRenderer(r *Renderer) Option { return func(f *Fanout) { f.renderer = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(f *Fanout) { f.metrics = m } }

func WithClock(now func() time.Time) Option { return func(f *Fanout) { f.now = now } }

func New(cfg Config, transport Transport, recorder Recorder, opts ...Option) *Fanout {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Policy.Validate() != nil {
		cfg.Policy = def.Policy
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fanout{
		cfg:       cfg,
		transport: transport,
		recorder:  recorder,
		log:       logger.Named("fanout"),
		now:       time.Now,
		queue:     make(chan *job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[*time.Timer]struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	if f.renderer == nil {
		f.renderer = NewRenderer(nil, nil)
	}
	return f
}

// Start 启动固定数量的 worker
func (f *Fanout) Start() {
	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
}

// Notify 为每个收件人排一个任务，立即返回
func (f *Fanout) Notify(sessionID, event string, msg notification.Message, recipients []models.Recipient) {
	for _, r := range recipients {
		if r.ID == "" {
			continue
		}
		f.enqueue(&job{sessionID: sessionID, to: r, event: event, msg: msg})
	}
}

// OnEvent 作为会话观察者使用；在会话锁内被调用，不能阻塞
func (f *Fanout) OnEvent(ev models.SessionEvent) {
	if ev.Kind == models.EventDeliveryFailed {
		return
	}
	event := EventName(ev)
	for _, r := range Recipients(ev) {
		f.enqueue(&job{sessionID: ev.SessionID, to: r, event: event, msg: f.renderer.Render(ev, r)})
	}
}

func (f *Fanout) enqueue(j *job) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	select {
	case f.queue <- j:
	default:
		// 队列满时交给后台协程排队
		go func() {
			select {
			case f.queue <- j:
			case <-f.ctx.Done():
			}
		}()
	}
}

func (f *Fanout) worker() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case j := <-f.queue:
			f.deliver(j)
		}
	}
}

func (f *Fanout) deliver(j *job) {
	j.attempts++
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.SendTimeout)
	err := f.transport.Send(ctx, string(j.to.Kind), j.to.ID, j.msg)
	cancel()

	rec := models.DeliveryRecord{
		RecipientKind: j.to.Kind,
		RecipientID:   j.to.ID,
		Event:         j.event,
		Attempts:      j.attempts,
	}
	var retryIn time.Duration
	switch {
	case err == nil:
		rec.State = models.DeliveryDelivered
	case errors.Is(err, notification.ErrNoRoute) || !f.cfg.Policy.ShouldRetry(j.attempts):
		rec.State = models.DeliveryFailed
		rec.LastError = err.Error()
	default:
		rec.State = models.DeliveryPending
		rec.LastError = err.Error()
		retryIn = f.cfg.Policy.Delay(j.attempts - 1)
		next := f.now().Add(retryIn)
		rec.NextRetryAt = &next
	}

	if f.metrics != nil {
		f.metrics.RecordDelivery(string(rec.RecipientKind), string(rec.State))
	}
	if f.recorder != nil {
		if rerr := f.recorder.RecordDelivery(j.sessionID, rec); rerr != nil {
			f.log.Debug("record delivery skipped", zap.String("session", j.sessionID), zap.Error(rerr))
		}
	}
	if rec.State == models.DeliveryPending {
		f.log.Debug("delivery retry scheduled",
			zap.String("session", j.sessionID),
			zap.String("recipient", rec.Key()),
			zap.Int("attempts", j.attempts),
			zap.Duration("in", retryIn),
			zap.Error(err))
		f.schedule(j, retryIn)
	}
}

func (f *Fanout) schedule(j *job, after time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(after, func() {
		f.mu.Lock()
		delete(f.timers, t)
		f.mu.Unlock()
		f.enqueue(j)
	})
	f.timers[t] = struct{}{}
}

// Close 停止接收新任务并取消在途投递，未到期的重试直接丢弃
func (f *Fanout) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for t := range f.timers {
		t.Stop()
	}
	f.timers = nil
	f.mu.Unlock()

	f.cancel()
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
