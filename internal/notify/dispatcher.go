package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/authcore/internal/metrics"
)

// DefaultSendTimeout は1件の通知送信に許す最大時間。
const DefaultSendTimeout = 30 * time.Second

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration // 再送を含めた1件あたりの上限時間

	MaxAttempts    int
	InitialBackoff time.Duration
}

// Dispatcher は有界キューと固定数のワーカーで通知を非同期に送信する。
// Enqueueはブロックせず、キューが満杯の場合は通知を破棄する。
type Dispatcher struct {
	notifier  Notifier
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	timeout   time.Duration
	attempts  int
	backoff   time.Duration
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher はDispatcherを生成し、ワーカーを起動する。
// 停止時は必ずCloseを呼ぶこと。
func NewDispatcher(cfg DispatcherConfig, notifier Notifier, mc metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		notifier: notifier,
		metrics:  mc,
		logger:   logger,
		timeout:  cfg.SendTimeout,
		attempts: cfg.MaxAttempts,
		backoff:  cfg.InitialBackoff,
		ch:       make(chan Message, cfg.QueueSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	for attempt := 1; ; attempt++ {
		err = d.send(ctx, msg)
		if err == nil {
			d.metrics.RecordNotification(metrics.NotificationSent)
			return
		}
		if IsPermanent(err) || attempt >= d.attempts {
			break
		}

		delay := CalculateBackoff(d.backoff, attempt-1)
		d.logger.Warn("notification send failed, retrying",
			slog.String("kind", string(msg.Kind)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	d.metrics.RecordNotification(metrics.NotificationFailed)
	d.logger.Error("failed to send notification",
		slog.String("kind", string(msg.Kind)),
		slog.String("error", err.Error()),
	)
}

// send は1回だけ送信を試みる。Notifierのpanicは再送不要なエラーとして扱う。
func (d *Dispatcher) send(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("notifier panicked: %v", r))
		}
	}()
	return d.notifier.Send(ctx, msg)
}

// Enqueue は通知をキューに積む。積めなかった場合はfalseを返す。
func (d *Dispatcher) Enqueue(msg Message) bool {
	if d == nil || d.closed.Load() {
		return false
	}

	select {
	case d.ch <- msg:
		return true
	case <-d.done:
		return false
	default:
		d.dropped.Add(1)
		d.metrics.RecordNotification(metrics.NotificationDropped)
		d.logger.Warn("notification queue full, dropping message", slog.String("kind", string(msg.Kind)))
		return false
	}
}

// Close は新規受付を止め、キューに残った通知を送信し終えるまで待つ。
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped はキュー満杯で破棄した通知数を返す。
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
