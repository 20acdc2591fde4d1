package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/infrastructure/monitor"
)

// WatcherConfig 委托轮询配置
type WatcherConfig struct {
	Interval time.Duration // 轮询间隔，默认 2 秒
	Idle     time.Duration // 没有在途委托时的休眠，默认 1 秒
}

// Watcher 轮询券商当日委托，推进在途委托直至终结：
// 终结时回调一次并移除检查项，超时仍活跃时撤单。
type Watcher struct {
	registry *Registry
	broker   Broker
	notifier Notifier
	sm       *StateMachine
	logger   *zap.Logger
	monitor  *monitor.Monitor
	interval time.Duration
	idle     time.Duration
	now      func() time.Time

	mu sync.RWMutex

	// 统计信息
	totalPolls   int64
	terminals    int64
	cancelsSent  int64
	lastPollTime time.Time
}

// NewWatcher 创建委托轮询器
func NewWatcher(registry *Registry, broker Broker, notifier Notifier, logger *zap.Logger, mon *monitor.Monitor, cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Idle <= 0 {
		cfg.Idle = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		registry: registry,
		broker:   broker,
		notifier: notifier,
		sm:       NewStateMachine(),
		logger:   logger,
		monitor:  mon,
		interval: cfg.Interval,
		idle:     cfg.Idle,
		now:      time.Now,
	}
}

// Run 阻塞轮询直到 ctx 结束。单轮失败只记录日志，按原节奏重试。
// ctx 只在休眠点检查，进行中的一轮不会被打断。
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("order watcher started", zap.Duration("interval", w.interval))
	for {
		wait := w.interval
		if w.registry.PendingLen() == 0 {
			wait = w.idle
		} else if err := w.Poll(ctx); err != nil {
			w.monitor.RecordPollError("order")
			w.logger.Warn("order poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("order watcher stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Poll 执行一轮：查询一次委托列表，合并状态，然后在锁外投递回调和撤单。
func (w *Watcher) Poll(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	rows, err := w.broker.QueryOpenOrders(ctx)
	w.monitor.ObserveProvider("query_orders", start)
	if err != nil {
		return fmt.Errorf("query open orders: %w", err)
	}
	byID := make(map[string]OrderRow, len(rows))
	for _, row := range rows {
		byID[row.OrderID] = row
	}

	notices, cancels := w.registry.reconcile(byID, w.now(), w.sm)

	for _, n := range notices {
		w.logger.Info("order resolved",
			zap.String("key", n.Record.Key),
			zap.String("order_id", n.OrderID),
			zap.String("side", string(n.Side)),
			zap.String("status", string(n.Status)))
		w.notify(ctx, n)
	}
	for _, c := range cancels {
		w.cancel(ctx, c)
	}

	w.mu.Lock()
	w.totalPolls++
	w.terminals += int64(len(notices))
	w.cancelsSent += int64(len(cancels))
	w.lastPollTime = time.Now()
	w.mu.Unlock()
	return nil
}

// notify 回调只尽力投递一次，失败不影响检查项移除。
func (w *Watcher) notify(ctx context.Context, n notice) {
	if w.notifier == nil || n.CallbackURL == "" {
		return
	}
	err := w.notifier.Notify(ctx, n.CallbackURL, n.Record)
	w.monitor.RecordCallback(err)
	if err != nil {
		w.logger.Warn("callback failed",
			zap.String("key", n.Record.Key),
			zap.String("order_id", n.OrderID),
			zap.String("url", n.CallbackURL),
			zap.Error(err))
		return
	}
	w.logger.Debug("callback delivered", zap.String("order_id", n.OrderID), zap.String("url", n.CallbackURL))
}

func (w *Watcher) cancel(ctx context.Context, c cancelTask) {
	w.logger.Info("order timed out, cancelling",
		zap.String("key", c.Key),
		zap.String("order_id", c.OrderID),
		zap.String("side", string(c.Side)),
		zap.String("status", string(c.Status)))
	start := time.Now()
	err := w.broker.Cancel(ctx, c.OrderID)
	w.monitor.ObserveProvider("cancel", start)
	w.monitor.RecordCancel(err)
	w.registry.cancelDone(c.OrderID, err)
	if err != nil {
		w.logger.Warn("cancel failed, retry next cycle", zap.String("order_id", c.OrderID), zap.Error(err))
	}
}

// GetStatistics 获取轮询统计信息
func (w *Watcher) GetStatistics() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return WatcherStats{
		TotalPolls:   w.totalPolls,
		Terminals:    w.terminals,
		CancelsSent:  w.cancelsSent,
		LastPollTime: w.lastPollTime,
		Interval:     w.interval,
	}
}

// WatcherStats 轮询统计信息
type WatcherStats struct {
	TotalPolls   int64
	Terminals    int64
	CancelsSent  int64
	LastPollTime time.Time
	Interval     time.Duration
}
