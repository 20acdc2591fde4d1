package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/infrastructure/monitor"
	"cbond-trigger-go/order"
)

// Ledger 持仓检测需要的委托记录操作，由 order.Registry 实现。
type Ledger interface {
	FilledWithoutSell(grace time.Duration) []order.Record
	MarkManualLiquidation(key string) (order.Record, bool)
}

// Config 持仓检测配置
type Config struct {
	Interval time.Duration // 查询间隔，默认 5 秒
	Idle     time.Duration // 没有待检测记录时的休眠，默认 1 秒
	Grace    time.Duration // 买入成交后多久开始检测，默认 5 秒
}

// Watcher 检测系统外的手工清仓：买入已成交、从未卖出，而券商持仓为 0。
// 合成的卖出腿以买入成交价计价，盈亏恒为 0，只是近似记录。
type Watcher struct {
	ledger  Ledger
	source  PositionSource
	logger  *zap.Logger
	monitor *monitor.Monitor
	cfg     Config
}

func NewWatcher(ledger Ledger, source PositionSource, logger *zap.Logger, mon *monitor.Monitor, cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Idle <= 0 {
		cfg.Idle = time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{ledger: ledger, source: source, logger: logger, monitor: mon, cfg: cfg}
}

// Run 阻塞轮询直到 ctx 结束，单轮失败不退出。
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("position watcher started", zap.Duration("interval", w.cfg.Interval))
	for {
		wait := w.cfg.Interval
		n, err := w.Check(ctx)
		switch {
		case err != nil:
			w.monitor.RecordPollError("position")
			w.logger.Warn("position check failed", zap.Error(err))
		case n < 0:
			wait = w.cfg.Idle
		}
		select {
		case <-ctx.Done():
			w.logger.Info("position watcher stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Check 执行一轮检测，返回标记为手工清仓的数量；没有候选记录时返回 -1 且不查询券商。
func (w *Watcher) Check(ctx context.Context) (int, error) {
	candidates := w.ledger.FilledWithoutSell(w.cfg.Grace)
	if len(candidates) == 0 {
		return -1, nil
	}

	start := time.Now()
	rows, err := w.source.QueryPositions(context.WithoutCancel(ctx))
	w.monitor.ObserveProvider("query_positions", start)
	if err != nil {
		return 0, fmt.Errorf("query positions: %w", err)
	}
	snap := NewSnapshot(rows)

	marked := 0
	for _, rec := range candidates {
		if !snap.Cleared(rec.Code) {
			continue
		}
		updated, ok := w.ledger.MarkManualLiquidation(rec.Key)
		if !ok {
			continue
		}
		marked++
		w.monitor.RecordManualLiquidation()
		w.logger.Info("manual liquidation detected",
			zap.String("key", updated.Key),
			zap.String("code", updated.Code),
			zap.String("name", updated.Name),
			zap.Int64("volume", updated.Sell.DealVolume),
			zap.Float64("price", updated.Sell.DealPrice))
	}
	return marked, nil
}
