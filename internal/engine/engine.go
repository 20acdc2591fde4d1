package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cbond-trigger-go/infrastructure/alert"
	"cbond-trigger-go/market"
	"cbond-trigger-go/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Runner 后台循环：阻塞到 ctx 结束，返回 ctx.Err() 或致命错误。
type Runner interface {
	Run(ctx context.Context) error
}

// Config 引擎配置
type Config struct {
	Codes       []string      // 行情订阅范围：全部正股与转债
	StopTimeout time.Duration // 等待循环退出的上限，默认 10 秒
}

// Components 引擎依赖组件，Recorder、Session 与 Alerts 可为空。
type Components struct {
	Feed          market.Provider
	Recorder      *market.Recorder
	Evaluator     *strategy.Evaluator
	OrderWatch    Runner
	PositionWatch Runner
	Session       Runner
	Alerts        *alert.Manager
	Logger        *zap.Logger
}

// Engine 编排行情接入、委托轮询、持仓检测与凭证刷新，各自一个协程共享同一 ctx。
// 单实例运行。
type Engine struct {
	config Config
	comps  Components
	logger *zap.Logger

	state  EngineState
	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}

	stats Statistics
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime  time.Time
	StopTime   time.Time
	LoopErrors int64
	mu         sync.RWMutex
}

// New 创建引擎
func New(cfg Config, comps Components) (*Engine, error) {
	if err := validateComponents(comps); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if comps.Logger == nil {
		comps.Logger = zap.NewNop()
	}
	return &Engine{
		config: cfg,
		comps:  comps,
		logger: comps.Logger,
		state:  StateIdle,
	}, nil
}

func validateComponents(c Components) error {
	switch {
	case c.Feed == nil:
		return errors.New("market feed is required")
	case c.Evaluator == nil:
		return errors.New("evaluator is required")
	case c.OrderWatch == nil:
		return errors.New("order watch is required")
	case c.PositionWatch == nil:
		return errors.New("position watch is required")
	}
	return nil
}

// Start 启动全部循环后立即返回。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = StateRunning
	done := e.done
	e.mu.Unlock()

	e.stats.mu.Lock()
	e.stats.StartTime = time.Now()
	e.stats.mu.Unlock()

	e.logger.Info("engine starting", zap.Int("codes", len(e.config.Codes)))
	go func() {
		defer close(done)
		e.run(runCtx)
	}()
	return nil
}

// run 阻塞到所有循环退出。循环错误只记录，不拖垮其他循环。
func (e *Engine) run(ctx context.Context) {
	// guard 吞掉循环错误，一个循环失败不取消其他循环；Group 只负责等待全部退出。
	var g errgroup.Group
	g.Go(func() error { return e.guard("market", func() error { return e.runMarket(ctx) }) })
	g.Go(func() error { return e.guard("order_watch", func() error { return e.comps.OrderWatch.Run(ctx) }) })
	g.Go(func() error { return e.guard("position_watch", func() error { return e.comps.PositionWatch.Run(ctx) }) })
	if e.comps.Session != nil {
		g.Go(func() error { return e.guard("session", func() error { return e.comps.Session.Run(ctx) }) })
	}
	_ = g.Wait()
	e.comps.Evaluator.Wait()
}

func (e *Engine) guard(loop string, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, context.Canceled) {
		e.logger.Info("loop exited", zap.String("loop", loop))
		return nil
	}
	e.stats.mu.Lock()
	e.stats.LoopErrors++
	e.stats.mu.Unlock()
	e.logger.Error("loop exited with error", zap.String("loop", loop), zap.Error(err))
	if aerr := e.comps.Alerts.Critical("engine loop exited", map[string]interface{}{
		"loop":  loop,
		"error": err.Error(),
	}); aerr != nil {
		e.logger.Warn("send alert failed", zap.Error(aerr))
	}
	return nil
}

// runMarket 订阅行情并投递到缓存与触发判断；配置了录制时先落盘。
func (e *Engine) runMarket(ctx context.Context) error {
	if len(e.config.Codes) > 0 {
		if err := e.comps.Feed.Subscribe(e.config.Codes); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	h := e.comps.Evaluator.Handler(ctx)
	if e.comps.Recorder != nil {
		h = e.comps.Recorder.Tee(h)
	}
	return e.comps.Feed.Run(ctx, h)
}

// Stop 取消所有循环并等待退出，随后关闭行情源与录制文件。幂等。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	e.logger.Info("engine stopping")
	cancel()

	var err error
	select {
	case <-done:
	case <-time.After(e.config.StopTimeout):
		err = fmt.Errorf("timeout waiting for loops after %s", e.config.StopTimeout)
		e.logger.Warn("timeout waiting for engine to stop")
	}

	if cerr := e.comps.Feed.Close(); cerr != nil {
		e.logger.Warn("close market feed failed", zap.Error(cerr))
	}
	if e.comps.Recorder != nil {
		if cerr := e.comps.Recorder.Close(); cerr != nil {
			e.logger.Warn("close recorder failed", zap.Error(cerr))
		}
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.stats.mu.Lock()
	e.stats.StopTime = time.Now()
	e.stats.mu.Unlock()

	e.logger.Info("engine stopped")
	return err
}

// Done 所有循环退出后关闭；未启动时返回 nil。
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

// GetState 获取引擎状态
func (e *Engine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics 获取统计信息
func (e *Engine) GetStatistics() Statistics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()
	return Statistics{
		StartTime:  e.stats.StartTime,
		StopTime:   e.stats.StopTime,
		LoopErrors: e.stats.LoopErrors,
	}
}
