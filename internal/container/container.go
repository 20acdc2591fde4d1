package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/config"
	"cbond-trigger-go/gateway"
	"cbond-trigger-go/infrastructure/alert"
	"cbond-trigger-go/infrastructure/logger"
	"cbond-trigger-go/infrastructure/monitor"
	"cbond-trigger-go/instrument"
	"cbond-trigger-go/internal/engine"
	"cbond-trigger-go/internal/httpapi"
	"cbond-trigger-go/inventory"
	"cbond-trigger-go/market"
	"cbond-trigger-go/order"
	"cbond-trigger-go/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg *config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 券商网关
	tradeClient *gateway.TradeClient
	session     *gateway.Session
	callbacks   *gateway.CallbackClient

	// 核心服务
	mapping   *instrument.Mapping
	cache     *market.Cache
	feed      market.Provider
	recorder  *market.Recorder
	registry   *order.Registry
	orderWatch *order.Watcher
	evaluator  *strategy.Evaluator
	engine     *engine.Engine

	// 委托 HTTP 服务
	http *httpComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(cfg config.AppConfig) *Container {
	return &Container{cfg: &cfg}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("market_mode", c.cfg.Market.Mode),
		zap.Bool("dry_run", c.cfg.DryRun()),
		zap.Strings("alert_channels", c.alerts.GetChannels()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(logger.Config{
		Level:      c.cfg.Log.Level,
		Outputs:    c.cfg.Log.Outputs,
		OutputFile: c.cfg.Log.OutputFile,
		ErrorFile:  c.cfg.Log.ErrorFile,
		Format:     c.cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewZapChannel(c.logger.Named("alert"))}
	if c.cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(c.cfg.Alert.WebhookURL))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.Throttle())
	c.lifecycle = NewLifecycleManager(c.logger.Named("lifecycle"))
	return nil
}

func (c *Container) buildGateway() error {
	zl := c.logger.Named("gateway")
	c.tradeClient = gateway.NewTradeClient(
		c.cfg.Trade.BaseURL,
		c.cfg.Trade.Token,
		c.cfg.Trade.Account,
		c.cfg.Trade.Password,
		gateway.NewRateLimiter(c.cfg.Trade.RatePerSec, c.cfg.Trade.Burst),
		zl,
	)
	c.tradeClient.HTTPClient.Timeout = time.Duration(c.cfg.Trade.TimeoutSec) * time.Second

	// 回放模式不登录
	if !c.cfg.DryRun() {
		c.session = gateway.NewSession(c.tradeClient, gateway.SessionConfig{
			File:     c.cfg.Trade.TicketFile,
			Interval: c.cfg.Engine.TicketRefresh(),
		}, zl.Named("session"))
		c.tradeClient.Tickets = c.session
	}
	c.callbacks = gateway.NewCallbackClient(5*time.Second, zl.Named("callback"))
	return nil
}

func (c *Container) buildCoreServices() error {
	var err error
	if c.mapping, err = instrument.LoadMapping(c.cfg.Files.BondMap); err != nil {
		return err
	}
	rules, err := strategy.LoadRules(c.cfg.Files.Rules)
	if err != nil {
		return err
	}

	mlog := c.logger.Named("market")
	switch c.cfg.Market.Mode {
	case config.MarketModeReplay:
		c.feed = market.NewReplayFeed(c.cfg.Market.ReplayFile, c.cfg.Market.Follow, mlog)
	default:
		c.feed = market.NewWSFeed(c.cfg.Market.WSURL, mlog)
	}
	if c.cfg.Market.RecordFile != "" {
		c.recorder = market.NewRecorder(c.cfg.Market.RecordFile, mlog.Named("recorder"))
	}
	c.cache = market.NewCache()

	olog := c.logger.Named("order")
	c.registry = order.NewRegistry(c.tradeClient, olog, c.monitor)
	notifier := &auditNotifier{next: c.callbacks, logger: c.logger, alerts: c.alerts}
	c.orderWatch = order.NewWatcher(c.registry, c.tradeClient, notifier, olog.Named("watch"), c.monitor, order.WatcherConfig{
		Interval: c.cfg.Engine.OrderInterval(),
	})
	ledger := &alertingLedger{Ledger: c.registry, alerts: c.alerts}
	positionWatch := inventory.NewWatcher(ledger, c.tradeClient, c.logger.Named("inventory"), c.monitor, inventory.Config{
		Interval: c.cfg.Engine.HoldInterval(),
		Grace:    c.cfg.Engine.Grace(),
	})

	slog := c.logger.Named("strategy")
	controller := strategy.NewController(c.cache, c.registry, c.cfg.HTTP.CallbackURL, c.cfg.DryRun(), slog)
	submitter := &auditSubmitter{next: controller, logger: c.logger}
	c.evaluator = strategy.NewEvaluator(rules, c.mapping, c.cache, submitter, slog, c.monitor)

	comps := engine.Components{
		Feed:          c.feed,
		Recorder:      c.recorder,
		Evaluator:     c.evaluator,
		OrderWatch:    c.orderWatch,
		PositionWatch: positionWatch,
		Alerts:        c.alerts,
		Logger:        c.logger.Named("engine"),
	}
	if c.session != nil {
		comps.Session = c.session
	}
	c.engine, err = engine.New(engine.Config{Codes: c.mapping.Codes()}, comps)
	if err != nil {
		return err
	}

	c.logger.Info("core services built",
		zap.Int("rules", len(rules)),
		zap.Int("codes", len(c.mapping.Codes())))
	return nil
}

func (c *Container) registerLifecycleComponents() {
	api := httpapi.NewServer(c.registry, c.monitor.Handler(), c.logger.Named("http")).WithHealth(c.healthReport)
	c.http = &httpComponent{
		name:    "order_http",
		addr:    c.cfg.HTTP.Listen,
		handler: api.Router(),
		logger:  c.logger.Named("http"),
	}
	c.lifecycle.Register(c.http)
	c.lifecycle.Register(&engineComponent{engine: c.engine})
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started", zap.String("listen", c.cfg.HTTP.Listen))
	return nil
}

// Stop 逆序停止：先停引擎循环，再关闭 HTTP 服务。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	pending := c.registry.Pending()
	if len(pending) > 0 {
		c.logger.Warn("exiting with unresolved orders", zap.Int("pending", len(pending)))
	}

	if c.logger != nil {
		c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	_, err := c.lifecycle.CheckHealth()
	return err
}

// healthReport /healthz 的内容：组件状态、引擎与委托轮询统计。
func (c *Container) healthReport() (map[string]interface{}, error) {
	components, err := c.lifecycle.CheckHealth()
	es := c.engine.GetStatistics()
	ws := c.orderWatch.GetStatistics()
	return map[string]interface{}{
		"components": components,
		"engine": map[string]interface{}{
			"state":       c.engine.GetState().String(),
			"start_time":  es.StartTime,
			"loop_errors": es.LoopErrors,
		},
		"order_watch": map[string]interface{}{
			"polls":          ws.TotalPolls,
			"terminals":      ws.Terminals,
			"cancels_sent":   ws.CancelsSent,
			"last_poll_time": ws.LastPollTime,
		},
		"pending": c.registry.PendingLen(),
	}, err
}

// Done 引擎所有循环退出后关闭。
func (c *Container) Done() <-chan struct{} {
	return c.engine.Done()
}

// Registry 暴露委托表，供测试与诊断使用。
func (c *Container) Registry() *order.Registry {
	return c.registry
}

// engineComponent 把引擎接入生命周期管理。
type engineComponent struct {
	engine *engine.Engine
}

func (e *engineComponent) Name() string { return "engine" }

func (e *engineComponent) Start(ctx context.Context) error {
	return e.engine.Start(ctx)
}

func (e *engineComponent) Stop() error {
	return e.engine.Stop()
}

func (e *engineComponent) Health() error {
	if st := e.engine.GetState(); st != engine.StateRunning {
		return fmt.Errorf("engine %s", st)
	}
	return nil
}

// auditSubmitter 在下单前后写触发审计日志。
// key 已存在与暂时缺行情是每个 tick 都可能出现的常态，不写审计日志。
type auditSubmitter struct {
	next   strategy.Submitter
	logger *logger.Logger
}

func (a *auditSubmitter) SubmitBuy(ctx context.Context, rule strategy.Rule, bond string) (string, error) {
	orderID, err := a.next.SubmitBuy(ctx, rule, bond)
	fields := map[string]interface{}{
		"rule": rule.ID,
		"key":  rule.Key(),
		"bond": bond,
	}
	if errors.Is(err, order.ErrDuplicateKey) || errors.Is(err, strategy.ErrTransientMiss) {
		return "", err
	}
	if err != nil {
		fields["error"] = err.Error()
		a.logger.LogTrigger("submit_skipped", fields)
		return "", err
	}
	fields["order_id"] = orderID
	a.logger.LogTrigger("fired", fields)
	return orderID, nil
}

// auditNotifier 委托终结时写订单审计日志，再投递回调。
type auditNotifier struct {
	next   order.Notifier
	logger *logger.Logger
	alerts *alert.Manager
}

func (a *auditNotifier) Notify(ctx context.Context, callbackURL string, rec order.Record) error {
	leg, side := rec.Buy, order.SideBuy
	if rec.Sell != nil {
		leg, side = *rec.Sell, order.SideSell
	}
	fields := map[string]interface{}{
		"key":         rec.Key,
		"code":        rec.Code,
		"side":        string(side),
		"status":      string(leg.Status),
		"deal_price":  leg.DealPrice,
		"deal_volume": leg.DealVolume,
		"manual":      rec.Manual,
	}
	if rec.RealizedPnL != nil {
		fields["realized_pnl"] = *rec.RealizedPnL
	}
	a.logger.LogOrder("resolved", leg.OrderID, fields)
	err := a.next.Notify(ctx, callbackURL, rec)
	if err != nil {
		_ = a.alerts.Warn("order callback failed", map[string]interface{}{
			"key":   rec.Key,
			"url":   callbackURL,
			"error": err.Error(),
		})
	}
	return err
}

// alertingLedger 检测到手工清仓时发告警，这类记录的盈亏并非券商确认。
type alertingLedger struct {
	inventory.Ledger
	alerts *alert.Manager
}

func (l *alertingLedger) MarkManualLiquidation(key string) (order.Record, bool) {
	rec, ok := l.Ledger.MarkManualLiquidation(key)
	if ok {
		_ = l.alerts.Warn("manual liquidation detected", map[string]interface{}{
			"key":    rec.Key,
			"code":   rec.Code,
			"volume": rec.Buy.DealVolume,
		})
	}
	return rec, ok
}
