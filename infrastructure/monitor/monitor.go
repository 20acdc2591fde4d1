package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。
// 所有记录方法允许 nil 接收者，未启用监控的组件可直接传 nil。
type Monitor struct {
	registry *prometheus.Registry

	// 行情与触发
	ticks          *prometheus.CounterVec
	triggersFired  *prometheus.CounterVec
	selectionMiss  *prometheus.CounterVec
	quoteCacheSize prometheus.Gauge

	// 订单
	ordersSubmitted *prometheus.CounterVec
	submitErrors    *prometheus.CounterVec
	ordersTerminal  *prometheus.CounterVec
	cancels         *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	pendingChecks   prometheus.Gauge
	manualClosed    prometheus.Counter

	// 系统
	pollErrors      *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "cbond",
		Subsystem: "trigger",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Monitor{
		registry: reg,

		ticks:          counterVec("ticks_total", "收到的行情推送数", "kind"),
		triggersFired:  counterVec("triggers_fired_total", "规则触发次数", "rule"),
		selectionMiss:  counterVec("bond_selection_miss_total", "触发后无满足成交额条件的转债", "rule"),
		quoteCacheSize: gauge("quote_cache_size", "行情缓存中的代码数"),

		ordersSubmitted: counterVec("orders_submitted_total", "成功报单数", "leg"),
		submitErrors:    counterVec("order_submit_errors_total", "报单失败数", "leg"),
		ordersTerminal:  counterVec("orders_terminal_total", "订单进入终态数", "leg", "status"),
		cancels:         counterVec("cancels_total", "超时撤单次数", "result"),
		callbacks:       counterVec("callbacks_total", "成交回调投递次数", "result"),
		pendingChecks:   gauge("pending_checks", "待检查订单数"),
		manualClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "manual_liquidations_total",
			Help:      "检测到的手工平仓数",
		}),

		pollErrors: counterVec("poll_errors_total", "轮询查询失败次数", "loop"),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_latency_seconds",
				Help:      "交易接口请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

// 行情与触发
func (m *Monitor) RecordTick(kind string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(kind).Inc()
}

func (m *Monitor) RecordTrigger(rule string) {
	if m == nil {
		return
	}
	m.triggersFired.WithLabelValues(rule).Inc()
}

func (m *Monitor) RecordSelectionMiss(rule string) {
	if m == nil {
		return
	}
	m.selectionMiss.WithLabelValues(rule).Inc()
}

func (m *Monitor) SetQuoteCacheSize(n int) {
	if m == nil {
		return
	}
	m.quoteCacheSize.Set(float64(n))
}

// 订单
func (m *Monitor) RecordSubmit(leg string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.submitErrors.WithLabelValues(leg).Inc()
		return
	}
	m.ordersSubmitted.WithLabelValues(leg).Inc()
}

func (m *Monitor) RecordTerminal(leg, status string) {
	if m == nil {
		return
	}
	m.ordersTerminal.WithLabelValues(leg, status).Inc()
}

func (m *Monitor) RecordCancel(err error) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(result(err)).Inc()
}

func (m *Monitor) RecordCallback(err error) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result(err)).Inc()
}

func (m *Monitor) SetPendingChecks(n int) {
	if m == nil {
		return
	}
	m.pendingChecks.Set(float64(n))
}

func (m *Monitor) RecordManualLiquidation() {
	if m == nil {
		return
	}
	m.manualClosed.Inc()
}

// 系统
func (m *Monitor) RecordPollError(loop string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(loop).Inc()
}

// ObserveProvider 记录交易接口耗时，用法：defer m.ObserveProvider("buy", time.Now())
func (m *Monitor) ObserveProvider(op string, start time.Time) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
