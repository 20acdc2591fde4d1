package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Component 由容器托管启停的组件：委托 HTTP 服务与交易引擎。
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// ComponentHealth /healthz 中单个组件的状态。
type ComponentHealth struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// LifecycleManager 按注册顺序启动组件，逆序停止。
// 只停止真正启动过的组件；启动失败时已启动的部分立即回滚。
type LifecycleManager struct {
	logger *zap.Logger

	mu         sync.Mutex
	components []Component
	running    int // components[:running] 已启动
}

func NewLifecycleManager(logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{logger: logger}
}

func (m *LifecycleManager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.running < len(m.components) {
		c := m.components[m.running]
		if err := c.Start(ctx); err != nil {
			m.logger.Error("component start failed, rolling back",
				zap.String("component", c.Name()),
				zap.Int("started", m.running),
				zap.Error(err))
			if rerr := m.stopLocked(); rerr != nil {
				m.logger.Warn("rollback incomplete", zap.Error(rerr))
			}
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.logger.Info("component started", zap.String("component", c.Name()))
		m.running++
	}
	return nil
}

// StopAll 停止全部已启动组件并汇总错误，不因单个失败中断。
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *LifecycleManager) stopLocked() error {
	var errs []error
	for ; m.running > 0; m.running-- {
		c := m.components[m.running-1]
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
			continue
		}
		m.logger.Info("component stopped", zap.String("component", c.Name()))
	}
	return errors.Join(errs...)
}

// CheckHealth 逐个询问组件；任一不健康时 error 非 nil，报告仍包含全部组件。
func (m *LifecycleManager) CheckHealth() ([]ComponentHealth, error) {
	m.mu.Lock()
	comps := append([]Component(nil), m.components...)
	m.mu.Unlock()

	report := make([]ComponentHealth, 0, len(comps))
	var errs []error
	for _, c := range comps {
		h := ComponentHealth{Name: c.Name(), OK: true}
		if err := c.Health(); err != nil {
			h.OK = false
			h.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
		report = append(report, h)
	}
	return report, errors.Join(errs...)
}

// httpComponent 委托 HTTP 服务。Start 同步监听，端口被占用时直接失败。
type httpComponent struct {
	name    string
	addr    string
	handler http.Handler
	logger  *zap.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func (h *httpComponent) Name() string { return h.name }

func (h *httpComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	srv := &http.Server{Handler: h.handler, ReadHeaderTimeout: 5 * time.Second}
	h.srv, h.ln = srv, ln

	go func() {
		h.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server exited", zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址；配置为 :0 时由系统分配。
func (h *httpComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

// Stop 最多等待 5 秒让进行中的请求完成。
func (h *httpComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.srv.Shutdown(ctx)
	h.srv, h.ln = nil, nil
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (h *httpComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.srv == nil {
		return errors.New("not listening")
	}
	return nil
}
