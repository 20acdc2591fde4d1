package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticket 交易凭证。
type Ticket struct {
	Value    string
	IssuedAt time.Time
	Server   string
}

// Loginer 换取新凭证，由 TradeClient 实现。
type Loginer interface {
	Login(ctx context.Context) (Ticket, error)
}

// SessionConfig 凭证刷新配置
type SessionConfig struct {
	File     string        // 凭证缓存文件，格式 [ticket, "unix秒", server]
	Expire   time.Duration // 凭证有效期，默认 9000 秒
	Early    time.Duration // 提前刷新量，默认 60 秒
	Interval time.Duration // 检查间隔，默认 30 秒
}

// Session 维护交易凭证：启动时读取缓存文件，快过期时重新登录并落盘。
type Session struct {
	loginer Loginer
	cfg     SessionConfig
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	ticket Ticket
}

func NewSession(loginer Loginer, cfg SessionConfig, logger *zap.Logger) *Session {
	if cfg.Expire <= 0 {
		cfg.Expire = 9000 * time.Second
	}
	if cfg.Early <= 0 {
		cfg.Early = 60 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{loginer: loginer, cfg: cfg, logger: logger, now: time.Now}
}

// Ticket 返回当前凭证，未登录时为空值。
func (s *Session) Ticket() Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticket
}

func (s *Session) stale(t Ticket) bool {
	if t.Value == "" {
		return true
	}
	return s.now().Sub(t.IssuedAt) >= s.cfg.Expire-s.cfg.Early
}

// Refresh 凭证有效则沿用，否则依次尝试缓存文件与重新登录。
func (s *Session) Refresh(ctx context.Context) error {
	if !s.stale(s.Ticket()) {
		return nil
	}
	if s.cfg.File != "" {
		t, err := readTicketFile(s.cfg.File)
		switch {
		case err == nil && !s.stale(t):
			s.set(t)
			s.logger.Info("ticket loaded from file", zap.String("file", s.cfg.File), zap.Time("issued_at", t.IssuedAt))
			return nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			s.logger.Warn("read ticket file failed", zap.String("file", s.cfg.File), zap.Error(err))
		}
	}
	if s.loginer == nil {
		return errors.New("no loginer configured")
	}
	t, err := s.loginer.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	t.IssuedAt = s.now()
	s.set(t)
	s.logger.Info("ticket refreshed", zap.String("server", t.Server))
	if s.cfg.File != "" {
		if err := writeTicketFile(s.cfg.File, t); err != nil {
			s.logger.Warn("persist ticket failed", zap.String("file", s.cfg.File), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) set(t Ticket) {
	s.mu.Lock()
	s.ticket = t
	s.mu.Unlock()
}

// Run 立即刷新一次，之后按间隔检查。刷新失败只记录，下个间隔重试。
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("ticket refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readTicketFile(path string) (Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ticket{}, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Ticket{}, fmt.Errorf("decode ticket file: %w", err)
	}
	if len(raw) < 2 {
		return Ticket{}, fmt.Errorf("ticket file has %d fields, want 3", len(raw))
	}
	var t Ticket
	if err := json.Unmarshal(raw[0], &t.Value); err != nil {
		return Ticket{}, fmt.Errorf("decode ticket: %w", err)
	}
	stamp := strings.Trim(strings.TrimSpace(string(raw[1])), `"`)
	sec, err := strconv.ParseFloat(stamp, 64)
	if err != nil {
		return Ticket{}, fmt.Errorf("decode stamp %q: %w", stamp, err)
	}
	t.IssuedAt = time.Unix(int64(sec), 0)
	if len(raw) > 2 {
		_ = json.Unmarshal(raw[2], &t.Server)
	}
	return t, nil
}

// writeTicketFile 先写临时文件再改名，避免读到半个文件。
func writeTicketFile(path string, t Ticket) error {
	data, err := json.Marshal([]string{t.Value, strconv.FormatInt(t.IssuedAt.Unix(), 10), t.Server})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
