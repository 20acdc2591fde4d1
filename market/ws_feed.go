package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	levelLV1      = "lv1"
)

type subscribeMsg struct {
	Op    string   `json:"op"`
	Level string   `json:"level"`
	Codes []string `json:"codes"`
}

// WSFeed 连接行情中心的 WebSocket 客户端，断线后按固定间隔重连并重新订阅。
type WSFeed struct {
	URL            string
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration

	logger *zap.Logger

	mu    sync.Mutex
	codes map[string]struct{}
	order []string
	conn  *websocket.Conn
}

func NewWSFeed(url string, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFeed{
		URL:            url,
		Dialer:         websocket.DefaultDialer,
		ReconnectDelay: 3 * time.Second,
		ReadTimeout:    60 * time.Second,
		logger:         logger,
		codes:          make(map[string]struct{}),
	}
}

// Subscribe 记录订阅代码；已连接时立即下发订阅帧。
func (f *WSFeed) Subscribe(codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var added []string
	for _, c := range codes {
		if _, ok := f.codes[c]; ok {
			continue
		}
		f.codes[c] = struct{}{}
		f.order = append(f.order, c)
		added = append(added, c)
	}
	if f.conn == nil || len(added) == 0 {
		return nil
	}
	return f.conn.WriteJSON(subscribeMsg{Op: opSubscribe, Level: levelLV1, Codes: added})
}

func (f *WSFeed) Unsubscribe(codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	for _, c := range codes {
		if _, ok := f.codes[c]; !ok {
			continue
		}
		delete(f.codes, c)
		removed = append(removed, c)
	}
	kept := f.order[:0]
	for _, c := range f.order {
		if _, ok := f.codes[c]; ok {
			kept = append(kept, c)
		}
	}
	f.order = kept
	if f.conn == nil || len(removed) == 0 {
		return nil
	}
	return f.conn.WriteJSON(subscribeMsg{Op: opUnsubscribe, Level: levelLV1, Codes: removed})
}

// Run 阻塞读取行情，直到 ctx 结束。单次连接失败只记录日志并重连。
func (f *WSFeed) Run(ctx context.Context, h TickHandler) error {
	if f.URL == "" {
		return errors.New("ws feed url is required")
	}
	for {
		err := f.runOnce(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("quote feed disconnected", zap.String("url", f.URL), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.ReconnectDelay):
		}
	}
}

func (f *WSFeed) runOnce(ctx context.Context, h TickHandler) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial quote feed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	codes := append([]string(nil), f.order...)
	var werr error
	if len(codes) > 0 {
		werr = conn.WriteJSON(subscribeMsg{Op: opSubscribe, Level: levelLV1, Codes: codes})
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
		conn.Close()
	}()
	if werr != nil {
		return fmt.Errorf("send subscription: %w", werr)
	}
	f.logger.Info("quote feed connected", zap.String("url", f.URL), zap.Int("codes", len(codes)))

	// ctx 结束时关闭连接以解除 ReadMessage 阻塞
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		if f.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick Tick
		if err := json.Unmarshal(msg, &tick); err != nil {
			f.logger.Debug("skip malformed quote frame", zap.Error(err))
			continue
		}
		if tick.Code == "" {
			continue
		}
		h(tick.Code, tick.Fields)
	}
}

// Close 关闭当前连接；Run 会在 ctx 未结束时重连。
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}
