package market

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReplayFeed 回放录制的行情文件（每行一个 Tick JSON）。
// Follow 为 true 时读到文件末尾后通过 fsnotify 等待追加写入，类似 tail -f。
type ReplayFeed struct {
	Path   string
	Follow bool

	logger *zap.Logger

	mu      sync.Mutex
	filter  map[string]struct{}
	watcher *fsnotify.Watcher
}

func NewReplayFeed(path string, follow bool, logger *zap.Logger) *ReplayFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayFeed{
		Path:   path,
		Follow: follow,
		logger: logger,
		filter: make(map[string]struct{}),
	}
}

// Subscribe 限定回放的代码范围；从未订阅时回放全部。
func (r *ReplayFeed) Subscribe(codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		r.filter[c] = struct{}{}
	}
	return nil
}

func (r *ReplayFeed) Unsubscribe(codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		delete(r.filter, c)
	}
	return nil
}

func (r *ReplayFeed) wants(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.filter) == 0 {
		return true
	}
	_, ok := r.filter[code]
	return ok
}

// Run 按文件顺序投递行情。非 Follow 模式读完即返回 nil。
func (r *ReplayFeed) Run(ctx context.Context, h TickHandler) error {
	f, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if r.Follow {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create replay watcher: %w", err)
		}
		if err := w.Add(r.Path); err != nil {
			w.Close()
			return fmt.Errorf("watch replay file: %w", err)
		}
		r.mu.Lock()
		r.watcher = w
		r.mu.Unlock()
		defer r.Close()
		events, errs = w.Events, w.Errors
	}

	reader := bufio.NewReader(f)
	var partial []byte
	delivered := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			partial = append(partial, line...)
		}
		if err == nil {
			r.deliver(partial, h)
			partial = partial[:0]
			delivered++
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read replay file: %w", err)
		}
		if !r.Follow {
			// 末行可能没有换行符
			if len(partial) > 0 {
				r.deliver(partial, h)
				delivered++
			}
			r.logger.Info("replay finished", zap.String("path", r.Path), zap.Int("ticks", delivered))
			return nil
		}
		// 等待追加写入
		if err := waitForWrite(ctx, events, errs, r.logger); err != nil {
			return err
		}
	}
}

func waitForWrite(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("replay watcher closed")
			}
			if ev.Op&fsnotify.Write == fsnotify.Write {
				return nil
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return fmt.Errorf("replay file %s removed", ev.Name)
			}
		case err, ok := <-errs:
			if !ok {
				return errors.New("replay watcher closed")
			}
			logger.Warn("replay watcher error", zap.Error(err))
		}
	}
}

func (r *ReplayFeed) deliver(line []byte, h TickHandler) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	var tick Tick
	if err := json.Unmarshal(line, &tick); err != nil {
		r.logger.Debug("skip malformed replay line", zap.Error(err))
		return
	}
	if tick.Code == "" || !r.wants(tick.Code) {
		return
	}
	h(tick.Code, tick.Fields)
}

// Close 释放 fsnotify 监听。
func (r *ReplayFeed) Close() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
