package market

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder 把收到的行情逐行追加到 <prefix>.<YYYY-MM-DD>.jsonl，按自然日切换文件。
// 录制文件即 ReplayFeed 的输入。
type Recorder struct {
	prefix string
	now    func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	day  string
	file *os.File
}

func NewRecorder(prefix string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{prefix: prefix, now: time.Now, logger: logger}
}

// Path 返回指定日期的录制文件路径。
func (r *Recorder) Path(t time.Time) string {
	return fmt.Sprintf("%s.%s.jsonl", r.prefix, t.Format("2006-01-02"))
}

// Record 写入一行；写失败只记日志，不影响行情处理。
func (r *Recorder) Record(code string, fields map[string]string) {
	if err := r.write(Tick{Code: code, Fields: fields}); err != nil {
		r.logger.Warn("record tick failed", zap.String("code", code), zap.Error(err))
	}
}

func (r *Recorder) write(t Tick) error {
	line, err := json.Marshal(t)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	day := now.Format("2006-01-02")
	if r.file == nil || r.day != day {
		if r.file != nil {
			_ = r.file.Close()
		}
		f, err := os.OpenFile(r.Path(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			r.file = nil
			return fmt.Errorf("open record file: %w", err)
		}
		r.file = f
		r.day = day
	}
	_, err = r.file.Write(line)
	return err
}

// Tee 返回先录制再交给 next 的 TickHandler。
func (r *Recorder) Tee(next TickHandler) TickHandler {
	return func(code string, fields map[string]string) {
		r.Record(code, fields)
		next(code, fields)
	}
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
