package market

import "context"

// TickHandler 行情回调；fields 为原始字段表，由实现方保证同一 Provider 内串行调用。
type TickHandler func(code string, fields map[string]string)

// Provider 行情源抽象：订阅、退订、阻塞运行直至 ctx 结束、关闭。
type Provider interface {
	Subscribe(codes []string) error
	Unsubscribe(codes []string) error
	Run(ctx context.Context, h TickHandler) error
	Close() error
}

// Tick 行情线路与录制文件共用的一行数据格式。
type Tick struct {
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}
