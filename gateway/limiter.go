package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter 控制请求速率，避免触发券商接口限流。*rate.Limiter 直接满足该接口。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter 令牌桶限流；参数非法时退回每秒 1 次、突发 1。
func NewRateLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
