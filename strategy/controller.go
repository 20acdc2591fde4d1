package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cbond-trigger-go/market"
	"cbond-trigger-go/order"
)

// ErrTransientMiss 暂时无法下单（无行情、价格或数量为 0），等待下次触发。
var ErrTransientMiss = errors.New("transient miss")

// 券商价格精度
const pricePlaces = 3

var (
	hundred = decimal.NewFromInt(100)
	lotSize = decimal.NewFromInt(10)
)

// BuyPlacer 由 order.Registry 实现。
type BuyPlacer interface {
	Buy(ctx context.Context, req order.Request) (string, error)
}

// Controller 计算委托价格与数量并提交买入，本身不持有状态。
type Controller struct {
	cache       *market.Cache
	placer      BuyPlacer
	callbackURL string
	dryRun      bool
	logger      *zap.Logger
}

// NewController dryRun 为 true 时只记录计算结果，不提交委托。
func NewController(cache *market.Cache, placer BuyPlacer, callbackURL string, dryRun bool, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cache: cache, placer: placer, callbackURL: callbackURL, dryRun: dryRun, logger: logger}
}

// PriceFor 卖一价按百分比上浮，保留三位小数。
func PriceFor(bestAsk, markupPct float64) float64 {
	p := decimal.NewFromFloat(bestAsk).
		Mul(hundred.Add(decimal.NewFromFloat(markupPct))).
		Div(hundred).
		Round(pricePlaces)
	f, _ := p.Float64()
	return f
}

// SizeVolume 按金额折算数量：floor(notional/10/price)*10，即 10 张整数倍。
func SizeVolume(notional, price float64) int64 {
	if price <= 0 || notional <= 0 {
		return 0
	}
	lots := decimal.NewFromFloat(notional).Div(lotSize).Div(decimal.NewFromFloat(price)).Floor()
	return lots.Mul(lotSize).IntPart()
}

// SubmitBuy 为规则触发选中的转债下单，返回委托单号；回放模式返回空单号。
func (c *Controller) SubmitBuy(ctx context.Context, rule Rule, bond string) (string, error) {
	q, ok := c.cache.Get(bond)
	if !ok {
		return "", fmt.Errorf("%w: no quote for %s", ErrTransientMiss, bond)
	}
	price := PriceFor(q.BestAsk, rule.BuyMarkupPct)
	if price <= 0 {
		return "", fmt.Errorf("%w: zero price for %s", ErrTransientMiss, bond)
	}
	volume := rule.FixedVolume
	if volume == 0 {
		volume = SizeVolume(rule.FixedNotional, price)
	}
	if volume <= 0 {
		return "", fmt.Errorf("%w: zero volume for %s at %.3f", ErrTransientMiss, bond, price)
	}

	req := order.Request{
		Key:         rule.Key(),
		Code:        bond,
		Name:        q.Name,
		Price:       price,
		Volume:      volume,
		CallbackURL: c.callbackURL,
		Timeout:     rule.Timeout(),
	}
	fields := []zap.Field{
		zap.String("rule", rule.ID),
		zap.String("code", bond),
		zap.String("name", q.Name),
		zap.Float64("price", price),
		zap.Int64("volume", volume),
	}
	if c.dryRun {
		c.logger.Info("buy computed (dry run)", fields...)
		return "", nil
	}
	c.logger.Info("buy request", fields...)
	return c.placer.Buy(ctx, req)
}
