package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/infrastructure/monitor"
	"cbond-trigger-go/instrument"
	"cbond-trigger-go/market"
	"cbond-trigger-go/order"
)

// Submitter 由 Controller 实现。
type Submitter interface {
	SubmitBuy(ctx context.Context, rule Rule, bond string) (string, error)
}

// Fire 一次规则触发及选中的转债。
type Fire struct {
	Rule Rule
	Bond string
}

// Evaluator 接收行情，正股行情逐条规则判断涨幅，触发后按成交额选债并异步下单。
// 各规则相互独立，同一笔行情可触发多条规则。
type Evaluator struct {
	rules     []Rule
	mapping   *instrument.Mapping
	cache     *market.Cache
	submitter Submitter
	logger    *zap.Logger
	monitor   *monitor.Monitor
	now       func() time.Time

	wg sync.WaitGroup
}

func NewEvaluator(rules []Rule, mapping *instrument.Mapping, cache *market.Cache, submitter Submitter, logger *zap.Logger, mon *monitor.Monitor) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		rules:     rules,
		mapping:   mapping,
		cache:     cache,
		submitter: submitter,
		logger:    logger,
		monitor:   mon,
		now:       time.Now,
	}
}

// Handler 返回行情回调：先写缓存，正股行情再做触发判断。下单协程继承 ctx。
func (e *Evaluator) Handler(ctx context.Context) market.TickHandler {
	return func(code string, fields map[string]string) {
		q := market.ParseQuote(code, fields, e.now())
		e.cache.Update(q)
		e.monitor.SetQuoteCacheSize(e.cache.Len())
		if !e.mapping.IsStock(code) {
			e.monitor.RecordTick("bond")
			return
		}
		e.monitor.RecordTick("stock")
		e.Evaluate(ctx, q)
	}
}

// Evaluate 对一笔正股行情判断全部规则，返回本次触发并已选出转债的结果。
func (e *Evaluator) Evaluate(ctx context.Context, q market.Quote) []Fire {
	var fires []Fire
	for _, rule := range e.rules {
		if q.ChangeRatio < rule.RiseRatio {
			continue
		}
		e.monitor.RecordTrigger(rule.ID)
		bond, ok := e.SelectBond(q.Code, rule)
		if !ok {
			e.monitor.RecordSelectionMiss(rule.ID)
			e.logger.Info("rule fired without eligible bond",
				zap.String("rule", rule.ID),
				zap.String("stock", q.Code),
				zap.Float64("ratio", q.ChangeRatio))
			continue
		}
		e.logger.Info("rule fired",
			zap.String("rule", rule.ID),
			zap.String("stock", q.Code),
			zap.String("name", q.Name),
			zap.String("time", q.Timestamp),
			zap.Float64("ratio", q.ChangeRatio),
			zap.String("bond", bond))
		fires = append(fires, Fire{Rule: rule, Bond: bond})
		e.dispatch(ctx, rule, bond)
	}
	return fires
}

// SelectBond 在正股对应的转债中挑选成交额不低于阈值且最大的一只，
// 成交额相同取映射顺序靠前者；没有行情的转债不参与。
func (e *Evaluator) SelectBond(stock string, rule Rule) (string, bool) {
	selected := ""
	best := 0.0
	found := false
	for _, bond := range e.mapping.BondsOf(stock) {
		amount, ok := e.cache.Turnover(bond)
		if !ok || amount < rule.MinBondTurnover {
			continue
		}
		if !found || amount > best {
			selected, best, found = bond, amount, true
		}
	}
	return selected, found
}

// dispatch 异步下单，券商调用不阻塞行情处理。
func (e *Evaluator) dispatch(ctx context.Context, rule Rule, bond string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		orderID, err := e.submitter.SubmitBuy(ctx, rule, bond)
		switch {
		case err == nil:
			if orderID != "" {
				e.logger.Info("buy order sent", zap.String("rule", rule.ID), zap.String("bond", bond), zap.String("order_id", orderID))
			}
		case errors.Is(err, ErrTransientMiss), errors.Is(err, order.ErrDuplicateKey):
			e.logger.Debug("buy skipped", zap.String("rule", rule.ID), zap.String("bond", bond), zap.Error(err))
		default:
			e.logger.Warn("buy order failed", zap.String("rule", rule.ID), zap.String("bond", bond), zap.Error(err))
		}
	}()
}

// Wait 等待在途的下单协程结束。
func (e *Evaluator) Wait() {
	e.wg.Wait()
}
