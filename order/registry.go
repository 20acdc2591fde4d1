package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/infrastructure/monitor"
)

// DefaultTimeout 未给出超时时的委托等待时间
const DefaultTimeout = 3 * time.Second

// 单次下单调用的上限
const submitTimeout = 10 * time.Second

// Request 买入或卖出请求。
type Request struct {
	Key         string
	Code        string
	Name        string
	Price       float64
	Volume      int64
	CallbackURL string
	Timeout     time.Duration // 0 表示下一轮轮询即可撤单，负数取 DefaultTimeout
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Key) == "":
		return fmt.Errorf("%w: key is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Code) == "":
		return fmt.Errorf("%w: code is required", ErrInvalidRequest)
	case r.Price <= 0:
		return fmt.Errorf("%w: price must be > 0", ErrInvalidRequest)
	case r.Volume <= 0:
		return fmt.Errorf("%w: volume must be > 0", ErrInvalidRequest)
	}
	return nil
}

func normalizeTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return DefaultTimeout
	}
	return d
}

// submitContext 下单不跟随调用方取消：请求一旦发出，结果必须落到记录表里，
// 否则券商侧的委托将无人轮询、无人撤单。
func submitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
}

// Registry 按 key 维护委托记录与在途检查项。
// 一把互斥锁覆盖记录表、检查表和在途预占；券商调用在锁外进行。
type Registry struct {
	broker  Broker
	logger  *zap.Logger
	monitor *monitor.Monitor
	now     func() time.Time

	mu      sync.Mutex
	records map[string]*Record
	keys    []string // 创建顺序
	pending map[string]*PendingCheck
	buying  map[string]struct{}
	selling map[string]struct{}
}

func NewRegistry(broker Broker, logger *zap.Logger, mon *monitor.Monitor) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		broker:  broker,
		logger:  logger,
		monitor: mon,
		now:     time.Now,
		records: make(map[string]*Record),
		pending: make(map[string]*PendingCheck),
		buying:  make(map[string]struct{}),
		selling: make(map[string]struct{}),
	}
}

// Buy 以 key 为幂等标识买入。key 已有记录或正在买入时返回 ErrDuplicateKey，且不调用券商。
// 券商失败时不留记录，返回 *ProviderError。
func (r *Registry) Buy(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	timeout := normalizeTimeout(req.Timeout)

	r.mu.Lock()
	_, exists := r.records[req.Key]
	_, inflight := r.buying[req.Key]
	if exists || inflight {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateKey, req.Key)
	}
	r.buying[req.Key] = struct{}{}
	r.mu.Unlock()

	callCtx, cancel := submitContext(ctx)
	start := time.Now()
	orderID, err := r.broker.Buy(callCtx, req.Code, req.Name, req.Price, req.Volume)
	cancel()
	r.monitor.ObserveProvider("buy", start)
	if err == nil && orderID == "" {
		err = &ProviderError{Op: "buy", Message: "empty order id"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buying, req.Key)
	r.monitor.RecordSubmit(string(SideBuy), err)
	if err != nil {
		r.logger.Warn("buy submit failed",
			zap.String("key", req.Key),
			zap.String("code", req.Code),
			zap.Float64("price", req.Price),
			zap.Int64("volume", req.Volume),
			zap.Error(err))
		return "", asProviderError("buy", err)
	}

	now := r.now()
	r.records[req.Key] = &Record{
		Key:  req.Key,
		Code: req.Code,
		Name: req.Name,
		Buy: Leg{
			OrderID:     orderID,
			Status:      StatusNotSubmitted,
			OrderPrice:  req.Price,
			OrderVolume: req.Volume,
			SubmittedAt: now,
		},
	}
	r.keys = append(r.keys, req.Key)
	r.addCheckLocked(orderID, req, SideBuy, timeout, now)
	r.logger.Info("buy submitted",
		zap.String("key", req.Key),
		zap.String("code", req.Code),
		zap.String("name", req.Name),
		zap.Float64("price", req.Price),
		zap.Int64("volume", req.Volume),
		zap.Duration("timeout", timeout),
		zap.String("order_id", orderID))
	return orderID, nil
}

// Sell 为已有 key 卖出；上一笔卖单未终结时返回 ErrSellInProgress。
// 重报时保留首笔卖单号，替换当前单号，累计成交量在终结时合并。
func (r *Registry) Sell(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	timeout := normalizeTimeout(req.Timeout)

	r.mu.Lock()
	rec, ok := r.records[req.Key]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, req.Key)
	}
	_, inflight := r.selling[req.Key]
	if inflight || (rec.Sell != nil && !rec.Sell.Status.IsTerminal()) {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSellInProgress, req.Key)
	}
	r.selling[req.Key] = struct{}{}
	r.mu.Unlock()

	callCtx, cancel := submitContext(ctx)
	start := time.Now()
	orderID, err := r.broker.Sell(callCtx, req.Code, req.Name, req.Price, req.Volume)
	cancel()
	r.monitor.ObserveProvider("sell", start)
	if err == nil && orderID == "" {
		err = &ProviderError{Op: "sell", Message: "empty order id"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.selling, req.Key)
	r.monitor.RecordSubmit(string(SideSell), err)
	if err != nil {
		r.logger.Warn("sell submit failed",
			zap.String("key", req.Key),
			zap.String("code", req.Code),
			zap.Float64("price", req.Price),
			zap.Int64("volume", req.Volume),
			zap.Error(err))
		return "", asProviderError("sell", err)
	}

	now := r.now()
	if rec.Sell == nil {
		rec.Sell = &Leg{FirstOrderID: orderID}
	}
	rec.Sell.OrderID = orderID
	rec.Sell.Status = StatusNotSubmitted
	rec.Sell.OrderPrice = req.Price
	rec.Sell.OrderVolume = req.Volume
	rec.Sell.SubmittedAt = now
	rec.Sell.FilledAt = time.Time{}
	rec.RealizedPnL = nil
	r.addCheckLocked(orderID, req, SideSell, timeout, now)
	r.logger.Info("sell submitted",
		zap.String("key", req.Key),
		zap.String("code", req.Code),
		zap.Float64("price", req.Price),
		zap.Int64("volume", req.Volume),
		zap.Duration("timeout", timeout),
		zap.String("order_id", orderID),
		zap.String("first_order_id", rec.Sell.FirstOrderID))
	return orderID, nil
}

func (r *Registry) addCheckLocked(orderID string, req Request, side Side, timeout time.Duration, now time.Time) {
	r.pending[orderID] = &PendingCheck{
		OrderID:     orderID,
		Key:         req.Key,
		Side:        side,
		SubmittedAt: now,
		Timeout:     timeout,
		CallbackURL: req.CallbackURL,
	}
	r.monitor.SetPendingChecks(len(r.pending))
}

// Get 返回 key 的记录快照。
func (r *Registry) Get(key string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.Snapshot(), true
}

// List 按创建顺序返回全部记录快照。
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.records[k].Snapshot())
	}
	return out
}

// Pending 按提交时间返回在途检查项的拷贝。
func (r *Registry) Pending() []PendingCheck {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingCheck, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func (r *Registry) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// awaitingSellLocked 买入已成交（或部撤且有成交）、从未卖出、也没有卖单在途。
func (r *Registry) awaitingSellLocked(rec *Record) bool {
	if rec.Buy.Status != StatusFilled && rec.Buy.Status != StatusPartiallyCancelled {
		return false
	}
	if rec.Buy.DealVolume <= 0 || rec.Sell != nil {
		return false
	}
	_, inflight := r.selling[rec.Key]
	return !inflight
}

// FilledWithoutSell 返回成交超过 grace 且尚未卖出的记录，供持仓检测使用。
func (r *Registry) FilledWithoutSell(grace time.Duration) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []Record
	for _, k := range r.keys {
		rec := r.records[k]
		if r.awaitingSellLocked(rec) && now.Sub(rec.Buy.FilledAt) > grace {
			out = append(out, rec.Snapshot())
		}
	}
	return out
}

// MarkManualLiquidation 合成一笔终结的卖出腿：单号为 ManualOrderID，
// 卖价取买入成交价，盈亏为 0。条件在锁内重新校验，期间若已有卖单则放弃。
func (r *Registry) MarkManualLiquidation(key string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || !r.awaitingSellLocked(rec) {
		return Record{}, false
	}
	now := r.now()
	rec.Sell = &Leg{
		OrderID:      ManualOrderID,
		FirstOrderID: ManualOrderID,
		Status:       StatusFilled,
		OrderPrice:   rec.Buy.DealPrice,
		OrderVolume:  rec.Buy.DealVolume,
		DealPrice:    rec.Buy.DealPrice,
		DealVolume:   rec.Buy.DealVolume,
		SubmittedAt:  now,
		FilledAt:     now,
	}
	rec.settle()
	rec.Manual = true
	return rec.Snapshot(), true
}

// notice 一次终结事件，解锁后投递回调。
type notice struct {
	OrderID     string
	Side        Side
	Status      Status
	CallbackURL string
	Record      Record
}

// cancelTask 解锁后发出的撤单。
type cancelTask struct {
	OrderID string
	Key     string
	Side    Side
	Status  Status
}

// reconcile 把券商委托行合并进各腿，并决定终结或超时撤单。
// 合并与判断在同一临界区内完成，与并发的 Sell 互斥。
func (r *Registry) reconcile(rows map[string]OrderRow, now time.Time, sm *StateMachine) ([]notice, []cancelTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var notices []notice
	var cancels []cancelTask
	for id, check := range r.pending {
		row, ok := rows[id]
		if !ok {
			r.logger.Info("order not found in broker query", zap.String("order_id", id), zap.String("key", check.Key))
			continue
		}
		rec, ok := r.records[check.Key]
		if !ok {
			r.logger.Warn("pending order has no record", zap.String("order_id", id), zap.String("key", check.Key))
			continue
		}
		leg := &rec.Buy
		if check.Side == SideSell {
			leg = rec.Sell
		}
		if leg == nil || leg.OrderID != id {
			r.logger.Warn("drop stale pending order", zap.String("order_id", id), zap.String("key", check.Key))
			delete(r.pending, id)
			continue
		}

		r.mergeLocked(rec, leg, check.Side, row, sm)

		if leg.Status.IsTerminal() {
			leg.FilledAt = now
			if check.Side == SideSell {
				if leg.OrderID != leg.FirstOrderID {
					leg.DealVolume += row.DealVolume
				} else {
					leg.DealVolume = row.DealVolume
				}
				rec.settle()
			}
			delete(r.pending, id)
			r.monitor.RecordTerminal(string(check.Side), string(leg.Status))
			notices = append(notices, notice{
				OrderID:     id,
				Side:        check.Side,
				Status:      leg.Status,
				CallbackURL: check.CallbackURL,
				Record:      rec.Snapshot(),
			})
			continue
		}

		if check.needsCancel(leg.Status, now) {
			check.Cancels++
			check.CancelFailed = false
			cancels = append(cancels, cancelTask{OrderID: id, Key: check.Key, Side: check.Side, Status: leg.Status})
		}
	}
	r.monitor.SetPendingChecks(len(r.pending))
	return notices, cancels
}

func (r *Registry) mergeLocked(rec *Record, leg *Leg, side Side, row OrderRow, sm *StateMachine) {
	if row.Status == StatusUnknown {
		r.logger.Warn("unrecognized broker status, keep previous",
			zap.String("order_id", leg.OrderID),
			zap.String("status", string(leg.Status)))
	} else {
		if err := sm.ValidateTransition(leg.Status, row.Status); err != nil {
			r.logger.Warn("unexpected status transition", zap.String("order_id", leg.OrderID), zap.Error(err))
		}
		leg.Status = row.Status
	}
	leg.OrderPrice = row.OrderPrice
	leg.OrderVolume = row.OrderVolume
	leg.DealPrice = row.DealPrice
	if side == SideBuy {
		leg.DealVolume = row.DealVolume
		if row.Name != "" {
			rec.Name = row.Name
		}
	}
}

// cancelDone 记录撤单结果；失败的撤单在下一轮重发。
func (r *Registry) cancelDone(orderID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if check, ok := r.pending[orderID]; ok {
		check.CancelFailed = err != nil
	}
}
