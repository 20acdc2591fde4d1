package order

import (
	"math"
	"time"
)

// ManualOrderID 手工平仓推断出的卖单单号。
const ManualOrderID = "manual"

// Leg 一个 key 的买入或卖出委托。
type Leg struct {
	OrderID      string    `json:"order_id"`
	FirstOrderID string    `json:"first_order_id,omitempty"` // 仅卖出：首笔卖单单号，重报后保留
	Status       Status    `json:"status"`
	OrderPrice   float64   `json:"order_price"`
	OrderVolume  int64     `json:"order_volume"`
	DealPrice    float64   `json:"deal_price"`
	DealVolume   int64     `json:"deal_volume"` // 卖出为多次重报的累计成交
	SubmittedAt  time.Time `json:"submitted_at"`
	FilledAt     time.Time `json:"filled_at"`
}

// Record 一个 key 的完整买卖周期，创建后不删除。
type Record struct {
	Key         string   `json:"key"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Buy         Leg      `json:"buy"`
	Sell        *Leg     `json:"sell,omitempty"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	Manual      bool     `json:"manual"` // 卖出腿由持仓检测合成，并非券商确认
}

// Snapshot 深拷贝，供回调与查询接口使用。
func (r *Record) Snapshot() Record {
	out := *r
	if r.Sell != nil {
		sell := *r.Sell
		out.Sell = &sell
	}
	if r.RealizedPnL != nil {
		pnl := *r.RealizedPnL
		out.RealizedPnL = &pnl
	}
	return out
}

// settle 卖出腿终结时计算已实现盈亏，保留两位小数。
func (r *Record) settle() {
	if r.Sell == nil {
		return
	}
	pnl := math.Round((r.Sell.DealPrice-r.Buy.DealPrice)*float64(r.Sell.DealVolume)*100) / 100
	r.RealizedPnL = &pnl
}

// PendingCheck 在途委托的检查项，委托终结后移除。
type PendingCheck struct {
	OrderID      string
	Key          string
	Side         Side
	SubmittedAt  time.Time
	Timeout      time.Duration
	CallbackURL  string
	Cancels      int  // 已发出的撤单次数
	CancelFailed bool // 最近一次撤单失败，下轮重试
}

// needsCancel 超时且仍活跃时撤单；撤单成功后不再重复发送。
func (p *PendingCheck) needsCancel(status Status, now time.Time) bool {
	if !status.IsActive() || now.Sub(p.SubmittedAt) < p.Timeout {
		return false
	}
	return p.Cancels == 0 || p.CancelFailed
}
