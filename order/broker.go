package order

import "context"

// OrderRow 券商当日委托查询中的一行。
type OrderRow struct {
	OrderID     string
	Side        Side
	Status      Status
	Name        string
	OrderPrice  float64
	OrderVolume int64
	DealPrice   float64
	DealVolume  int64
}

// Broker 交易执行接口，由 gateway.TradeClient 实现。
type Broker interface {
	Buy(ctx context.Context, code, name string, price float64, volume int64) (string, error)
	Sell(ctx context.Context, code, name string, price float64, volume int64) (string, error)
	Cancel(ctx context.Context, orderID string) error
	QueryOpenOrders(ctx context.Context) ([]OrderRow, error)
}

// Notifier 委托终结时投递记录快照。
type Notifier interface {
	Notify(ctx context.Context, callbackURL string, rec Record) error
}
