package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cbond-trigger-go/inventory"
	"cbond-trigger-go/order"
)

// MockGateway 模拟券商柜台（用于集成测试）：委托按提交顺序编号，
// 成交、撤单由测试显式驱动，持仓随成交增减。
type MockGateway struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*order.OrderRow
	codes  map[string]string // order id -> code
	holds  map[string]int64
	failNext bool

	// 统计
	placeCount  int
	cancelCount int
	queryCount  int
}

// NewMockGateway 创建Mock Gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		orders: make(map[string]*order.OrderRow),
		codes:  make(map[string]string),
		holds:  make(map[string]int64),
	}
}

// FailNextPlace 下一笔委托返回券商错误
func (m *MockGateway) FailNextPlace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

func (m *MockGateway) place(side order.Side, code, name string, price float64, volume int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return "", &order.ProviderError{Op: string(side), Code: "-1", Message: "mock rejected"}
	}
	m.seq++
	m.placeCount++
	id := fmt.Sprintf("%06d", m.seq)
	m.orders[id] = &order.OrderRow{
		OrderID:     id,
		Side:        side,
		Status:      order.StatusSubmitted,
		Name:        name,
		OrderPrice:  price,
		OrderVolume: volume,
	}
	m.codes[id] = code
	return id, nil
}

func (m *MockGateway) Buy(ctx context.Context, code, name string, price float64, volume int64) (string, error) {
	return m.place(order.SideBuy, code, name, price, volume)
}

func (m *MockGateway) Sell(ctx context.Context, code, name string, price float64, volume int64) (string, error) {
	return m.place(order.SideSell, code, name, price, volume)
}

// Cancel 有成交为部撤，否则已撤
func (m *MockGateway) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	m.cancelCount++
	if row.DealVolume > 0 {
		row.Status = order.StatusPartiallyCancelled
	} else {
		row.Status = order.StatusCancelled
	}
	return nil
}

// Fill 按价格成交 volume，数量成交完毕时置为已成
func (m *MockGateway) Fill(orderID string, price float64, volume int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.orders[orderID]
	row.DealPrice = price
	row.DealVolume += volume
	if row.DealVolume >= row.OrderVolume {
		row.Status = order.StatusFilled
	} else {
		row.Status = order.StatusPartiallyFilled
	}
	code := m.codes[orderID]
	if row.Side == order.SideBuy {
		m.holds[code] += volume
	} else {
		m.holds[code] -= volume
	}
}

// SetHolding 模拟柜台外的手工操作
func (m *MockGateway) SetHolding(code string, volume int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[code] = volume
}

func (m *MockGateway) QueryOpenOrders(ctx context.Context) ([]order.OrderRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCount++
	out := make([]order.OrderRow, 0, len(m.orders))
	for _, row := range m.orders {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (m *MockGateway) QueryPositions(ctx context.Context) ([]inventory.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]inventory.Position, 0, len(m.holds))
	for code, vol := range m.holds {
		out = append(out, inventory.Position{Code: code, HeldVolume: vol})
	}
	return out, nil
}

// Stats 返回下单、撤单、查询次数
func (m *MockGateway) Stats() (place, cancel, query int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCount, m.cancelCount, m.queryCount
}

// MockNotifier 记录全部回调
type MockNotifier struct {
	mu      sync.Mutex
	records []order.Record
}

func (n *MockNotifier) Notify(ctx context.Context, url string, rec order.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	return nil
}

func (n *MockNotifier) Records() []order.Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]order.Record(nil), n.records...)
}
