package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockBroker 模拟券商接口
type MockBroker struct {
	mu         sync.Mutex
	seq        int
	rows       map[string]OrderRow
	buyCalls   int
	sellCalls  int
	cancels    []string
	failBuy    bool
	failSell   bool
	failCancel bool
	failQuery  bool
	gate       chan struct{} // 非 nil 时 Buy 阻塞到关闭或 ctx 结束
	sellGate   chan struct{} // 同上，作用于 Sell
}

func NewMockBroker() *MockBroker {
	return &MockBroker{rows: make(map[string]OrderRow)}
}

func (m *MockBroker) Buy(ctx context.Context, code, name string, price float64, volume int64) (string, error) {
	m.mu.Lock()
	gate := m.gate
	m.buyCalls++
	m.mu.Unlock()
	if err := waitGate(ctx, gate); err != nil {
		return "", err
	}
	return m.place(SideBuy, name, price, volume, m.failBuy)
}

func (m *MockBroker) Sell(ctx context.Context, code, name string, price float64, volume int64) (string, error) {
	m.mu.Lock()
	gate := m.sellGate
	m.sellCalls++
	m.mu.Unlock()
	if err := waitGate(ctx, gate); err != nil {
		return "", err
	}
	return m.place(SideSell, name, price, volume, m.failSell)
}

// waitGate 模拟慢速券商：调用方放弃等待时返回 ctx 错误，与真实 HTTP 客户端一致。
func waitGate(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockBroker) place(side Side, name string, price float64, volume int64, fail bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fail {
		return "", &ProviderError{Op: string(side), Code: "-1", Message: "资金不足"}
	}
	m.seq++
	id := fmt.Sprintf("%s-%d", side, m.seq)
	m.rows[id] = OrderRow{OrderID: id, Side: side, Status: StatusSubmitted, Name: name, OrderPrice: price, OrderVolume: volume}
	return id, nil
}

func (m *MockBroker) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, orderID)
	if m.failCancel {
		return errors.New("mock cancel error")
	}
	return nil
}

func (m *MockBroker) QueryOpenOrders(ctx context.Context) ([]OrderRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failQuery {
		return nil, errors.New("mock query error")
	}
	out := make([]OrderRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

// SetRow 模拟券商侧状态变化
func (m *MockBroker) SetRow(id string, status Status, dealPrice float64, dealVolume int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.OrderID = id
	row.Status = status
	row.DealPrice = dealPrice
	row.DealVolume = dealVolume
	m.rows[id] = row
}

func (m *MockBroker) DropRow(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
}

func (m *MockBroker) Cancels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancels...)
}

func (m *MockBroker) Calls() (buys, sells int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyCalls, m.sellCalls
}

// MockNotifier 记录回调
type MockNotifier struct {
	mu      sync.Mutex
	records []Record
	urls    []string
	fail    bool
}

func (n *MockNotifier) Notify(ctx context.Context, url string, rec Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	n.urls = append(n.urls, url)
	if n.fail {
		return errors.New("mock callback error")
	}
	return nil
}

func (n *MockNotifier) Records() []Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Record(nil), n.records...)
}
