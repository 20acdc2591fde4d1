package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cbond-trigger-go/instrument"
	"cbond-trigger-go/inventory"
	"cbond-trigger-go/market"
	"cbond-trigger-go/order"
	"cbond-trigger-go/strategy"
)

type harness struct {
	gw        *MockGateway
	notifier  *MockNotifier
	registry  *order.Registry
	watcher   *order.Watcher
	positions *inventory.Watcher
	evaluator *strategy.Evaluator
	handler   market.TickHandler
}

func newHarness(t *testing.T, rulesJSON string) *harness {
	t.Helper()
	mapping, err := instrument.NewMapping([]instrument.Pair{
		{Bond: "123001", Stock: "300001"},
		{Bond: "123002", Stock: "300001"},
	})
	require.NoError(t, err)
	rules, err := strategy.ParseRules([]byte(rulesJSON))
	require.NoError(t, err)

	h := &harness{gw: NewMockGateway(), notifier: &MockNotifier{}}
	cache := market.NewCache()
	h.registry = order.NewRegistry(h.gw, nil, nil)
	h.watcher = order.NewWatcher(h.registry, h.gw, h.notifier, nil, nil, order.WatcherConfig{})
	h.positions = inventory.NewWatcher(h.registry, h.gw, nil, nil, inventory.Config{Grace: time.Millisecond})
	ctrl := strategy.NewController(cache, h.registry, "http://127.0.0.1/cb", false, nil)
	h.evaluator = strategy.NewEvaluator(rules, mapping, cache, ctrl, nil, nil)
	h.handler = h.evaluator.Handler(context.Background())
	return h
}

func (h *harness) poll(t *testing.T) {
	t.Helper()
	require.NoError(t, h.watcher.Poll(context.Background()))
}

// TestTriggerBuySellFlow 行情触发买入，成交回调，再卖出并结算盈亏
func TestTriggerBuySellFlow(t *testing.T) {
	h := newHarness(t, `[{"raRate":5,"bondAmt":100000,"bUpper":1,"vol":10,"bWait":30}]`)

	// 1. 转债行情先入缓存，成交额大者胜出
	h.handler("123001", map[string]string{market.FieldAmount: "300000", market.FieldBestAsk: "120", market.FieldName: "甲转债"})
	h.handler("123002", map[string]string{market.FieldAmount: "200000", market.FieldBestAsk: "130"})
	// 2. 正股涨幅未达阈值
	h.handler("300001", map[string]string{market.FieldRatio: "3"})
	h.evaluator.Wait()
	assert.Empty(t, h.registry.List())

	// 3. 达到阈值，触发买入
	h.handler("300001", map[string]string{market.FieldRatio: "6"})
	h.evaluator.Wait()
	records := h.registry.List()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "123001", rec.Code)
	assert.Equal(t, 121.2, rec.Buy.OrderPrice)
	assert.Equal(t, int64(10), rec.Buy.OrderVolume)

	// 同一规则再次触发不会重复买入
	h.handler("300001", map[string]string{market.FieldRatio: "7"})
	h.evaluator.Wait()
	assert.Len(t, h.registry.List(), 1)

	// 4. 成交后回调一次，检查项移除
	h.poll(t)
	assert.Empty(t, h.notifier.Records())
	h.gw.Fill(rec.Buy.OrderID, 121, 10)
	h.poll(t)
	h.poll(t)
	cbs := h.notifier.Records()
	require.Len(t, cbs, 1)
	assert.Equal(t, order.StatusFilled, cbs[0].Buy.Status)
	assert.Equal(t, int64(10), cbs[0].Buy.DealVolume)
	assert.Zero(t, h.registry.PendingLen())

	// 5. 卖出，部分成交后撤单重报
	sellID, err := h.registry.Sell(context.Background(), order.Request{Key: rec.Key, Code: rec.Code, Price: 125, Volume: 10, CallbackURL: "http://127.0.0.1/cb", Timeout: time.Minute})
	require.NoError(t, err)
	h.gw.Fill(sellID, 125, 4)
	require.NoError(t, h.gw.Cancel(context.Background(), sellID))
	h.poll(t)

	resellID, err := h.registry.Sell(context.Background(), order.Request{Key: rec.Key, Code: rec.Code, Price: 124, Volume: 6, CallbackURL: "http://127.0.0.1/cb", Timeout: time.Minute})
	require.NoError(t, err)
	h.gw.Fill(resellID, 124, 6)
	h.poll(t)

	final, ok := h.registry.Get(rec.Key)
	require.True(t, ok)
	require.NotNil(t, final.Sell)
	assert.Equal(t, sellID, final.Sell.FirstOrderID)
	assert.Equal(t, resellID, final.Sell.OrderID)
	assert.Equal(t, int64(10), final.Sell.DealVolume)
	require.NotNil(t, final.RealizedPnL)
	assert.Equal(t, 30.0, *final.RealizedPnL) // (124-121)*10
	assert.False(t, final.Manual)
	assert.Len(t, h.notifier.Records(), 3)

	// 已卖出的记录不参与持仓检测
	n, err := h.positions.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, n)
}

// TestManualLiquidationFlow 成交后柜台外清仓，持仓检测补记卖出腿
func TestManualLiquidationFlow(t *testing.T) {
	h := newHarness(t, `[{"raRate":5,"bondAmt":0,"bUpper":0,"amt":5000,"bWait":30}]`)

	h.handler("123001", map[string]string{market.FieldAmount: "1000", market.FieldBestAsk: "100"})
	h.handler("300001", map[string]string{market.FieldRatio: "5.5"})
	h.evaluator.Wait()
	rec := h.registry.List()[0]
	assert.Equal(t, int64(50), rec.Buy.OrderVolume)

	h.gw.Fill(rec.Buy.OrderID, 100, 50)
	h.poll(t)
	time.Sleep(5 * time.Millisecond)

	// 仍有持仓
	n, err := h.positions.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.gw.SetHolding("123001", 0)
	n, err = h.positions.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := h.registry.Get(rec.Key)
	require.True(t, ok)
	assert.True(t, got.Manual)
	assert.Equal(t, order.ManualOrderID, got.Sell.OrderID)
	assert.Equal(t, int64(50), got.Sell.DealVolume)
	require.NotNil(t, got.RealizedPnL)
	assert.Zero(t, *got.RealizedPnL)

	_, err = h.registry.Sell(context.Background(), order.Request{Key: rec.Key, Code: rec.Code, Price: 101, Volume: 50, Timeout: time.Minute})
	assert.NoError(t, err, "manual sell leg is terminal")
}

// TestProviderRejectLeavesNoRecord 券商拒单时不产生记录，下一次触发可重试
func TestProviderRejectLeavesNoRecord(t *testing.T) {
	h := newHarness(t, `[{"raRate":5,"bondAmt":0,"bUpper":0,"vol":10}]`)
	h.handler("123001", map[string]string{market.FieldAmount: "1000", market.FieldBestAsk: "100"})

	h.gw.FailNextPlace()
	h.handler("300001", map[string]string{market.FieldRatio: "6"})
	h.evaluator.Wait()
	assert.Empty(t, h.registry.List())

	h.handler("300001", map[string]string{market.FieldRatio: "6"})
	h.evaluator.Wait()
	assert.Len(t, h.registry.List(), 1)
}
