package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cbond-trigger-go/order"
)

type mockLedger struct {
	mu         sync.Mutex
	candidates []order.Record
	marked     []string
}

func (l *mockLedger) FilledWithoutSell(grace time.Duration) []order.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []order.Record
	for _, r := range l.candidates {
		if r.Sell == nil {
			out = append(out, r)
		}
	}
	return out
}

func (l *mockLedger) MarkManualLiquidation(key string) (order.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.candidates {
		r := &l.candidates[i]
		if r.Key == key && r.Sell == nil {
			r.Sell = &order.Leg{OrderID: order.ManualOrderID, Status: order.StatusFilled, DealPrice: r.Buy.DealPrice, DealVolume: r.Buy.DealVolume}
			r.Manual = true
			l.marked = append(l.marked, key)
			return *r, true
		}
	}
	return order.Record{}, false
}

type mockSource struct {
	mu    sync.Mutex
	rows  []Position
	err   error
	calls int
}

func (s *mockSource) QueryPositions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rows, s.err
}

func (s *mockSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func filled(key, code string) order.Record {
	return order.Record{Key: key, Code: code, Buy: order.Leg{Status: order.StatusFilled, DealPrice: 101, DealVolume: 10}}
}

func TestSnapshotCleared(t *testing.T) {
	snap := NewSnapshot([]Position{{Code: "113001", HeldVolume: 0}, {Code: "113002", HeldVolume: 10}})
	assert.True(t, snap.Cleared("113001"))
	assert.False(t, snap.Cleared("113002"))
	assert.False(t, snap.Cleared("113003"), "未出现的代码不算清仓")
}

func TestCheckMarksOnlyExplicitZero(t *testing.T) {
	ledger := &mockLedger{candidates: []order.Record{
		filled("k1", "113001"),
		filled("k2", "113002"),
		filled("k3", "113003"),
	}}
	source := &mockSource{rows: []Position{{Code: "113001", HeldVolume: 0}, {Code: "113002", HeldVolume: 10}}}
	w := NewWatcher(ledger, source, nil, nil, Config{})

	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"k1"}, ledger.marked)

	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "已标记的记录不再处理")
}

func TestCheckSkipsQueryWithoutCandidates(t *testing.T) {
	source := &mockSource{}
	w := NewWatcher(&mockLedger{}, source, nil, nil, Config{})
	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, n)
	assert.Zero(t, source.Calls())
}

func TestCheckQueryError(t *testing.T) {
	ledger := &mockLedger{candidates: []order.Record{filled("k1", "113001")}}
	source := &mockSource{err: errors.New("session expired")}
	w := NewWatcher(ledger, source, nil, nil, Config{})
	_, err := w.Check(context.Background())
	assert.Error(t, err)
	assert.Empty(t, ledger.marked)
}

func TestRunWithRegistry(t *testing.T) {
	reg := order.NewRegistry(nil, nil, nil)
	source := &mockSource{}
	w := NewWatcher(reg, source, nil, nil, Config{Interval: 5 * time.Millisecond, Idle: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, source.Calls(), "没有成交记录时不查询持仓")
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("position watcher did not stop")
	}
}
