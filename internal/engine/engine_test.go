package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cbond-trigger-go/infrastructure/alert"
	"cbond-trigger-go/instrument"
	"cbond-trigger-go/market"
	"cbond-trigger-go/strategy"
)

// blockingRunner 阻塞到 ctx 结束，或立即返回 err。
type blockingRunner struct {
	err     error
	started atomic.Bool
	stopped atomic.Bool
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.started.Store(true)
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	r.stopped.Store(true)
	return ctx.Err()
}

type countingSubmitter struct {
	mu    sync.Mutex
	bonds []string
}

func (s *countingSubmitter) SubmitBuy(ctx context.Context, rule strategy.Rule, bond string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds = append(s.bonds, bond)
	return "", nil
}

func (s *countingSubmitter) Bonds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bonds...)
}

func writeReplay(t *testing.T, ticks []market.Tick) string {
	t.Helper()
	var sb strings.Builder
	for _, tk := range ticks {
		b, err := json.Marshal(tk)
		require.NoError(t, err)
		sb.Write(b)
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "ticks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func newEvaluator(t *testing.T, sub strategy.Submitter) (*strategy.Evaluator, *instrument.Mapping) {
	t.Helper()
	mapping, err := instrument.NewMapping([]instrument.Pair{{Bond: "B1", Stock: "S1"}})
	require.NoError(t, err)
	rules, err := strategy.ParseRules([]byte(`[{"raRate":5,"bondAmt":1000,"bUpper":0.5,"vol":10}]`))
	require.NoError(t, err)
	return strategy.NewEvaluator(rules, mapping, market.NewCache(), sub, nil, nil), mapping
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Config{}, Components{})
	assert.Error(t, err)
}

func TestEngineReplayToTrigger(t *testing.T) {
	path := writeReplay(t, []market.Tick{
		{Code: "B1", Fields: map[string]string{market.FieldAmount: "5000", market.FieldBestAsk: "110"}},
		{Code: "S1", Fields: map[string]string{market.FieldRatio: "6"}},
	})
	sub := &countingSubmitter{}
	ev, mapping := newEvaluator(t, sub)
	orders, positions, session := &blockingRunner{}, &blockingRunner{}, &blockingRunner{}

	e, err := New(Config{Codes: mapping.Codes()}, Components{
		Feed:          market.NewReplayFeed(path, false, nil),
		Evaluator:     ev,
		OrderWatch:    orders,
		PositionWatch: positions,
		Session:       session,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRunning, e.GetState())

	require.Eventually(t, func() bool { return len(sub.Bonds()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"B1"}, sub.Bonds())
	// 回放结束不影响其他循环
	assert.False(t, orders.stopped.Load())

	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.GetState())
	assert.True(t, orders.stopped.Load())
	assert.True(t, positions.stopped.Load())
	assert.True(t, session.stopped.Load())
	assert.Zero(t, e.GetStatistics().LoopErrors)
}

func TestEngineLoopErrorIsNotFatal(t *testing.T) {
	path := writeReplay(t, nil)
	ev, _ := newEvaluator(t, &countingSubmitter{})
	orders := &blockingRunner{}
	positions := &blockingRunner{err: errors.New("boom")}
	ch := alert.NewMockChannel("mock")

	e, err := New(Config{}, Components{
		Alerts:        alert.NewManager([]alert.Channel{ch}, time.Minute),
		Feed:          market.NewReplayFeed(path, false, nil),
		Evaluator:     ev,
		OrderWatch:    orders,
		PositionWatch: positions,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return ch.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), e.GetStatistics().LoopErrors)
	assert.Equal(t, alert.LevelCritical, ch.GetAlerts()[0].Level)
	assert.Equal(t, "position_watch", ch.GetAlerts()[0].Fields["loop"])
	assert.True(t, orders.started.Load())
	assert.False(t, orders.stopped.Load())

	require.NoError(t, e.Stop())
	assert.True(t, orders.stopped.Load())
}

func TestEngineParentContextCancel(t *testing.T) {
	path := writeReplay(t, nil)
	ev, _ := newEvaluator(t, &countingSubmitter{})
	e, err := New(Config{}, Components{
		Feed:          market.NewReplayFeed(path, true, nil),
		Evaluator:     ev,
		OrderWatch:    &blockingRunner{},
		PositionWatch: &blockingRunner{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	cancel()

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not exit on context cancel")
	}
	assert.Zero(t, e.GetStatistics().LoopErrors)
	require.NoError(t, e.Stop())
}

func TestStartTwice(t *testing.T) {
	path := writeReplay(t, nil)
	ev, _ := newEvaluator(t, &countingSubmitter{})
	e, err := New(Config{}, Components{
		Feed:          market.NewReplayFeed(path, false, nil),
		Evaluator:     ev,
		OrderWatch:    &blockingRunner{},
		PositionWatch: &blockingRunner{},
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}
