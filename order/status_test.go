package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"未报":   StatusNotSubmitted,
		"已报":   StatusSubmitted,
		"已报待撤": StatusSubmitted,
		"部成":   StatusPartiallyFilled,
		"部成待撤": StatusPartiallyFilled,
		"已成":   StatusFilled,
		"已撤":   StatusCancelled,
		"部撤":   StatusPartiallyCancelled,
		"废单":   StatusRejected,
		"其他":   StatusUnknown,
	}
	for text, want := range cases {
		assert.Equal(t, want, ParseStatus(text), text)
	}
}

func TestStatusClassification(t *testing.T) {
	for _, s := range []Status{StatusFilled, StatusCancelled, StatusPartiallyCancelled, StatusRejected} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	for _, s := range []Status{StatusNotSubmitted, StatusSubmitted, StatusPartiallyFilled} {
		assert.False(t, s.IsTerminal(), s)
		assert.True(t, s.IsActive(), s)
	}
	assert.False(t, StatusUnknown.IsTerminal())
	assert.False(t, StatusUnknown.IsActive())
}

func TestParseSide(t *testing.T) {
	side, ok := ParseSide("证券买入")
	assert.True(t, ok)
	assert.Equal(t, SideBuy, side)
	side, ok = ParseSide("证券卖出")
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
	_, ok = ParseSide("融资买入")
	assert.False(t, ok)
}

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	assert.NoError(t, sm.ValidateTransition(StatusNotSubmitted, StatusSubmitted))
	assert.NoError(t, sm.ValidateTransition(StatusSubmitted, StatusSubmitted))
	assert.NoError(t, sm.ValidateTransition(StatusPartiallyFilled, StatusPartiallyCancelled))
	assert.Error(t, sm.ValidateTransition(StatusFilled, StatusSubmitted))
	assert.Error(t, sm.ValidateTransition(StatusSubmitted, StatusPartiallyCancelled))
	assert.Error(t, sm.ValidateTransition(StatusRejected, StatusFilled), "废单为终态")
	assert.NoError(t, sm.ValidateTransition(StatusUnknown, StatusFilled))
}
