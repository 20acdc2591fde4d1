package order

import "fmt"

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 委托状态机。
// 券商状态以查询结果为准，非法转换只用于告警，不阻止合并。
type StateMachine struct {
	transitions map[StateTransition]bool // 构造后只读
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从未报可以转到
		{StatusNotSubmitted, StatusSubmitted},
		{StatusNotSubmitted, StatusPartiallyFilled},
		{StatusNotSubmitted, StatusFilled},
		{StatusNotSubmitted, StatusCancelled},
		{StatusNotSubmitted, StatusRejected},

		// 从已报可以转到
		{StatusSubmitted, StatusPartiallyFilled},
		{StatusSubmitted, StatusFilled},
		{StatusSubmitted, StatusCancelled},
		{StatusSubmitted, StatusRejected},

		// 从部成可以转到
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusPartiallyCancelled},

		// 终态不能转换（已成、已撤、部撤、废单）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	// 未知状态两端都不做判断
	if from == StatusUnknown || to == StatusUnknown {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}
