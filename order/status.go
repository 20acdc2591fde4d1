package order

import "strings"

// Status 券商返回的委托状态，取值即券商原文。
type Status string

const (
	StatusNotSubmitted       Status = "未报"
	StatusSubmitted          Status = "已报"
	StatusPartiallyFilled    Status = "部成"
	StatusFilled             Status = "已成"
	StatusCancelled          Status = "已撤"
	StatusPartiallyCancelled Status = "部撤"
	StatusRejected           Status = "废单"
	StatusUnknown            Status = "未知"
)

// ParseStatus 把券商状态文本映射为 Status；无法识别的文本返回 StatusUnknown。
func ParseStatus(text string) Status {
	switch strings.TrimSpace(text) {
	case "未报", "待报", "正报":
		return StatusNotSubmitted
	case "已报", "已报待撤":
		return StatusSubmitted
	case "部成", "部成待撤":
		return StatusPartiallyFilled
	case "已成":
		return StatusFilled
	case "已撤":
		return StatusCancelled
	case "部撤":
		return StatusPartiallyCancelled
	case "废单":
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// IsTerminal 终态之后券商侧不再变化。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusPartiallyCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// IsActive 仍可能成交的状态，也是超时撤单的前提。
func (s Status) IsActive() bool {
	switch s {
	case StatusNotSubmitted, StatusSubmitted, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 识别券商委托类别文本。
func ParseSide(text string) (Side, bool) {
	switch strings.TrimSpace(text) {
	case "证券买入", "买入", "buy":
		return SideBuy, true
	case "证券卖出", "卖出", "sell":
		return SideSell, true
	default:
		return "", false
	}
}
