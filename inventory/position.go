package inventory

import "context"

// Position 券商持仓查询中的一行。
type Position struct {
	Code       string
	Name       string
	HeldVolume int64
}

// PositionSource 持仓查询接口，由 gateway.TradeClient 实现。
type PositionSource interface {
	QueryPositions(ctx context.Context) ([]Position, error)
}

// Snapshot 按代码索引的持仓快照。
type Snapshot map[string]Position

func NewSnapshot(rows []Position) Snapshot {
	s := make(Snapshot, len(rows))
	for _, p := range rows {
		s[p.Code] = p
	}
	return s
}

// Cleared 仅当快照明确给出该代码且持仓为 0 时返回 true；未出现的代码不算清仓。
func (s Snapshot) Cleared(code string) bool {
	p, ok := s[code]
	return ok && p.HeldVolume == 0
}
