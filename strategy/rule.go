package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// 未配置 bWait 时的委托等待秒数
const defaultWaitSeconds = 3

// Rule 一条触发规则，按配置顺序编号为 rule<序号>。
type Rule struct {
	ID              string  `json:"-"`
	RiseRatio       float64 `json:"raRate"`  // 正股涨幅阈值（%）
	MinBondTurnover float64 `json:"bondAmt"` // 转债最低成交额
	BuyMarkupPct    float64 `json:"bUpper"`  // 买入价相对卖一的上浮（%）
	FixedVolume     int64   `json:"vol"`     // 固定数量，非 0 时优先
	FixedNotional   float64 `json:"amt"`     // 固定金额，vol 为 0 时按金额折算
	WaitSeconds     int     `json:"bWait"`   // 委托超时秒数
}

// UnmarshalJSON 缺省 bWait 取 3 秒；显式写 0 保留为 0。
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	p := plain{WaitSeconds: defaultWaitSeconds}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Validate 检查配置取值。
func (r Rule) Validate() error {
	switch {
	case r.MinBondTurnover < 0:
		return errors.New("bondAmt must be >= 0")
	case r.FixedVolume < 0:
		return errors.New("vol must be >= 0")
	case r.FixedNotional < 0:
		return errors.New("amt must be >= 0")
	case r.FixedVolume == 0 && r.FixedNotional == 0:
		return errors.New("either vol or amt is required")
	case r.BuyMarkupPct <= -100:
		return errors.New("bUpper must be > -100")
	case r.WaitSeconds < 0:
		return errors.New("bWait must be >= 0")
	}
	return nil
}

// Params 规则参数的 JSON 序列化，字段顺序固定。
func (r Rule) Params() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Key 委托幂等标识：同一规则同一参数只买入一次。
func (r Rule) Key() string {
	return r.ID + "@" + r.Params()
}

func (r Rule) Timeout() time.Duration {
	return time.Duration(r.WaitSeconds) * time.Second
}

// ParseRules 解析 JSON 数组形式的规则配置。
func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, errors.New("no trigger rules configured")
	}
	for i := range rules {
		rules[i].ID = fmt.Sprintf("rule%d", i)
		if err := rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", rules[i].ID, err)
		}
	}
	return rules, nil
}

// LoadRules 读取规则文件。
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(raw)
}
