package market

import (
	"strconv"
	"strings"
	"time"
)

// 行情字段名（LV1 推送）。
const (
	FieldName    = "name"
	FieldTime    = "time"
	FieldPrice   = "price"
	FieldRatio   = "ratio"
	FieldAmount  = "amount"
	FieldVolume  = "volume"
	FieldBestAsk = "s1p" // 卖一价
)

// Quote 单个代码的最新行情，后到覆盖先到。
type Quote struct {
	Code        string
	Name        string
	Timestamp   string // 行情源给出的时间，原样保留
	Price       float64
	ChangeRatio float64 // 涨幅（%）
	Turnover    float64 // 成交额
	Volume      float64
	BestAsk     float64
	Raw         map[string]string
	Received    time.Time
}

// ParseQuote 从推送字段解析行情；数值字段缺失或非法时按 0 处理。
func ParseQuote(code string, fields map[string]string, received time.Time) Quote {
	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = v
	}
	return Quote{
		Code:        code,
		Name:        fields[FieldName],
		Timestamp:   fields[FieldTime],
		Price:       parseFloat(fields[FieldPrice]),
		ChangeRatio: parseFloat(fields[FieldRatio]),
		Turnover:    parseFloat(fields[FieldAmount]),
		Volume:      parseFloat(fields[FieldVolume]),
		BestAsk:     parseFloat(fields[FieldBestAsk]),
		Raw:         raw,
		Received:    received,
	}
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// clone 返回深拷贝，避免外部修改 Raw。
func (q Quote) clone() Quote {
	if q.Raw != nil {
		raw := make(map[string]string, len(q.Raw))
		for k, v := range q.Raw {
			raw[k] = v
		}
		q.Raw = raw
	}
	return q
}
