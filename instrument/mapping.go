// Package instrument 维护正股与可转债的静态对应关系。
package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Mapping 转债 -> 正股 一对一，正股 -> 转债 一对多；加载后只读。
type Mapping struct {
	bondStock  map[string]string
	stockBonds map[string][]string
}

// Pair 一条转债到正股的对应关系。
type Pair struct {
	Bond  string
	Stock string
}

// NewMapping 按给定顺序构建双向映射；同一正股下转债的先后即选债时的"映射顺序"。
func NewMapping(pairs []Pair) (*Mapping, error) {
	if len(pairs) == 0 {
		return nil, errors.New("bond mapping is empty")
	}
	m := &Mapping{
		bondStock:  make(map[string]string, len(pairs)),
		stockBonds: make(map[string][]string),
	}
	for _, p := range pairs {
		bond := strings.TrimSpace(p.Bond)
		stock := strings.TrimSpace(p.Stock)
		if bond == "" || stock == "" {
			return nil, fmt.Errorf("invalid mapping entry %q -> %q", p.Bond, p.Stock)
		}
		if bond == stock {
			return nil, fmt.Errorf("bond %s mapped to itself", bond)
		}
		if prev, dup := m.bondStock[bond]; dup {
			return nil, fmt.Errorf("bond %s mapped twice (%s, %s)", bond, prev, stock)
		}
		m.bondStock[bond] = stock
		m.stockBonds[stock] = append(m.stockBonds[stock], bond)
	}
	for stock := range m.stockBonds {
		if _, clash := m.bondStock[stock]; clash {
			return nil, fmt.Errorf("code %s is both a stock and a bond", stock)
		}
	}
	return m, nil
}

// LoadMapping 读取 JSON 对象格式的映射文件 {"bondCode": "stockCode"}，保留文件中的键顺序。
func LoadMapping(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bond mapping: %w", err)
	}
	pairs, err := decodeOrdered(raw)
	if err != nil {
		return nil, fmt.Errorf("parse bond mapping %s: %w", path, err)
	}
	return NewMapping(pairs)
}

func decodeOrdered(raw []byte) ([]Pair, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object")
	}
	var pairs []Pair
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		bond, _ := keyTok.(string)
		var stock string
		if err := dec.Decode(&stock); err != nil {
			return nil, fmt.Errorf("bond %s: %w", bond, err)
		}
		pairs = append(pairs, Pair{Bond: bond, Stock: stock})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// BondsOf 返回正股对应的转债列表（拷贝）。
func (m *Mapping) BondsOf(stock string) []string {
	bonds := m.stockBonds[stock]
	out := make([]string, len(bonds))
	copy(out, bonds)
	return out
}

func (m *Mapping) StockOf(bond string) (string, bool) {
	s, ok := m.bondStock[bond]
	return s, ok
}

func (m *Mapping) IsStock(code string) bool {
	_, ok := m.stockBonds[code]
	return ok
}

func (m *Mapping) IsBond(code string) bool {
	_, ok := m.bondStock[code]
	return ok
}

// Codes 返回全部需要订阅的代码：正股在前，转债在后，各自有序。
func (m *Mapping) Codes() []string {
	stocks := make([]string, 0, len(m.stockBonds))
	for s := range m.stockBonds {
		stocks = append(stocks, s)
	}
	sort.Strings(stocks)
	bonds := make([]string, 0, len(m.bondStock))
	for b := range m.bondStock {
		bonds = append(bonds, b)
	}
	sort.Strings(bonds)
	return append(stocks, bonds...)
}
