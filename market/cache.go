package market

import "sync"

// Cache 按代码保存最新一笔行情，供触发判断与下单定价读取。
// 写入来自行情回调，读取可能来自异步下单协程，统一由 RWMutex 保护。
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Update 无条件覆盖。
func (c *Cache) Update(q Quote) {
	q = q.clone()
	c.mu.Lock()
	c.quotes[q.Code] = q
	c.mu.Unlock()
}

// Get 返回行情拷贝；尚未收到该代码行情时第二个返回值为 false。
func (c *Cache) Get(code string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[code]
	c.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	return q.clone(), true
}

// Turnover 只读取成交额，选债时避免拷贝 Raw。
func (c *Cache) Turnover(code string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[code]
	return q.Turnover, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
