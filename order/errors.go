package order

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey 同一 key 只允许一次买入。
	ErrDuplicateKey = errors.New("order key already exists")
	// ErrUnknownKey 卖出时 key 没有买入记录。
	ErrUnknownKey = errors.New("unknown order key")
	// ErrSellInProgress 上一笔卖单尚未终结。
	ErrSellInProgress = errors.New("sell order in progress")
	// ErrInvalidRequest 价格、数量、代码不合法。
	ErrInvalidRequest = errors.New("invalid order request")
)

// ProviderError 交易接口失败：网络错误或券商返回非 0 的 code。
type ProviderError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil && e.Code != "":
		return fmt.Sprintf("%s failed (code=%s): %s: %v", e.Op, e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s failed (code=%s): %s", e.Op, e.Code, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// asProviderError 保证对外返回的接口错误都是 *ProviderError。
func asProviderError(op string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}
