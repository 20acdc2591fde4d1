package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/order"
)

// CallbackClient 把终结的委托记录以表单 data=<json> 推送给调用方。
// 只投递一次，不重试。
type CallbackClient struct {
	HTTPClient *http.Client
	logger     *zap.Logger
}

func NewCallbackClient(timeout time.Duration, logger *zap.Logger) *CallbackClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackClient{HTTPClient: &http.Client{Timeout: timeout}, logger: logger}
}

func (c *CallbackClient) Notify(ctx context.Context, callbackURL string, rec order.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	form := url.Values{}
	form.Set("data", string(payload))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback %s returned status %d", callbackURL, resp.StatusCode)
	}
	c.logger.Debug("callback posted", zap.String("url", callbackURL), zap.String("key", rec.Key))
	return nil
}
