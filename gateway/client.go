package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"cbond-trigger-go/inventory"
	"cbond-trigger-go/order"
)

// 券商接口成功码
const codeOK = "0"

// TicketSource 提供当前交易凭证，由 Session 实现。
type TicketSource interface {
	Ticket() Ticket
}

// TradeClient 柜台桥接服务的 REST 客户端，表单提交、JSON 返回。
// 实现 order.Broker 与 inventory.PositionSource。
type TradeClient struct {
	BaseURL    string
	Token      string
	Account    string
	Password   string
	HTTPClient *http.Client
	Limiter    RateLimiter
	Tickets    TicketSource

	logger *zap.Logger
}

func NewTradeClient(baseURL, token, account, password string, limiter RateLimiter, logger *zap.Logger) *TradeClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		Account:    account,
		Password:   password,
		HTTPClient: NewDefaultHTTPClient(),
		Limiter:    limiter,
		logger:     logger,
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// flexFloat 兼容数字与字符串两种写法，空串按 0。
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexString 兼容数字与字符串两种写法的单号、返回码。
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(raw)
	return nil
}

type baseResp struct {
	Code    flexString `json:"code"`
	Message string     `json:"message"`
}

type placeResp struct {
	baseResp
	OrderID flexString `json:"order_id"`
}

type orderItem struct {
	OrderID     flexString `json:"order_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Name        string     `json:"name"`
	OrderPrice  flexFloat  `json:"order_price"`
	OrderVolume flexFloat  `json:"order_volume"`
	DealPrice   flexFloat  `json:"deal_price"`
	DealVolume  flexFloat  `json:"deal_volume"`
}

type ordersResp struct {
	baseResp
	List []orderItem `json:"list"`
}

type holdItem struct {
	Code    flexString `json:"code"`
	Name    string     `json:"name"`
	HoldVol flexFloat  `json:"hold_vol"`
}

type holdsResp struct {
	baseResp
	HoldList []holdItem `json:"hold_list"`
}

type loginResp struct {
	baseResp
	Ticket string `json:"ticket"`
	Server string `json:"server"`
}

// post 限流后提交表单并解析 JSON；返回码非 0 时返回 *order.ProviderError。
func (c *TradeClient) post(ctx context.Context, op, path string, form url.Values, out interface{ result() baseResp }) error {
	if c == nil || c.HTTPClient == nil {
		return &order.ProviderError{Op: op, Message: "http client not set"}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return &order.ProviderError{Op: op, Err: err}
		}
	}
	form.Set("token", c.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return &order.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &order.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &order.ProviderError{Op: op, Err: err}
	}
	if resp.StatusCode >= 300 {
		return &order.ProviderError{Op: op, Code: strconv.Itoa(resp.StatusCode), Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &order.ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if r := out.result(); string(r.Code) != codeOK {
		return &order.ProviderError{Op: op, Code: string(r.Code), Message: r.Message}
	}
	return nil
}

func (r *baseResp) result() baseResp { return *r }

// withTicket 附加当前凭证。
func (c *TradeClient) withTicket(form url.Values) url.Values {
	if c.Tickets != nil {
		t := c.Tickets.Ticket()
		form.Set("ticket", t.Value)
		if t.Server != "" {
			form.Set("server", t.Server)
		}
	}
	return form
}

// Login 用资金账号登录，返回新的交易凭证。
func (c *TradeClient) Login(ctx context.Context) (Ticket, error) {
	form := url.Values{}
	form.Set("account", c.Account)
	form.Set("password", c.Password)
	var resp loginResp
	if err := c.post(ctx, "login", "/login", form, &resp); err != nil {
		return Ticket{}, err
	}
	if resp.Ticket == "" {
		return Ticket{}, &order.ProviderError{Op: "login", Message: "empty ticket"}
	}
	return Ticket{Value: resp.Ticket, IssuedAt: time.Now(), Server: resp.Server}, nil
}

func (c *TradeClient) place(ctx context.Context, op, path, code, name string, price float64, volume int64) (string, error) {
	form := c.withTicket(url.Values{})
	form.Set("code", code)
	form.Set("name", name)
	form.Set("price", strconv.FormatFloat(price, 'f', 3, 64))
	form.Set("vol", strconv.FormatInt(volume, 10))
	var resp placeResp
	if err := c.post(ctx, op, path, form, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", &order.ProviderError{Op: op, Code: string(resp.Code), Message: "empty order id"}
	}
	c.logger.Debug("order placed", zap.String("op", op), zap.String("code", code), zap.String("order_id", string(resp.OrderID)))
	return string(resp.OrderID), nil
}

func (c *TradeClient) Buy(ctx context.Context, code, name string, price float64, volume int64) (string, error) {
	return c.place(ctx, "buy", "/buy", code, name, price, volume)
}

func (c *TradeClient) Sell(ctx context.Context, code, name string, price float64, volume int64) (string, error) {
	return c.place(ctx, "sell", "/sale", code, name, price, volume)
}

func (c *TradeClient) Cancel(ctx context.Context, orderID string) error {
	form := c.withTicket(url.Values{})
	form.Set("order_id", orderID)
	var resp baseResp
	return c.post(ctx, "cancel", "/cancel", form, &resp)
}

// QueryOpenOrders 查询当日委托。
func (c *TradeClient) QueryOpenOrders(ctx context.Context) ([]order.OrderRow, error) {
	var resp ordersResp
	if err := c.post(ctx, "query_orders", "/orders", c.withTicket(url.Values{}), &resp); err != nil {
		return nil, err
	}
	rows := make([]order.OrderRow, 0, len(resp.List))
	for _, it := range resp.List {
		side, ok := order.ParseSide(it.Type)
		if !ok {
			c.logger.Debug("skip order row with unknown type", zap.String("order_id", string(it.OrderID)), zap.String("type", it.Type))
			continue
		}
		rows = append(rows, order.OrderRow{
			OrderID:     string(it.OrderID),
			Side:        side,
			Status:      order.ParseStatus(it.Status),
			Name:        it.Name,
			OrderPrice:  float64(it.OrderPrice),
			OrderVolume: int64(it.OrderVolume),
			DealPrice:   float64(it.DealPrice),
			DealVolume:  int64(it.DealVolume),
		})
	}
	return rows, nil
}

// QueryPositions 查询持仓。
func (c *TradeClient) QueryPositions(ctx context.Context) ([]inventory.Position, error) {
	var resp holdsResp
	if err := c.post(ctx, "query_positions", "/holds", c.withTicket(url.Values{}), &resp); err != nil {
		return nil, err
	}
	out := make([]inventory.Position, 0, len(resp.HoldList))
	for _, it := range resp.HoldList {
		out = append(out, inventory.Position{Code: string(it.Code), Name: it.Name, HeldVolume: int64(it.HoldVol)})
	}
	return out, nil
}
