package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cbond-trigger-go/order"
)

// 响应码沿用下游约定：成功 "0"，失败 "-1"
const (
	codeOK   = "0"
	codeFail = "-1"
)

// OrderBook 由 order.Registry 实现。
type OrderBook interface {
	Buy(ctx context.Context, req order.Request) (string, error)
	Sell(ctx context.Context, req order.Request) (string, error)
	Get(key string) (order.Record, bool)
	List() []order.Record
}

// HealthFunc 汇总进程状态，返回 error 时 /healthz 响应 503。
type HealthFunc func() (map[string]interface{}, error)

// Server 委托服务的 HTTP 接口。
type Server struct {
	book    OrderBook
	metrics http.Handler
	health  HealthFunc
	logger  *zap.Logger
}

// Response 下单接口的返回体。
type Response struct {
	Code    string `json:"code"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func NewServer(book OrderBook, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{book: book, metrics: metrics, logger: logger}
}

// WithHealth 设置 /healthz 的状态来源；未设置时固定返回 ok。
func (s *Server) WithHealth(fn HealthFunc) *Server {
	s.health = fn
	return s
}

// Router 组装路由。
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(s.logger))

	r.GET("/buy", s.handleBuy)
	r.GET("/sale", s.handleSell)
	r.GET("/orders", s.handleList)
	r.GET("/orders/one", s.handleGet)
	r.POST("/cb", s.handleCallback)
	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// parseRequest 读取 key、code、name、price、vol、cb、timeout（秒）。
func parseRequest(c *gin.Context) (order.Request, error) {
	req := order.Request{
		Key:         c.Query("key"),
		Code:        c.Query("code"),
		Name:        c.Query("name"),
		CallbackURL: c.Query("cb"),
		Timeout:     order.DefaultTimeout,
	}
	var err error
	if req.Price, err = strconv.ParseFloat(strings.TrimSpace(c.Query("price")), 64); err != nil {
		return req, errors.New("invalid price")
	}
	if req.Volume, err = strconv.ParseInt(strings.TrimSpace(c.Query("vol")), 10, 64); err != nil {
		return req, errors.New("invalid vol")
	}
	if raw := strings.TrimSpace(c.Query("timeout")); raw != "" {
		sec, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, errors.New("invalid timeout")
		}
		req.Timeout = time.Duration(sec * float64(time.Second))
	}
	return req, nil
}

func (s *Server) handleBuy(c *gin.Context) {
	s.place(c, "buy", s.book.Buy)
}

func (s *Server) handleSell(c *gin.Context) {
	s.place(c, "sell", s.book.Sell)
}

func (s *Server) place(c *gin.Context, leg string, fn func(context.Context, order.Request) (string, error)) {
	req, err := parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: codeFail, Message: err.Error()})
		return
	}
	orderID, err := fn(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn("order request rejected",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("leg", leg),
			zap.String("key", req.Key),
			zap.Error(err))
		c.JSON(statusFor(err), Response{Code: codeFail, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Code: codeOK, OrderID: orderID})
}

func statusFor(err error) int {
	var pe *order.ProviderError
	switch {
	case errors.Is(err, order.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrUnknownKey):
		return http.StatusNotFound
	case errors.Is(err, order.ErrDuplicateKey), errors.Is(err, order.ErrSellInProgress):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": codeOK, "list": s.book.List()})
}

func (s *Server) handleGet(c *gin.Context) {
	rec, ok := s.book.Get(c.Query("key"))
	if !ok {
		c.JSON(http.StatusNotFound, Response{Code: codeFail, Message: order.ErrUnknownKey.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": codeOK, "record": rec})
}

// handleCallback 本地回调入口，默认回调地址指向这里，只记录日志。
func (s *Server) handleCallback(c *gin.Context) {
	data := c.PostForm("data")
	s.logger.Info("order notification received",
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("data", data))
	c.JSON(http.StatusOK, Response{Code: codeOK})
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.health == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	details, err := s.health()
	for k, v := range details {
		body[k] = v
	}
	if err != nil {
		body["status"] = "degraded"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
