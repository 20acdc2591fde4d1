package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 行情模式
const (
	MarketModeWS     = "ws"
	MarketModeReplay = "replay"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env    string       `yaml:"env"`
	Log    LogConfig    `yaml:"log"`
	HTTP   HTTPConfig   `yaml:"http"`
	Market MarketConfig `yaml:"market"`
	Trade  TradeConfig  `yaml:"trade"`
	Engine EngineConfig `yaml:"engine"`
	Files  FilesConfig  `yaml:"files"`
	Alert  AlertConfig  `yaml:"alert"`
}

type LogConfig struct {
	Level      string   `yaml:"level"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
	Format     string   `yaml:"format"`
}

type HTTPConfig struct {
	Listen      string `yaml:"listen"`
	CallbackURL string `yaml:"callbackURL"` // 成交回调地址，默认指向本进程的 /cb
}

type MarketConfig struct {
	Mode       string `yaml:"mode"` // ws 或 replay；replay 模式不向券商下单
	WSURL      string `yaml:"wsURL"`
	ReplayFile string `yaml:"replayFile"`
	Follow     bool   `yaml:"follow"`     // 回放读到末尾后继续等待追加
	RecordFile string `yaml:"recordFile"` // 非空时录制行情，实际文件名追加日期
}

type TradeConfig struct {
	BaseURL    string  `yaml:"baseURL"`
	Token      string  `yaml:"token"`
	Account    string  `yaml:"account"`
	Password   string  `yaml:"password"`
	TicketFile string  `yaml:"ticketFile"`
	RatePerSec float64 `yaml:"ratePerSec"`
	Burst      int     `yaml:"burst"`
	TimeoutSec int     `yaml:"timeoutSec"`
}

type EngineConfig struct {
	OrderIntervalSec int `yaml:"orderIntervalSec"`
	HoldIntervalSec  int `yaml:"holdIntervalSec"`
	GraceSec         int `yaml:"graceSec"`
	TicketRefreshSec int `yaml:"ticketRefreshSec"`
}

type FilesConfig struct {
	BondMap string `yaml:"bondMap"`
	Rules   string `yaml:"rules"`
}

// AlertConfig 告警：始终写日志，配置 webhookURL 时额外推送。
type AlertConfig struct {
	WebhookURL  string `yaml:"webhookURL"`
	ThrottleSec int    `yaml:"throttleSec"`
}

func (a AlertConfig) Throttle() time.Duration {
	return time.Duration(a.ThrottleSec) * time.Second
}

// DryRun 回放模式只计算不下单。
func (c AppConfig) DryRun() bool {
	return c.Market.Mode == MarketModeReplay
}

func (e EngineConfig) OrderInterval() time.Duration {
	return time.Duration(e.OrderIntervalSec) * time.Second
}

func (e EngineConfig) HoldInterval() time.Duration {
	return time.Duration(e.HoldIntervalSec) * time.Second
}

func (e EngineConfig) Grace() time.Duration {
	return time.Duration(e.GraceSec) * time.Second
}

func (e EngineConfig) TicketRefresh() time.Duration {
	return time.Duration(e.TicketRefreshSec) * time.Second
}

// Load reads YAML config from path, fills defaults and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides credentials from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil && !isCredentialError(err) {
		return cfg, err
	}
	if v := os.Getenv("CB_TRADE_TOKEN"); v != "" {
		cfg.Trade.Token = v
	}
	if v := os.Getenv("CB_TRADE_ACCOUNT"); v != "" {
		cfg.Trade.Account = v
	}
	if v := os.Getenv("CB_TRADE_PASSWORD"); v != "" {
		cfg.Trade.Password = v
	}
	return cfg, Validate(cfg)
}
