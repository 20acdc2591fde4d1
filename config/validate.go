package config

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// errMissingCredentials 凭据可由环境变量补齐，LoadWithEnvOverrides 会放行后再校验。
var errMissingCredentials = ErrInvalid("trade.token/account/password is required (or env overrides)")

func isCredentialError(err error) bool {
	return errors.Is(err, errMissingCredentials)
}

// ApplyDefaults 为零值字段填充默认值。
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if len(cfg.Log.Outputs) == 0 {
		cfg.Log.Outputs = []string{"stdout"}
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8090"
	}
	if cfg.HTTP.CallbackURL == "" {
		cfg.HTTP.CallbackURL = "http://127.0.0.1" + cfg.HTTP.Listen + "/cb"
	}
	if cfg.Market.Mode == "" {
		cfg.Market.Mode = MarketModeWS
	}
	if cfg.Trade.TicketFile == "" {
		cfg.Trade.TicketFile = "ticket.json"
	}
	if cfg.Trade.RatePerSec <= 0 {
		cfg.Trade.RatePerSec = 5
	}
	if cfg.Trade.Burst <= 0 {
		cfg.Trade.Burst = 2
	}
	if cfg.Trade.TimeoutSec <= 0 {
		cfg.Trade.TimeoutSec = 10
	}
	if cfg.Engine.OrderIntervalSec <= 0 {
		cfg.Engine.OrderIntervalSec = 2
	}
	if cfg.Engine.HoldIntervalSec <= 0 {
		cfg.Engine.HoldIntervalSec = 5
	}
	if cfg.Engine.GraceSec <= 0 {
		cfg.Engine.GraceSec = 5
	}
	if cfg.Engine.TicketRefreshSec <= 0 {
		cfg.Engine.TicketRefreshSec = 30
	}
	if cfg.Alert.ThrottleSec <= 0 {
		cfg.Alert.ThrottleSec = 300
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Files.BondMap == "" {
		return errors.New("files.bondMap is required")
	}
	if cfg.Files.Rules == "" {
		return errors.New("files.rules is required")
	}
	if _, err := url.ParseRequestURI(cfg.HTTP.CallbackURL); err != nil {
		return fmt.Errorf("http.callbackURL invalid: %w", err)
	}
	if cfg.Alert.WebhookURL != "" {
		if _, err := url.ParseRequestURI(cfg.Alert.WebhookURL); err != nil {
			return fmt.Errorf("alert.webhookURL invalid: %w", err)
		}
	}
	switch cfg.Market.Mode {
	case MarketModeWS:
		if cfg.Market.WSURL == "" {
			return errors.New("market.wsURL is required in ws mode")
		}
	case MarketModeReplay:
		if cfg.Market.ReplayFile == "" {
			return errors.New("market.replayFile is required in replay mode")
		}
		// 回放不下单，不需要交易凭据
		return nil
	default:
		return fmt.Errorf("market.mode %q must be %s or %s", cfg.Market.Mode, MarketModeWS, MarketModeReplay)
	}
	if cfg.Trade.BaseURL == "" {
		return errors.New("trade.baseURL is required")
	}
	if cfg.Trade.Token == "" || cfg.Trade.Account == "" || cfg.Trade.Password == "" {
		return errMissingCredentials
	}
	return nil
}
