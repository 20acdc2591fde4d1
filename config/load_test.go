package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
market:
  mode: ws
  wsURL: ws://127.0.0.1:9000/hq
trade:
  baseURL: http://127.0.0.1:9001
  token: tk
  account: "10001"
  password: pw
files:
  bondMap: bond_map.json
  rules: rules.json
engine:
  orderIntervalSec: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Trade.Token != "tk" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	assert.False(t, cfg.DryRun())
	assert.Equal(t, 3*time.Second, cfg.Engine.OrderInterval())
	assert.Equal(t, 5*time.Second, cfg.Engine.HoldInterval())
	assert.Equal(t, 5*time.Second, cfg.Engine.Grace())
	assert.Equal(t, 30*time.Second, cfg.Engine.TicketRefresh())
	assert.Equal(t, ":8090", cfg.HTTP.Listen)
	assert.Equal(t, "http://127.0.0.1:8090/cb", cfg.HTTP.CallbackURL)
	assert.Equal(t, "ticket.json", cfg.Trade.TicketFile)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Alert.Throttle())
	assert.Empty(t, cfg.Alert.WebhookURL)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
market:
  wsURL: ws://127.0.0.1:9000/hq
trade:
  baseURL: http://127.0.0.1:9001
files:
  bondMap: bond_map.json
  rules: rules.json
`)
	_, err := Load(path)
	require.Error(t, err, "缺少凭据时直接 Load 应失败")

	t.Setenv("CB_TRADE_TOKEN", "env-token")
	t.Setenv("CB_TRADE_ACCOUNT", "env-account")
	t.Setenv("CB_TRADE_PASSWORD", "env-password")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Trade.Token != "env-token" || cfg.Trade.Account != "env-account" || cfg.Trade.Password != "env-password" {
		t.Fatalf("env overrides not applied: %+v", cfg.Trade)
	}
}

func TestLoadReplayNeedsNoCredentials(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
market:
  mode: replay
  replayFile: hq.2024-03-01.jsonl
  follow: true
files:
  bondMap: bond_map.json
  rules: rules.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.DryRun())
	assert.True(t, cfg.Market.Follow)
}

func TestValidate(t *testing.T) {
	err := Validate(AppConfig{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}

	base := AppConfig{Env: "dev", Files: FilesConfig{BondMap: "m.json", Rules: "r.json"}}
	ApplyDefaults(&base)

	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"未知行情模式", func(c *AppConfig) { c.Market.Mode = "tcp" }},
		{"ws 模式缺地址", func(c *AppConfig) { c.Market.WSURL = "" }},
		{"回放缺文件", func(c *AppConfig) { c.Market.Mode = MarketModeReplay }},
		{"缺交易地址", func(c *AppConfig) { c.Market.WSURL = "ws://x"; c.Trade.Token = "t"; c.Trade.Account = "a"; c.Trade.Password = "p" }},
		{"回调地址非法", func(c *AppConfig) { c.HTTP.CallbackURL = "::" }},
		{"告警地址非法", func(c *AppConfig) { c.Market.WSURL = "ws://x"; c.Alert.WebhookURL = "not a url" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
