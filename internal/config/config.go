// Package config 加载并校验 YAML 配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Market    MarketConfig    `mapstructure:"market"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	AI        AIConfig        `mapstructure:"ai"`
	Rule      RuleConfig      `mapstructure:"rule"`
	Coins     CoinsConfig     `mapstructure:"coins"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ExchangeConfig struct {
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	ProxyEnabled bool          `mapstructure:"proxy_enabled"`
	RESTProxyURL string        `mapstructure:"rest_proxy_url"`
}

type MarketConfig struct {
	KlineInterval string `mapstructure:"kline_interval"`
	KlineLimit    int    `mapstructure:"kline_limit"`
}

type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BuyInterval    time.Duration `mapstructure:"buy_interval"`
	SellInterval   time.Duration `mapstructure:"sell_interval"`
	BreakThreshold int           `mapstructure:"break_threshold"`
	BreakTimeout   time.Duration `mapstructure:"break_timeout"`
}

type AIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

type RuleConfig struct {
	Name           string  `mapstructure:"name"`
	FastPeriod     int     `mapstructure:"fast_period"`
	SlowPeriod     int     `mapstructure:"slow_period"`
	RSIPeriod      int     `mapstructure:"rsi_period"`
	RSIOverbought  float64 `mapstructure:"rsi_overbought"`
	RSIOversold    float64 `mapstructure:"rsi_oversold"`
	MarginPerTrade float64 `mapstructure:"margin_per_trade"`
	StopLossPct    float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct  float64 `mapstructure:"take_profit_pct"`
}

type CoinsConfig struct {
	// Mode: static / volume / file
	Mode    string   `mapstructure:"mode"`
	Symbols []string `mapstructure:"symbols"`
	File    string   `mapstructure:"file"`
	TopN    int      `mapstructure:"top_n"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败 (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":9985"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/aquant.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Market.KlineInterval == "" {
		c.Market.KlineInterval = "15m"
	}
	if c.Market.KlineLimit <= 0 {
		c.Market.KlineLimit = 100
	}
	if c.Scheduler.BuyInterval <= 0 {
		c.Scheduler.BuyInterval = 15 * time.Minute
	}
	if c.Scheduler.SellInterval <= 0 {
		c.Scheduler.SellInterval = 3 * time.Minute
	}
	if c.Coins.Mode == "" {
		c.Coins.Mode = "static"
	}
	if c.Coins.TopN <= 0 {
		c.Coins.TopN = 10
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Coins.Mode) {
	case "static":
		if len(c.Coins.Symbols) == 0 {
			return fmt.Errorf("coins.mode=static 时必须配置 coins.symbols")
		}
	case "volume":
		if len(c.Coins.Symbols) == 0 {
			return fmt.Errorf("coins.mode=volume 时必须配置候选池 coins.symbols")
		}
	case "file":
		if c.Coins.File == "" {
			return fmt.Errorf("coins.mode=file 时必须配置 coins.file")
		}
	default:
		return fmt.Errorf("未知的 coins.mode: %s", c.Coins.Mode)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("未知的 log.level: %s", c.Log.Level)
	}
	return nil
}
