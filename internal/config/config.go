package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Ledger      LedgerConfig      `yaml:"ledger"`
	Performance PerformanceConfig `yaml:"performance"`
	Risk        RiskConfig        `yaml:"risk"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Database    struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Schedule struct {
		VerifyCron   string `yaml:"verify_cron"`
		EvaluateCron string `yaml:"evaluate_cron"`
		CloseCron    string `yaml:"close_cron"`
		SummaryCron  string `yaml:"summary_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		ChatID      string `yaml:"chat_id"`
		MinSeverity string `yaml:"min_severity"`
	} `yaml:"telegram"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
		Prefix   string        `yaml:"prefix"`
	} `yaml:"redis"`
	Proxy    string `yaml:"proxy"`
	LogLevel string `yaml:"log_level"`
}

// LedgerConfig configures the bet and movement ledger.
type LedgerConfig struct {
	InitialBankroll float64 `yaml:"initial_bankroll"`
}

// PerformanceConfig holds the reliability tier thresholds.
type PerformanceConfig struct {
	DevelopingMinTips int     `yaml:"developing_min_tips"`
	ReliableMinTips   int     `yaml:"reliable_min_tips"`
	EliteMinTips      int     `yaml:"elite_min_tips"`
	EliteROI          float64 `yaml:"elite_roi"`
}

// RiskConfig holds the detector window and rule thresholds.
type RiskConfig struct {
	WindowSize             int           `yaml:"window_size"`
	WindowDays             int           `yaml:"window_days"`
	EscalationMultiplier   float64       `yaml:"escalation_multiplier"`
	LossStreak             int           `yaml:"loss_streak"`
	ConcentrationThreshold float64       `yaml:"concentration_threshold"`
	ConcentrationMinBets   int           `yaml:"concentration_min_bets"`
	DepletionFraction      float64       `yaml:"depletion_fraction"`
	DepletionSpan          time.Duration `yaml:"depletion_span"`
	SeverityLow            float64       `yaml:"severity_low"`
	SeverityMedium         float64       `yaml:"severity_medium"`
	SeverityHigh           float64       `yaml:"severity_high"`
	ObservationLimit       int           `yaml:"observation_limit"`
}

// BacktestConfig holds defaults for strategy replays.
type BacktestConfig struct {
	InitialBankroll float64 `yaml:"initial_bankroll"`
	FlatStake       float64 `yaml:"flat_stake"`
}

// Load reads .env, then the YAML file, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("INITIAL_BANKROLL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ledger.InitialBankroll = f
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Ledger.InitialBankroll == 0 {
		cfg.Ledger.InitialBankroll = 1000
	}

	p := &cfg.Performance
	if p.DevelopingMinTips == 0 {
		p.DevelopingMinTips = 10
	}
	if p.ReliableMinTips == 0 {
		p.ReliableMinTips = 30
	}
	if p.EliteMinTips == 0 {
		p.EliteMinTips = 100
	}
	if p.EliteROI == 0 {
		p.EliteROI = 0.10
	}

	r := &cfg.Risk
	if r.WindowSize == 0 {
		r.WindowSize = 50
	}
	if r.WindowDays == 0 {
		r.WindowDays = 30
	}
	if r.EscalationMultiplier == 0 {
		r.EscalationMultiplier = 2.0
	}
	if r.LossStreak == 0 {
		r.LossStreak = 3
	}
	if r.ConcentrationThreshold == 0 {
		r.ConcentrationThreshold = 0.40
	}
	if r.ConcentrationMinBets == 0 {
		r.ConcentrationMinBets = 3
	}
	if r.DepletionFraction == 0 {
		r.DepletionFraction = 0.25
	}
	if r.DepletionSpan == 0 {
		r.DepletionSpan = 7 * 24 * time.Hour
	}
	if r.SeverityLow == 0 {
		r.SeverityLow = 0.3
	}
	if r.SeverityMedium == 0 {
		r.SeverityMedium = 0.6
	}
	if r.SeverityHigh == 0 {
		r.SeverityHigh = 0.85
	}
	if r.ObservationLimit == 0 {
		r.ObservationLimit = 500
	}

	if cfg.Backtest.InitialBankroll == 0 {
		cfg.Backtest.InitialBankroll = cfg.Ledger.InitialBankroll
	}
	if cfg.Backtest.FlatStake == 0 {
		cfg.Backtest.FlatStake = 10
	}

	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/bet_sentinel.db"
	}
	if cfg.Schedule.VerifyCron == "" {
		cfg.Schedule.VerifyCron = "0 0 * * * *"
	}
	if cfg.Schedule.EvaluateCron == "" {
		cfg.Schedule.EvaluateCron = "0 */15 * * * *"
	}
	if cfg.Schedule.CloseCron == "" {
		cfg.Schedule.CloseCron = "5 0 0 * * *"
	}
	if cfg.Schedule.SummaryCron == "" {
		cfg.Schedule.SummaryCron = "0 0 22 * * *"
	}
	if cfg.Telegram.MinSeverity == "" {
		cfg.Telegram.MinSeverity = "medium"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "bet_sentinel.ledger"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "bet_sentinel"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks that thresholds are usable.
func (c *Config) Validate() error {
	if c.Ledger.InitialBankroll < 0 {
		return fmt.Errorf("ledger.initial_bankroll must not be negative")
	}
	p := c.Performance
	if p.DevelopingMinTips <= 0 || p.ReliableMinTips < p.DevelopingMinTips || p.EliteMinTips < p.ReliableMinTips {
		return fmt.Errorf("performance tier thresholds must be positive and non-decreasing")
	}
	r := c.Risk
	if r.WindowSize <= 0 || r.WindowDays <= 0 {
		return fmt.Errorf("risk.window_size and risk.window_days must be positive")
	}
	if r.EscalationMultiplier <= 1 {
		return fmt.Errorf("risk.escalation_multiplier must be greater than 1")
	}
	if r.LossStreak <= 0 {
		return fmt.Errorf("risk.loss_streak must be positive")
	}
	if r.ConcentrationThreshold <= 0 || r.ConcentrationThreshold >= 1 {
		return fmt.Errorf("risk.concentration_threshold must be in (0,1)")
	}
	if r.DepletionFraction <= 0 || r.DepletionFraction >= 1 {
		return fmt.Errorf("risk.depletion_fraction must be in (0,1)")
	}
	if !(r.SeverityLow < r.SeverityMedium && r.SeverityMedium < r.SeverityHigh && r.SeverityHigh <= 1) {
		return fmt.Errorf("risk severity bands must be increasing and at most 1")
	}
	if c.Backtest.InitialBankroll <= 0 {
		return fmt.Errorf("backtest.initial_bankroll must be positive")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
