package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Risk.WindowSize != 50 || cfg.Risk.WindowDays != 30 {
		t.Errorf("window defaults = %d/%d, want 50/30", cfg.Risk.WindowSize, cfg.Risk.WindowDays)
	}
	if cfg.Risk.LossStreak != 3 {
		t.Errorf("loss streak default = %d, want 3", cfg.Risk.LossStreak)
	}
	if cfg.Risk.ConcentrationThreshold != 0.40 {
		t.Errorf("concentration default = %.2f, want 0.40", cfg.Risk.ConcentrationThreshold)
	}
	if cfg.Performance.DevelopingMinTips != 10 || cfg.Performance.ReliableMinTips != 30 || cfg.Performance.EliteMinTips != 100 {
		t.Errorf("unexpected tier defaults: %+v", cfg.Performance)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
ledger:
  initial_bankroll: 500
risk:
  loss_streak: 4
  depletion_span: 48h
database:
  sqlite_path: /tmp/from-yaml.db
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SQLITE_PATH", "/tmp/from-env.db")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ledger.InitialBankroll != 500 {
		t.Errorf("initial bankroll = %.0f, want 500", cfg.Ledger.InitialBankroll)
	}
	if cfg.Backtest.InitialBankroll != 500 {
		t.Errorf("backtest bankroll should default to ledger bankroll, got %.0f", cfg.Backtest.InitialBankroll)
	}
	if cfg.Risk.LossStreak != 4 {
		t.Errorf("loss streak = %d, want 4", cfg.Risk.LossStreak)
	}
	if cfg.Risk.DepletionSpan != 48*time.Hour {
		t.Errorf("depletion span = %v, want 48h", cfg.Risk.DepletionSpan)
	}
	if cfg.Database.SQLitePath != "/tmp/from-env.db" {
		t.Errorf("env should override sqlite path, got %s", cfg.Database.SQLitePath)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"multiplier not above one", func(c *Config) { c.Risk.EscalationMultiplier = 1 }},
		{"threshold out of range", func(c *Config) { c.Risk.ConcentrationThreshold = 1.2 }},
		{"bands not increasing", func(c *Config) { c.Risk.SeverityMedium = 0.2 }},
		{"tiers decreasing", func(c *Config) { c.Performance.EliteMinTips = 20 }},
		{"telegram half configured", func(c *Config) { c.Telegram.BotToken = "x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
