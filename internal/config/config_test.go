package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.Trading.MaxOrderSize.Equal(decimal.NewFromInt(10)) {
		t.Errorf("MaxOrderSize = %s, want 10", cfg.Trading.MaxOrderSize)
	}
	if !cfg.Trading.Slippage.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("Slippage = %s, want 0.001", cfg.Trading.Slippage)
	}
	if !cfg.Risk.MaxLeverage.Equal(decimal.NewFromInt(3)) {
		t.Errorf("MaxLeverage = %s, want 3", cfg.Risk.MaxLeverage)
	}
	if cfg.Risk.CheckInterval != 60*time.Second {
		t.Errorf("CheckInterval = %v, want 60s", cfg.Risk.CheckInterval)
	}
	if cfg.MarketData.MaxSymbols != 30 {
		t.Errorf("MaxSymbols = %d, want 30", cfg.MarketData.MaxSymbols)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_ORDER_SIZE", "25.5")
	t.Setenv("RISK_CHECK_INTERVAL", "5s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DB_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.Trading.MaxOrderSize.Equal(decimal.RequireFromString("25.5")) {
		t.Errorf("MaxOrderSize = %s, want 25.5", cfg.Trading.MaxOrderSize)
	}
	if cfg.Risk.CheckInterval != 5*time.Second {
		t.Errorf("CheckInterval = %v, want 5s", cfg.Risk.CheckInterval)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Database.Enabled {
		t.Error("Database.Enabled should be false")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port out of range", "SERVER_PORT", "70000", "SERVER_PORT"},
		{"max below min", "MAX_ORDER_SIZE", "0.0001", "MAX_ORDER_SIZE"},
		{"slippage too large", "MAX_SLIPPAGE", "1.5", "MAX_SLIPPAGE"},
		{"zero leverage", "MAX_LEVERAGE", "0", "MAX_LEVERAGE"},
		{"concentration above one", "MAX_CONCENTRATION", "1.2", "MAX_CONCENTRATION"},
		{"zero shards", "MARKET_SHARDS", "0", "MARKET_SHARDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvAsDecimal_FallbackOnGarbage(t *testing.T) {
	t.Setenv("SOME_DECIMAL", "not-a-number")
	got := getEnvAsDecimal("SOME_DECIMAL", "1.25")
	if !got.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("got %s, want 1.25", got)
	}
}

func TestDSNWithoutPassword(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "secret", Name: "n", SSLMode: "disable"}
	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Error("DSNWithoutPassword leaks password")
	}
	if !strings.Contains(d.DSN(), "password=secret") {
		t.Error("DSN must contain password")
	}
}
