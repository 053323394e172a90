package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Expected default port %s, got %s", DefaultPort, cfg.Port)
	}
	if cfg.TradeTTL != DefaultTradeTTL {
		t.Errorf("Expected default TTL %v, got %v", DefaultTradeTTL, cfg.TradeTTL)
	}
	if cfg.Margin("BTC") != DefaultMargin {
		t.Errorf("Expected default BTC margin %f, got %f", DefaultMargin, cfg.Margin("BTC"))
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRADE_TTL", "5m")
	t.Setenv("MARGIN_BTC", "0.03")
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.TradeTTL != 5*time.Minute {
		t.Errorf("Expected TTL 5m, got %v", cfg.TradeTTL)
	}
	if cfg.Margin("BTC") != 0.03 {
		t.Errorf("Expected BTC margin 0.03, got %f", cfg.Margin("BTC"))
	}
	if cfg.Port != "9999" {
		t.Errorf("Expected port 9999, got %s", cfg.Port)
	}
}

func TestValidate_RejectsBadMargin(t *testing.T) {
	cfg := &Config{
		TradeTTL:     DefaultTradeTTL,
		HeartbeatTTL: DefaultHeartbeatTTL,
		Margins:      map[string]float64{"BTC": 1.5},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for margin >= 1")
	}
}

func TestValidate_RejectsMinAboveMax(t *testing.T) {
	cfg := &Config{
		TradeTTL:     DefaultTradeTTL,
		HeartbeatTTL: DefaultHeartbeatTTL,
		Margins:      map[string]float64{"BTC": 0.02},
		MinAmounts:   map[string]float64{"BTC": 10},
		MaxAmounts:   map[string]float64{"BTC": 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when min > max")
	}
}

func TestValidate_ProductionRequiresGatewaySecret(t *testing.T) {
	cfg := &Config{
		Env:          "production",
		TradeTTL:     DefaultTradeTTL,
		HeartbeatTTL: DefaultHeartbeatTTL,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for missing GATEWAY_SECRET in production")
	}
}

func TestMargin_UnknownAssetFallsBack(t *testing.T) {
	cfg := &Config{Margins: map[string]float64{"BTC": 0.05}}
	if m := cfg.Margin("DOGE"); m != DefaultMargin {
		t.Errorf("Expected default margin for unknown asset, got %f", m)
	}
	if m := cfg.Margin("btc"); m != 0.05 {
		t.Errorf("Expected case-insensitive lookup, got %f", m)
	}
}
