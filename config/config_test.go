package config

import (
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]string{
		"--mapping.hole-port=6666",
		"--mapping.next-lifetime=10s",
		"--housekeeper.remap-interval-ms=500",
		"--adjuster.desired-gas-price-gwei=40",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Mapping.HolePort != 6666 {
		t.Errorf("expected HolePort 6666, got %d", cfg.Mapping.HolePort)
	}
	if cfg.Mapping.NextLifetime != 10*time.Second {
		t.Errorf("expected NextLifetime 10s, got %v", cfg.Mapping.NextLifetime)
	}
	if cfg.Housekeeper.RemapIntervalMs != 500 {
		t.Errorf("expected RemapIntervalMs 500, got %d", cfg.Housekeeper.RemapIntervalMs)
	}
	if cfg.Adjuster.DesiredGasPriceGwei != 40 {
		t.Errorf("expected DesiredGasPriceGwei 40, got %d", cfg.Adjuster.DesiredGasPriceGwei)
	}
}

func TestDefaultMatchesUnparsedConfig(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Mapping.NextLifetime != 600*time.Second {
		t.Errorf("expected default NextLifetime 600s, got %v", cfg.Mapping.NextLifetime)
	}
	if cfg.DebugLevel != "info" {
		t.Errorf("expected default debug level info, got %q", cfg.DebugLevel)
	}
}
