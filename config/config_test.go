package config_test

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/pubnub-go/pncore/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Origin == "" {
		t.Error("Origin should default to pubsub.pubnub.com")
	}
	if cfg.TransactionTimeout < 10*time.Second {
		t.Errorf("TransactionTimeout should be >= 10s, got %v", cfg.TransactionTimeout)
	}
	if cfg.CtxMax <= 0 {
		t.Errorf("CtxMax should be > 0, got %d", cfg.CtxMax)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should validate cleanly: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := map[string]interface{}{
		"origin":              "pubsub.pubnub.com",
		"port":                80,
		"number_of_contexts":  2,
		"ctx_max":             2,
		"use_static_pool":     true,
		"transaction_timeout": int64(30 * time.Second),
		"publish_key":         "demo",
		"subscribe_key":       "demo",
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PublishKey != "demo" {
		t.Errorf("got PublishKey=%q, want demo", cfg.PublishKey)
	}
	if cfg.Origin != "pubsub.pubnub.com" {
		t.Errorf("got Origin=%q, want pubsub.pubnub.com", cfg.Origin)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json}")
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestValidate_RejectsShortTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TransactionTimeout = 5 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sub-10s transaction timeout")
	}
}

func TestValidate_RejectsZeroCtxMax(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UseStaticPool = true
	cfg.CtxMax = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero ctx_max with static pool")
	}
}
