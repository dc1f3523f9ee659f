package emuconfig

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Bus.Region != "us-east-1" {
		t.Errorf("Bus.Region = %q, want us-east-1", cfg.Bus.Region)
	}
	if cfg.Bus.Account != "000000000000" {
		t.Errorf("Bus.Account = %q, want 000000000000", cfg.Bus.Account)
	}
	if cfg.Bus.DefaultVisibilityTimeout != 30*time.Second {
		t.Errorf("Bus.DefaultVisibilityTimeout = %v, want 30s", cfg.Bus.DefaultVisibilityTimeout)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("EMULATOR_ACCOUNT_ID", "123456789012")
	t.Setenv("DEFAULT_VISIBILITY_TIMEOUT", "45s")
	t.Setenv("CORS_ORIGINS", "http://a.example,http://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP.Port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Bus.Region != "eu-west-1" {
		t.Errorf("Bus.Region = %q, want eu-west-1", cfg.Bus.Region)
	}
	if cfg.Bus.Account != "123456789012" {
		t.Errorf("Bus.Account = %q, want 123456789012", cfg.Bus.Account)
	}
	if cfg.Bus.DefaultVisibilityTimeout != 45*time.Second {
		t.Errorf("Bus.DefaultVisibilityTimeout = %v, want 45s", cfg.Bus.DefaultVisibilityTimeout)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[0] != "http://a.example" {
		t.Errorf("HTTP.CORSOrigins = %v, want 2 entries", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadInvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want fallback 8080", cfg.HTTP.Port)
	}
}
