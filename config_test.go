package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(configPathEnvVar, "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Stripe.Match != string(MatchByAmount) {
		t.Errorf("Stripe.Match = %s, want amount", cfg.Stripe.Match)
	}
	if cfg.EveryOrg.Privacy != string(PrivacyDrop) {
		t.Errorf("EveryOrg.Privacy = %s, want drop", cfg.EveryOrg.Privacy)
	}
	if cfg.Donors.SponsorThreshold != DefaultSponsorThreshold || cfg.Donors.BaseCurrency != "usd" {
		t.Errorf("Donors = %+v", cfg.Donors)
	}
	if cfg.EveryOrg.Timeout != 30*time.Second {
		t.Errorf("EveryOrg.Timeout = %v, want 30s", cfg.EveryOrg.Timeout)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "donors.yaml")
	yaml := `
stripe:
  match: reference
everyorg:
  privacy: redact
donors:
  grace_period_days: 3
server:
  port: "4000"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(configPathEnvVar, path)
	t.Setenv("PORT", "5000")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_abc")
	t.Setenv("EVERY_ORG_SESSION_COOKIE", "session=abc")
	t.Setenv("SERVER_REFRESH_INTERVAL", "15m")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Stripe.Match != string(MatchByReference) || cfg.EveryOrg.Privacy != string(PrivacyRedact) {
		t.Errorf("file values not applied: %+v %+v", cfg.Stripe, cfg.EveryOrg)
	}
	if cfg.Donors.GracePeriodDays != 3 || cfg.recency().GracePeriodDays != 3 {
		t.Errorf("GracePeriodDays = %d, want 3", cfg.Donors.GracePeriodDays)
	}
	if cfg.Server.Port != "5000" {
		t.Errorf("Server.Port = %s, want the environment to win", cfg.Server.Port)
	}
	if cfg.Stripe.SecretKey != "sk_test_abc" || cfg.EveryOrg.SessionCookie != "session=abc" {
		t.Errorf("secrets not loaded from the environment")
	}
	if cfg.Server.RefreshInterval != 15*time.Minute {
		t.Errorf("RefreshInterval = %v, want 15m", cfg.Server.RefreshInterval)
	}
	if cfg.Stripe.NameField != "nametolistinbevycredits" {
		t.Errorf("NameField = %s, want default kept", cfg.Stripe.NameField)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown match strategy", "STRIPE_MATCH", "bogus"},
		{"unknown privacy policy", "EVERYORG_PRIVACY", "leak"},
		{"bad currency", "DONORS_BASE_CURRENCY", "dollars"},
		{"non numeric port", "PORT", "http"},
		{"zero threshold", "DONORS_SPONSOR_THRESHOLD", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(configPathEnvVar, "")
			t.Setenv(tt.key, tt.value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("loadConfig() with %s=%s want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv(configPathEnvVar, filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() want error for an explicit missing config file")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"STRIPE_SECRET_KEY":        "stripe.secret_key",
		"EVERY_ORG_SESSION_COOKIE": "everyorg.session_cookie",
		"DATABASE_URL":             "database.url",
		"HOME":                     "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
