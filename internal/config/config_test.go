package config

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Provider.Instance = "inst1"
	cfg.Provider.Token = "tok1"
	cfg.Trigger.Repository = "acme/automation"
	cfg.Trigger.Token = "gh-token"
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	// Defaults carry unresolved ${VAR} placeholders.
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("expected error for unresolved credentials")
	}
	for _, want := range []string{"provider.instance", "provider.token", "trigger.repository", "trigger.token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestValidate_EmptyFilter(t *testing.T) {
	cfg := validConfig()
	cfg.Filter.Keyword = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error when no filter predicate is configured")
	}
}

func TestValidate_BadPattern(t *testing.T) {
	cfg := validConfig()
	cfg.Filter.Pattern = "("
	if err := Validate(cfg); err == nil {
		t.Error("expected error for invalid regex pattern")
	}
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validConfig()
	cfg.General.PollIntervalSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for zero poll interval")
	}

	cfg = validConfig()
	cfg.Webhook.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Error("expected error for out-of-range port")
	}

	cfg = validConfig()
	cfg.Trigger.MaxRetries = 11
	if err := Validate(cfg); err == nil {
		t.Error("expected error for excessive retry ceiling")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ZR_TEST_VAL", "hello")

	if got := ExpandEnvVars("${ZR_TEST_VAL}"); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if got := ExpandEnvVars("${ZR_TEST_UNSET:-fallback}"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := ExpandEnvVars("${ZR_TEST_UNSET}"); got != "${ZR_TEST_UNSET}" {
		t.Errorf("unset without default should keep placeholder, got %q", got)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	t.Setenv("ZAPI_INSTANCE", "inst1")
	t.Setenv("ZAPI_TOKEN", "tok1")
	t.Setenv("GITHUB_REPOSITORY", "acme/automation")
	t.Setenv("GH_TOKEN", "gh-token")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Instance != "inst1" {
		t.Errorf("env not expanded: %q", cfg.Provider.Instance)
	}
	if cfg.Trigger.EventType != "mensagem_recebida" {
		t.Errorf("default event type lost: %q", cfg.Trigger.EventType)
	}
	if cfg.Filter.Keyword != "zumo" {
		t.Errorf("default keyword lost: %q", cfg.Filter.Keyword)
	}
}

func TestResolve_FromEnvironment(t *testing.T) {
	t.Setenv("ZAPI_INSTANCE", "inst1")
	t.Setenv("ZAPI_TOKEN", "tok1")
	t.Setenv("GITHUB_REPOSITORY", "acme/automation")
	t.Setenv("GH_TOKEN", "gh-token")

	cfg, err := Resolve(Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("env-resolved config should validate: %v", err)
	}
	if cfg.Trigger.Repository != "acme/automation" {
		t.Errorf("unexpected repository: %q", cfg.Trigger.Repository)
	}
}

func TestFlexStringList(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["123", 456]`), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0] != "123" || list[1] != "456" {
		t.Errorf("unexpected list: %v", list)
	}
}

func TestSanitize(t *testing.T) {
	cfg := validConfig()
	out := Sanitize(cfg)
	if out.Trigger.Token == cfg.Trigger.Token {
		t.Error("trigger token should be masked")
	}
	if cfg.Trigger.Token != "gh-token" {
		t.Error("original config must not be mutated")
	}
}
