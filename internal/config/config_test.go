package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Signals.Feeds) == 0 {
		t.Error("expected feeds to be populated")
	}
	if cfg.Account.RevisitNoReplyDays != 90 {
		t.Errorf("expected revisit_no_reply_days 90, got %d", cfg.Account.RevisitNoReplyDays)
	}
	if cfg.Account.RevisitNegativeDays != 180 {
		t.Errorf("expected revisit_negative_days 180, got %d", cfg.Account.RevisitNegativeDays)
	}
	if cfg.Discovery.DailyCap != 200 || cfg.Discovery.PerDomainPerHour != 3 {
		t.Errorf("expected caps 200/3, got %d/%d", cfg.Discovery.DailyCap, cfg.Discovery.PerDomainPerHour)
	}
	if cfg.Discovery.SMTPTimeout != 5*time.Second {
		t.Errorf("expected smtp_timeout 5s, got %s", cfg.Discovery.SMTPTimeout)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}

	for k, v := range DefaultConfidenceWeights() {
		if cfg.Account.ConfidenceWeights[k] != v {
			t.Errorf("weight %s: expected %d, got %d", k, v, cfg.Account.ConfidenceWeights[k])
		}
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
account:
  revisit_no_reply_days: 30
  confidence_weights:
    email_verified: 40
llm:
  provider: openai
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Account.RevisitNoReplyDays != 30 {
		t.Errorf("expected 30, got %d", cfg.Account.RevisitNoReplyDays)
	}
	if cfg.Account.ConfidenceWeights[WeightEmailVerified] != 40 {
		t.Errorf("expected overridden weight 40, got %d", cfg.Account.ConfidenceWeights[WeightEmailVerified])
	}
	// Defaults should still be set for unspecified fields
	if cfg.Account.ConfidenceWeights[WeightHasOpens] != 5 {
		t.Errorf("expected default has_opens weight 5, got %d", cfg.Account.ConfidenceWeights[WeightHasOpens])
	}
	if cfg.Account.RevisitNegativeDays != 180 {
		t.Errorf("expected default revisit_negative_days, got %d", cfg.Account.RevisitNegativeDays)
	}
	if cfg.LLM.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.LLM.OllamaURL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
}

func TestParseRejectsUnknownWeight(t *testing.T) {
	data := []byte(`
account:
  confidence_weights:
    shoe_size: 5
`)
	if _, err := parse(data); err == nil {
		t.Error("expected error for unknown weight key")
	}
}

func TestParseRejectsNegativeWeight(t *testing.T) {
	data := []byte(`
account:
  confidence_weights:
    phone_exists: -1
`)
	if _, err := parse(data); err == nil {
		t.Error("expected error for negative weight")
	}
}

func TestParseRejectsZeroTimer(t *testing.T) {
	data := []byte(`
account:
  revisit_negative_days: 0
`)
	if _, err := parse(data); err == nil {
		t.Error("expected error for zero revisit timer")
	}
}

func TestDefaultWeightsAreIndependentCopies(t *testing.T) {
	a := Default()
	a.Account.ConfidenceWeights[WeightPhoneExists] = 99

	b := Default()
	if b.Account.ConfidenceWeights[WeightPhoneExists] != 10 {
		t.Errorf("expected fresh weight table, got %d", b.Account.ConfidenceWeights[WeightPhoneExists])
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Signals.Keywords) == 0 {
		t.Error("expected keywords to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}
