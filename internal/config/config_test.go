package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetExampleConfigParsesAndValidates(t *testing.T) {
	data, err := GetExampleConfig()
	if err != nil {
		t.Fatalf("GetExampleConfig: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "example.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Name != "bigbrotr" {
		t.Errorf("Database.Name = %q, want bigbrotr", cfg.Database.Name)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.yaml")
	minimal := "database:\n  host: localhost\n  name: bigbrotr\nnetworks:\n  clearnet:\n    enabled: true\n"
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.MinSize != 2 || cfg.Database.MaxSize != 20 {
		t.Errorf("pool size defaults not applied: min=%d max=%d", cfg.Database.MinSize, cfg.Database.MaxSize)
	}
	if cfg.Batch.MaxSize != 1000 {
		t.Errorf("Batch.MaxSize = %d, want 1000", cfg.Batch.MaxSize)
	}
	if cfg.Synchronizer.Timeouts.Clearnet != 1800 {
		t.Errorf("Synchronizer.Timeouts.Clearnet = %d, want 1800", cfg.Synchronizer.Timeouts.Clearnet)
	}
}

func TestValidateRejectsMaxSizeBelowMinSize(t *testing.T) {
	cfg := &Config{Database: Database{Host: "h", Name: "n", MinSize: 10, MaxSize: 5}, Batch: Batch{MaxSize: 100}, Networks: Networks{Clearnet: NetworkPolicy{Enabled: true}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for max_size < min_size")
	}
}

func TestValidateRequiresAtLeastOneNetwork(t *testing.T) {
	cfg := &Config{Database: Database{Host: "h", Name: "n", MaxSize: 1, MinSize: 1}, Batch: Batch{MaxSize: 100}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when no network is enabled")
	}
}

func TestValidateRejectsOversizedBatch(t *testing.T) {
	cfg := &Config{Database: Database{Host: "h", Name: "n"}, Batch: Batch{MaxSize: 200_000}, Networks: Networks{Clearnet: NetworkPolicy{Enabled: true}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for batch.max_size exceeding hard cap")
	}
}

func TestDatabasePasswordMissingEnvReturnsError(t *testing.T) {
	cfg := &Config{Database: Database{PasswordEnv: "BIGBROTR_TEST_UNSET_VAR"}}
	os.Unsetenv("BIGBROTR_TEST_UNSET_VAR")
	if _, err := cfg.DatabasePassword(); err == nil {
		t.Fatal("expected error when password env var is unset")
	}
}

func TestDatabasePasswordReadsFromEnv(t *testing.T) {
	t.Setenv("BIGBROTR_TEST_PW", "secret")
	cfg := &Config{Database: Database{PasswordEnv: "BIGBROTR_TEST_PW"}}
	got, err := cfg.DatabasePassword()
	if err != nil {
		t.Fatalf("DatabasePassword: %v", err)
	}
	if got != "secret" {
		t.Errorf("got %q, want secret", got)
	}
}

func TestNetworkPolicyForNetworkUnknownTagReturnsNotOK(t *testing.T) {
	n := Networks{}
	if _, ok := n.Policy("bogus"); ok {
		t.Fatal("expected ok=false for unknown network tag")
	}
}
