package dbpool

import (
	"errors"
	"testing"
)

func TestConfigValidateAppliesDefaults(t *testing.T) {
	cfg := Config{DSN: "postgres://x"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MinSize != 2 || cfg.MaxSize != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestConfigValidateRejectsMaxLessThanMin(t *testing.T) {
	cfg := Config{DSN: "postgres://x", MinSize: 10, MaxSize: 5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when max_size < min_size")
	}
}

func TestIsTransientDistinguishesErrorClasses(t *testing.T) {
	if isTransient(errors.New("syntax error at or near")) {
		t.Fatal("syntax errors must not be treated as transient")
	}
	if isTransient(errors.New("duplicate key value violates unique constraint")) {
		t.Fatal("constraint violations must not be treated as transient")
	}
	if !isTransient(errors.New("read tcp: connection reset by peer")) {
		t.Fatal("connection reset should be transient")
	}
	if !isTransient(errors.New("dial tcp: connection refused")) {
		t.Fatal("connection refused should be transient")
	}
}
