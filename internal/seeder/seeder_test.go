package seeder

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSkipsBlankLinesAndComments(t *testing.T) {
	s := New(nil, discardLogger(), 100)
	input := "# comment\n\n   \nnot a valid url\n"
	result, err := s.Run(context.Background(), strings.NewReader(input), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Parsed != 1 {
		t.Fatalf("Parsed = %d, want 1 (blank lines and comments must not count)", result.Parsed)
	}
}

func TestRunCountsInvalidURLs(t *testing.T) {
	s := New(nil, discardLogger(), 100)
	input := "not a valid url\nwss://10.0.0.1\n"
	result, err := s.Run(context.Background(), strings.NewReader(input), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Parsed != 2 {
		t.Fatalf("Parsed = %d, want 2", result.Parsed)
	}
	if result.Valid != 0 {
		t.Fatalf("Valid = %d, want 0 (both lines are invalid/private)", result.Valid)
	}
	if result.Invalid != 2 {
		t.Fatalf("Invalid = %d, want 2", result.Invalid)
	}
	if result.Stored != 0 {
		t.Fatalf("Stored = %d, want 0 (no facade call needed when nothing validated)", result.Stored)
	}
}
