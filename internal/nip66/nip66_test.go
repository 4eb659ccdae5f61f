package nip66

import (
	"context"
	"errors"
	"testing"
)

func TestCascadeFailureForcesReadWriteFalse(t *testing.T) {
	logs := CascadeFailure("connection refused")
	if logs.OpenSuccess {
		t.Fatal("OpenSuccess must be false")
	}
	if logs.ReadSuccess || logs.WriteSuccess {
		t.Fatal("read/write must cascade to false when open fails")
	}
	if logs.OpenReason == "" || logs.ReadReason == "" || logs.WriteReason == "" {
		t.Fatal("every phase must carry a non-empty reason when it failed")
	}
}

func TestOkHasNoReason(t *testing.T) {
	logs := Ok()
	if !logs.Success || logs.Reason != "" {
		t.Fatalf("Ok() = %+v, want success=true reason=empty", logs)
	}
}

func TestFailAlwaysHasReason(t *testing.T) {
	logs := Fail("probe failed: %s", "timeout")
	if logs.Success || logs.Reason == "" {
		t.Fatalf("Fail() = %+v, want success=false with non-empty reason", logs)
	}
}

func TestEncodeGeohashIsDeterministicAndBoundedLength(t *testing.T) {
	a := encodeGeohash(57.64911, 10.40744, 9)
	b := encodeGeohash(57.64911, 10.40744, 9)
	if a != b {
		t.Fatalf("encodeGeohash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 9 {
		t.Fatalf("len(geohash) = %d, want 9", len(a))
	}
}

func TestEncodeGeohashDifferentCoordinatesDiffer(t *testing.T) {
	a := encodeGeohash(0, 0, 5)
	b := encodeGeohash(45, 90, 5)
	if a == b {
		t.Fatal("expected different geohashes for different coordinates")
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: 5}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: 2}, func() error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 { // initial attempt + 2 retries
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestBuildDiscoveryEventIncludesRelayIdentifierTag(t *testing.T) {
	ev := BuildDiscoveryEvent(CheckSummary{RelayURL: "wss://relay.example.com"})
	if ev.Kind != 30166 {
		t.Fatalf("Kind = %d, want 30166", ev.Kind)
	}
	found := false
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "d" && tag[1] == "wss://relay.example.com" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a d tag naming the relay URL")
	}
}

func TestBuildAnnouncementEventIncludesFrequencyAndChecks(t *testing.T) {
	ev := BuildAnnouncementEvent(300, []AnnouncementCheck{{Name: "rtt", TimeoutMs: 5000}})
	if ev.Kind != 10166 {
		t.Fatalf("Kind = %d, want 10166", ev.Kind)
	}
	var sawFrequency, sawCheck bool
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "frequency" && tag[1] == "300" {
			sawFrequency = true
		}
		if len(tag) >= 2 && tag[0] == "c" && tag[1] == "rtt" {
			sawCheck = true
		}
	}
	if !sawFrequency || !sawCheck {
		t.Fatalf("missing expected tags: %+v", ev.Tags)
	}
}

func TestBuildProfileEventRendersJSONContent(t *testing.T) {
	ev, err := BuildProfileEvent(Profile{Name: "bigbrotr monitor"})
	if err != nil {
		t.Fatalf("BuildProfileEvent: %v", err)
	}
	if ev.Kind != 0 {
		t.Fatalf("Kind = %d, want 0", ev.Kind)
	}
	if ev.Content == "" {
		t.Fatal("expected non-empty content")
	}
}
