package geo

import (
	"net"
	"testing"
	"time"
)

func TestNeedsRefreshMissingFile(t *testing.T) {
	if !NeedsRefresh(false, 0, 24*time.Hour) {
		t.Fatal("missing file must always need refresh")
	}
}

func TestNeedsRefreshStaleFile(t *testing.T) {
	if !NeedsRefresh(true, 31*24*time.Hour, 30*24*time.Hour) {
		t.Fatal("file older than max age must need refresh")
	}
}

func TestNeedsRefreshFreshFile(t *testing.T) {
	if NeedsRefresh(true, 1*time.Hour, 30*24*time.Hour) {
		t.Fatal("fresh file must not need refresh")
	}
}

func TestNeedsRefreshDefaultsTo30Days(t *testing.T) {
	if NeedsRefresh(true, 29*24*time.Hour, 0) {
		t.Fatal("29 days old should be within the default 30-day window")
	}
	if !NeedsRefresh(true, 31*24*time.Hour, 0) {
		t.Fatal("31 days old should exceed the default 30-day window")
	}
}

func TestResolveIPv4ThenIPv6PrefersIPv4(t *testing.T) {
	ips := []net.IP{net.ParseIP("2001:db8::1"), net.ParseIP("192.0.2.1")}
	got, ok := ResolveIPv4ThenIPv6(ips)
	if !ok || got.To4() == nil {
		t.Fatalf("expected an IPv4 result, got %v", got)
	}
}

func TestResolveIPv4ThenIPv6FallsBackToIPv6(t *testing.T) {
	ips := []net.IP{net.ParseIP("2001:db8::1")}
	got, ok := ResolveIPv4ThenIPv6(ips)
	if !ok || got.To4() != nil {
		t.Fatalf("expected an IPv6 fallback, got %v", got)
	}
}

func TestResolveIPv4ThenIPv6EmptyInput(t *testing.T) {
	if _, ok := ResolveIPv4ThenIPv6(nil); ok {
		t.Fatal("expected ok=false for empty input")
	}
}
