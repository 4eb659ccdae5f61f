// Package geo defines the GeoLookup capability (spec.md §1, §4.7 step
// 1-2): City/ASN database readers Monitor opens once per cycle and
// consults from the NIP-66 Geo/Net probes. GeoIP database download and
// parsing are explicitly out of scope (spec.md §1) — this package
// supplies the interface and the staleness check that Monitor's
// orchestration loop needs, leaving the concrete MaxMind reader
// pluggable.
package geo

import (
	"context"
	"net"
	"time"
)

// CityResult is the NIP-66 Geo probe's output shape (spec.md §4.7.1).
type CityResult struct {
	Country string
	City    string
	Lat     float64
	Lon     float64
	TZ      string
}

// NetResult is the NIP-66 Net probe's output shape.
type NetResult struct {
	ASN     uint32
	ASNOrg  string
	IsIPv6  bool
}

// CityReader looks up city-level geolocation for an IP address.
type CityReader interface {
	City(ip net.IP) (CityResult, error)
	Close() error
}

// ASNReader looks up autonomous-system info for an IP address.
type ASNReader interface {
	ASN(ip net.IP) (NetResult, error)
	Close() error
}

// DatabaseOpener opens a reader from a MaxMind-format .mmdb file path,
// the seam a concrete GeoIP download/parse implementation plugs into.
type DatabaseOpener interface {
	OpenCity(path string) (CityReader, error)
	OpenASN(path string) (ASNReader, error)
}

// Refresher downloads/refreshes the City and ASN databases, returning
// their on-disk paths. Concrete download logic is out of scope (spec.md
// §1); Monitor only depends on this interface so its step-1 staleness
// check and failure-is-non-fatal handling (spec.md §4.7 step 1) can be
// exercised and tested without a real downloader.
type Refresher interface {
	Refresh(ctx context.Context, maxAge time.Duration) (cityPath, asnPath string, err error)
}

// NeedsRefresh reports whether a database file of age fileAge should be
// re-downloaded, per spec.md §4.7 step 1's "missing or older than
// max_age_days (default 30)" rule. exists=false always needs refresh.
func NeedsRefresh(exists bool, fileAge time.Duration, maxAge time.Duration) bool {
	if !exists {
		return true
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return fileAge > maxAge
}

// ResolveIPv4ThenIPv6 returns the first IPv4 address in ips, falling
// back to the first IPv6 address, matching spec.md §4.7.1's "IPv4
// preferred, IPv6 fallback" rule shared by the Geo and Net probes.
func ResolveIPv4ThenIPv6(ips []net.IP) (net.IP, bool) {
	var fallback net.IP
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, true
		}
		if fallback == nil {
			fallback = ip
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}
