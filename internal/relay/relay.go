// Package relay implements the universal relay identity of spec.md §3.1:
// URL parsing, normalization, and network classification.
package relay

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Network names a disjoint Nostr transport network a relay lives on.
type Network string

const (
	Clearnet Network = "clearnet"
	Tor      Network = "tor"
	I2P      Network = "i2p"
	Loki     Network = "loki"
)

// Normalized is the canonical, storable identity of a relay.
type Normalized struct {
	URL     string // scheme://host[:port]/path, normalized
	Network Network
	Scheme  string
	Host    string
	Port    *int
}

var (
	// ErrInvalidURL covers malformed/unparseable relay URLs.
	ErrInvalidURL = errors.New("relay: invalid url")
	// ErrInvalidScheme is returned when the scheme is not ws/wss.
	ErrInvalidScheme = errors.New("relay: scheme must be ws or wss")
	// ErrQueryOrFragment is returned when the URL carries a query or fragment.
	ErrQueryOrFragment = errors.New("relay: url must not have query or fragment")
	// ErrLocalHost is returned for localhost/private/reserved hosts.
	ErrLocalHost = errors.New("relay: host is local, private, or reserved")
	// ErrUnclassifiableHost is returned when the host is neither a valid
	// DNS label nor a recognized overlay TLD.
	ErrUnclassifiableHost = errors.New("relay: host cannot be classified onto a network")
	// ErrNullByte is returned for any null byte anywhere in the URL.
	ErrNullByte = errors.New("relay: url contains a null byte")
)

// Parse validates and normalizes a raw candidate relay URL per spec.md
// §3.1. Parse is idempotent: Parse(Parse(u).URL) == Parse(u).
func Parse(raw string) (*Normalized, error) {
	raw = strings.TrimSpace(raw)
	if strings.IndexByte(raw, 0) >= 0 {
		return nil, ErrNullByte
	}
	if raw == "" {
		return nil, ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, ErrInvalidScheme
	}
	if u.Host == "" {
		return nil, ErrInvalidURL
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, ErrQueryOrFragment
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, ErrInvalidURL
	}

	network, err := classify(host)
	if err != nil {
		return nil, err
	}

	if network == Clearnet {
		if err := rejectLocalOrPrivate(host); err != nil {
			return nil, err
		}
	}

	// Scheme is forced: clearnet -> wss, overlay networks -> ws.
	finalScheme := "ws"
	if network == Clearnet {
		finalScheme = "wss"
	}

	var port *int
	if p := u.Port(); p != "" {
		portNum := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return nil, ErrInvalidURL
			}
			portNum = portNum*10 + int(c-'0')
		}
		// Default ports are elided from the normalized URL.
		if !(finalScheme == "ws" && portNum == 80) && !(finalScheme == "wss" && portNum == 443) {
			port = &portNum
		}
	}

	path := collapsePath(u.EscapedPath())

	hostPort := host
	if port != nil {
		hostPort = fmt.Sprintf("%s:%d", host, *port)
	}

	normalizedURL := finalScheme + "://" + hostPort + path
	if strings.IndexByte(normalizedURL, 0) >= 0 {
		return nil, ErrNullByte
	}

	return &Normalized{
		URL:     normalizedURL,
		Network: network,
		Scheme:  finalScheme,
		Host:    host,
		Port:    port,
	}, nil
}

// collapsePath removes duplicate slashes and strips a trailing slash,
// leaving "" (not "/") for the root path.
func collapsePath(p string) string {
	if p == "" {
		return ""
	}
	var b strings.Builder
	lastSlash := false
	for _, r := range p {
		if r == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "/" {
		return ""
	}
	return strings.TrimSuffix(out, "/")
}

// classify derives a relay's network purely from its host, per spec.md
// §3.1: recognized overlay TLDs map to tor/i2p/loki, a valid DNS label
// (or literal IP) maps to clearnet, anything else is rejected.
func classify(host string) (Network, error) {
	switch {
	case strings.HasSuffix(host, ".onion"):
		return Tor, nil
	case strings.HasSuffix(host, ".i2p"):
		return I2P, nil
	case strings.HasSuffix(host, ".loki"):
		return Loki, nil
	}

	if net.ParseIP(host) != nil {
		return Clearnet, nil
	}
	if isValidDNSLabelSequence(host) {
		return Clearnet, nil
	}
	return "", ErrUnclassifiableHost
}

func isValidDNSLabelSequence(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 1 {
		return false
	}
	for _, l := range labels {
		if !isValidDNSLabel(l) {
			return false
		}
	}
	return true
}

func isValidDNSLabel(l string) bool {
	if len(l) == 0 || len(l) > 63 {
		return false
	}
	if l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for _, c := range l {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// rejectLocalOrPrivate rejects localhost and any IANA private/reserved
// IPv4/IPv6 range (spec.md §3.1). The check is literal: hostnames are
// not resolved, so a DNS name that points at a private address passes.
func rejectLocalOrPrivate(host string) error {
	if host == "localhost" {
		return ErrLocalHost
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP; DNS labels pass through unchecked.
		return nil
	}
	if isPrivateOrReserved(ip) {
		return ErrLocalHost
	}
	return nil
}

// IsPrivateOrReserved reports whether ip falls in a private, loopback,
// link-local, reserved, or otherwise non-routable range. Exported so
// callers that resolve DNS names before dialing can re-check the
// resolved address.
func IsPrivateOrReserved(ip net.IP) bool {
	return isPrivateOrReserved(ip)
}

func isPrivateOrReserved(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		reserved := []net.IPNet{
			{IP: net.IPv4(0, 0, 0, 0), Mask: net.CIDRMask(8, 32)},
			{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)},   // CGN
			{IP: net.IPv4(192, 0, 0, 0), Mask: net.CIDRMask(24, 32)},   // IETF protocol assignments
			{IP: net.IPv4(192, 0, 2, 0), Mask: net.CIDRMask(24, 32)},   // TEST-NET-1
			{IP: net.IPv4(198, 18, 0, 0), Mask: net.CIDRMask(15, 32)},  // benchmarking
			{IP: net.IPv4(198, 51, 100, 0), Mask: net.CIDRMask(24, 32)}, // TEST-NET-2
			{IP: net.IPv4(203, 0, 113, 0), Mask: net.CIDRMask(24, 32)},  // TEST-NET-3
			{IP: net.IPv4(240, 0, 0, 0), Mask: net.CIDRMask(4, 32)},     // reserved
			{IP: net.IPv4(255, 255, 255, 255), Mask: net.CIDRMask(32, 32)},
		}
		for _, r := range reserved {
			if r.Contains(ip4) {
				return true
			}
		}
		return false
	}
	// IPv6 ULA (fc00::/7) is covered by ip.IsPrivate() on modern Go.
	return false
}
