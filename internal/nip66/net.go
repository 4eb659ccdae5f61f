package nip66

import (
	"net"

	"github.com/bigbrotr/bigbrotr/internal/geo"
)

// NetResult is the NIP-66 Net probe's metadata value (spec.md §4.7.1:
// ASN DB lookup, IPv4 preferred with IPv6 fallback).
type NetResult struct {
	ASN    uint32 `json:"net_asn,omitempty"`
	ASNOrg string `json:"net_asn_org,omitempty"`
	IPv6   bool   `json:"net_ipv6,omitempty"`
}

// NetProbe looks up ip's autonomous system in reader.
func NetProbe(reader geo.ASNReader, ip net.IP) (NetResult, Logs) {
	asn, err := reader.ASN(ip)
	if err != nil {
		return NetResult{}, Fail("asn lookup: %v", err)
	}
	return NetResult{ASN: asn.ASN, ASNOrg: asn.ASNOrg, IPv6: asn.IsIPv6}, Ok()
}
