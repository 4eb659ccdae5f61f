package nip66

import (
	"context"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DNSResult is the NIP-66 DNS probe's metadata value (spec.md §4.7.1:
// clearnet-only, A/AAAA/CNAME/NS/PTR records).
type DNSResult struct {
	A     []string `json:"a,omitempty"`
	AAAA  []string `json:"aaaa,omitempty"`
	CNAME string   `json:"cname,omitempty"`
	NS    []string `json:"ns,omitempty"`
	PTR   []string `json:"ptr,omitempty"`
}

// DNSProbe resolves host's records with a stdlib resolver. NS records
// are resolved against the registered (public-suffix-aware) domain per
// spec.md §4.7.1.
func DNSProbe(ctx context.Context, resolver *net.Resolver, host string) (DNSResult, Logs) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	var result DNSResult

	ips, err := resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return DNSResult{}, Fail("lookup ip: %v", err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			result.A = append(result.A, v4.String())
		} else {
			result.AAAA = append(result.AAAA, ip.String())
		}
	}

	if cname, err := resolver.LookupCNAME(ctx, host); err == nil {
		result.CNAME = strings.TrimSuffix(cname, ".")
	}

	registeredDomain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registeredDomain = host
	}
	if ns, err := resolver.LookupNS(ctx, registeredDomain); err == nil {
		for _, n := range ns {
			result.NS = append(result.NS, strings.TrimSuffix(n.Host, "."))
		}
	}

	if len(ips) > 0 {
		if ptrs, err := resolver.LookupAddr(ctx, ips[0].String()); err == nil {
			for _, p := range ptrs {
				result.PTR = append(result.PTR, strings.TrimSuffix(p, "."))
			}
		}
	}

	return result, Ok()
}
