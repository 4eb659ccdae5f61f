package nip66

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// CheckSummary is one relay's aggregated probe outcomes, the input to
// BuildDiscoveryEvent (spec.md §4.7.3's kind-30166 tag list).
type CheckSummary struct {
	RelayURL string

	RTT     *RTTResult
	SSL     *SSLResult
	Net     *NetResult
	Geo     *GeoResult
	NIPs    []int
	Topics  []string
	Lang    string
	NoAuth  bool
	NoPay   bool
	RelayType string
}

// BuildDiscoveryEvent constructs an unsigned kind-30166 per-relay
// discovery event (spec.md §4.7.3).
func BuildDiscoveryEvent(s CheckSummary) nostr.Event {
	tags := nostr.Tags{{"d", s.RelayURL}}

	if s.RTT != nil {
		if s.RTT.OpenMs > 0 {
			tags = append(tags, nostr.Tag{"rtt-open", fmt.Sprintf("%d", s.RTT.OpenMs)})
		}
		if s.RTT.ReadMs > 0 {
			tags = append(tags, nostr.Tag{"rtt-read", fmt.Sprintf("%d", s.RTT.ReadMs)})
		}
		if s.RTT.WriteMs > 0 {
			tags = append(tags, nostr.Tag{"rtt-write", fmt.Sprintf("%d", s.RTT.WriteMs)})
		}
	}
	if s.SSL != nil {
		tags = append(tags, nostr.Tag{"ssl", fmt.Sprintf("%t", s.SSL.ChainValid)})
		if s.SSL.NotAfter > 0 {
			tags = append(tags, nostr.Tag{"ssl-expires", fmt.Sprintf("%d", s.SSL.NotAfter)})
		}
		if s.SSL.Issuer != "" {
			tags = append(tags, nostr.Tag{"ssl-issuer", s.SSL.Issuer})
		}
	}
	if s.Net != nil {
		tags = append(tags, nostr.Tag{"net-ipv6", fmt.Sprintf("%t", s.Net.IPv6)})
		if s.Net.ASN > 0 {
			tags = append(tags, nostr.Tag{"net-asn", fmt.Sprintf("%d", s.Net.ASN)})
		}
		if s.Net.ASNOrg != "" {
			tags = append(tags, nostr.Tag{"net-asn-org", s.Net.ASNOrg})
		}
	}
	if s.Geo != nil {
		if s.Geo.Geohash != "" {
			tags = append(tags, nostr.Tag{"g", s.Geo.Geohash})
		}
		if s.Geo.Country != "" {
			tags = append(tags, nostr.Tag{"geo-country", s.Geo.Country})
		}
		if s.Geo.City != "" {
			tags = append(tags, nostr.Tag{"geo-city", s.Geo.City})
		}
		if s.Geo.Lat != 0 || s.Geo.Lon != 0 {
			tags = append(tags, nostr.Tag{"geo-lat", fmt.Sprintf("%f", s.Geo.Lat)})
			tags = append(tags, nostr.Tag{"geo-lon", fmt.Sprintf("%f", s.Geo.Lon)})
		}
		if s.Geo.TZ != "" {
			tags = append(tags, nostr.Tag{"geo-tz", s.Geo.TZ})
		}
	}
	for _, n := range s.NIPs {
		tags = append(tags, nostr.Tag{"N", fmt.Sprintf("%d", n)})
	}
	for _, topic := range s.Topics {
		tags = append(tags, nostr.Tag{"t", topic})
	}
	if s.Lang != "" {
		tags = append(tags, nostr.Tag{"l", s.Lang})
	}
	if s.NoAuth {
		tags = append(tags, nostr.Tag{"R", "!auth"})
	}
	if s.NoPay {
		tags = append(tags, nostr.Tag{"R", "!payment"})
	}
	if s.RelayType != "" {
		tags = append(tags, nostr.Tag{"T", s.RelayType})
	}

	return nostr.Event{
		Kind:      30166,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
}

// AnnouncementCheck names one enabled check in a kind-10166 announcement
// (spec.md §4.7.3: "per-check timeout, and c tags naming each enabled
// check").
type AnnouncementCheck struct {
	Name      string
	TimeoutMs int
}

// BuildAnnouncementEvent constructs an unsigned kind-10166 monitor
// capability announcement.
func BuildAnnouncementEvent(frequencySeconds int, checks []AnnouncementCheck) nostr.Event {
	tags := nostr.Tags{{"frequency", fmt.Sprintf("%d", frequencySeconds)}}
	for _, c := range checks {
		tags = append(tags, nostr.Tag{"c", c.Name})
		tags = append(tags, nostr.Tag{"timeout", c.Name, fmt.Sprintf("%d", c.TimeoutMs)})
	}
	return nostr.Event{Kind: 10166, CreatedAt: nostr.Now(), Tags: tags}
}

// Profile is the kind-0 profile document rendered per NIP-01.
type Profile struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// BuildProfileEvent constructs an unsigned kind-0 profile event.
func BuildProfileEvent(p Profile) (nostr.Event, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("nip66: marshal profile: %w", err)
	}
	return nostr.Event{Kind: 0, CreatedAt: nostr.Now(), Content: string(content)}, nil
}

// Publish signs event with signingKey and broadcasts it to every relay
// in targets, tolerating partial success (spec.md §4.7.3: "partial
// success is acceptable").
func Publish(ctx context.Context, pool transport.PoolClient, signingKey string, event nostr.Event, targets []string) (succeeded int, err error) {
	if err := event.Sign(signingKey); err != nil {
		return 0, fmt.Errorf("nip66: sign event: %w", err)
	}
	var lastErr error
	for _, relayURL := range targets {
		if pubErr := pool.Publish(ctx, relayURL, event); pubErr != nil {
			lastErr = pubErr
			continue
		}
		succeeded++
	}
	if succeeded == 0 && lastErr != nil {
		return 0, fmt.Errorf("nip66: publish failed on every target relay: %w", lastErr)
	}
	return succeeded, nil
}
