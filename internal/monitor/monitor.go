// Package monitor implements the Monitor service (spec.md §4.7): GeoIP
// refresh, optional kind-0/kind-10166 publication, a seven-probe health
// check pipeline per relay, and kind-30166 discovery publication.
//
// Grounded on the teacher's internal/ops/retention.go step-ordered cycle
// (refresh → publish → clean → check → persist) and internal/nostr's
// event-construction idiom, reused here through internal/nip66.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
	"github.com/bigbrotr/bigbrotr/internal/geo"
	"github.com/bigbrotr/bigbrotr/internal/httpclient"
	"github.com/bigbrotr/bigbrotr/internal/nip11"
	"github.com/bigbrotr/bigbrotr/internal/nip66"
	"github.com/bigbrotr/bigbrotr/internal/nostrevent"
	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/statestore"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// CheckConfig toggles and bounds one probe (spec.md §4.7.1 table row).
// Retry is carried from the configuration, but checkRelay does not apply
// it: each enabled probe runs once per check, with no retry.
type CheckConfig struct {
	Enabled bool
	Store   bool
	Retry   nip66.RetryPolicy
	Timeout time.Duration
}

// ChecksConfig is the seven-probe toggle set.
type ChecksConfig struct {
	NIP11 CheckConfig
	RTT   CheckConfig
	SSL   CheckConfig
	DNS   CheckConfig
	Geo   CheckConfig
	Net   CheckConfig
	HTTP  CheckConfig
}

// NetworkPolicy bounds per-network concurrency for the checks pipeline
// (spec.md §4.7 step 7a).
type NetworkPolicy struct {
	Enabled bool
	MaxTask int
}

// Config parameterizes one Monitor cycle.
type Config struct {
	Networks             map[relay.Network]NetworkPolicy
	GeoIPMaxAge          time.Duration
	ProfileEnabled       bool
	Profile              nip66.Profile
	ProfileInterval      time.Duration
	AnnouncementEnabled  bool
	AnnouncementInterval time.Duration
	DiscoveryEnabled     bool
	DiscoveryInterval    time.Duration
	ChunkSize            int
	Checks               ChecksConfig
	SigningKey           string
	PublishTargets       []string
	ProfileTargets       []string
	AnnouncementTargets  []string
	DiscoveryTargets     []string
	GeohashPrecision     int
}

// targetsFor resolves the relay set one published event kind writes to:
// its own configured list, falling back to the shared PublishTargets when
// unset (mirrors the original service's per-kind relay fallback).
func (c *Config) targetsFor(kindTargets []string) []string {
	if len(kindTargets) > 0 {
		return kindTargets
	}
	return c.PublishTargets
}

func (c *Config) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 100
	}
	if c.GeoIPMaxAge <= 0 {
		c.GeoIPMaxAge = 30 * 24 * time.Hour
	}
	if c.GeohashPrecision <= 0 {
		c.GeohashPrecision = 9
	}
}

// Monitor runs the health-check orchestration cycle.
type Monitor struct {
	facade    *dbfacade.Facade
	store     *statestore.Store
	logger    *slog.Logger
	transport transport.RelayTransport
	pool      transport.PoolClient
	http      *httpclient.Client
	refresher geo.Refresher
	opener    geo.DatabaseOpener
	cfg       Config
}

// New constructs a Monitor.
func New(
	facade *dbfacade.Facade,
	tr transport.RelayTransport,
	pool transport.PoolClient,
	httpClient *httpclient.Client,
	refresher geo.Refresher,
	opener geo.DatabaseOpener,
	logger *slog.Logger,
	cfg Config,
) *Monitor {
	cfg.setDefaults()
	return &Monitor{
		facade:    facade,
		store:     statestore.New(facade, "monitor"),
		logger:    logger,
		transport: tr,
		pool:      pool,
		http:      httpClient,
		refresher: refresher,
		opener:    opener,
		cfg:       cfg,
	}
}

// Result summarizes one Run.
type Result struct {
	Checked    int
	Successful int
	Failed     int
}

// Run executes one Monitor cycle (spec.md §4.7 per-cycle steps).
func (m *Monitor) Run(ctx context.Context) (Result, error) {
	var result Result
	cityPath, asnPath := m.refreshGeoIP(ctx)

	var cityReader geo.CityReader
	var asnReader geo.ASNReader
	if m.opener != nil {
		if cityPath != "" {
			if r, err := m.opener.OpenCity(cityPath); err == nil {
				cityReader = r
			} else {
				m.logger.Warn("geoip_city_open_failed", "error", err)
			}
		}
		if asnPath != "" {
			if r, err := m.opener.OpenASN(asnPath); err == nil {
				asnReader = r
			} else {
				m.logger.Warn("geoip_asn_open_failed", "error", err)
			}
		}
	}
	defer func() {
		if cityReader != nil {
			_ = cityReader.Close()
		}
		if asnReader != nil {
			_ = asnReader.Close()
		}
	}()

	if err := m.maybePublishProfile(ctx); err != nil {
		m.logger.Error("publish_profile_failed", "error", err)
	}
	if err := m.maybePublishAnnouncement(ctx); err != nil {
		m.logger.Error("publish_announcement_failed", "error", err)
	}

	if err := m.cleanStaleMonitoring(ctx); err != nil {
		return result, fmt.Errorf("monitor: clean stale monitoring markers: %w", err)
	}

	sems := make(map[relay.Network]chan struct{}, len(m.cfg.Networks))
	for netw, pol := range m.cfg.Networks {
		if pol.Enabled && pol.MaxTask > 0 {
			sems[netw] = make(chan struct{}, pol.MaxTask)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		chunk, err := m.fetchDueRelays(ctx, m.cfg.ChunkSize)
		if err != nil {
			return result, fmt.Errorf("monitor: fetch due relays: %w", err)
		}
		if len(chunk) == 0 {
			return result, nil
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, r := range chunk {
			r := r
			pol, ok := m.cfg.Networks[r.network]
			if !ok || !pol.Enabled {
				continue
			}
			sem := sems[r.network]
			if sem != nil {
				sem <- struct{}{}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if sem != nil {
					defer func() { <-sem }()
				}
				summary, success := m.checkRelay(ctx, r, cityReader, asnReader)
				mu.Lock()
				result.Checked++
				if success {
					result.Successful++
				} else {
					result.Failed++
				}
				mu.Unlock()

				if success && m.cfg.DiscoveryEnabled {
					if err := m.publishDiscovery(ctx, summary); err != nil {
						m.logger.Error("publish_discovery_failed", "relay", r.url, "error", err)
					}
				}
				if err := m.store.UpsertCheckpoint(ctx, r.url, statestore.CheckpointState{LastCheckAt: time.Now().Unix()}); err != nil {
					m.logger.Error("upsert_checkpoint_failed", "relay", r.url, "error", err)
				}
				if err := m.store.UpsertMonitoring(ctx, r.url, statestore.MonitoringState{MonitoredAt: time.Now().Unix()}); err != nil {
					m.logger.Error("upsert_monitoring_failed", "relay", r.url, "error", err)
				}
			}()
		}
		wg.Wait()
	}
}

// refreshGeoIP implements spec.md §4.7 step 1: refresh City/ASN databases
// if missing or stale; failures are logged, not fatal.
func (m *Monitor) refreshGeoIP(ctx context.Context) (cityPath, asnPath string) {
	if m.refresher == nil {
		return "", ""
	}
	cityPath, asnPath, err := m.refresher.Refresh(ctx, m.cfg.GeoIPMaxAge)
	if err != nil {
		m.logger.Warn("geoip_refresh_failed", "error", err)
		return "", ""
	}
	return cityPath, asnPath
}

// maybePublishProfile publishes the kind-0 profile event if enabled and
// the configured interval has elapsed (spec.md §4.7 step 3).
func (m *Monitor) maybePublishProfile(ctx context.Context) error {
	if !m.cfg.ProfileEnabled {
		return nil
	}
	event, err := nip66.BuildProfileEvent(m.cfg.Profile)
	if err != nil {
		return err
	}
	return m.maybePublish(ctx, "last_profile", m.cfg.ProfileInterval, event, m.cfg.targetsFor(m.cfg.ProfileTargets))
}

// maybePublishAnnouncement publishes the kind-10166 announcement event
// analogously (spec.md §4.7 step 4).
func (m *Monitor) maybePublishAnnouncement(ctx context.Context) error {
	if !m.cfg.AnnouncementEnabled {
		return nil
	}
	event := nip66.BuildAnnouncementEvent(int(m.cfg.AnnouncementInterval.Seconds()), m.enabledChecks())
	return m.maybePublish(ctx, "last_announcement", m.cfg.AnnouncementInterval, event, m.cfg.targetsFor(m.cfg.AnnouncementTargets))
}

func (m *Monitor) enabledChecks() []nip66.AnnouncementCheck {
	var checks []nip66.AnnouncementCheck
	add := func(name string, c CheckConfig) {
		if c.Enabled {
			checks = append(checks, nip66.AnnouncementCheck{Name: name, TimeoutMs: int(c.Timeout.Milliseconds())})
		}
	}
	add("nip11", m.cfg.Checks.NIP11)
	add("rtt", m.cfg.Checks.RTT)
	add("ssl", m.cfg.Checks.SSL)
	add("dns", m.cfg.Checks.DNS)
	add("geo", m.cfg.Checks.Geo)
	add("net", m.cfg.Checks.Net)
	add("http", m.cfg.Checks.HTTP)
	return checks
}

// maybePublish publishes event and records the publication marker under
// key, skipping the publish when interval has not yet elapsed since the
// last one (spec.md §4.7 steps 3-4).
func (m *Monitor) maybePublish(ctx context.Context, key string, interval time.Duration, event nostr.Event, targets []string) error {
	pub, ok, err := m.store.GetPublication(ctx, key)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if ok && interval > 0 && now-pub.PublishedAt < int64(interval.Seconds()) {
		return nil
	}
	if _, err := nip66.Publish(ctx, m.pool, m.cfg.SigningKey, event, targets); err != nil {
		return err
	}
	return m.store.UpsertPublication(ctx, key, statestore.PublicationState{PublishedAt: now})
}

// cleanStaleMonitoring deletes monitoring markers older than the
// discovery interval (spec.md §4.7 step 5).
func (m *Monitor) cleanStaleMonitoring(ctx context.Context) error {
	if m.cfg.DiscoveryInterval <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-m.cfg.DiscoveryInterval).Unix()
	_, err := m.facade.Execute(ctx, `
		DELETE FROM service_state
		WHERE service_name = 'monitor' AND state_type = 'monitoring'
		  AND (state_value->>'monitored_at')::bigint < $1`, cutoff)
	return err
}

type dueRelay struct {
	url     string
	network relay.Network
}

// fetchDueRelays pulls relays due for a check, least-recently-monitored
// first (spec.md §4.7 step 6).
func (m *Monitor) fetchDueRelays(ctx context.Context, size int) ([]dueRelay, error) {
	cutoff := time.Now().Add(-m.cfg.DiscoveryInterval).Unix()
	rows, err := m.facade.Fetch(ctx, `
		SELECT r.url, r.network
		FROM relay r
		LEFT JOIN service_state cp
		  ON cp.service_name = 'monitor' AND cp.state_type = 'checkpoint' AND cp.state_key = r.url
		WHERE cp.state_key IS NULL OR (cp.state_value->>'last_check_at')::bigint < $1
		ORDER BY COALESCE((cp.state_value->>'last_check_at')::bigint, 0) ASC
		LIMIT $2`, cutoff, size)
	if err != nil {
		return nil, err
	}
	out := make([]dueRelay, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		url, _ := row[0].(string)
		network, _ := row[1].(string)
		out = append(out, dueRelay{url: url, network: relay.Network(network)})
	}
	return out, nil
}

// checkRelay runs the seven-probe pipeline for one relay (spec.md
// §4.7.1), persists successful metadata rows, and returns the aggregated
// summary plus whether any probe produced data.
func (m *Monitor) checkRelay(ctx context.Context, r dueRelay, cityReader geo.CityReader, asnReader geo.ASNReader) (nip66.CheckSummary, bool) {
	summary := nip66.CheckSummary{RelayURL: r.url}
	var metadataRows []dbfacade.MetadataRow
	var relayMetadataRows []dbfacade.RelayMetadataRow
	anySuccess := false
	now := time.Now().Unix()

	record := func(t nostrevent.MetadataType, cfg CheckConfig, value map[string]any, logs nip66.Logs) {
		if !logs.Success {
			return
		}
		anySuccess = true
		if !cfg.Store {
			return
		}
		md, err := nostrevent.NewMetadata(t, value)
		if err != nil {
			m.logger.Error("metadata_hash_failed", "relay", r.url, "type", t, "error", err)
			return
		}
		metadataRows = append(metadataRows, dbfacade.MetadataRow{Metadata: md})
		relayMetadataRows = append(relayMetadataRows, dbfacade.RelayMetadataRow{
			Metadata:     md,
			RelayURL:     r.url,
			MetadataHash: md.Hash,
			MetadataType: t,
			GeneratedAt:  now,
		})
	}

	if m.cfg.Checks.NIP11.Enabled {
		httpURL := wsToHTTP(r.url)
		res := nip11.Fetch(ctx, m.http, httpURL)
		record(nostrevent.NIP11Info, m.cfg.Checks.NIP11, res.Info, nip66.Logs{Success: res.Success, Reason: res.Reason})
	}

	if m.cfg.Checks.RTT.Enabled {
		res, logs := nip66.RTTProbe(ctx, m.transport, r.url, m.cfg.SigningKey)
		summary.RTT = &res
		record(nostrevent.NIP66RTT, m.cfg.Checks.RTT, map[string]any{
			"rtt_open": res.OpenMs, "rtt_read": res.ReadMs, "rtt_write": res.WriteMs,
		}, nip66.Logs{Success: logs.OpenSuccess, Reason: logs.OpenReason})
	}

	host, port, hostErr := splitRelayHostPort(r.url)

	if r.network == relay.Clearnet {
		if m.cfg.Checks.SSL.Enabled && hostErr == nil {
			res, logs := nip66.SSLProbe(ctx, fmt.Sprintf("%s:%s", host, port), m.cfg.Checks.SSL.Timeout)
			if logs.Success {
				summary.SSL = &res
			}
			record(nostrevent.NIP66SSL, m.cfg.Checks.SSL, map[string]any{
				"subject": res.Subject, "issuer": res.Issuer, "not_after": res.NotAfter,
				"fingerprint": res.Fingerprint, "cipher": res.Cipher, "chain_valid": res.ChainValid,
			}, logs)
		}
		if m.cfg.Checks.DNS.Enabled && hostErr == nil {
			res, logs := nip66.DNSProbe(ctx, net.DefaultResolver, host)
			record(nostrevent.NIP66DNS, m.cfg.Checks.DNS, map[string]any{
				"a": res.A, "aaaa": res.AAAA, "cname": res.CNAME, "ns": res.NS, "ptr": res.PTR,
			}, logs)
		}
		ips, _ := net.LookupIP(host)
		ip, hasIP := geo.ResolveIPv4ThenIPv6(ips)
		if m.cfg.Checks.Geo.Enabled && hasIP && cityReader != nil {
			res, logs := nip66.GeoProbe(cityReader, ip, m.cfg.GeohashPrecision)
			if logs.Success {
				summary.Geo = &res
			}
			record(nostrevent.NIP66Geo, m.cfg.Checks.Geo, map[string]any{
				"country": res.Country, "city": res.City, "lat": res.Lat, "lon": res.Lon,
				"tz": res.TZ, "geohash": res.Geohash,
			}, logs)
		}
		if m.cfg.Checks.Net.Enabled && hasIP && asnReader != nil {
			res, logs := nip66.NetProbe(asnReader, ip)
			if logs.Success {
				summary.Net = &res
			}
			record(nostrevent.NIP66Net, m.cfg.Checks.Net, map[string]any{
				"asn": res.ASN, "asn_org": res.ASNOrg, "ipv6": res.IPv6,
			}, logs)
		}
	}

	if m.cfg.Checks.HTTP.Enabled {
		conn, _, err := m.transport.Connect(ctx, r.url)
		if err == nil {
			res, logs := nip66.HTTPProbe(ctx, conn)
			_ = conn.Close()
			record(nostrevent.NIP66HTTP, m.cfg.Checks.HTTP, map[string]any{
				"server": res.Server, "x_powered_by": res.XPoweredBy,
			}, logs)
		}
	}

	if len(metadataRows) > 0 {
		if _, err := m.facade.InsertMetadata(ctx, metadataRows); err != nil {
			m.logger.Error("insert_metadata_failed", "relay", r.url, "error", err)
		}
		if _, err := m.facade.InsertRelayMetadata(ctx, relayMetadataRows, false); err != nil {
			m.logger.Error("insert_relay_metadata_failed", "relay", r.url, "error", err)
		}
	}

	return summary, anySuccess
}

// publishDiscovery publishes a kind-30166 discovery event for one
// successful relay (spec.md §4.7 step 7c).
func (m *Monitor) publishDiscovery(ctx context.Context, s nip66.CheckSummary) error {
	event := nip66.BuildDiscoveryEvent(s)
	_, err := nip66.Publish(ctx, m.pool, m.cfg.SigningKey, event, m.cfg.targetsFor(m.cfg.DiscoveryTargets))
	return err
}

// wsToHTTP rewrites a ws(s):// relay URL to the equivalent http(s)://
// URL the NIP-11 probe fetches (spec.md §4.7.1's info-document GET).
func wsToHTTP(relayURL string) string {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://")
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://")
	default:
		return relayURL
	}
}

// splitRelayHostPort extracts host:port for the clearnet-only probes
// (SSL/DNS) from a relay URL.
func splitRelayHostPort(relayURL string) (host, port string, err error) {
	rest := relayURL
	rest = strings.TrimPrefix(rest, "wss://")
	rest = strings.TrimPrefix(rest, "ws://")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	h, p, splitErr := net.SplitHostPort(rest)
	if splitErr != nil {
		return rest, "443", nil
	}
	return h, p, nil
}
