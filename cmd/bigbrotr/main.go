// Command bigbrotr runs one of the five BigBrotr services named on the
// command line (spec.md §6.4): exactly one subcommand per service, each
// taking --config and optional --once/--log-level.
//
// Grounded on the teacher's cmd/nophr/main.go flag-based dispatch and
// signal.Notify graceful-shutdown pattern, generalized from one
// multi-protocol gateway process into one-subcommand-per-service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
	"github.com/bigbrotr/bigbrotr/internal/dbpool"
	"github.com/bigbrotr/bigbrotr/internal/finder"
	"github.com/bigbrotr/bigbrotr/internal/httpclient"
	"github.com/bigbrotr/bigbrotr/internal/monitor"
	"github.com/bigbrotr/bigbrotr/internal/nip66"
	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/seeder"
	"github.com/bigbrotr/bigbrotr/internal/service"
	"github.com/bigbrotr/bigbrotr/internal/synchronizer"
	"github.com/bigbrotr/bigbrotr/internal/transport"
	"github.com/bigbrotr/bigbrotr/internal/validator"
)

// Exit codes per spec.md §6.4.
const (
	exitOK          = 0
	exitConfigOrDB  = 1
	exitMaxFailures = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfigOrDB)
	}

	sub := os.Args[1]
	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	once := fs.Bool("once", false, "run a single cycle and exit")
	logLevel := fs.String("log-level", "", "override logging.level from config")
	seedFile := fs.String("seed-file", "", "seed (only): path to newline-delimited relay URL file")
	toValidate := fs.Bool("to-validate", false, "seed (only): stage URLs as candidates instead of bulk-inserting relays")
	fs.Parse(os.Args[2:])

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required")
		os.Exit(exitConfigOrDB)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(exitConfigOrDB)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown_signal_received")
		cancel()
	}()

	var runErr error
	switch sub {
	case "seed":
		runErr = runSeed(ctx, cfg, logger, *seedFile, *toValidate)
	case "find":
		runErr = runFinder(ctx, cfg, logger, *once)
	case "validate":
		runErr = runValidator(ctx, cfg, logger, *once)
	case "monitor":
		runErr = runMonitor(ctx, cfg, logger, *once)
	case "sync":
		runErr = runSynchronizer(ctx, cfg, logger, *once)
	default:
		usage()
		os.Exit(exitConfigOrDB)
	}

	if runErr != nil {
		if runErr == service.ErrMaxConsecutiveFailures {
			os.Exit(exitMaxFailures)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(exitConfigOrDB)
	}
	os.Exit(exitOK)
}

func usage() {
	fmt.Println("bigbrotr - Nostr relay archive/monitor services")
	fmt.Println()
	fmt.Println("Usage: bigbrotr <subcommand> --config <path> [--once] [--log-level <level>]")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  seed       one-shot: ingest a seed file of relay URLs")
	fmt.Println("  find       scan stored events and external sources for candidate relays")
	fmt.Println("  validate   test candidate relays and promote the valid ones")
	fmt.Println("  monitor    run NIP-66 health checks against known relays")
	fmt.Println("  sync       pull events from every known relay")
}

func newLogger(cfg config.Logging) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// openFacade establishes the database pool and wraps it in a Facade,
// the one chokepoint every service shares (spec.md §4.2-§4.3).
func openFacade(ctx context.Context, cfg *config.Config) (*dbfacade.Facade, *dbpool.Pool, error) {
	password, err := cfg.DatabasePassword()
	if err != nil {
		return nil, nil, err
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s application_name=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User, password, cfg.Database.ApplicationName,
	)
	poolCfg := dbpool.Config{
		DSN:                     dsn,
		MinSize:                 cfg.Database.MinSize,
		MaxSize:                 cfg.Database.MaxSize,
		MaxQueriesBeforeRecycle: int64(cfg.Database.MaxQueriesBeforeRecycle),
		IdleLifetime:            time.Duration(cfg.Database.IdleLifetimeSeconds) * time.Second,
		ConnectMaxAttempts:      cfg.Database.ConnectMaxAttempts,
		ApplicationName:         cfg.Database.ApplicationName,
		StatementTimeoutMs:      cfg.Database.StatementTimeoutMs,
	}
	pool, err := dbpool.New(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	facade := dbfacade.New(pool, dbfacade.Timeouts{}, dbfacade.BatchLimits{MaxSize: cfg.Batch.MaxSize})
	return facade, pool, nil
}

func runSeed(ctx context.Context, cfg *config.Config, logger *slog.Logger, seedFileFlag string, toValidateFlag bool) error {
	facade, pool, err := openFacade(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	seedFile := seedFileFlag
	if seedFile == "" {
		seedFile = cfg.Seeder.SeedFile
	}
	if seedFile == "" {
		return fmt.Errorf("seed: no seed file given (set seeder.seed_file or --seed-file)")
	}
	toValidate := toValidateFlag || cfg.Seeder.ToValidate

	f, err := os.Open(seedFile)
	if err != nil {
		return fmt.Errorf("seed: open %s: %w", seedFile, err)
	}
	defer f.Close()

	s := seeder.New(facade, logger, cfg.Batch.MaxSize)
	result, err := s.Run(ctx, f, toValidate)
	if err != nil {
		return err
	}
	logger.Info("seed_complete", "parsed", result.Parsed, "valid", result.Valid, "invalid", result.Invalid, "stored", result.Stored)
	return nil
}

func runFinder(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	facade, pool, err := openFacade(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	httpClient, err := httpclient.New(httpclient.Config{})
	if err != nil {
		return fmt.Errorf("find: build http client: %w", err)
	}
	defer httpClient.Close()

	f := finder.New(facade, logger, finder.Config{
		MaxParallelEvents: cfg.Finder.Concurrency.MaxParallelEvents,
		EventBatchSize:    cfg.Finder.Events.BatchSize,
	})
	sources := make([]finder.APISource, 0, len(cfg.Finder.APISources))
	for _, src := range cfg.Finder.APISources {
		sources = append(sources, finder.APISource{
			URL:                  src.URL,
			Path:                 src.JMESPath,
			Timeout:              time.Duration(src.TimeoutMs) * time.Millisecond,
			ConnectTimeout:       time.Duration(src.ConnectTimeoutMs) * time.Millisecond,
			VerifySSL:            src.VerifySSL,
			MaxResponseSize:      src.MaxResponseSize,
			DelayBetweenRequests: time.Duration(src.DelayBetweenRequests) * time.Millisecond,
		})
	}

	base := service.NewBase("finder", logger, service.Config{Interval: time.Duration(cfg.Finder.Interval) * time.Second}, nil)
	cycle := func(ctx context.Context) error {
		result, err := f.Run(ctx, httpClient, sources)
		if err != nil {
			return err
		}
		logger.Info("finder_cycle_complete", "relays_scanned", result.RelaysScanned, "candidates_found", result.CandidatesFound, "api_sources_polled", result.APISourcesPolled)
		return nil
	}
	if once {
		return base.RunOnce(ctx, cycle)
	}
	return base.RunForever(ctx, cycle)
}

// routedTransport dispatches Connect to a per-network WebsocketTransport,
// each built with its own Dialer (spec.md §6.2's "optional SOCKS5 proxy for
// overlay networks" — clearnet dials directly, Tor/I2P/Loki each carry
// their own configured proxy URL so they never share a SOCKS5 circuit).
type routedTransport struct {
	byNetwork map[relay.Network]*transport.WebsocketTransport
}

func newRoutedTransport(n config.Networks, handshakeTimeout time.Duration) *routedTransport {
	policies := map[relay.Network]config.NetworkPolicy{
		relay.Clearnet: n.Clearnet,
		relay.Tor:      n.Tor,
		relay.I2P:      n.I2P,
		relay.Loki:     n.Loki,
	}
	byNetwork := make(map[relay.Network]*transport.WebsocketTransport, len(policies))
	for netw, pol := range policies {
		byNetwork[netw] = transport.NewWebsocketTransport(transport.Dialer{
			ProxyURL:         pol.ProxyURL,
			HandshakeTimeout: handshakeTimeout,
		})
	}
	return &routedTransport{byNetwork: byNetwork}
}

func (t *routedTransport) Connect(ctx context.Context, relayURL string) (transport.Conn, time.Duration, error) {
	netw := relay.Clearnet
	if n, err := relay.Parse(relayURL); err == nil {
		netw = n.Network
	}
	tr, ok := t.byNetwork[netw]
	if !ok {
		tr = t.byNetwork[relay.Clearnet]
	}
	return tr.Connect(ctx, relayURL)
}

func runValidator(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	facade, pool, err := openFacade(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	tr := newRoutedTransport(cfg.Networks, 10*time.Second)

	v := validator.New(facade, tr, logger, validator.Config{
		Networks:      validatorNetworks(cfg.Networks),
		Cleanup:       validator.CleanupConfig{Enabled: cfg.Validator.Cleanup.Enabled, MaxFailures: cfg.Validator.Cleanup.MaxFailures},
		MaxCandidates: cfg.Validator.Processing.MaxItems,
		ChunkSize:     cfg.Validator.Processing.ChunkSize,
	})

	base := service.NewBase("validator", logger, service.Config{Interval: time.Duration(cfg.Validator.Interval) * time.Second}, nil)
	cycle := func(ctx context.Context) error {
		result, err := v.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("validator_cycle_complete", "promoted", result.Promoted, "rejected", result.Rejected, "skipped", result.Skipped)
		return nil
	}
	if once {
		return base.RunOnce(ctx, cycle)
	}
	return base.RunForever(ctx, cycle)
}

func runMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	facade, pool, err := openFacade(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	tr := newRoutedTransport(cfg.Networks, 10*time.Second)
	pc := transport.NewSimplePoolClient(ctx)
	defer pc.Close()

	httpClient, err := httpclient.New(httpclient.Config{})
	if err != nil {
		return fmt.Errorf("monitor: build http client: %w", err)
	}
	defer httpClient.Close()

	signingKey := os.Getenv(cfg.Monitor.SigningKeyEnv)
	if signingKey == "" && cfg.Monitor.SigningKeyEnv != "" {
		return fmt.Errorf("monitor: required environment variable %s is unset", cfg.Monitor.SigningKeyEnv)
	}

	m := monitor.New(facade, tr, pc, httpClient, nil, nil, logger, monitor.Config{
		Networks:             monitorNetworks(cfg.Networks),
		ProfileEnabled:       cfg.Monitor.Profile.Enabled,
		Profile:              nip66.Profile{Name: cfg.Monitor.Profile.Name, About: cfg.Monitor.Profile.About, Picture: cfg.Monitor.Profile.Picture},
		ProfileInterval:      time.Duration(cfg.Monitor.Profile.IntervalS) * time.Second,
		AnnouncementEnabled:  cfg.Monitor.Profile.Enabled,
		AnnouncementInterval: time.Duration(cfg.Monitor.Profile.IntervalS) * time.Second,
		DiscoveryEnabled:     cfg.Monitor.Discovery.Enabled,
		DiscoveryInterval:    time.Duration(cfg.Monitor.Discovery.IntervalS) * time.Second,
		ProfileTargets:       cfg.Monitor.Profile.Relays,
		AnnouncementTargets:  cfg.Monitor.Profile.Relays,
		DiscoveryTargets:     cfg.Monitor.Discovery.Relays,
		ChunkSize:            cfg.Monitor.Processing.ChunkSize,
		Checks: monitor.ChecksConfig{
			NIP11: checkConfig(cfg.Monitor.Checks.NIP11),
			RTT:   checkConfig(cfg.Monitor.Checks.RTT),
			SSL:   checkConfig(cfg.Monitor.Checks.SSL),
			DNS:   checkConfig(cfg.Monitor.Checks.DNS),
			Geo:   checkConfig(cfg.Monitor.Checks.Geo),
			Net:   checkConfig(cfg.Monitor.Checks.Net),
			HTTP:  checkConfig(cfg.Monitor.Checks.HTTP),
		},
		SigningKey:     signingKey,
		PublishTargets: cfg.Monitor.PublishTo,
	})

	base := service.NewBase("monitor", logger, service.Config{Interval: time.Duration(cfg.Monitor.Interval) * time.Second}, nil)
	cycle := func(ctx context.Context) error {
		result, err := m.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("monitor_cycle_complete", "checked", result.Checked, "successful", result.Successful, "failed", result.Failed)
		return nil
	}
	if once {
		return base.RunOnce(ctx, cycle)
	}
	return base.RunForever(ctx, cycle)
}

func runSynchronizer(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	facade, pool, err := openFacade(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	tr := newRoutedTransport(cfg.Networks, 10*time.Second)

	s := synchronizer.New(facade, tr, logger, synchronizer.Config{
		Networks:        syncNetworks(cfg.Networks),
		RelayOverrides:  cfg.Synchronizer.RelayOverrides,
		DefaultStart:    cfg.Synchronizer.TimeRange.DefaultStart,
		LookbackSeconds: int64(cfg.Synchronizer.LookbackSeconds),
		PaginationLimit: cfg.Synchronizer.Pagination.Limit,
		PaginationMax:   cfg.Synchronizer.Pagination.MaxLimit,
		Timeouts: synchronizer.RelayTimeouts{
			Clearnet: time.Duration(cfg.Synchronizer.Timeouts.Clearnet) * time.Second,
			Tor:      time.Duration(cfg.Synchronizer.Timeouts.Tor) * time.Second,
			I2P:      time.Duration(cfg.Synchronizer.Timeouts.I2P) * time.Second,
			Loki:     time.Duration(cfg.Synchronizer.Timeouts.Loki) * time.Second,
		},
		CursorFlushInterval: cfg.Synchronizer.CursorFlushInterval,
	})

	base := service.NewBase("synchronizer", logger, service.Config{Interval: time.Duration(cfg.Synchronizer.LookbackSeconds) * time.Second}, nil)
	cycle := func(ctx context.Context) error {
		snap, err := s.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("synchronizer_cycle_complete", "synced", snap.SyncedEvents, "invalid", snap.InvalidEvents, "skipped", snap.SkippedEvents, "failed_relays", snap.FailedRelays)
		return nil
	}
	if once {
		return base.RunOnce(ctx, cycle)
	}
	return base.RunForever(ctx, cycle)
}

// validatorNetworks, monitorNetworks, and syncNetworks each adapt
// config.Networks into the network-policy map shape their respective
// service.Config expects. The three target types are structurally
// similar but distinct named types (monitor's and synchronizer's carry no
// per-network timeout: Monitor bounds each probe by its own check timeout,
// and Synchronizer bounds each relay task by its RelayTimeouts), so each
// needs its own literal
// rather than a single shared conversion.
func validatorNetworks(n config.Networks) map[relay.Network]validator.NetworkPolicy {
	return map[relay.Network]validator.NetworkPolicy{
		relay.Clearnet: {Enabled: n.Clearnet.Enabled, MaxTask: n.Clearnet.MaxTasks, Timeout: n.Clearnet.Timeout()},
		relay.Tor:      {Enabled: n.Tor.Enabled, MaxTask: n.Tor.MaxTasks, Timeout: n.Tor.Timeout()},
		relay.I2P:      {Enabled: n.I2P.Enabled, MaxTask: n.I2P.MaxTasks, Timeout: n.I2P.Timeout()},
		relay.Loki:     {Enabled: n.Loki.Enabled, MaxTask: n.Loki.MaxTasks, Timeout: n.Loki.Timeout()},
	}
}

func monitorNetworks(n config.Networks) map[relay.Network]monitor.NetworkPolicy {
	return map[relay.Network]monitor.NetworkPolicy{
		relay.Clearnet: {Enabled: n.Clearnet.Enabled, MaxTask: n.Clearnet.MaxTasks},
		relay.Tor:      {Enabled: n.Tor.Enabled, MaxTask: n.Tor.MaxTasks},
		relay.I2P:      {Enabled: n.I2P.Enabled, MaxTask: n.I2P.MaxTasks},
		relay.Loki:     {Enabled: n.Loki.Enabled, MaxTask: n.Loki.MaxTasks},
	}
}

func syncNetworks(n config.Networks) map[relay.Network]synchronizer.NetworkPolicy {
	return map[relay.Network]synchronizer.NetworkPolicy{
		relay.Clearnet: {Enabled: n.Clearnet.Enabled, MaxTask: n.Clearnet.MaxTasks},
		relay.Tor:      {Enabled: n.Tor.Enabled, MaxTask: n.Tor.MaxTasks},
		relay.I2P:      {Enabled: n.I2P.Enabled, MaxTask: n.I2P.MaxTasks},
		relay.Loki:     {Enabled: n.Loki.Enabled, MaxTask: n.Loki.MaxTasks},
	}
}

func checkConfig(c config.CheckCfg) monitor.CheckConfig {
	return monitor.CheckConfig{
		Enabled: c.Enabled,
		Store:   c.Store,
		Retry: nip66.RetryPolicy{
			MaxRetries:   c.MaxRetries,
			InitialDelay: time.Duration(c.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(c.MaxDelayMs) * time.Millisecond,
		},
		Timeout: time.Duration(c.TimeoutMs) * time.Millisecond,
	}
}
