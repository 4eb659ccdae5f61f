package config

// applyDefaults fills every zero-valued field with the default named in
// spec.md's component descriptions. Per-network settings live in the
// Networks section and are applied by the services that consume them.
// There is no per-relay override of settings: the synchronizer's
// relay_overrides list only adds relay URLs.
func applyDefaults(cfg *Config) {
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MinSize == 0 {
		cfg.Database.MinSize = 2
	}
	if cfg.Database.MaxSize == 0 {
		cfg.Database.MaxSize = 20
	}
	if cfg.Database.MaxQueriesBeforeRecycle == 0 {
		cfg.Database.MaxQueriesBeforeRecycle = 50_000
	}
	if cfg.Database.IdleLifetimeSeconds == 0 {
		cfg.Database.IdleLifetimeSeconds = 300
	}
	if cfg.Database.ConnectMaxAttempts == 0 {
		cfg.Database.ConnectMaxAttempts = 3
	}
	if cfg.Database.ApplicationName == "" {
		cfg.Database.ApplicationName = "bigbrotr"
	}
	if cfg.Database.StatementTimeoutMs == 0 {
		cfg.Database.StatementTimeoutMs = 30_000
	}

	defaultNetwork(&cfg.Networks.Clearnet, 100, 30_000)
	defaultNetwork(&cfg.Networks.Tor, 20, 60_000)
	defaultNetwork(&cfg.Networks.I2P, 20, 60_000)
	defaultNetwork(&cfg.Networks.Loki, 20, 60_000)

	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 1000
	}

	if cfg.Finder.Interval == 0 {
		cfg.Finder.Interval = 300
	}
	if cfg.Finder.Concurrency.MaxParallelEvents == 0 {
		cfg.Finder.Concurrency.MaxParallelEvents = 10
	}
	if cfg.Finder.Events.BatchSize == 0 {
		cfg.Finder.Events.BatchSize = 1000
	}
	for i := range cfg.Finder.APISources {
		src := &cfg.Finder.APISources[i]
		if src.JMESPath == "" {
			src.JMESPath = "[*]"
		}
		if src.MaxResponseSize == 0 {
			src.MaxResponseSize = 5 << 20
		}
		if src.TimeoutMs == 0 {
			src.TimeoutMs = 30_000
		}
		if src.ConnectTimeoutMs == 0 {
			src.ConnectTimeoutMs = 10_000
		}
	}

	if cfg.Validator.Interval == 0 {
		cfg.Validator.Interval = 60
	}
	if cfg.Validator.Cleanup.MaxFailures == 0 {
		cfg.Validator.Cleanup.MaxFailures = 100
	}
	defaultChunkedProcessing(&cfg.Validator.Processing, 100)

	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 300
	}
	if cfg.Monitor.GeoIP.MaxAgeDays == 0 {
		cfg.Monitor.GeoIP.MaxAgeDays = 30
	}
	defaultChunkedProcessing(&cfg.Monitor.Processing, 100)
	defaultCheck(&cfg.Monitor.Checks.NIP11)
	defaultCheck(&cfg.Monitor.Checks.RTT)
	defaultCheck(&cfg.Monitor.Checks.SSL)
	defaultCheck(&cfg.Monitor.Checks.DNS)
	defaultCheck(&cfg.Monitor.Checks.Geo)
	defaultCheck(&cfg.Monitor.Checks.Net)
	defaultCheck(&cfg.Monitor.Checks.HTTP)

	if cfg.Synchronizer.LookbackSeconds == 0 {
		cfg.Synchronizer.LookbackSeconds = 86_400
	}
	if cfg.Synchronizer.Pagination.Limit == 0 {
		cfg.Synchronizer.Pagination.Limit = 500
	}
	if cfg.Synchronizer.Pagination.MaxLimit == 0 {
		cfg.Synchronizer.Pagination.MaxLimit = 5000
	}
	if cfg.Synchronizer.CursorFlushInterval == 0 {
		cfg.Synchronizer.CursorFlushInterval = 50
	}
	if cfg.Synchronizer.Timeouts.Clearnet == 0 {
		cfg.Synchronizer.Timeouts.Clearnet = 1800
	}
	if cfg.Synchronizer.Timeouts.Tor == 0 {
		cfg.Synchronizer.Timeouts.Tor = 3600
	}
	if cfg.Synchronizer.Timeouts.I2P == 0 {
		cfg.Synchronizer.Timeouts.I2P = 3600
	}
	if cfg.Synchronizer.Timeouts.Loki == 0 {
		cfg.Synchronizer.Timeouts.Loki = 3600
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func defaultNetwork(n *NetworkPolicy, maxTasks, timeoutMs int) {
	if n.MaxTasks == 0 {
		n.MaxTasks = maxTasks
	}
	if n.TimeoutMs == 0 {
		n.TimeoutMs = timeoutMs
	}
}

func defaultChunkedProcessing(c *ChunkedProcessing, chunkSize int) {
	if c.ChunkSize == 0 {
		c.ChunkSize = chunkSize
	}
}

func defaultCheck(c *CheckCfg) {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 10_000
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelayMs == 0 {
		c.InitialDelayMs = 200
	}
	if c.MaxDelayMs == 0 {
		c.MaxDelayMs = 5_000
	}
}
