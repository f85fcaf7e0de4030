package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	alwaysproxy "github.com/always-cache/always-proxy"
	"github.com/always-cache/always-proxy/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	workersFlag        int
	cacheSizeFlag      int
	expirationDaysFlag int64
	blocklistFlag      string
	providerFlag       string
	dbFilenameFlag     string
	adminAddrFlag      string
	originTimeoutFlag  time.Duration
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	defaults := defaultConfig()
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file (flags override it)")
	flag.IntVar(&portFlag, "port", defaults.Port, "Port to listen on")
	flag.IntVar(&workersFlag, "workers", defaults.Workers, "Maximum number of connections served at once")
	flag.IntVar(&cacheSizeFlag, "capacity", defaults.CacheSize, "Maximum number of cached responses")
	flag.Int64Var(&expirationDaysFlag, "expiration-days", defaults.ExpirationDays, "Days before a cached response expires")
	flag.StringVar(&blocklistFlag, "blocklist", defaults.Blocklist, "File with one blocked hostname per line")
	flag.StringVar(&providerFlag, "provider", defaults.Provider, "Caching provider to use (memory or sqlite)")
	flag.StringVar(&dbFilenameFlag, "db", defaults.DB, "Cache DB file name for the sqlite provider (use 'memory' for in-memory db)")
	flag.StringVar(&adminAddrFlag, "admin", defaults.Admin, "Address for the admin API, e.g. localhost:9090 (disabled if empty)")
	flag.DurationVar(&originTimeoutFlag, "timeout", defaults.OriginTimeout, "Read timeout for origin servers")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()

	config := loadConfig()
	if err := config.validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	provider, closeProvider, err := createProvider(config)
	if err != nil {
		log.Fatal().Err(err).Str("provider", config.Provider).Msg("Could not create cache")
	}
	defer closeProvider()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	proxy, err := alwaysproxy.CreateProxy(alwaysproxy.Config{
		Cache:         provider,
		Blocklist:     alwaysproxy.LoadBlocklist(config.Blocklist, log.Logger),
		Logger:        &log.Logger,
		Registerer:    registry,
		OriginTimeout: config.OriginTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create proxy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, proxy, registry); err != nil {
		log.Error().Err(err).Msg("Proxy stopped")
		closeProvider()
		os.Exit(1)
	}
	log.Info().Msg("Proxy stopped")
}

// loadConfig reads the config file, if any, and applies the flags that
// were set explicitly on top of it.
func loadConfig() Config {
	config := defaultConfig()
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Str("file", configFilenameFlag).Msg("Could not read config")
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Port = portFlag
		case "workers":
			config.Workers = workersFlag
		case "capacity":
			config.CacheSize = cacheSizeFlag
		case "expiration-days":
			config.ExpirationDays = expirationDaysFlag
		case "blocklist":
			config.Blocklist = blocklistFlag
		case "provider":
			config.Provider = providerFlag
		case "db":
			config.DB = dbFilenameFlag
		case "admin":
			config.Admin = adminAddrFlag
		case "timeout":
			config.OriginTimeout = originTimeoutFlag
		}
	})
	return config
}

func createProvider(config Config) (cache.CacheProvider, func(), error) {
	switch config.Provider {
	case "sqlite":
		dbFilename := config.DB
		if dbFilename == "memory" {
			dbFilename = "file::memory:?cache=shared"
		}
		c, err := cache.NewSQLiteCache(dbFilename, config.CacheSize, config.ExpirationDays)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	default:
		c, err := cache.NewExpiringLRU(config.CacheSize, config.ExpirationDays)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
}

// run serves the proxy, and the admin API if configured, until ctx is done
// or one of them fails.
func run(ctx context.Context, config Config, proxy *alwaysproxy.Proxy, registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
	if err != nil {
		return err
	}
	log.Info().
		Int("port", config.Port).
		Int("workers", config.Workers).
		Int("capacity", config.CacheSize).
		Int64("expirationDays", config.ExpirationDays).
		Str("provider", config.Provider).
		Msg("Proxy listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return alwaysproxy.NewDispatcher(proxy, config.Workers, log.Logger).Serve(ctx, ln)
	})

	if config.Admin != "" {
		admin := &http.Server{
			Addr:              config.Admin,
			Handler:           proxy.AdminHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", config.Admin).Msg("Admin API listening")
			if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return admin.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
