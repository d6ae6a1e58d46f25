// Command simbridge-relay runs the SIM bridge relay server.
//
// The relay terminates WebSocket sessions from host devices (phones) and
// client devices (desktops), brokers pairing between them, and forwards
// SMS and call commands in both directions. Commands addressed to an
// offline host are queued and drained when it reconnects.
//
// Usage:
//
//	simbridge-relay [flags]
//
// Flags:
//
//	-config string   Configuration file path (YAML)
//	-listen string   Listen address (overrides config)
//	-db string       SQLite database path (overrides config)
//	-trace string    Protocol trace file path (overrides config)
//	-mdns            Advertise the relay via mDNS
//	-debug           Enable debug logging
//
// Configuration is read from defaults, then the config file, then the
// TOKEN_SECRET, FEDERATED_CLIENT_ID, DB_PATH, LISTEN_ADDR, TRACE_FILE,
// and LOG_RETENTION_DAYS environment variables, then flags.
// TOKEN_SECRET must be set one way or another.
//
// Examples:
//
//	# Start with environment configuration
//	TOKEN_SECRET=s3cret simbridge-relay -listen :8080
//
//	# Start from a config file with mDNS advertising
//	simbridge-relay -config /etc/simbridge/relay.yaml -mdns
//
//	# Record a protocol trace for later analysis with simbridge-trace
//	simbridge-relay -config relay.yaml -trace relay.strace
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/api"
	"github.com/simbridge-dev/simbridge-go/pkg/config"
	"github.com/simbridge-dev/simbridge-go/pkg/discovery"
	"github.com/simbridge-dev/simbridge-go/pkg/identity"
	"github.com/simbridge-dev/simbridge-go/pkg/pairing"
	"github.com/simbridge-dev/simbridge-go/pkg/relay"
	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile string
	listenAddr string
	dbPath     string
	traceFile  string
	mdns       bool
	debug      bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	flag.StringVar(&traceFile, "trace", "", "Protocol trace file path (overrides config)")
	flag.BoolVar(&mdns, "mdns", false, "Advertise the relay via mDNS")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "simbridge-relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger()
	logger.Info("starting simbridge-relay",
		"version", version,
		"listen", cfg.ListenAddr,
		"db", cfg.DBPath,
		"federated_login", cfg.FederatedEnabled())

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Retention sweep at startup; old relay logs are not kept forever.
	cutoff := time.Now().AddDate(0, 0, -cfg.LogRetentionDays)
	if purged, err := st.PurgeOldLogs(context.Background(), cutoff); err != nil {
		logger.Warn("log retention sweep failed", "error", err)
	} else if purged > 0 {
		logger.Info("purged old message logs", "count", purged, "cutoff", cutoff.Format(time.RFC3339))
	}

	var trace tracelog.Logger = tracelog.NoopLogger{}
	if cfg.TraceFile != "" {
		fl, err := tracelog.NewFileLogger(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer fl.Close()
		trace = fl
		logger.Info("protocol tracing enabled", "file", cfg.TraceFile)
	}

	identCfg := identity.Config{
		TokenSecret: cfg.TokenSecret,
		Logger:      logger,
	}
	if cfg.FederatedEnabled() {
		identCfg.Verifier = &identity.GoogleVerifier{ClientID: cfg.FederatedClientID}
	}
	ident, err := identity.NewService(st, identCfg)
	if err != nil {
		return fmt.Errorf("identity service: %w", err)
	}

	registry := session.NewRegistry()
	engine := relay.NewEngine(st, registry, trace, logger)
	pairSvc := pairing.NewService(st, ident.Limiter(), logger)

	srv := api.NewServer(cfg, version, api.Deps{
		Store:    st,
		Identity: ident,
		Pairing:  pairSvc,
		Engine:   engine,
		Registry: registry,
		Trace:    trace,
		Logger:   logger,
	})

	if mdns {
		adv := &discovery.Advertiser{}
		port, err := listenPort(cfg.ListenAddr)
		if err != nil {
			return err
		}
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = api.ServerName
		}
		if err := adv.Advertise(hostname, port, version); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer adv.Stop()
			logger.Info("advertising via mDNS", "instance", hostname, "port", port)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("goodbye")
	return nil
}

// loadConfig layers defaults, the config file, the environment, and flags.
func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if traceFile != "" {
		cfg.TraceFile = traceFile
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: bad port", addr)
	}
	return port, nil
}
