// Command dhcp4d runs the DHCPv4 server: it loads and validates the JSON
// configuration, bootstraps and seeds the PostgreSQL-backed lease store,
// binds the broadcast UDP socket, and serves until terminated.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4conf"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4log"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4policy"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4store"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4svc"
	"github.com/AdguardTeam/dhcp4d/internal/metrics"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dhcp4d:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pgURL := os.Getenv("POSTGRES_URL")
	if pgURL == "" {
		return dhcp4store.ErrPostgresURLUnset
	}

	path := dhcp4conf.DefaultPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := dhcp4conf.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	l := newLogger(ctx, cfg.Server.LogFile)

	db, err := sql.Open("pgx", pgURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, db.Close()) }()

	store := dhcp4store.New(db, timeutil.SystemClock{})

	err = store.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrapping schema: %w", err)
	}

	err = dhcp4conf.HashAndReseed(ctx, l, store, cfg, path, dhcp4conf.DefaultHashFilePath)
	if err != nil {
		return fmt.Errorf("seeding pool: %w", err)
	}

	start, end := cfg.PoolRange()
	deps := serverDeps(cfg, store, start, end)

	watcher, err := dhcp4conf.NewWatcher(l, store, deps, cfg, path, dhcp4conf.DefaultHashFilePath)
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, watcher.Shutdown(ctx)) }()

	go watcher.Run(ctx)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	if cfg.MetricsAddr != "" {
		go serveMetrics(l, cfg.MetricsAddr, registry)
	}

	srv, err := dhcp4svc.New(l, net.ParseIP("0.0.0.0"), "", deps)
	if err != nil {
		return fmt.Errorf("binding server: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, srv.Close()) }()

	l.InfoContext(ctx, "dhcp4d listening", "port", dhcp4svc.ServerPort)

	err = srv.Serve(ctx)
	if err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	return nil
}

// serverDeps adapts cfg and store into the dispatcher's [dhcp4svc.Deps].
func serverDeps(cfg *dhcp4conf.Config, store *dhcp4store.Store, start, end netip.Addr) (deps *dhcp4svc.Deps) {
	policy := &dhcp4policy.ServerConfig{
		ServerIP:      cfg.ServerIP(),
		PoolStart:     start,
		PoolEnd:       end,
		RestrictedIPs: cfg.RestrictedIPs,
	}

	return dhcp4svc.NewDeps(store, policy, cfg.ReplyConfig(), metrics.Recorder{}, cfg.Server.LeaseTime)
}

// newLogger builds the operational logger, writing to logFile if set and to
// stderr otherwise.
func newLogger(ctx context.Context, logFile string) (l *slog.Logger) {
	if logFile == "" {
		return slogutil.New(&slogutil.Config{
			Format:       slogutil.FormatAdGuardLegacy,
			Level:        slog.LevelInfo,
			AddTimestamp: true,
		})
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slogutil.New(&slogutil.Config{
			Format:       slogutil.FormatAdGuardLegacy,
			Level:        slog.LevelInfo,
			AddTimestamp: true,
		})
	}

	h := dhcp4log.NewHandler(ctx, dhcp4log.SyncWriter(f), slog.LevelInfo)

	return slog.New(h)
}

// serveMetrics runs the Prometheus scrape endpoint until the process exits.
func serveMetrics(l *slog.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	l.Info("metrics endpoint listening", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		l.Error("metrics endpoint stopped", slogutil.KeyError, err)
	}
}
