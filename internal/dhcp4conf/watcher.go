package dhcp4conf

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4opts"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4policy"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fsnotify/fsnotify"
)

// ConfigApplier is the running server's end of a config hot-swap: the
// subset of [dhcp4svc.Deps] the watcher installs a new policy/reply
// configuration pair into.
type ConfigApplier interface {
	SetConfig(policy *dhcp4policy.ServerConfig, reply *dhcp4opts.ReplyConfig)
}

// Watcher watches the configuration file for writes and re-runs the
// config-change-detection/reseed flow on each one.  Identity fields
// (server address, subnet, lease/renewal time, etc.) are never
// hot-swapped; only the pool range and restricted-IP list are effectively
// re-applied, both to the store (via a reseed) and to the running
// dispatcher (via applier.SetConfig).  A write that also touches an
// identity field has that field ignored and logged at WARN.
type Watcher struct {
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	store    Reseeder
	applier  ConfigApplier
	current  *Config
	path     string
	hashPath string
}

// NewWatcher creates a Watcher for the config file at path.  l must not be
// nil.  initial is the configuration already applied to applier at startup;
// it becomes the baseline identity fields are compared against.
func NewWatcher(
	l *slog.Logger,
	store Reseeder,
	applier ConfigApplier,
	initial *Config,
	path, hashPath string,
) (w *Watcher, err error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "creating config watcher: %w")
	}

	err = fsw.Add(path)
	if err != nil {
		return nil, errors.Annotate(err, "watching config file: %w")
	}

	return &Watcher{
		logger:   l,
		watcher:  fsw,
		store:    store,
		applier:  applier,
		current:  initial,
		path:     path,
		hashPath: hashPath,
	}, nil
}

// Run consumes file-system events until ctx is done.  It is intended to be
// run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ev.Op&fsnotify.Write == 0 {
				continue
			}

			w.handleWrite(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.logger.ErrorContext(ctx, "watching config", slogutil.KeyError, err)
		}
	}
}

// handleWrite reloads and re-validates the config, logging and skipping the
// reseed on any error, so a transient partial write never aborts the
// watcher.  Only the pool range and restricted-IP list take effect without
// a restart; any other changed field is ignored and logged at WARN.
func (w *Watcher) handleWrite(ctx context.Context) {
	next, err := Load(w.path)
	if err != nil {
		w.logger.WarnContext(ctx, "reloading config", slogutil.KeyError, err)

		return
	}

	for _, field := range identityDiff(w.current, next) {
		w.logger.WarnContext(ctx, "ignoring config field change until restart", "field", field)
	}

	w.applyPoolAndRestrictions(next)

	err = HashAndReseed(ctx, w.logger, w.store, next, w.path, w.hashPath)
	if err != nil {
		w.logger.ErrorContext(ctx, "reseeding after config write", slogutil.KeyError, err)

		return
	}

	w.logger.InfoContext(ctx, "config changed, pool reseeded if necessary")
}

// applyPoolAndRestrictions installs the pool range and restricted-IP list
// of next into the running dispatcher, keeping every other field frozen at
// its last-applied value, and advances w.current.
func (w *Watcher) applyPoolAndRestrictions(next *Config) {
	effective := *w.current
	effective.IPPool = next.IPPool
	effective.RestrictedIPs = next.RestrictedIPs

	start, end := effective.PoolRange()
	w.applier.SetConfig(&dhcp4policy.ServerConfig{
		ServerIP:      effective.ServerIP(),
		PoolStart:     start,
		PoolEnd:       end,
		RestrictedIPs: effective.RestrictedIPs,
	}, effective.ReplyConfig())

	w.current = &effective
}

// identityDiff returns the dotted config-key names of every field in next
// that differs from old and is not part of the pool/restriction group
// (ip_pool, restricted_ips), the only fields hot-swapped without a
// restart.
func identityDiff(old, next *Config) (fields []string) {
	if old.Server.IPAddress != next.Server.IPAddress {
		fields = append(fields, "server.ip_address")
	}

	if old.Server.SubnetMask != next.Server.SubnetMask {
		fields = append(fields, "server.subnet_mask")
	}

	if old.Server.DefaultGateway != next.Server.DefaultGateway {
		fields = append(fields, "server.default_gateway")
	}

	if old.Server.DNSServer != next.Server.DNSServer {
		fields = append(fields, "server.dns_server")
	}

	if old.Server.DomainName != next.Server.DomainName {
		fields = append(fields, "server.domain_name")
	}

	if old.Server.LeaseTime != next.Server.LeaseTime {
		fields = append(fields, "server.lease_time")
	}

	if old.Server.RenewalTime != next.Server.RenewalTime {
		fields = append(fields, "server.renewal_time")
	}

	if old.Server.LogFile != next.Server.LogFile {
		fields = append(fields, "server.log_file")
	}

	if !reflect.DeepEqual(old.OptionsExt, next.OptionsExt) {
		fields = append(fields, "options_extended")
	}

	if old.MetricsAddr != next.MetricsAddr {
		fields = append(fields, "metrics_addr")
	}

	return fields
}

// Shutdown stops the watcher.
func (w *Watcher) Shutdown(context.Context) (err error) {
	return w.watcher.Close()
}
