package dhcp4conf

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4store"
	"github.com/AdguardTeam/golibs/errors"
)

// DefaultPath is the location the entry point loads the configuration
// from, per §6.
const DefaultPath = "app/server-config.json"

// DefaultHashFilePath is the location of the config-change-detection hash
// file, relative to the working directory.
const DefaultHashFilePath = ".last_config_hash"

// Load reads and validates the JSON configuration file at path.
func Load(path string) (cfg *Config, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config: %w")
	}

	cfg, err = parse(raw)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// parse unmarshals and validates raw as a [Config].
func parse(raw []byte) (cfg *Config, err error) {
	cfg = &Config{}

	err = json.Unmarshal(raw, cfg)
	if err != nil {
		return nil, errors.Annotate(err, "unmarshaling config: %w")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, errors.Annotate(err, "validating config: %w")
	}

	return cfg, nil
}

// Reseeder is the subset of [dhcp4store.Store] needed to apply a config
// change.
type Reseeder interface {
	ReseedIfChanged(ctx context.Context, pool *dhcp4store.PoolConfig, hash, hashFilePath string) (err error)
}

// HashAndReseed computes the SHA-256 of path's raw bytes and, if it differs
// from the contents of hashFilePath (or hashFilePath is absent), reseeds
// the pool via store and rewrites hashFilePath.
func HashAndReseed(
	ctx context.Context,
	l *slog.Logger,
	store Reseeder,
	cfg *Config,
	path, hashFilePath string,
) (err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotate(err, "reading config for hashing: %w")
	}

	hash := dhcp4store.HashConfig(raw)

	start, end := cfg.PoolRange()
	pool := &dhcp4store.PoolConfig{
		RangeStart:    start,
		RangeEnd:      end,
		RestrictedIPs: cfg.RestrictedIPs,
	}

	err = store.ReseedIfChanged(ctx, pool, hash, hashFilePath)
	if err != nil {
		return errors.Annotate(err, "reseeding: %w")
	}

	l.DebugContext(ctx, "config hash checked", "hash", hash)

	return nil
}
