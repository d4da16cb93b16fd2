package dhcp4store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2/maybe"
)

// bootstrapSQL creates the ip_addresses and lease_history tables and their
// supporting enum types, if they do not already exist.  It is idempotent.
const bootstrapSQL = `
DO $$ BEGIN
	CREATE TYPE server_response AS ENUM ('ACK', 'NAK');
EXCEPTION
	WHEN duplicate_object THEN null;
END $$;

DO $$ BEGIN
	CREATE TYPE lease_type AS ENUM ('INITIAL', 'RENEWING', 'DECLINED');
EXCEPTION
	WHEN duplicate_object THEN null;
END $$;

CREATE TABLE IF NOT EXISTS ip_addresses (
	ip_address  INET PRIMARY KEY,
	allocated   BOOLEAN NOT NULL DEFAULT FALSE,
	client_id   VARCHAR(32) UNIQUE,
	lease_start TIMESTAMP,
	lease_end   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lease_history (
	id              SERIAL PRIMARY KEY,
	ip_address      INET NOT NULL,
	client_id       VARCHAR(32) NOT NULL,
	lease_start     TIMESTAMP,
	lease_end       TIMESTAMP,
	server_response server_response NOT NULL,
	lease_type      lease_type NOT NULL
);`

// Bootstrap creates the schema described in §3/§6 if it does not already
// exist.
func (s *Store) Bootstrap(ctx context.Context) (err error) {
	_, err = s.db.ExecContext(ctx, bootstrapSQL)
	if err != nil {
		return errors.Annotate(err, "bootstrapping schema: %w")
	}

	return nil
}

// PoolConfig carries the fields [Store.ReseedIfChanged] needs from the
// running configuration to rebuild the ip_addresses table.
type PoolConfig struct {
	// RangeStart is the first address in the pool, inclusive.
	RangeStart netip.Addr

	// RangeEnd is the last address in the pool, inclusive.
	RangeEnd netip.Addr

	// RestrictedIPs are excluded from the pool by exact textual match.
	RestrictedIPs []string
}

// HashConfig computes the SHA-256 of raw, the config file's bytes, as a
// lowercase hex string.
func HashConfig(raw []byte) (hash string) {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ReseedIfChanged compares hash against the contents of hashFilePath.  If
// they differ (or hashFilePath does not exist), it reseeds the
// ip_addresses table from pool and atomically rewrites hashFilePath with
// hash.  Otherwise it is a no-op, preserving existing lease state.
func (s *Store) ReseedIfChanged(ctx context.Context, pool *PoolConfig, hash, hashFilePath string) (err error) {
	prev, err := os.ReadFile(hashFilePath)
	if err == nil && string(prev) == hash {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "reading previous config hash: %w")
	}

	err = s.reseed(ctx, pool)
	if err != nil {
		return errors.Annotate(err, "reseeding pool: %w")
	}

	err = maybe.WriteFile(hashFilePath, []byte(hash), 0o644)
	if err != nil {
		return errors.Annotate(err, "writing config hash: %w")
	}

	return nil
}

// reseed deletes and re-inserts every address in
// [pool.RangeStart, pool.RangeEnd] that is not in pool.RestrictedIPs.
func (s *Store) reseed(ctx context.Context, pool *PoolConfig) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "beginning reseed tx: %w")
	}
	defer func() { err = errors.WithDeferred(err, tx.Rollback()) }()

	_, err = tx.ExecContext(ctx, `DELETE FROM ip_addresses`)
	if err != nil {
		return errors.Annotate(err, "clearing pool: %w")
	}

	const insertQ = `INSERT INTO ip_addresses (ip_address, allocated) VALUES ($1, false)`

	for _, addr := range PoolAddresses(pool) {
		_, err = tx.ExecContext(ctx, insertQ, addr.String())
		if err != nil {
			return fmt.Errorf("inserting %s: %w", addr, err)
		}
	}

	return tx.Commit()
}

// PoolAddresses enumerates every address in
// [pool.RangeStart, pool.RangeEnd] that is not in pool.RestrictedIPs, in
// ascending order.
func PoolAddresses(pool *PoolConfig) (addrs []netip.Addr) {
	restricted := map[string]bool{}
	for _, ip := range pool.RestrictedIPs {
		restricted[ip] = true
	}

	for addr := pool.RangeStart; ; addr = addr.Next() {
		if !restricted[addr.String()] {
			addrs = append(addrs, addr)
		}

		if addr == pool.RangeEnd {
			break
		}
	}

	return addrs
}
