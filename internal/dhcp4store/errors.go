// Package dhcp4store implements the lease store adapter: a transactional
// contract over a PostgreSQL-backed table of leasable IPv4 addresses.
package dhcp4store

import "github.com/AdguardTeam/golibs/errors"

const (
	// ErrLeaseConflict is returned by CommitLease when the guarded WHERE
	// clause affected zero rows, meaning a concurrent handler won the race
	// for the same address (or the renewal's owning client changed).
	ErrLeaseConflict errors.Error = "lease commit conflict"

	// ErrPostgresURLUnset is returned at startup when POSTGRES_URL is
	// empty.
	ErrPostgresURLUnset errors.Error = "POSTGRES_URL is not set"
)
