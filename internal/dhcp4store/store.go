package dhcp4store

import (
	"context"
	"database/sql"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Kind distinguishes the two guarded commit paths for [Store.CommitLease].
type Kind int

// Kind values.
const (
	// Initial guards the commit with `WHERE allocated = false`: the address
	// must still be free.
	Initial Kind = iota

	// Renewing guards the commit with `WHERE client_id = $1`: the address
	// must still belong to the renewing client.
	Renewing
)

// ServerResponse is the outcome recorded in a lease_history row.
type ServerResponse string

// ServerResponse values, matching the server_response Postgres enum.
const (
	ResponseACK ServerResponse = "ACK"
	ResponseNAK ServerResponse = "NAK"
)

// LeaseType is the kind of transaction recorded in a lease_history row.
type LeaseType string

// LeaseType values, matching the lease_type Postgres enum.
const (
	LeaseInitial  LeaseType = "INITIAL"
	LeaseRenewing LeaseType = "RENEWING"
	LeaseDeclined LeaseType = "DECLINED"
)

// Store is the lease store adapter, backed by a PostgreSQL database handle.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// New returns a Store using db for persistence and clock for all
// lease-expiry timestamps.  db and clock must not be nil.
func New(db *sql.DB, clock timeutil.Clock) (s *Store) {
	return &Store{db: db, clock: clock}
}

// FindFreeMatching returns ip if its row is free, per §4.3 operation 1.
func (s *Store) FindFreeMatching(ctx context.Context, ip netip.Addr) (found netip.Addr, ok bool, err error) {
	const q = `SELECT ip_address FROM ip_addresses WHERE ip_address = $1 AND allocated = false`

	return s.queryOneAddr(ctx, q, ip.String())
}

// FindByClient returns the address currently allocated to clientID, if any,
// per §4.3 operation 2.
func (s *Store) FindByClient(ctx context.Context, clientID string) (found netip.Addr, ok bool, err error) {
	const q = `SELECT ip_address FROM ip_addresses WHERE client_id = $1 AND allocated = true`

	return s.queryOneAddr(ctx, q, clientID)
}

// IsAvailableTo reports whether target is unallocated or already allocated
// to clientID.  It implements [dhcp4policy.AddressChecker] for the
// should-NAK rule.
func (s *Store) IsAvailableTo(ctx context.Context, target netip.Addr, clientID string) (ok bool, err error) {
	const q = `
	SELECT EXISTS (
		SELECT 1 FROM ip_addresses
		WHERE ip_address = $1 AND (allocated = false OR client_id = $2)
	)`

	err = s.db.QueryRowContext(ctx, q, target.String(), clientID).Scan(&ok)
	if err != nil {
		return false, errors.Annotate(err, "checking address availability: %w")
	}

	return ok, nil
}

// FindAnyFree returns any free address in the pool, row-locked for the
// duration of an internal transaction that is committed (releasing the
// lock) before returning, per §4.3 operation 3.
func (s *Store) FindAnyFree(ctx context.Context) (found netip.Addr, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return netip.Addr{}, false, errors.Annotate(err, "beginning find-any-free tx: %w")
	}
	defer func() { err = errors.WithDeferred(err, tx.Rollback()) }()

	const q = `
	SELECT ip_address
	FROM ip_addresses
	WHERE allocated = false
	ORDER BY ip_address
	LIMIT 1
	FOR UPDATE`

	var addrStr string
	err = tx.QueryRowContext(ctx, q).Scan(&addrStr)
	if errors.Is(err, sql.ErrNoRows) {
		return netip.Addr{}, false, tx.Commit()
	} else if err != nil {
		return netip.Addr{}, false, errors.Annotate(err, "finding any free address: %w")
	}

	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return netip.Addr{}, false, errors.Annotate(err, "parsing address: %w")
	}

	return addr, true, tx.Commit()
}

// CommitLease commits an allocation, guarded per kind, and appends a
// lease_history row, per §4.3 operation 4.  It returns [ErrLeaseConflict] if
// the guarded update affected zero rows.
func (s *Store) CommitLease(
	ctx context.Context,
	ip netip.Addr,
	clientID string,
	seconds uint32,
	kind Kind,
) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "beginning commit-lease tx: %w")
	}
	defer func() { err = errors.WithDeferred(err, tx.Rollback()) }()

	now := s.clock.Now()
	leaseEnd := now.Add(time.Duration(seconds) * time.Second)

	var res sql.Result
	switch kind {
	case Initial:
		const q = `
		UPDATE ip_addresses
		SET allocated = true, client_id = $1, lease_start = $2, lease_end = $3
		WHERE ip_address = $4 AND allocated = false`

		res, err = tx.ExecContext(ctx, q, clientID, now, leaseEnd, ip.String())
	case Renewing:
		const q = `
		UPDATE ip_addresses
		SET allocated = true, client_id = $1, lease_start = $2, lease_end = $3
		WHERE ip_address = $4 AND client_id = $1`

		res, err = tx.ExecContext(ctx, q, clientID, now, leaseEnd, ip.String())
	}
	if err != nil {
		return errors.Annotate(err, "updating lease: %w")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Annotate(err, "counting affected rows: %w")
	} else if n == 0 {
		return ErrLeaseConflict
	}

	leaseType := LeaseInitial
	if kind == Renewing {
		leaseType = LeaseRenewing
	}

	err = appendHistory(ctx, tx, ip, clientID, &now, &leaseEnd, ResponseACK, leaseType)
	if err != nil {
		return errors.Annotate(err, "appending lease history: %w")
	}

	return tx.Commit()
}

// Release frees ip and clears its owner, per §4.3 operation 5.
func (s *Store) Release(ctx context.Context, ip netip.Addr) (err error) {
	const q = `
	UPDATE ip_addresses
	SET allocated = false, client_id = NULL, lease_start = NULL, lease_end = NULL
	WHERE ip_address = $1`

	_, err = s.db.ExecContext(ctx, q, ip.String())
	if err != nil {
		return errors.Annotate(err, "releasing lease: %w")
	}

	return nil
}

// Quarantine reserves ip without an owner for a one-hour cooldown, per §4.3
// operation 6.  This is a deliberate reservation, not a bug: it keeps the
// address away from both the declining client and any other client.
func (s *Store) Quarantine(ctx context.Context, ip netip.Addr) (err error) {
	const quarantineTTL = time.Hour

	now := s.clock.Now()
	until := now.Add(quarantineTTL)

	const q = `
	UPDATE ip_addresses
	SET allocated = true, client_id = NULL, lease_start = $1, lease_end = $2
	WHERE ip_address = $3`

	_, err = s.db.ExecContext(ctx, q, now, until, ip.String())
	if err != nil {
		return errors.Annotate(err, "quarantining lease: %w")
	}

	return nil
}

// CountFree returns the number of currently unallocated rows.
func (s *Store) CountFree(ctx context.Context) (n int, err error) {
	const q = `SELECT COUNT(*) FROM ip_addresses WHERE allocated = false`

	err = s.db.QueryRowContext(ctx, q).Scan(&n)
	if err != nil {
		return 0, errors.Annotate(err, "counting free addresses: %w")
	}

	return n, nil
}

// SweepExpired releases every row whose lease has expired, per §4.3
// operation 7.
func (s *Store) SweepExpired(ctx context.Context) (err error) {
	const q = `
	UPDATE ip_addresses
	SET allocated = false, client_id = NULL, lease_start = NULL, lease_end = NULL
	WHERE lease_end < $1`

	_, err = s.db.ExecContext(ctx, q, s.clock.Now())
	if err != nil {
		return errors.Annotate(err, "sweeping expired leases: %w")
	}

	return nil
}

// AppendHistory appends an audit row to lease_history, per §4.3 operation 8.
func (s *Store) AppendHistory(
	ctx context.Context,
	ip netip.Addr,
	clientID string,
	start, end *time.Time,
	response ServerResponse,
	kind LeaseType,
) (err error) {
	err = appendHistory(ctx, s.db, ip, clientID, start, end, response, kind)
	if err != nil {
		return errors.Annotate(err, "appending lease history: %w")
	}

	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// appendHistory inserts a lease_history row using either a bare handle or an
// open transaction.
func appendHistory(
	ctx context.Context,
	e execer,
	ip netip.Addr,
	clientID string,
	start, end *time.Time,
	response ServerResponse,
	kind LeaseType,
) (err error) {
	const q = `
	INSERT INTO lease_history (ip_address, client_id, lease_start, lease_end, server_response, lease_type)
	VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = e.ExecContext(ctx, q, ip.String(), clientID, start, end, response, kind)

	return err
}

// queryOneAddr runs q with args and scans a single IP address column.
func (s *Store) queryOneAddr(ctx context.Context, q string, args ...any) (found netip.Addr, ok bool, err error) {
	var addrStr string

	err = s.db.QueryRowContext(ctx, q, args...).Scan(&addrStr)
	if errors.Is(err, sql.ErrNoRows) {
		return netip.Addr{}, false, nil
	} else if err != nil {
		return netip.Addr{}, false, errors.Annotate(err, "querying address: %w")
	}

	found, err = netip.ParseAddr(addrStr)
	if err != nil {
		return netip.Addr{}, false, errors.Annotate(err, "parsing address: %w")
	}

	return found, true, nil
}
