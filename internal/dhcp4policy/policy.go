// Package dhcp4policy implements the pure predicates that gate the
// dispatcher's reply decisions: server-identity matching and the
// should-NAK rule.
package dhcp4policy

import (
	"bytes"
	"context"
	"net"
	"net/netip"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
	"github.com/AdguardTeam/golibs/container"
)

// ServerConfig carries the fields the predicates in this package need from
// the running configuration.
type ServerConfig struct {
	// ServerIP is this server's identity, compared octet-for-octet against
	// option 54.
	ServerIP net.IP

	// PoolStart is the first address of the lease pool, inclusive.
	PoolStart netip.Addr

	// PoolEnd is the last address of the lease pool, inclusive.
	PoolEnd netip.Addr

	// RestrictedIPs are addresses excluded from allocation by exact textual
	// match.
	RestrictedIPs []string
}

// restrictedSet builds the membership set consulted by [isRestricted].
func restrictedSet(cfg *ServerConfig) (s *container.MapSet[string]) {
	return container.NewMapSet(cfg.RestrictedIPs...)
}

// AddressChecker is the subset of the lease store that [ShouldNAK] needs to
// decide whether an address is available to the requesting client.
type AddressChecker interface {
	// IsAvailableTo reports whether target is unallocated or already
	// allocated to clientID.
	IsAvailableTo(ctx context.Context, target netip.Addr, clientID string) (ok bool, err error)
}

// ForThisServer reports whether msg carries option 54 (Server Identifier)
// and it matches cfg.ServerIP octet-for-octet.  A missing option 54 returns
// false; callers on DECLINE/RELEASE must drop silently and log at WARN in
// that case.
func ForThisServer(msg *dhcp4msg.Message, cfg *ServerConfig) (ok bool) {
	id, present := msg.ServerIdentifier()
	if !present {
		return false
	}

	return bytes.Equal(id.To4(), cfg.ServerIP.To4())
}

// IsRenewal reports whether msg represents a renewal request: no requested
// IP but a bound client address.
func IsRenewal(msg *dhcp4msg.Message) (ok bool) {
	requested := msg.RequestedIP()

	return requested.Equal(net.IPv4zero) && !msg.CIAddr.Equal(net.IPv4zero)
}

// EffectiveTarget returns the address a REQUEST is actually asking for:
// the requested IP if nonzero, otherwise ciaddr.
func EffectiveTarget(msg *dhcp4msg.Message) (target net.IP) {
	requested := msg.RequestedIP()
	if !requested.Equal(net.IPv4zero) {
		return requested
	}

	return msg.CIAddr
}

// inPool reports whether target lies within [cfg.PoolStart, cfg.PoolEnd]
// inclusive, compared as u32.
func inPool(target netip.Addr, cfg *ServerConfig) (ok bool) {
	if !cfg.PoolStart.Is4() || !cfg.PoolEnd.Is4() || !target.Is4() {
		return false
	}

	lo := asUint32(cfg.PoolStart)
	hi := asUint32(cfg.PoolEnd)
	v := asUint32(target)

	return v >= lo && v <= hi
}

// asUint32 converts a 4-byte [netip.Addr] to its big-endian uint32 form.
func asUint32(a netip.Addr) (v uint32) {
	b := a.As4()

	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// isRestricted reports whether target's textual form appears in
// cfg.RestrictedIPs.
func isRestricted(target netip.Addr, cfg *ServerConfig) (ok bool) {
	return restrictedSet(cfg).Has(target.String())
}

// ShouldNAK implements the REQUEST should-NAK rule of §4.4.  store is
// consulted only when the effective target is in-pool and unrestricted.
func ShouldNAK(
	ctx context.Context,
	msg *dhcp4msg.Message,
	cfg *ServerConfig,
	clientID string,
	store AddressChecker,
) (nak bool, err error) {
	requested := msg.RequestedIP()
	if requested.Equal(net.IPv4zero) && msg.CIAddr.Equal(net.IPv4zero) {
		return true, nil
	}

	targetIP := EffectiveTarget(msg)
	target, ok := netip.AddrFromSlice(targetIP.To4())
	if !ok {
		return true, nil
	}

	if !inPool(target, cfg) {
		return true, nil
	}

	if isRestricted(target, cfg) {
		return true, nil
	}

	available, err := store.IsAvailableTo(ctx, target, clientID)
	if err != nil {
		return false, err
	} else if !available {
		return true, nil
	}

	serverID, present := msg.ServerIdentifier()
	switch {
	case present && !bytes.Equal(serverID.To4(), cfg.ServerIP.To4()):
		return true, nil
	case !present && !IsRenewal(msg):
		return true, nil
	}

	return false, nil
}
