// Package dhcp4svc wires the message codec, option assembler, policy
// predicates, and lease store together into the per-datagram dispatcher and
// the UDP listener that feeds it.
package dhcp4svc

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4opts"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4policy"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4store"
	"github.com/AdguardTeam/golibs/errors"
)

// Store is the subset of [dhcp4store.Store] the dispatcher depends on.
type Store interface {
	dhcp4policy.AddressChecker

	FindFreeMatching(ctx context.Context, ip netip.Addr) (found netip.Addr, ok bool, err error)
	FindByClient(ctx context.Context, clientID string) (found netip.Addr, ok bool, err error)
	FindAnyFree(ctx context.Context) (found netip.Addr, ok bool, err error)
	CommitLease(ctx context.Context, ip netip.Addr, clientID string, seconds uint32, kind dhcp4store.Kind) (err error)
	Release(ctx context.Context, ip netip.Addr) (err error)
	Quarantine(ctx context.Context, ip netip.Addr) (err error)
	SweepExpired(ctx context.Context) (err error)
	CountFree(ctx context.Context) (n int, err error)
	AppendHistory(
		ctx context.Context,
		ip netip.Addr,
		clientID string,
		start, end *time.Time,
		response dhcp4store.ServerResponse,
		kind dhcp4store.LeaseType,
	) (err error)
}

// Metrics is the subset of the metrics recorder the dispatcher reports to.
// A nil Metrics is valid; every method call is guarded.
type Metrics interface {
	IncRequest(messageType byte)
	IncReply(messageType byte)
	IncDrop()
	SetFreeAddresses(n int)
}

// Deps carries the dispatcher's collaborators.  Store and LeaseTime must be
// set; Metrics may be nil; the policy and reply configuration are set via
// [NewDeps] and may be hot-swapped later with [Deps.SetConfig].
type Deps struct {
	Store     Store
	Metrics   Metrics
	LeaseTime uint32

	policyCfg atomic.Pointer[dhcp4policy.ServerConfig]
	replyCfg  atomic.Pointer[dhcp4opts.ReplyConfig]
}

// NewDeps builds a Deps with the given initial policy and reply
// configuration installed.
func NewDeps(
	store Store,
	policy *dhcp4policy.ServerConfig,
	reply *dhcp4opts.ReplyConfig,
	metrics Metrics,
	leaseTime uint32,
) (d *Deps) {
	d = &Deps{Store: store, Metrics: metrics, LeaseTime: leaseTime}
	d.SetConfig(policy, reply)

	return d
}

// SetConfig atomically installs policy and reply as the configuration every
// datagram handled after this call returns will see.  It implements
// [dhcp4conf.ConfigApplier].
func (d *Deps) SetConfig(policy *dhcp4policy.ServerConfig, reply *dhcp4opts.ReplyConfig) {
	d.policyCfg.Store(policy)
	d.replyCfg.Store(reply)
}

// Policy returns the currently installed policy configuration.
func (d *Deps) Policy() (cfg *dhcp4policy.ServerConfig) {
	return d.policyCfg.Load()
}

// Reply returns the currently installed reply configuration.
func (d *Deps) Reply() (cfg *dhcp4opts.ReplyConfig) {
	return d.replyCfg.Load()
}

// Result is what the dispatcher decided to do with an inbound datagram.
type Result struct {
	// Reply is the message to send back, or nil if nothing should be sent.
	Reply *dhcp4msg.Message

	// Options is the raw option-region bytes for Reply, pre-overload-
	// adjustment.
	Options []byte
}

// Handle runs one inbound datagram through the state machine of §4.5 and
// returns the reply to send, if any.  clientID is the requesting client's
// fingerprint, precomputed by the caller so tests can supply arbitrary
// values independent of a real chaddr.  l receives the WARN-level log calls
// the dispatch table requires for unrecognized message types and dropped
// DECLINE/RELEASE datagrams; a nil l is valid and simply discards them.
func Handle(
	ctx context.Context,
	deps *Deps,
	msg *dhcp4msg.Message,
	clientID string,
	l *slog.Logger,
) (res *Result, err error) {
	err = deps.Store.SweepExpired(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "sweeping expired leases: %w")
	}

	deps.reportFree(ctx)

	mt := msg.MessageType()
	deps.inc(mt)

	switch mt {
	case dhcp4msg.TypeDiscover:
		return handleDiscover(ctx, deps, msg, clientID)
	case dhcp4msg.TypeRequest:
		return handleRequest(ctx, deps, msg, clientID, l)
	case dhcp4msg.TypeDecline:
		return handleDecline(ctx, deps, msg, l)
	case dhcp4msg.TypeRelease:
		return handleRelease(ctx, deps, msg, l)
	case dhcp4msg.TypeInform:
		return handleInform(deps, msg, clientID), nil
	default:
		deps.incDrop()
		warn(ctx, l, "dropping unrecognized message type", "message_type", mt)

		return nil, nil
	}
}

// warn logs msg at WARN on l if l is non-nil.  Deps carries no logger of its
// own, so the dispatch paths that must log per §4.4 and §4.5 take it as an
// explicit parameter instead.
func warn(ctx context.Context, l *slog.Logger, msg string, args ...any) {
	if l != nil {
		l.WarnContext(ctx, msg, args...)
	}
}

// inc records an inbound message of the given type.
func (d *Deps) inc(messageType byte) {
	if d.Metrics != nil {
		d.Metrics.IncRequest(messageType)
	}
}

// incDrop records a dropped (unhandled or disallowed) datagram.
func (d *Deps) incDrop() {
	if d.Metrics != nil {
		d.Metrics.IncDrop()
	}
}

// incReply records an outbound reply of the given type.
func (d *Deps) incReply(messageType byte) {
	if d.Metrics != nil {
		d.Metrics.IncReply(messageType)
	}
}

// reportFree updates the free-address gauge from the store's current count.
// A count error is dropped: the gauge simply keeps its last-known value
// until the next successful sweep.
func (d *Deps) reportFree(ctx context.Context) {
	if d.Metrics == nil {
		return
	}

	n, err := d.Store.CountFree(ctx)
	if err != nil {
		return
	}

	d.Metrics.SetFreeAddresses(n)
}

// handleDiscover implements the DISCOVER row of §4.5.
func handleDiscover(ctx context.Context, deps *Deps, msg *dhcp4msg.Message, clientID string) (res *Result, err error) {
	pick, ok, err := pickOfferAddress(ctx, deps, msg, clientID)
	if err != nil {
		return nil, errors.Annotate(err, "picking offer address: %w")
	} else if !ok {
		deps.incDrop()

		return nil, nil
	}

	reply := &dhcp4msg.Message{
		Op:     dhcp4msg.OpBootReply,
		HType:  msg.HType,
		HLen:   msg.HLen,
		XID:    msg.XID,
		Flags:  msg.Flags,
		CHAddr: msg.CHAddr,
		YIAddr: net.IP(pick.AsSlice()),
		SIAddr: net.IPv4zero,
	}

	options := dhcp4opts.BuildBaseOptions(dhcp4msg.TypeOffer, msg.MessageType(), deps.Reply())
	deps.incReply(dhcp4msg.TypeOffer)

	return &Result{Reply: reply, Options: options}, nil
}

// pickOfferAddress implements the three-step OFFER address selection: the
// requested address if free, else the client's existing sticky lease, else
// any free address under row lock.
func pickOfferAddress(
	ctx context.Context,
	deps *Deps,
	msg *dhcp4msg.Message,
	clientID string,
) (pick netip.Addr, ok bool, err error) {
	if requested := msg.RequestedIP(); !requested.Equal(net.IPv4zero) {
		if addr, aok := netip.AddrFromSlice(requested.To4()); aok {
			pick, ok, err = deps.Store.FindFreeMatching(ctx, addr)
			if err != nil {
				return netip.Addr{}, false, err
			} else if ok {
				return pick, true, nil
			}
		}
	}

	pick, ok, err = deps.Store.FindByClient(ctx, clientID)
	if err != nil {
		return netip.Addr{}, false, err
	} else if ok {
		return pick, true, nil
	}

	return deps.Store.FindAnyFree(ctx)
}

// handleRequest implements the REQUEST row of §4.5.
func handleRequest(
	ctx context.Context,
	deps *Deps,
	msg *dhcp4msg.Message,
	clientID string,
	l *slog.Logger,
) (res *Result, err error) {
	nak, err := dhcp4policy.ShouldNAK(ctx, msg, deps.Policy(), clientID, deps.Store)
	if err != nil {
		return nil, errors.Annotate(err, "evaluating should-nak: %w")
	}

	if nak {
		target := dhcp4policy.EffectiveTarget(msg)
		if addr, aok := netip.AddrFromSlice(target.To4()); aok {
			_ = deps.Store.AppendHistory(
				ctx, addr, clientID, nil, nil, dhcp4store.ResponseNAK, dhcp4store.LeaseDeclined,
			)
		}

		return nakResult(deps, msg), nil
	}

	var kind dhcp4store.Kind
	var target net.IP
	if dhcp4policy.IsRenewal(msg) {
		kind = dhcp4store.Renewing
		target = msg.CIAddr
	} else {
		if !dhcp4policy.ForThisServer(msg, deps.Policy()) {
			deps.incDrop()

			return nil, nil
		}

		kind = dhcp4store.Initial
		target = msg.RequestedIP()
	}

	addr, aok := netip.AddrFromSlice(target.To4())
	if !aok {
		return nakResult(deps, msg), nil
	}

	err = deps.Store.CommitLease(ctx, addr, clientID, deps.LeaseTime, kind)
	if errors.Is(err, dhcp4store.ErrLeaseConflict) {
		deps.incDrop()
		warn(ctx, l, "dropping request: racing commit affected no rows", "addr", addr, "client_id", clientID)

		return nil, nil
	} else if err != nil {
		return nil, errors.Annotate(err, "committing lease: %w")
	}

	reply := &dhcp4msg.Message{
		Op:     dhcp4msg.OpBootReply,
		HType:  msg.HType,
		HLen:   msg.HLen,
		XID:    msg.XID,
		Flags:  msg.Flags,
		CHAddr: msg.CHAddr,
		YIAddr: net.IP(addr.AsSlice()),
		SIAddr: net.IPv4zero,
	}

	options := dhcp4opts.BuildBaseOptions(dhcp4msg.TypeACK, msg.MessageType(), deps.Reply())
	deps.incReply(dhcp4msg.TypeACK)

	return &Result{Reply: reply, Options: options}, nil
}

// nakResult builds the all-zero-address NAK reply.
func nakResult(deps *Deps, msg *dhcp4msg.Message) (res *Result) {
	reply := &dhcp4msg.Message{
		Op:     dhcp4msg.OpBootReply,
		HType:  msg.HType,
		HLen:   msg.HLen,
		XID:    msg.XID,
		Flags:  msg.Flags,
		CHAddr: msg.CHAddr,
		YIAddr: net.IPv4zero,
		SIAddr: net.IPv4zero,
		CIAddr: net.IPv4zero,
	}

	options := dhcp4opts.BuildBaseOptions(dhcp4msg.TypeNAK, msg.MessageType(), deps.Reply())
	deps.incReply(dhcp4msg.TypeNAK)

	return &Result{Reply: reply, Options: options}
}

// handleDecline implements the DECLINE row of §4.5.
func handleDecline(ctx context.Context, deps *Deps, msg *dhcp4msg.Message, l *slog.Logger) (res *Result, err error) {
	if !dhcp4policy.ForThisServer(msg, deps.Policy()) {
		deps.incDrop()
		warn(ctx, l, "dropping decline: missing or mismatched server identifier")

		return nil, nil
	}

	target := msg.RequestedIP()
	addr, ok := netip.AddrFromSlice(target.To4())
	if !ok {
		deps.incDrop()

		return nil, nil
	}

	err = deps.Store.Quarantine(ctx, addr)
	if err != nil {
		return nil, errors.Annotate(err, "quarantining declined address: %w")
	}

	return nil, nil
}

// handleRelease implements the RELEASE row of §4.5.
func handleRelease(ctx context.Context, deps *Deps, msg *dhcp4msg.Message, l *slog.Logger) (res *Result, err error) {
	if !dhcp4policy.ForThisServer(msg, deps.Policy()) {
		deps.incDrop()
		warn(ctx, l, "dropping release: missing or mismatched server identifier")

		return nil, nil
	}

	target := msg.RequestedIP()
	addr, ok := netip.AddrFromSlice(target.To4())
	if !ok {
		deps.incDrop()

		return nil, nil
	}

	err = deps.Store.Release(ctx, addr)
	if err != nil {
		return nil, errors.Annotate(err, "releasing address: %w")
	}

	return nil, nil
}

// handleInform implements the INFORM row of §4.5.  It never mutates the
// lease store.
func handleInform(deps *Deps, msg *dhcp4msg.Message, clientID string) (res *Result) {
	prl := msg.ParameterRequestList()

	reply := &dhcp4msg.Message{
		Op:     dhcp4msg.OpBootReply,
		HType:  msg.HType,
		HLen:   msg.HLen,
		XID:    msg.XID,
		Flags:  msg.Flags,
		CHAddr: msg.CHAddr,
		YIAddr: msg.YIAddr,
		SIAddr: net.IPv4zero,
	}

	var options []byte
	if len(prl) == 0 {
		options = dhcp4opts.BuildBaseOptions(dhcp4msg.TypeACK, dhcp4msg.TypeInform, deps.Reply())
	} else {
		options = dhcp4opts.BuildInformOptions(prl, deps.Reply(), clientID)
	}

	deps.incReply(dhcp4msg.TypeACK)

	return &Result{Reply: reply, Options: options}
}
