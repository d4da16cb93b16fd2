package dhcp4svc_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4opts"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4policy"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4store"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4svc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// discardLogger is a no-op [*slog.Logger] for tests that don't assert on log
// output.
func discardLogger() (l *slog.Logger) {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory [dhcp4svc.Store] for dispatcher tests.
type fakeStore struct {
	free       map[string]bool
	owner      map[string]string
	history    []string
	conflictOn string
}

func newFakeStore(pool []string) (s *fakeStore) {
	s = &fakeStore{free: map[string]bool{}, owner: map[string]string{}}
	for _, ip := range pool {
		s.free[ip] = true
	}

	return s
}

func (s *fakeStore) SweepExpired(context.Context) (err error) { return nil }

func (s *fakeStore) CountFree(context.Context) (n int, err error) {
	for _, free := range s.free {
		if free {
			n++
		}
	}

	return n, nil
}

func (s *fakeStore) FindFreeMatching(_ context.Context, ip netip.Addr) (netip.Addr, bool, error) {
	if s.free[ip.String()] {
		return ip, true, nil
	}

	return netip.Addr{}, false, nil
}

func (s *fakeStore) FindByClient(_ context.Context, clientID string) (netip.Addr, bool, error) {
	for ip, cid := range s.owner {
		if cid == clientID {
			addr, _ := netip.ParseAddr(ip)

			return addr, true, nil
		}
	}

	return netip.Addr{}, false, nil
}

func (s *fakeStore) FindAnyFree(context.Context) (netip.Addr, bool, error) {
	var lowest netip.Addr
	for ip, free := range s.free {
		if !free {
			continue
		}

		addr, _ := netip.ParseAddr(ip)
		if !lowest.IsValid() || addr.Less(lowest) {
			lowest = addr
		}
	}

	return lowest, lowest.IsValid(), nil
}

func (s *fakeStore) IsAvailableTo(_ context.Context, target netip.Addr, clientID string) (bool, error) {
	ip := target.String()
	if s.free[ip] {
		return true, nil
	}

	return s.owner[ip] == clientID, nil
}

func (s *fakeStore) CommitLease(
	_ context.Context,
	ip netip.Addr,
	clientID string,
	_ uint32,
	_ dhcp4store.Kind,
) (err error) {
	if s.conflictOn == ip.String() {
		return dhcp4store.ErrLeaseConflict
	}

	s.free[ip.String()] = false
	s.owner[ip.String()] = clientID

	return nil
}

func (s *fakeStore) Release(_ context.Context, ip netip.Addr) (err error) {
	s.free[ip.String()] = true
	delete(s.owner, ip.String())

	return nil
}

func (s *fakeStore) Quarantine(_ context.Context, ip netip.Addr) (err error) {
	s.free[ip.String()] = false
	delete(s.owner, ip.String())

	return nil
}

func (s *fakeStore) AppendHistory(
	_ context.Context,
	ip netip.Addr,
	_ string,
	_, _ *time.Time,
	response dhcp4store.ServerResponse,
	kind dhcp4store.LeaseType,
) (err error) {
	s.history = append(s.history, ip.String()+":"+string(response)+":"+string(kind))

	return nil
}

func testDeps(store dhcp4svc.Store) (deps *dhcp4svc.Deps) {
	return dhcp4svc.NewDeps(
		store,
		&dhcp4policy.ServerConfig{
			ServerIP:      net.IPv4(10, 0, 0, 1),
			PoolStart:     netip.MustParseAddr("10.0.0.10"),
			PoolEnd:       netip.MustParseAddr("10.0.0.12"),
			RestrictedIPs: []string{"10.0.0.11"},
		},
		&dhcp4opts.ReplyConfig{
			ServerIP:        [4]byte{10, 0, 0, 1},
			SubnetMask:      [4]byte{255, 255, 255, 0},
			Router:          [4]byte{10, 0, 0, 1},
			DNSServer:       [4]byte{10, 0, 0, 1},
			DomainName:      "lan.example",
			LeaseTimeSecs:   3600,
			RenewalTimeSecs: 1800,
		},
		nil,
		3600,
	)
}

func discoverMsg() (m *dhcp4msg.Message) {
	m = &dhcp4msg.Message{
		Op:         dhcp4msg.OpBootRequest,
		HType:      1,
		HLen:       6,
		CHAddr:     net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		OptionsMap: map[byte][]byte{dhcp4msg.OptMessageType: {dhcp4msg.TypeDiscover}},
	}

	return m
}

func TestHandle_discover_scenario1(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	deps := testDeps(store)

	res, err := dhcp4svc.Handle(context.Background(), deps, discoverMsg(), "001122334455", discardLogger())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "10.0.0.10", net.IP(res.Reply.YIAddr).String())
}

func TestHandle_request_commit_scenario2(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	deps := testDeps(store)

	m := discoverMsg()
	m.OptionsMap[dhcp4msg.OptMessageType] = []byte{dhcp4msg.TypeRequest}
	m.OptionsMap[dhcp4msg.OptRequestedIP] = []byte{10, 0, 0, 10}
	m.OptionsMap[dhcp4msg.OptServerIdentifier] = []byte{10, 0, 0, 1}

	res, err := dhcp4svc.Handle(context.Background(), deps, m, "001122334455", discardLogger())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "10.0.0.10", net.IP(res.Reply.YIAddr).String())
	assert.False(t, store.free["10.0.0.10"])
	assert.Equal(t, "001122334455", store.owner["10.0.0.10"])
}

func TestHandle_decline_scenario3(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	store.free["10.0.0.10"] = false
	store.owner["10.0.0.10"] = "001122334455"
	deps := testDeps(store)

	m := discoverMsg()
	m.OptionsMap[dhcp4msg.OptMessageType] = []byte{dhcp4msg.TypeDecline}
	m.OptionsMap[dhcp4msg.OptRequestedIP] = []byte{10, 0, 0, 10}
	m.OptionsMap[dhcp4msg.OptServerIdentifier] = []byte{10, 0, 0, 1}

	res, err := dhcp4svc.Handle(context.Background(), deps, m, "001122334455", discardLogger())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, store.free["10.0.0.10"])
	assert.Empty(t, store.owner["10.0.0.10"])
}

func TestHandle_release_scenario4(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	store.free["10.0.0.10"] = false
	store.owner["10.0.0.10"] = "001122334455"
	deps := testDeps(store)

	m := discoverMsg()
	m.OptionsMap[dhcp4msg.OptMessageType] = []byte{dhcp4msg.TypeRelease}
	m.OptionsMap[dhcp4msg.OptRequestedIP] = []byte{10, 0, 0, 10}
	m.OptionsMap[dhcp4msg.OptServerIdentifier] = []byte{10, 0, 0, 1}

	res, err := dhcp4svc.Handle(context.Background(), deps, m, "001122334455", discardLogger())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.True(t, store.free["10.0.0.10"])
}

func TestHandle_request_restricted_scenario5(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	deps := testDeps(store)

	m := discoverMsg()
	m.OptionsMap[dhcp4msg.OptMessageType] = []byte{dhcp4msg.TypeRequest}
	m.OptionsMap[dhcp4msg.OptRequestedIP] = []byte{10, 0, 0, 11}
	m.OptionsMap[dhcp4msg.OptServerIdentifier] = []byte{10, 0, 0, 1}

	res, err := dhcp4svc.Handle(context.Background(), deps, m, "001122334455", discardLogger())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, byte(dhcp4msg.TypeNAK), optionMessageType(t, res.Options))
	assert.True(t, net.IP(res.Reply.YIAddr).Equal(net.IPv4zero))
	require.Len(t, store.history, 1)
	assert.Contains(t, store.history[0], "NAK")
	assert.Contains(t, store.history[0], "DECLINED")
}

func TestHandle_request_commitConflict_isDroppedNotNAKed(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	store.conflictOn = "10.0.0.10"
	deps := testDeps(store)

	m := discoverMsg()
	m.OptionsMap[dhcp4msg.OptMessageType] = []byte{dhcp4msg.TypeRequest}
	m.OptionsMap[dhcp4msg.OptRequestedIP] = []byte{10, 0, 0, 10}
	m.OptionsMap[dhcp4msg.OptServerIdentifier] = []byte{10, 0, 0, 1}

	res, err := dhcp4svc.Handle(context.Background(), deps, m, "001122334455", discardLogger())
	require.NoError(t, err)
	assert.Nil(t, res)
}

// optionMessageType decodes a raw option-region buffer (as produced by
// [dhcp4opts.BuildBaseOptions]) and returns its option-53 value, by
// re-framing it behind a throwaway fixed header and magic cookie.
func optionMessageType(t *testing.T, options []byte) (messageType byte) {
	t.Helper()

	framed := make([]byte, dhcp4msg.FixedHeaderLen)
	framed = append(framed, dhcp4msg.MagicCookie[:]...)
	framed = append(framed, options...)
	framed = append(framed, dhcp4msg.OptEnd)

	m, err := dhcp4msg.Decode(framed)
	require.NoError(t, err)

	return m.MessageType()
}

func TestHandle_inform_scenario6(t *testing.T) {
	store := newFakeStore([]string{"10.0.0.10", "10.0.0.12"})
	deps := testDeps(store)

	m := discoverMsg()
	m.OptionsMap[dhcp4msg.OptMessageType] = []byte{dhcp4msg.TypeInform}
	m.CIAddr = net.IPv4(10, 0, 0, 10)
	m.OptionsMap[dhcp4msg.OptParameterList] = []byte{
		dhcp4msg.OptSubnetMask, dhcp4msg.OptRouter, dhcp4msg.OptDNSServer, dhcp4msg.OptDomainName,
	}

	res, err := dhcp4svc.Handle(context.Background(), deps, m, "001122334455", discardLogger())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, store.history)
}
