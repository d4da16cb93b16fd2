package dhcp4store_test

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4store"
	"github.com/stretchr/testify/assert"
)

func TestHashConfig(t *testing.T) {
	raw := []byte(`{"a":1}`)
	sum := sha256.Sum256(raw)

	assert.Equal(t, hex.EncodeToString(sum[:]), dhcp4store.HashConfig(raw))
	assert.NotEqual(t, dhcp4store.HashConfig([]byte(`{"a":2}`)), dhcp4store.HashConfig(raw))
}

func TestPoolAddresses(t *testing.T) {
	pool := &dhcp4store.PoolConfig{
		RangeStart:    netip.MustParseAddr("10.0.0.10"),
		RangeEnd:      netip.MustParseAddr("10.0.0.12"),
		RestrictedIPs: []string{"10.0.0.11"},
	}

	addrs := dhcp4store.PoolAddresses(pool)

	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.0.0.10"),
		netip.MustParseAddr("10.0.0.12"),
	}, addrs)
}

func TestPoolAddresses_singleton(t *testing.T) {
	pool := &dhcp4store.PoolConfig{
		RangeStart: netip.MustParseAddr("10.0.0.10"),
		RangeEnd:   netip.MustParseAddr("10.0.0.10"),
	}

	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.10")}, dhcp4store.PoolAddresses(pool))
}
