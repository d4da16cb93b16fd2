package dhcp4msg_test

import (
	"net"
	"testing"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDiscover returns a minimal, well-formed DISCOVER datagram.
func buildDiscover(t *testing.T) (buf []byte) {
	t.Helper()

	buf = make([]byte, dhcp4msg.FixedHeaderLen)
	buf[0] = dhcp4msg.OpBootRequest
	buf[1] = 1
	buf[2] = 6
	copy(buf[28:34], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})

	buf = append(buf, dhcp4msg.MagicCookie[:]...)
	buf = append(buf, dhcp4msg.OptMessageType, 1, dhcp4msg.TypeDiscover)
	buf = append(buf, dhcp4msg.OptEnd)

	return buf
}

func TestDecode_tooShort(t *testing.T) {
	_, err := dhcp4msg.Decode(make([]byte, 10))
	assert.ErrorIs(t, err, dhcp4msg.ErrTooShort)
}

func TestDecode_badMagic(t *testing.T) {
	buf := make([]byte, dhcp4msg.MinFramedLen)
	_, err := dhcp4msg.Decode(buf)
	assert.ErrorIs(t, err, dhcp4msg.ErrBadMagic)
}

func TestDecode_truncatedOption(t *testing.T) {
	buf := make([]byte, dhcp4msg.FixedHeaderLen)
	buf = append(buf, dhcp4msg.MagicCookie[:]...)
	buf = append(buf, 53, 5)

	_, err := dhcp4msg.Decode(buf)
	assert.ErrorIs(t, err, dhcp4msg.ErrTruncatedOption)
}

func TestDecode_padSkipped(t *testing.T) {
	buf := make([]byte, dhcp4msg.FixedHeaderLen)
	buf = append(buf, dhcp4msg.MagicCookie[:]...)
	buf = append(buf, dhcp4msg.OptPad, dhcp4msg.OptPad, 53, 1, dhcp4msg.TypeDiscover, dhcp4msg.OptEnd)

	m, err := dhcp4msg.Decode(buf)
	require.NoError(t, err)

	assert.EqualValues(t, dhcp4msg.TypeDiscover, m.MessageType())
}

func TestDecode_roundTrip(t *testing.T) {
	buf := buildDiscover(t)

	m, err := dhcp4msg.Decode(buf)
	require.NoError(t, err)

	assert.EqualValues(t, dhcp4msg.OpBootRequest, m.Op)
	assert.EqualValues(t, 6, m.HLen)
	assert.Equal(t, net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, m.CHAddr[:6])
	assert.EqualValues(t, dhcp4msg.TypeDiscover, m.MessageType())

	out := dhcp4msg.Encode(m)

	again, err := dhcp4msg.Decode(out)
	require.NoError(t, err)

	assert.Equal(t, m.Op, again.Op)
	assert.Equal(t, m.HLen, again.HLen)
	assert.Equal(t, m.XID, again.XID)
	assert.Equal(t, m.CHAddr, again.CHAddr)
	assert.Equal(t, m.OptionsMap, again.OptionsMap)
}

func TestEncode_magicCookieAndEnd(t *testing.T) {
	m := &dhcp4msg.Message{Options: []byte{dhcp4msg.OptMessageType, 1, dhcp4msg.TypeOffer}}

	out := dhcp4msg.Encode(m)

	require.GreaterOrEqual(t, len(out), dhcp4msg.MinFramedLen)
	assert.Equal(
		t,
		dhcp4msg.MagicCookie[:],
		out[dhcp4msg.FixedHeaderLen:dhcp4msg.FixedHeaderLen+dhcp4msg.MagicCookieLen],
	)
	assert.Contains(t, out[dhcp4msg.FixedHeaderLen+dhcp4msg.MagicCookieLen:], byte(dhcp4msg.OptEnd))
}

func TestPad(t *testing.T) {
	out := dhcp4msg.Pad(make([]byte, 10))
	assert.Len(t, out, dhcp4msg.MinPaddedLen)

	big := make([]byte, 600)
	assert.Len(t, dhcp4msg.Pad(big), 600)
}
