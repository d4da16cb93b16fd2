package dhcp4msg

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Message types, as carried in option 53.
const (
	TypeDiscover = 1
	TypeOffer    = 2
	TypeRequest  = 3
	TypeDecline  = 4
	TypeACK      = 5
	TypeNAK      = 6
	TypeRelease  = 7
	TypeInform   = 8
)

// Op codes for the fixed op field.
const (
	OpBootRequest = 1
	OpBootReply   = 2
)

// Option codes used across the codec, assembler, and policy layers.
const (
	OptSubnetMask        = 1
	OptRouter            = 3
	OptDNSServer         = 6
	OptHostName          = 12
	OptDomainName        = 15
	OptRequestedIP       = 50
	OptLeaseTime         = 51
	OptOptionOverload    = 52
	OptMessageType       = 53
	OptServerIdentifier  = 54
	OptParameterList     = 55
	OptMaxMessageSize    = 57
	OptRenewalTime       = 58
	OptEnd               = 255
	OptPad               = 0
)

// Sizes fixed by RFC 2131.
const (
	// FixedHeaderLen is the length of the BOOTP fixed header, bytes [0..236).
	FixedHeaderLen = 236

	// CHAddrLen is the width of the chaddr field.
	CHAddrLen = 16

	// SNameLen is the width of the sname field.
	SNameLen = 64

	// FileLen is the width of the file field.
	FileLen = 128

	// MagicCookieLen is the width of the magic cookie.
	MagicCookieLen = 4

	// MinFramedLen is the minimum length of a valid framed buffer: the fixed
	// header plus the magic cookie.
	MinFramedLen = FixedHeaderLen + MagicCookieLen

	// MinPaddedLen is the minimum size of an outbound datagram after
	// padding, per RFC 2131's minimum DHCP payload size.
	MinPaddedLen = 548

	// DefaultMaxMessageSize is used when the client did not send option 57.
	DefaultMaxMessageSize = 1500
)

// MagicCookie is the four-byte marker separating the BOOTP header from the
// DHCP options.
var MagicCookie = [MagicCookieLen]byte{99, 130, 83, 99}

// Message is the decoded wire record of a BOOTP/DHCPv4 datagram.
type Message struct {
	// OptionsMap maps an option code to its raw value bytes.  A code appears
	// at most once; later duplicates in the wire form overwrite earlier
	// ones.
	OptionsMap map[byte][]byte

	// CIAddr is the client's IP address, if already bound.
	CIAddr net.IP

	// YIAddr is "your" IP address, assigned by the server.
	YIAddr net.IP

	// SIAddr is the next-server IP address.
	SIAddr net.IP

	// GIAddr is the relay-agent IP address.
	GIAddr net.IP

	// CHAddr is the client hardware address, padded with zeros to
	// [CHAddrLen].
	CHAddr net.HardwareAddr

	// SName is the server-name field, 64 bytes, possibly overloaded with
	// options.
	SName [SNameLen]byte

	// File is the boot-file-name field, 128 bytes, possibly overloaded with
	// options.
	File [FileLen]byte

	// Options is the raw option-region bytes, starting right after the
	// magic cookie.  Retained so the Option Overload post-processor can
	// splice fields in and out by position.
	Options []byte

	// XID is the transaction ID.
	XID uint32

	// Secs is the number of seconds elapsed since the client began the
	// transaction.
	Secs uint16

	// Flags carries the broadcast bit (0x8000) and reserved bits.
	Flags uint16

	// Op is 1 for a client request, 2 for a server reply.
	Op byte

	// HType is the hardware type (1 = Ethernet).
	HType byte

	// HLen is the hardware address length.
	HLen byte

	// Hops is the relay hop count.
	Hops byte
}

// Broadcast reports whether the broadcast bit of Flags is set.
func (m *Message) Broadcast() (ok bool) {
	return m.Flags&0x8000 != 0
}

// Option returns the raw bytes of option code, if present.
func (m *Message) Option(code byte) (b []byte, ok bool) {
	b, ok = m.OptionsMap[code]
	return b, ok
}

// MessageType returns the value of option 53, or 0 if absent.
func (m *Message) MessageType() (typ byte) {
	b, ok := m.Option(OptMessageType)
	if !ok || len(b) == 0 {
		return 0
	}

	return b[0]
}

// RequestedIP returns the value of option 50, or the zero address if absent.
func (m *Message) RequestedIP() (ip net.IP) {
	b, ok := m.Option(OptRequestedIP)
	if !ok || len(b) != 4 {
		return net.IPv4zero
	}

	return net.IP(b).To4()
}

// ServerIdentifier returns the value of option 54 and whether it was
// present.
func (m *Message) ServerIdentifier() (ip net.IP, ok bool) {
	b, ok := m.Option(OptServerIdentifier)
	if !ok || len(b) != 4 {
		return nil, false
	}

	return net.IP(b).To4(), true
}

// MaxMessageSize returns the value of option 57, or [DefaultMaxMessageSize]
// if absent or malformed.
func (m *Message) MaxMessageSize() (size uint16) {
	b, ok := m.Option(OptMaxMessageSize)
	if !ok || len(b) != 2 {
		return DefaultMaxMessageSize
	}

	return binary.BigEndian.Uint16(b)
}

// ParameterRequestList returns the codes listed in option 55, if present.
func (m *Message) ParameterRequestList() (codes []byte) {
	b, _ := m.Option(OptParameterList)
	return b
}

// ClientID returns the lowercase hex fingerprint of the client's hardware
// address, truncated to hlen bytes.
func (m *Message) ClientID() (id string) {
	n := int(m.HLen)
	if n > len(m.CHAddr) {
		n = len(m.CHAddr)
	}

	return fmt.Sprintf("%x", []byte(m.CHAddr[:n]))
}

// Decode parses buf into a [Message].  It returns [ErrTooShort] if buf is
// shorter than [MinFramedLen], [ErrBadMagic] if the magic cookie does not
// match, and [ErrTruncatedOption] if an option's declared length runs off
// the end of buf.
func Decode(buf []byte) (m *Message, err error) {
	if len(buf) < MinFramedLen {
		return nil, ErrTooShort
	}

	if [4]byte(buf[FixedHeaderLen:FixedHeaderLen+MagicCookieLen]) != MagicCookie {
		return nil, ErrBadMagic
	}

	m = &Message{
		Op:     buf[0],
		HType:  buf[1],
		HLen:   buf[2],
		Hops:   buf[3],
		XID:    binary.BigEndian.Uint32(buf[4:8]),
		Secs:   binary.BigEndian.Uint16(buf[8:10]),
		Flags:  binary.BigEndian.Uint16(buf[10:12]),
		CIAddr: net.IP(buf[12:16]).To4(),
		YIAddr: net.IP(buf[16:20]).To4(),
		SIAddr: net.IP(buf[20:24]).To4(),
		GIAddr: net.IP(buf[24:28]).To4(),
		CHAddr: net.HardwareAddr(append([]byte(nil), buf[28:28+CHAddrLen]...)),
	}

	copy(m.SName[:], buf[44:44+SNameLen])
	copy(m.File[:], buf[108:108+FileLen])

	m.Options = append([]byte(nil), buf[FixedHeaderLen+MagicCookieLen:]...)

	m.OptionsMap, err = parseOptions(m.Options)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// parseOptions walks a TLV stream and returns the decoded option map.  Code
// 0 is a single pad byte and is skipped; code 255 (END) stops parsing.
func parseOptions(buf []byte) (m map[byte][]byte, err error) {
	m = map[byte][]byte{}

	for i := 0; i < len(buf); {
		code := buf[i]
		switch code {
		case OptPad:
			i++

			continue
		case OptEnd:
			return m, nil
		}

		if i+1 >= len(buf) {
			return nil, ErrTruncatedOption
		}

		length := int(buf[i+1])
		start := i + 2
		end := start + length
		if end > len(buf) {
			return nil, ErrTruncatedOption
		}

		m[code] = append([]byte(nil), buf[start:end]...)
		i = end
	}

	return m, nil
}

// Encode serializes m's fixed fields and appends options, prefixed by the
// magic cookie and suffixed by the END option.  The caller is expected to
// have already run options through the Option Overload adjustment and set
// m.SName/m.File accordingly.
func Encode(m *Message) (buf []byte) {
	buf = make([]byte, FixedHeaderLen, FixedHeaderLen+MagicCookieLen+len(m.Options)+1)

	buf[0] = m.Op
	buf[1] = m.HType
	buf[2] = m.HLen
	buf[3] = m.Hops
	binary.BigEndian.PutUint32(buf[4:8], m.XID)
	binary.BigEndian.PutUint16(buf[8:10], m.Secs)
	binary.BigEndian.PutUint16(buf[10:12], m.Flags)
	copyIP4(buf[12:16], m.CIAddr)
	copyIP4(buf[16:20], m.YIAddr)
	copyIP4(buf[20:24], m.SIAddr)
	copyIP4(buf[24:28], m.GIAddr)
	copy(buf[28:28+CHAddrLen], m.CHAddr)
	copy(buf[44:44+SNameLen], m.SName[:])
	copy(buf[108:108+FileLen], m.File[:])

	buf = append(buf, MagicCookie[:]...)
	buf = append(buf, m.Options...)
	buf = append(buf, OptEnd)

	m.OptionsMap, _ = parseOptions(buf[FixedHeaderLen+MagicCookieLen:])

	return buf
}

// Pad returns buf zero-padded up to at least [MinPaddedLen] bytes.
func Pad(buf []byte) (padded []byte) {
	if len(buf) >= MinPaddedLen {
		return buf
	}

	padded = make([]byte, MinPaddedLen)
	copy(padded, buf)

	return padded
}

// copyIP4 copies the 4-byte representation of ip into dst, which must be
// exactly 4 bytes long.  A nil or non-IPv4 address copies as zero.
func copyIP4(dst []byte, ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		return
	}

	copy(dst, v4)
}
