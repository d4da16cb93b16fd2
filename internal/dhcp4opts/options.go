// Package dhcp4opts builds DHCP option TLV streams for server replies and
// applies the Option Overload mechanism of RFC 2131 §4.1.
package dhcp4opts

import (
	"encoding/binary"
	"fmt"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
)

// ExtendedOptions is the bank of option defaults consulted when answering a
// DHCPINFORM's Parameter Request List.  Keys are option codes; each value is
// the pre-encoded bytes for that option (see dhcp4conf for how this is
// populated from the JSON configuration's options_extended bank).
type ExtendedOptions map[byte][]byte

// ReplyConfig carries the server-side fields [BuildBaseOptions] and
// [BuildInformOptions] need from the running configuration.
type ReplyConfig struct {
	ExtendedOptions ExtendedOptions
	ServerIP        [4]byte
	SubnetMask      [4]byte
	Router          [4]byte
	DNSServer       [4]byte
	DomainName      string
	LeaseTimeSecs   uint32
	RenewalTimeSecs uint32
}

// tlv appends a single code/value TLV to buf.
func tlv(buf []byte, code byte, value []byte) []byte {
	buf = append(buf, code, byte(len(value)))
	buf = append(buf, value...)

	return buf
}

// BuildBaseOptions produces the option stream common to OFFER, ACK, and NAK
// replies.  requestType is the inbound message's option-53 value.
func BuildBaseOptions(replyType byte, requestType byte, cfg *ReplyConfig) (buf []byte) {
	buf = tlv(buf, dhcp4msg.OptMessageType, []byte{replyType})
	buf = tlv(buf, dhcp4msg.OptServerIdentifier, cfg.ServerIP[:])

	if replyType == dhcp4msg.TypeNAK {
		return buf
	}

	buf = tlv(buf, dhcp4msg.OptSubnetMask, cfg.SubnetMask[:])
	buf = tlv(buf, dhcp4msg.OptRouter, cfg.Router[:])
	buf = tlv(buf, dhcp4msg.OptDNSServer, cfg.DNSServer[:])
	buf = tlv(buf, dhcp4msg.OptDomainName, []byte(cfg.DomainName))

	if requestType != dhcp4msg.TypeInform {
		var lease, renew [4]byte
		binary.BigEndian.PutUint32(lease[:], cfg.LeaseTimeSecs)
		binary.BigEndian.PutUint32(renew[:], cfg.RenewalTimeSecs)

		buf = tlv(buf, dhcp4msg.OptLeaseTime, lease[:])
		buf = tlv(buf, dhcp4msg.OptRenewalTime, renew[:])
	}

	return buf
}

// BuildInformOptions produces the custom option stream answering a
// DHCPINFORM's Parameter Request List.  clientID is the requesting client's
// fingerprint, used to synthesize a HostName entry when requested.
func BuildInformOptions(prl []byte, cfg *ReplyConfig, clientID string) (buf []byte) {
	buf = tlv(buf, dhcp4msg.OptServerIdentifier, cfg.ServerIP[:])
	buf = tlv(buf, dhcp4msg.OptMessageType, []byte{dhcp4msg.TypeACK})

	for _, code := range prl {
		switch code {
		case dhcp4msg.OptServerIdentifier, dhcp4msg.OptMessageType:
			// Already emitted above; avoid duplicating the code in
			// OptionsMap on the decoding side.
			continue
		case dhcp4msg.OptHostName:
			buf = tlv(buf, code, []byte(hostNameFor(clientID)))
		default:
			v, ok := cfg.ExtendedOptions[code]
			if !ok {
				// Unknown/unsupported PRL code: silently skipped.
				continue
			}

			buf = tlv(buf, code, v)
		}
	}

	return buf
}

// hostNameFor synthesizes the HostName(12) value as "user" followed by the
// last 12 hex characters of clientID.
func hostNameFor(clientID string) (name string) {
	suffix := clientID
	const wantLen = 12
	if len(suffix) > wantLen {
		suffix = suffix[len(suffix)-wantLen:]
	}

	return fmt.Sprintf("user%s", suffix)
}

// Overload byte values for the sname/file option-overload mechanism.
const (
	OverloadFile  = 1
	OverloadSName = 2
	OverloadBoth  = 3
)

// Overflow thresholds for [AdjustOptions], per RFC 2131 §4.1.
const (
	maxSNameOverflow = 64
	maxFileOverflow  = 128
	maxBothOverflow  = 192
)

// AdjustOptions applies the Option Overload algorithm.  maxSize is the
// client's Maximum DHCP Message Size (option 57), or
// [dhcp4msg.DefaultMaxMessageSize] if absent.  It returns the (possibly
// truncated) options buffer along with the sname/file contents to splice
// into the reply; both are zero-length when no overload occurred.
func AdjustOptions(options []byte, maxSize uint16) (truncated, sname, file []byte) {
	usable := int(maxSize) - dhcp4msg.FixedHeaderLen
	if usable < 0 {
		usable = 0
	}

	if len(options) <= usable {
		return options, nil, nil
	}

	overflow := len(options) - usable

	switch {
	case overflow <= maxSNameOverflow:
		tailStart := len(options) - overflow
		sname = options[tailStart:]
		truncated = appendOverload(options[:tailStart], OverloadSName)

		return truncated, padTo(sname, dhcp4msg.SNameLen), nil
	case overflow <= maxFileOverflow:
		tailStart := len(options) - overflow
		file = options[tailStart:]
		truncated = appendOverload(options[:tailStart], OverloadFile)

		return truncated, nil, padTo(file, dhcp4msg.FileLen)
	case overflow <= maxBothOverflow:
		tailStart := len(options) - overflow
		tail := options[tailStart:]

		snamePart := tail[:dhcp4msg.SNameLen]
		filePart := tail[dhcp4msg.SNameLen:]

		truncated = appendOverload(options[:tailStart], OverloadBoth)

		return truncated, padTo(snamePart, dhcp4msg.SNameLen), padTo(filePart, dhcp4msg.FileLen)
	default:
		// Hard-truncate; no overload byte is set.
		return options[:usable], nil, nil
	}
}

// appendOverload appends the OptionOverload(52) TLV to buf.
func appendOverload(buf []byte, code byte) (out []byte) {
	return tlv(append([]byte(nil), buf...), dhcp4msg.OptOptionOverload, []byte{code})
}

// padTo returns b zero-padded (or truncated, should it ever be too long) to
// exactly n bytes.
func padTo(b []byte, n int) (out []byte) {
	out = make([]byte, n)
	copy(out, b)

	return out
}
