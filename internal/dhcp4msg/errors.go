// Package dhcp4msg implements the BOOTP/DHCPv4 wire-format codec: decoding
// an inbound datagram into a typed [Message] and encoding a [Message] back
// into bytes, per RFC 2131.
package dhcp4msg

import "github.com/AdguardTeam/golibs/errors"

const (
	// ErrTooShort is returned when a buffer is shorter than the minimum
	// framed message size.
	ErrTooShort errors.Error = "buffer too short"

	// ErrBadMagic is returned when the magic cookie is missing or wrong.
	ErrBadMagic errors.Error = "bad magic cookie"

	// ErrTruncatedOption is returned when an option's declared length runs
	// off the end of the buffer.
	ErrTruncatedOption errors.Error = "truncated option"
)
