package dhcp4svc

import (
	"net"
	"os"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/net/ipv4"
)

// newBroadcastPacketConn opens a UDP socket bound to bindAddr:port with
// SO_BROADCAST and SO_REUSEADDR set, so the server can both receive
// broadcast DISCOVER/REQUEST datagrams and send broadcast replies.  ifname,
// if non-empty, restricts the bind to that interface via SO_BINDTODEVICE.
func newBroadcastPacketConn(bindAddr net.IP, port int, ifname string) (pc *ipv4.PacketConn, err error) {
	s, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, errors.Annotate(err, "opening socket: %w")
	}

	err = syscall.SetsockoptInt(s, syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	if err != nil {
		return nil, errors.Annotate(err, "setting SO_BROADCAST: %w")
	}

	err = syscall.SetsockoptInt(s, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	if err != nil {
		return nil, errors.Annotate(err, "setting SO_REUSEADDR: %w")
	}

	if ifname != "" {
		err = syscall.SetsockoptString(s, syscall.SOL_SOCKET, syscall.SO_BINDTODEVICE, ifname)
		if err != nil {
			return nil, errors.Annotate(err, "binding to device: %w")
		}
	}

	addr := syscall.SockaddrInet4{Port: port}
	copy(addr.Addr[:], bindAddr.To4())

	err = syscall.Bind(s, &addr)
	if err != nil {
		_ = syscall.Close(s)

		return nil, errors.Annotate(err, "binding socket: %w")
	}

	f := os.NewFile(uintptr(s), "")
	c, err := net.FilePacketConn(f)
	_ = f.Close()
	if err != nil {
		return nil, errors.Annotate(err, "wrapping socket: %w")
	}

	return ipv4.NewPacketConn(c), nil
}
