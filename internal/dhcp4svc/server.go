package dhcp4svc

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4msg"
	"github.com/AdguardTeam/dhcp4d/internal/dhcp4opts"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
)

// ServerPort is the well-known DHCP server port.
const ServerPort = 67

// ClientPort is the well-known DHCP client port, used as the destination
// port for every reply.
const ClientPort = 68

// recvBufferSize is large enough for the largest DHCP datagram a compliant
// client can request (option 57's default ceiling).
const recvBufferSize = 1500

// recvTimeout bounds each blocking read so the loop periodically rechecks
// ctx, per §4.6.
const recvTimeout = 60 * time.Second

// Server is a bound, running DHCPv4 server: a shared socket and the
// dependencies every spawned per-datagram goroutine needs.  A *Server is
// immutable once constructed; there are no back-references from a
// goroutine to the Server that spawned it beyond this pointer, so it is
// safe to share across any number of goroutines.
type Server struct {
	logger *slog.Logger
	conn   *ipv4.PacketConn
	deps   *Deps
}

// New binds a broadcast-capable UDP socket on bindAddr:ServerPort and
// returns a Server ready to [Server.Serve].  ifname, if non-empty,
// restricts the bind to that interface.
func New(logger *slog.Logger, bindAddr net.IP, ifname string, deps *Deps) (s *Server, err error) {
	conn, err := newBroadcastPacketConn(bindAddr, ServerPort, ifname)
	if err != nil {
		return nil, errors.Annotate(err, "binding dhcp socket: %w")
	}

	return &Server{logger: logger, conn: conn, deps: deps}, nil
}

// Close releases the underlying socket.
func (s *Server) Close() (err error) {
	return s.conn.Close()
}

// Serve reads datagrams until ctx is done or the socket errors, spawning one
// goroutine per datagram.  It blocks until ctx is done.
func (s *Server) Serve(ctx context.Context) (err error) {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	buf := make([]byte, recvBufferSize)
	for {
		err = s.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		if err != nil {
			return errors.Annotate(err, "setting read deadline: %w")
		}

		n, _, src, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return errors.Annotate(err, "reading datagram: %w")
		}

		datagram := append([]byte(nil), buf[:n]...)
		srcAddr, _ := src.(*net.UDPAddr)

		go s.handleDatagram(ctx, datagram, srcAddr)
	}
}

// handleDatagram decodes, dispatches, and replies to a single datagram,
// recovering from and logging any panic so one malformed client can never
// take down the listener.
func (s *Server) handleDatagram(ctx context.Context, datagram []byte, src *net.UDPAddr) {
	reqID := uuid.NewString()
	l := s.logger.With(slogutil.KeyPrefix, "dhcp4svc", "req_id", reqID)

	defer slogutil.RecoverAndLog(ctx, l)

	msg, err := dhcp4msg.Decode(datagram)
	if err != nil {
		l.WarnContext(ctx, "decoding datagram", slogutil.KeyError, err, "src", src)

		return
	}

	clientID := msg.ClientID()
	l = l.With("client_id", clientID)

	res, err := Handle(ctx, s.deps, msg, clientID, l)
	if err != nil {
		l.ErrorContext(ctx, "handling datagram", slogutil.KeyError, err)

		return
	}

	if res == nil || res.Reply == nil {
		return
	}

	err = s.send(ctx, msg, res)
	if err != nil {
		l.ErrorContext(ctx, "sending reply", slogutil.KeyError, err)
	}
}

// send finalizes res.Reply (option overload, padding) and writes it to the
// destination computed from req and reply, per §4.5.
func (s *Server) send(ctx context.Context, req *dhcp4msg.Message, res *Result) (err error) {
	reply := res.Reply

	truncated, sname, file := dhcp4opts.AdjustOptions(res.Options, req.MaxMessageSize())
	reply.Options = truncated

	if sname != nil {
		copy(reply.SName[:], sname)
	}

	if file != nil {
		copy(reply.File[:], file)
	}

	out := dhcp4msg.Pad(dhcp4msg.Encode(reply))

	dest := replyDestination(req, reply)

	_, err = s.conn.WriteTo(out, nil, dest)
	if err != nil {
		return errors.Annotate(err, "writing reply: %w")
	}

	return nil
}

// replyDestination implements the destination rule of §4.5.
func replyDestination(req, reply *dhcp4msg.Message) (dest *net.UDPAddr) {
	if req.Broadcast() || req.CIAddr.Equal(net.IPv4zero) {
		return &net.UDPAddr{IP: net.IPv4bcast, Port: ClientPort}
	}

	return &net.UDPAddr{IP: req.CIAddr, Port: ClientPort}
}
