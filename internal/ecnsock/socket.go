// Package ecnsock wraps a UDP socket with per-datagram ECN codepoint
// read and set via IP-level ancillary control messages, the Go
// equivalent of the reference implementation's IP_RECVTOS/recvmsg and
// per-socket cached IP_TOS setsockopt.
package ecnsock

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/yuyyi51/udp-prague/internal/ecn"
	"github.com/yuyyi51/ylog"
)

// Socket is an ECN-aware UDP datagram socket. The last-applied ECN
// codepoint is cached on the socket itself, never in a package-level
// variable, so that multiple sockets in the same process never
// interfere with each other's TOS state.
type Socket struct {
	pc      net.PacketConn
	conn    *ipv4.PacketConn
	logger  ylog.ILogger
	lastECN ecn.Codepoint
	haveECN bool
}

// Bind opens a socket listening on addr:port, for the receiver role.
func Bind(addr string, port int, logger ylog.ILogger) (*Socket, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("ecnsock: bind %s:%d: %w", addr, port, err)
	}
	return newSocket(pc, logger)
}

// Connect opens a socket with a fixed remote peer, for the sender role.
func Connect(addr string, port int, logger ylog.ILogger) (*Socket, error) {
	remote, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("ecnsock: resolve %s:%d: %w", addr, port, err)
	}
	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("ecnsock: connect %s:%d: %w", addr, port, err)
	}
	return newSocket(conn, logger)
}

func newSocket(pc net.PacketConn, logger ylog.ILogger) (*Socket, error) {
	conn := ipv4.NewPacketConn(pc)
	if err := conn.SetControlMessage(ipv4.FlagTOS, true); err != nil {
		pc.Close()
		return nil, fmt.Errorf("ecnsock: enable TOS control messages: %w", err)
	}
	s := &Socket{pc: pc, conn: conn, logger: logger}
	s.requestRealtimePriority()
	return s, nil
}

// requestRealtimePriority is advisory per the concurrency model: the
// core must function correctly whether or not this succeeds.
func (s *Socket) requestRealtimePriority() {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil && s.logger != nil {
		s.logger.Debug("ecnsock: could not raise scheduling priority: %v", err)
	}
}

// Receive reads one datagram, blocking until one arrives.
func (s *Socket) Receive(buf []byte) (n int, from net.Addr, codepoint ecn.Codepoint, err error) {
	return s.receive(buf, 0)
}

// ReceiveTimeout is Receive with an explicit wait bound. timeout<=0
// blocks forever; timeout>0 waits at most that long and returns n=0,
// err=nil on expiry.
func (s *Socket) ReceiveTimeout(buf []byte, timeout time.Duration) (n int, from net.Addr, codepoint ecn.Codepoint, err error) {
	return s.receive(buf, timeout)
}

func (s *Socket) receive(buf []byte, timeout time.Duration) (int, net.Addr, ecn.Codepoint, error) {
	if timeout > 0 {
		if err := s.pc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, ecn.NotECT, err
		}
	} else {
		if err := s.pc.SetReadDeadline(time.Time{}); err != nil {
			return 0, nil, ecn.NotECT, err
		}
	}
	n, cm, from, err := s.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ecn.NotECT, nil
		}
		return 0, nil, ecn.NotECT, err
	}
	var codepoint ecn.Codepoint
	if cm != nil {
		codepoint = ecn.Mask(byte(cm.TOS))
	}
	return n, from, codepoint, nil
}

// Send transmits one datagram to addr carrying the given ECN
// codepoint, only touching the control-message TOS when it changes
// from the last datagram sent on this socket.
func (s *Socket) Send(buf []byte, addr net.Addr, codepoint ecn.Codepoint) (int, error) {
	var cm *ipv4.ControlMessage
	if !s.haveECN || s.lastECN != codepoint {
		cm = &ipv4.ControlMessage{TOS: int(codepoint)}
		s.lastECN = codepoint
		s.haveECN = true
	}
	n, err := s.conn.WriteTo(buf, cm, addr)
	if err != nil {
		return n, fmt.Errorf("ecnsock: send: %w", err)
	}
	return n, nil
}

// LocalAddr returns the address a socket is bound to.
func (s *Socket) LocalAddr() net.Addr {
	return s.pc.LocalAddr()
}

// RemoteAddr returns the fixed peer address for a socket opened with
// Connect, or nil for one opened with Bind.
func (s *Socket) RemoteAddr() net.Addr {
	type remoteAddresser interface{ RemoteAddr() net.Addr }
	if c, ok := s.pc.(remoteAddresser); ok {
		return c.RemoteAddr()
	}
	return nil
}

func (s *Socket) Close() error {
	return s.pc.Close()
}
