package engine

import (
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// readTimeout bounds each blocking receive so the reader loop can observe
// shutdown promptly.
const readTimeout = 1 * time.Second

// rcvBufSize is the socket receive buffer we attempt to request. Sized
// generously above the worst-case burst of datagrams the engine will
// ever decode; the kernel is free to clamp this, and failure to raise it
// is not fatal.
const rcvBufSize = 4 << 20 // 4 MiB

// endpoint wraps the UDP socket the engine sends and receives on. Reads
// use a short deadline so Serve's loop can poll for shutdown without a
// dedicated cancellation channel per read.
//
// This wrapper uses x/sys/unix to raise the socket's receive buffer and
// x/net/ipv4 to enable the per-datagram destination-address control
// message on reads. ReadFrom discards that control message, and WriteTo
// sends through the bound *net.UDPConn, so replies do not choose a
// source interface. Neither step is required for correctness: if either
// setup step fails (e.g. no
// CAP_NET_RAW in a sandboxed container), the engine logs at debug and
// continues with the underlying *net.UDPConn unchanged.
type endpoint struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn // nil if control-message support could not be enabled
	log  *zap.SugaredLogger
}

func newEndpoint(addr string, log *zap.SugaredLogger) (*endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}

	ep := &endpoint{conn: conn, log: log}
	ep.tuneReceiveBuffer()
	ep.enableControlMessages()
	return ep, nil
}

func (e *endpoint) tuneReceiveBuffer() {
	rawConn, err := e.conn.SyscallConn()
	if err != nil {
		e.log.Debugf("engine: transport: SyscallConn unavailable: %v", err)
		return
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBufSize)
	})
	if err != nil {
		e.log.Debugf("engine: transport: rawConn.Control failed: %v", err)
		return
	}
	if sockErr != nil {
		e.log.Debugf("engine: transport: SO_RCVBUF failed: %v", sockErr)
	}
}

func (e *endpoint) enableControlMessages() {
	pc := ipv4.NewPacketConn(e.conn)
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		e.log.Debugf("engine: transport: ipv4 control messages unavailable: %v", err)
		return
	}
	e.pc = pc
}

// LocalAddr returns the bound local address.
func (e *endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// ReadFrom blocks for up to readTimeout for one datagram. A deadline
// expiry is reported as (0, nil, os.ErrDeadlineExceeded-wrapping err)
// so Serve's loop can distinguish "nothing arrived, keep polling" from a
// genuine socket failure (closed during shutdown).
func (e *endpoint) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, nil, err
	}

	if e.pc != nil {
		n, _, src, err := e.pc.ReadFrom(buf)
		if err != nil {
			return 0, nil, err
		}
		udpSrc, _ := src.(*net.UDPAddr)
		return n, udpSrc, nil
	}

	return e.conn.ReadFromUDP(buf)
}

// WriteTo sends b to addr. Send failures are the caller's to swallow: a
// lookup never fails because one send did.
func (e *endpoint) WriteTo(b []byte, addr *net.UDPAddr) error {
	_, err := e.conn.WriteToUDP(b, addr)
	return err
}

// Close shuts down the socket; the reader loop observes this as an error
// on its next ReadFrom and exits.
func (e *endpoint) Close() error {
	return e.conn.Close()
}
