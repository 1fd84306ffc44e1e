package modbus

import (
	"context"
	"io"
	"net"
	"time"
)

// NewTCPTransport adapts an already-connected net.Conn to the Transport
// interface, disabling Nagle's algorithm by default (spec §6: Modbus/TCP
// masters and slaves normally turn this off since requests are small and
// latency-sensitive).
func NewTCPTransport(conn net.Conn) Transport {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return NewStreamTransport(conn)
}

// applyKeepAlive configures TCP keep-alive probing on conn, if it supports
// it and d is positive.
func applyKeepAlive(conn net.Conn, d time.Duration) {
	if d <= 0 {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(d)
	}
}

// DialTCP connects to address and returns a Transport ready for use by a
// Client (spec §6).
func DialTCP(ctx context.Context, address string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewTCPTransport(conn), nil
}

// TCPListener accepts incoming Modbus/TCP connections and hands each one
// back as a Transport, so Server never imports net directly (spec §4.5,
// §6: the listener itself is an external collaborator).
type TCPListener struct {
	ln net.Listener
}

// ListenTCP starts listening on address.
func ListenTCP(address string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks until a client connects, ctx is done, or the listener is
// closed. keepAlive, if positive, is applied to the accepted connection
// (spec §6).
func (l *TCPListener) Accept(ctx context.Context, keepAlive time.Duration) (Transport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		applyKeepAlive(r.conn, keepAlive)
		return NewTCPTransport(r.conn), nil
	case <-ctx.Done():
		l.ln.Close()
		<-ch
		return nil, ctx.Err()
	}
}

// Close stops the listener. Connections already accepted are unaffected.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

var _ io.Closer = (*TCPListener)(nil)
