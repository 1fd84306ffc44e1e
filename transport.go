package modbus

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"
)

// Transport is the abstract byte-stream collaborator the core consumes
// (spec §6). Serial ports, TCP sockets and listeners are external
// collaborators owned by the caller; the core never imports a serial-port
// driver or configures the network stack, it only talks through this
// interface -- the same shape as a teacher's network type, generalized from
// "only net.Conn" to any io.ReadWriter.
type Transport interface {
	// Read reads exactly n bytes into dst[:n], blocking until n bytes have
	// arrived, the configured read timeout elapses, or ctx is done.
	Read(ctx context.Context, dst []byte, n int) error
	// ReadUntil reads and returns bytes up to and including the first
	// occurrence of delim, or fails with ErrTimeout.
	ReadUntil(ctx context.Context, delim byte) ([]byte, error)
	// FlushInbound discards already-buffered, not-yet-consumed bytes
	// without blocking. n<0 discards everything currently buffered.
	FlushInbound(n int) error
	// Write writes src[off:off+n] to the transport.
	Write(ctx context.Context, src []byte, off, n int) error
	// SetReadTimeout configures how long Read/ReadUntil wait before
	// failing with ErrTimeout.
	SetReadTimeout(d time.Duration)
	// ReadableBytes reports how many bytes are already buffered and
	// available without blocking. Client.Command uses this before writing a
	// request to discard stale bytes left by an earlier exchange. The frame
	// encoders (RTU, ASCII and TCP alike) do not consult it: WriteFrame
	// writes even while unread bytes remain.
	ReadableBytes() int
	// Lock acquires this transport's scoped lock (spec §5); frame
	// operations hold it for their duration so bytes from one request and
	// one response on a shared transport never interleave.
	Lock(ctx context.Context) error
	// Unlock releases the transport's scoped lock.
	Unlock()
	// Close releases the underlying byte stream.
	Close() error
}

// readDeadliner and writeDeadliner are satisfied by net.Conn and similar
// transports that support cancelling a blocked read/write by deadline.
// StreamTransport uses them when available, falling back to a plain timer
// otherwise (e.g. a bare io.ReadWriter with no deadline support).
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// streamTransport adapts any io.ReadWriter to the Transport interface. It
// is the seam through which serial ports (an external collaborator, spec
// §1) and test-only in-memory pipes are plugged into the core, grounded on
// aldas-go-modbus-client's NewSerialClient(serialPort io.ReadWriteCloser).
type streamTransport struct {
	rw      io.ReadWriter
	br      *bufio.Reader
	mu      mutex
	timeout time.Duration
}

// NewStreamTransport adapts rw to the Transport interface. rw may
// optionally implement io.Closer, readDeadliner and/or writeDeadliner.
func NewStreamTransport(rw io.ReadWriter) Transport {
	return &streamTransport{
		rw:      rw,
		br:      bufio.NewReader(rw),
		mu:      newMutex(),
		timeout: 300 * time.Millisecond,
	}
}

func (t *streamTransport) Lock(ctx context.Context) error {
	return t.mu.lock(ctx)
}

func (t *streamTransport) Unlock() {
	t.mu.unlock()
}

func (t *streamTransport) SetReadTimeout(d time.Duration) {
	t.timeout = d
}

func (t *streamTransport) ReadableBytes() int {
	return t.br.Buffered()
}

func (t *streamTransport) FlushInbound(n int) error {
	if n < 0 {
		n = t.br.Buffered()
	}
	if n > t.br.Buffered() {
		n = t.br.Buffered()
	}
	if n == 0 {
		return nil
	}
	_, err := t.br.Discard(n)
	return err
}

func (t *streamTransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// withReadDeadline runs fn, cancelling a blocked read either by setting a
// real read deadline (when the transport supports one, the teacher's
// connection.go pattern) or, failing that, by racing a timer against a
// background goroutine. A timeout of zero or less means wait indefinitely,
// cancellable only through ctx.
func (t *streamTransport) withReadDeadline(ctx context.Context, fn func() error) error {
	deadline, hasDeadline := t.rw.(readDeadliner)
	if hasDeadline && t.timeout > 0 {
		deadline.SetReadDeadline(time.Now().Add(t.timeout))
		defer deadline.SetReadDeadline(time.Time{})
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	var timeout <-chan time.Time
	if !hasDeadline && t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil && isTimeoutLike(err) {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if hasDeadline {
			deadline.SetReadDeadline(time.Unix(1, 0))
			<-done
		}
		return ctx.Err()
	case <-timeout:
		return ErrTimeout
	}
}

func isTimeoutLike(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func (t *streamTransport) Read(ctx context.Context, dst []byte, n int) error {
	return t.withReadDeadline(ctx, func() error {
		_, err := io.ReadFull(t.br, dst[:n])
		return err
	})
}

func (t *streamTransport) ReadUntil(ctx context.Context, delim byte) ([]byte, error) {
	var out []byte
	err := t.withReadDeadline(ctx, func() error {
		var e error
		out, e = t.br.ReadBytes(delim)
		return e
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *streamTransport) Write(ctx context.Context, src []byte, off, n int) error {
	deadline, hasDeadline := t.rw.(writeDeadliner)
	if hasDeadline && t.timeout > 0 {
		deadline.SetWriteDeadline(time.Now().Add(t.timeout))
		defer deadline.SetWriteDeadline(time.Time{})
	}
	done := make(chan error, 1)
	go func() {
		_, err := t.rw.Write(src[off : off+n])
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if hasDeadline {
			deadline.SetWriteDeadline(time.Unix(1, 0))
			<-done
		}
		return ctx.Err()
	}
}
