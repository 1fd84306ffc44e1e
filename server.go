package modbus

import (
	"context"
	"errors"
	"sync"
)

// Server is a Modbus slave bound to one station address and Handler.
// Generally the intended use is:
//
//	l, _ := modbus.ListenTCP("localhost:502")
//	s := &modbus.Server{Config: modbus.Config{Protocol: modbus.TCP, Station: 1}, Handler: modbus.NewStoreMux(store)}
//	log.Fatal(s.Serve(ctx, l))
//
// For RTU/ASCII, a Server normally owns the one serial Transport for its
// bus directly via ServeTransport, since there is no per-connection accept
// step.
type Server struct {
	Config
	Handler Handler
}

// ServeTransport runs the request-dispatch loop over t until ctx is done,
// t returns an error, or a malformed request is received (spec §4.5,
// §4.6): read one frame, answer it if (and only if) it targets this
// server's station or is a broadcast, then read the next. It always
// closes t before returning.
func (s *Server) ServeTransport(ctx context.Context, t Transport) error {
	defer t.Close()
	framer := framerFor(s.Protocol)
	if framer == nil || s.Handler == nil {
		return ErrInvalidArgument
	}
	// Each read is bounded by the configured (or default) server read
	// timeout, per spec §4.5 ("the loop never blocks indefinitely; the
	// read timeout is configurable per instance") and §6's server default.
	// A timeout on an otherwise idle connection is not itself an error --
	// the bus or socket may simply be quiet -- so the loop below re-reads
	// rather than tearing the connection down; only ctx cancellation or a
	// genuine transport/framing error ends it.
	t.SetReadTimeout(s.Config.serverReadTimeout())
	for {
		frame, err := s.readRequest(ctx, t, framer)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return err
		}
		if frame.Function.IsException() {
			return ErrInvalidResponse
		}
		if frame.Station != s.Station && frame.Station != Broadcast {
			continue
		}

		data, ex, after := s.Handler.Handle(ctx, frame.Function, frame.Data)
		if ex != NoException {
			after = nil
		}
		if frame.Station == Broadcast {
			// No response will ever be sent for a broadcast, so OnWrite
			// runs right away instead of waiting for an event that never
			// happens.
			if after != nil {
				after()
			}
			continue
		}

		respFn := frame.Function
		if ex != NoException {
			respFn |= exceptionFlag
			data = []byte{byte(ex)}
		}
		resp := Frame{Station: s.Station, Function: respFn, Data: data, TransactionID: frame.TransactionID}
		if err := s.writeResponse(ctx, t, framer, resp); err != nil {
			return err
		}
		// spec §4.2: OnWrite fires after the response frame is sent, never
		// before -- by now the area's own lock, acquired and released
		// inside the handler, is long gone, and only the response write
		// itself gated this point.
		if after != nil {
			after()
		}
	}
}

func (s *Server) readRequest(ctx context.Context, t Transport, f Framer) (Frame, error) {
	if err := t.Lock(ctx); err != nil {
		return Frame{}, err
	}
	defer t.Unlock()
	return f.ReadFrame(ctx, t, kindRequest, s.Config.DelayAfterRead)
}

func (s *Server) writeResponse(ctx context.Context, t Transport, f Framer, resp Frame) error {
	if err := t.Lock(ctx); err != nil {
		return err
	}
	defer t.Unlock()
	return f.WriteFrame(ctx, t, resp)
}

// Serve accepts connections from l until ctx is done or l.Accept fails,
// running ServeTransport for each one in its own goroutine. MaxConnections
// (if positive) bounds how many run concurrently; connections beyond the
// limit wait for a slot to free up before being served.
func (s *Server) Serve(ctx context.Context, l *TCPListener) error {
	if err := s.Config.Verify(); err != nil {
		return err
	}
	var sem chan struct{}
	if s.MaxConnections > 0 {
		sem = make(chan struct{}, s.MaxConnections)
	}
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := l.Accept(ctx, s.KeepAlive)
		if err != nil {
			return err
		}
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				conn.Close()
				return ctx.Err()
			}
		}
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			s.ServeTransport(ctx, t)
		}(conn)
	}
}
