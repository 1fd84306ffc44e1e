package modbus

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"
)

func pipeTransports() (Transport, Transport) {
	a, b := net.Pipe()
	return NewStreamTransport(a), NewStreamTransport(b)
}

func TestRTUFramerRoundTrip(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	want := Frame{Station: 0x11, Function: ReadHoldingRegisters, Data: []byte{0x00, 0x6B, 0x00, 0x03}}
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- rtuFramer{}.WriteFrame(ctx, client, want) }()

	got, err := rtuFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.Station != want.Station || got.Function != want.Function || !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRTUFramerBadCRC(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		// station, function, data, and a deliberately wrong CRC.
		errCh <- client.Write(ctx, []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x00, 0x00}, 0, 8)
	}()
	_, err := rtuFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	<-errCh
	if err != ErrInvalidCrc {
		t.Errorf("ReadFrame with bad CRC = %v, want ErrInvalidCrc", err)
	}
}

func TestASCIIFramerRoundTrip(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	want := Frame{Station: 0x11, Function: WriteMultipleCoils, Data: []byte{0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}}
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- asciiFramer{}.WriteFrame(ctx, client, want) }()

	got, err := asciiFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.Station != want.Station || got.Function != want.Function || !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestTCPFramerRoundTrip(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	want := Frame{Station: 0x01, Function: ReadCoils, Data: []byte{0x00, 0x00, 0x00, 0x0A}, TransactionID: 42}
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- tcpFramer{}.WriteFrame(ctx, client, want) }()

	got, err := tcpFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestTCPFramerExceptionResponse(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	want := Frame{Station: 0x01, Function: ReadCoils | exceptionFlag, Data: []byte{byte(IllegalDataAddress)}, TransactionID: 7}
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- tcpFramer{}.WriteFrame(ctx, client, want) }()

	got, err := tcpFramer{}.ReadFrame(ctx, server, kindResponse, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	<-errCh
	if !got.Function.IsException() || Exception(got.Data[0]) != IllegalDataAddress {
		t.Errorf("got %+v, want exception IllegalDataAddress", got)
	}
}

func TestRTUFramerCustomFunctionCodeUnsupportedWithoutShape(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		errCh <- rtuFramer{}.WriteFrame(ctx, client, Frame{Station: 1, Function: 100, Data: []byte{0xAA, 0xBB}})
	}()
	_, err := rtuFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	<-errCh
	if err != ErrUnsupported {
		t.Errorf("ReadFrame of unregistered custom code = %v, want ErrUnsupported", err)
	}
}

func TestRTUFramerCustomFunctionCodeWithShape(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	want := Frame{Station: 1, Function: 100, Data: []byte{0xAA, 0xBB, 0xCC}}
	ctx := WithFrameShapes(context.Background(), map[FunctionCode]FrameShape{
		100: {ByteCountAt: -1, Fixed: 3},
	})
	errCh := make(chan error, 1)
	go func() { errCh <- rtuFramer{}.WriteFrame(ctx, client, want) }()

	got, err := rtuFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	<-errCh
	if !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRTUFramerCustomFunctionCodeByteCountPrefixed(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	// address(2) then a one-byte count then that many payload bytes.
	want := Frame{Station: 1, Function: 101, Data: []byte{0x00, 0x0A, 0x02, 0x11, 0x22}}
	ctx := WithFrameShapes(context.Background(), map[FunctionCode]FrameShape{
		101: {ByteCountAt: 2},
	})
	errCh := make(chan error, 1)
	go func() { errCh <- rtuFramer{}.WriteFrame(ctx, client, want) }()

	got, err := rtuFramer{}.ReadFrame(ctx, server, kindRequest, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	<-errCh
	if !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

// TestRTUFramerDelayAfterRead checks that a nonzero delayAfterRead holds
// ReadFrame past the moment the frame is fully on the wire (spec §4.1's
// "read CRC, wait delayAfterRead, then compare" ordering).
func TestRTUFramerDelayAfterRead(t *testing.T) {
	client, server := pipeTransports()
	defer client.Close()
	defer server.Close()
	client.SetReadTimeout(time.Second)
	server.SetReadTimeout(time.Second)

	want := Frame{Station: 0x11, Function: ReadHoldingRegisters, Data: []byte{0x00, 0x6B, 0x00, 0x03}}
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- rtuFramer{}.WriteFrame(ctx, client, want) }()

	const delay = 30 * time.Millisecond
	start := time.Now()
	got, err := rtuFramer{}.ReadFrame(ctx, server, kindRequest, delay)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	<-errCh
	if elapsed < delay {
		t.Errorf("ReadFrame returned after %v, want at least delayAfterRead %v", elapsed, delay)
	}
	if got.Station != want.Station || got.Function != want.Function || !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
