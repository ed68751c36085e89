package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	// Echo server: reads one frame and writes it back.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		payload, err := readFrame(ioReadFull(conn))
		if err != nil {
			return
		}
		frame, _ := encodeFrame(payload)
		_, _ = conn.Write(frame)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewTCPTransport(slog.New(slog.NewTextHandler(io.Discard, nil)), "127.0.0.1", addr.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = tr.Close() }()

	if err := tr.WriteFrame(ctx, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tr.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("ping")) {
		t.Fatalf("unexpected echo %q", got)
	}
}

func TestTCPTransportNotConnected(t *testing.T) {
	tr := NewTCPTransport(slog.New(slog.NewTextHandler(io.Discard, nil)), "127.0.0.1", 0)
	if tr.Target() != "127.0.0.1:4001" {
		t.Fatalf("unexpected default target %q", tr.Target())
	}
	if _, err := tr.ReadFrame(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
