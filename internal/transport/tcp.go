package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultTCPPort is the usual raw TCP port of serial-to-network bridges such as ser2net.
const DefaultTCPPort = 4001

const tcpDialTimeout = 6 * time.Second

// TCPTransport reaches a modem exposed through a TCP bridge.
type TCPTransport struct {
	addr   string
	logger *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCPTransport(logger *slog.Logger, host string, port int) *TCPTransport {
	if port <= 0 {
		port = DefaultTCPPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	return &TCPTransport{
		addr:   addr,
		logger: logger.With("transport", "tcp", "target", addr),
	}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) Target() string {
	return t.addr
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: tcpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial tcp %s: %w", t.addr, err)
	}
	t.conn = conn
	t.logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.logger.Info("closed")

	return err
}

func (t *TCPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	payload, err := readFrame(ioReadFull(conn))
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func (t *TCPTransport) WriteFrame(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (t *TCPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}
