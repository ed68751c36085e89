package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/transport"
)

// Modem link opcodes. Host commands have the high bit clear, modem events set.
const (
	opConfigure byte = 0x01
	opReceive   byte = 0x02
	opStandby   byte = 0x03
	opTransmit  byte = 0x04

	evRxDone   byte = 0x81
	evCRCError byte = 0x82
	evTimeout  byte = 0x83
	evTxDone   byte = 0x84
)

const (
	linkConnectTimeout = 10 * time.Second
	linkWriteTimeout   = 3 * time.Second
	linkReadTimeout    = 30 * time.Second
	linkMaxBackoff     = 15 * time.Second
	linkQueueLimit     = 64
)

type linkPacket struct {
	payload []byte
	rssi    int16
	snr     int8
}

// LinkDriver drives a LoRa modem over a framed transport. A background reader
// turns modem events into IRQ flags; Begin connects and starts it.
type LinkDriver struct {
	logger    *slog.Logger
	transport transport.Transport

	mu        sync.Mutex
	cfg       domain.RadioConfig
	begun     bool
	receiving bool
	irq       IRQ
	queue     []linkPacket
	lastRSSI  int16
	lastSNR   int8
	dropped   uint32

	cancel context.CancelFunc
	done   chan struct{}
}

func NewLinkDriver(logger *slog.Logger, tr transport.Transport) *LinkDriver {
	return &LinkDriver{
		logger:    logger.With("driver", "link", "transport", tr.Name()),
		transport: tr,
	}
}

func (d *LinkDriver) Begin(cfg domain.RadioConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), linkConnectTimeout)
	defer cancel()
	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect modem: %w", err)
	}
	if err := d.write(encodeConfigure(cfg)); err != nil {
		return fmt.Errorf("configure modem: %w", err)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.begun = true
	startReader := d.cancel == nil
	var readerCtx context.Context
	if startReader {
		readerCtx, d.cancel = context.WithCancel(context.Background())
		d.done = make(chan struct{})
	}
	d.mu.Unlock()

	if startReader {
		go d.runReader(readerCtx)
	}
	d.logger.Info("modem configured", "frequency_mhz", cfg.FrequencyMHz, "sf", cfg.SpreadingFactor)

	return nil
}

func (d *LinkDriver) StartReceive() error {
	if !d.isBegun() {
		return ErrNotBegun
	}
	if err := d.write([]byte{opReceive}); err != nil {
		return err
	}
	d.mu.Lock()
	d.receiving = true
	d.mu.Unlock()

	return nil
}

func (d *LinkDriver) Standby() error {
	if !d.isBegun() {
		return nil
	}
	d.mu.Lock()
	d.receiving = false
	d.mu.Unlock()

	return d.write([]byte{opStandby})
}

func (d *LinkDriver) Transmit(payload []byte) error {
	if !d.isBegun() {
		return ErrNotBegun
	}
	if len(payload) > MaxPacketLen {
		return ErrPacketTooBig
	}
	cmd := make([]byte, 1+len(payload))
	cmd[0] = opTransmit
	copy(cmd[1:], payload)

	return d.write(cmd)
}

func (d *LinkDriver) IRQFlags() IRQ {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.irq
}

func (d *LinkDriver) ClearIRQFlags(mask IRQ) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.irq &^= mask
	if len(d.queue) > 0 {
		d.irq |= IRQRxDone
	}
}

func (d *LinkDriver) ReadPacket() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil, ErrNoPacket
	}
	pkt := d.queue[0]
	d.queue = d.queue[1:]
	d.lastRSSI = pkt.rssi
	d.lastSNR = pkt.snr

	return pkt.payload, nil
}

func (d *LinkDriver) PacketRSSI() int16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastRSSI
}

func (d *LinkDriver) PacketSNR() int8 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastSNR
}

// Close stops the reader and releases the transport.
func (d *LinkDriver) Close() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.begun = false
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := d.transport.Close()
	if done != nil {
		<-done
	}

	return err
}

func (d *LinkDriver) isBegun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.begun
}

func (d *LinkDriver) write(cmd []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), linkWriteTimeout)
	defer cancel()

	return d.transport.WriteFrame(ctx, cmd)
}

func (d *LinkDriver) runReader(ctx context.Context) {
	defer close(d.done)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		readCtx, cancel := context.WithTimeout(ctx, linkReadTimeout)
		payload, err := d.transport.ReadFrame(readCtx)
		cancel()
		if err == nil {
			backoff = time.Second
			d.handleEvent(payload)

			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}

		d.logger.Warn("modem read failed, reconnecting", "error", err, "backoff", backoff)
		_ = d.transport.Close()
		if !sleepWithContext(ctx, backoff) {
			return
		}
		if backoff < linkMaxBackoff {
			backoff *= 2
		}
		if err := d.reconnect(ctx); err != nil {
			d.logger.Warn("modem reconnect failed", "error", err)
		}
	}
}

func (d *LinkDriver) reconnect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, linkConnectTimeout)
	defer cancel()
	if err := d.transport.Connect(connectCtx); err != nil {
		return err
	}

	d.mu.Lock()
	cfg, receiving := d.cfg, d.receiving
	d.mu.Unlock()

	if err := d.write(encodeConfigure(cfg)); err != nil {
		return err
	}
	if receiving {
		return d.write([]byte{opReceive})
	}

	return nil
}

func (d *LinkDriver) handleEvent(payload []byte) {
	if len(payload) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch payload[0] {
	case evRxDone:
		pkt, err := decodeRxEvent(payload[1:])
		if err != nil {
			d.logger.Debug("malformed rx event", "error", err, "len", len(payload))

			return
		}
		if len(d.queue) >= linkQueueLimit {
			d.queue = d.queue[1:]
			d.dropped++
			d.logger.Warn("rx queue full, dropping oldest packet", "dropped_total", d.dropped)
		}
		d.queue = append(d.queue, pkt)
		d.irq |= IRQRxDone
	case evCRCError:
		d.irq |= IRQCRCError
	case evTimeout:
		d.irq |= IRQTimeout
	case evTxDone:
		d.irq |= IRQTxDone
	default:
		d.logger.Debug("unknown modem event", "op", payload[0])
	}
}

func encodeConfigure(cfg domain.RadioConfig) []byte {
	buf := make([]byte, 12)
	buf[0] = opConfigure
	binary.BigEndian.PutUint32(buf[1:5], math.Float32bits(cfg.FrequencyMHz))
	binary.BigEndian.PutUint32(buf[5:9], math.Float32bits(cfg.BandwidthKHz))
	buf[9] = cfg.SpreadingFactor
	buf[10] = cfg.CodingRate
	// #nosec G115 -- two's complement byte of the dBm value.
	buf[11] = byte(cfg.TxPowerDBm)

	return buf
}

// decodeRxEvent parses rssi(int16 BE) snr(int8) packet.
func decodeRxEvent(b []byte) (linkPacket, error) {
	if len(b) < 3 {
		return linkPacket{}, fmt.Errorf("rx event too short: %d", len(b))
	}
	pkt := linkPacket{
		// #nosec G115 -- wire carries signed values.
		rssi:    int16(binary.BigEndian.Uint16(b[0:2])),
		snr:     int8(b[2]),
		payload: append([]byte(nil), b[3:]...),
	}
	if len(pkt.payload) > MaxPacketLen {
		return linkPacket{}, ErrPacketTooBig
	}

	return pkt, nil
}

// EncodeRxEvent builds a modem rx event; used by modem emulators and tests.
func EncodeRxEvent(payload []byte, rssi int16, snr int8) []byte {
	buf := make([]byte, 4+len(payload))
	buf[0] = evRxDone
	// #nosec G115 -- two's complement on the wire.
	binary.BigEndian.PutUint16(buf[1:3], uint16(rssi))
	// #nosec G115 -- two's complement on the wire.
	buf[3] = byte(snr)
	copy(buf[4:], payload)

	return buf
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
