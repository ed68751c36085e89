package radio

import (
	"sync"

	"github.com/skobkin/meshola/internal/domain"
)

type simEvent struct {
	irq     IRQ
	payload []byte
	rssi    int16
	snr     int8
}

// SimDriver is an in-memory radio. Injected events are reported one at a time,
// in injection order, through IRQFlags.
type SimDriver struct {
	mu sync.Mutex

	cfg       domain.RadioConfig
	begun     bool
	receiving bool
	events    []simEvent
	sent      [][]byte
	lastRSSI  int16
	lastSNR   int8
	peers     []*SimDriver

	beginErr    error
	transmitErr error

	standbyCalls int
	receiveCalls int
}

func NewSimDriver() *SimDriver {
	return &SimDriver{}
}

// Pair links two simulated radios so each one's transmissions arrive at the other.
func Pair(a, b *SimDriver) {
	a.mu.Lock()
	a.peers = append(a.peers, b)
	a.mu.Unlock()

	b.mu.Lock()
	b.peers = append(b.peers, a)
	b.mu.Unlock()
}

func (d *SimDriver) Begin(cfg domain.RadioConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.beginErr != nil {
		d.begun = false

		return d.beginErr
	}
	d.cfg = cfg
	d.begun = true

	return nil
}

func (d *SimDriver) StartReceive() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.begun {
		return ErrNotBegun
	}
	d.receiving = true
	d.receiveCalls++

	return nil
}

func (d *SimDriver) Standby() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.receiving = false
	d.standbyCalls++

	return nil
}

func (d *SimDriver) Transmit(payload []byte) error {
	d.mu.Lock()
	if !d.begun {
		d.mu.Unlock()

		return ErrNotBegun
	}
	if len(payload) > MaxPacketLen {
		d.mu.Unlock()

		return ErrPacketTooBig
	}
	if d.transmitErr != nil {
		err := d.transmitErr
		d.mu.Unlock()

		return err
	}
	pkt := append([]byte(nil), payload...)
	d.sent = append(d.sent, pkt)
	peers := append([]*SimDriver(nil), d.peers...)
	d.mu.Unlock()

	for _, p := range peers {
		p.InjectFrame(pkt, -70, 9)
	}

	return nil
}

func (d *SimDriver) IRQFlags() IRQ {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) == 0 {
		return 0
	}

	return d.events[0].irq
}

func (d *SimDriver) ClearIRQFlags(mask IRQ) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) == 0 {
		return
	}
	d.events[0].irq &^= mask
	if d.events[0].irq == 0 {
		d.events = d.events[1:]
	}
}

func (d *SimDriver) ReadPacket() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) == 0 || d.events[0].irq&IRQRxDone == 0 {
		return nil, ErrNoPacket
	}
	ev := d.events[0]
	d.lastRSSI = ev.rssi
	d.lastSNR = ev.snr

	return append([]byte(nil), ev.payload...), nil
}

func (d *SimDriver) PacketRSSI() int16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastRSSI
}

func (d *SimDriver) PacketSNR() int8 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastSNR
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.begun = false
	d.receiving = false

	return nil
}

// InjectFrame queues a received packet with its link metrics.
func (d *SimDriver) InjectFrame(payload []byte, rssi int16, snr int8) {
	d.push(simEvent{irq: IRQRxDone, payload: append([]byte(nil), payload...), rssi: rssi, snr: snr})
}

func (d *SimDriver) InjectCRCError() {
	d.push(simEvent{irq: IRQCRCError})
}

func (d *SimDriver) InjectTimeout() {
	d.push(simEvent{irq: IRQTimeout})
}

func (d *SimDriver) push(ev simEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

// Transmitted returns copies of all packets sent so far.
func (d *SimDriver) Transmitted() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]byte, len(d.sent))
	for i, p := range d.sent {
		out[i] = append([]byte(nil), p...)
	}

	return out
}

func (d *SimDriver) Receiving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.receiving
}

func (d *SimDriver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.events)
}

func (d *SimDriver) Config() domain.RadioConfig {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cfg
}

func (d *SimDriver) SetBeginError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErr = err
}

func (d *SimDriver) SetTransmitError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transmitErr = err
}

// Calls reports how many times Standby and StartReceive were invoked.
func (d *SimDriver) Calls() (standby, receive int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.standbyCalls, d.receiveCalls
}
