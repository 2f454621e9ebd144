package ddc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/line"
)

const (
	DefaultAddressRetries  = 3
	DefaultExchangeRetries = 3
	// DefaultReplyDelay is the minimum time a host waits before reading a
	// DDC/CI reply.
	DefaultReplyDelay = 40 * time.Millisecond

	maxFragments = 64
)

// Bus is the master side of a bit-level bus.
type Bus interface {
	ddcproxy.Master
	RecvByte() (byte, error)
	Ack() error
	Nack() error
}

type MonitorOpts struct {
	Clock           ddcproxy.Clock
	Logger          *slog.Logger
	AddressRetries  int
	ExchangeRetries int
	ReplyDelay      time.Duration
}

type MonitorOpt func(*MonitorOpts)

func WithMonitorClock(clock ddcproxy.Clock) MonitorOpt {
	return func(o *MonitorOpts) {
		o.Clock = clock
	}
}

func WithMonitorLogger(logger *slog.Logger) MonitorOpt {
	return func(o *MonitorOpts) {
		o.Logger = logger
	}
}

func WithAddressRetries(n int) MonitorOpt {
	return func(o *MonitorOpts) {
		o.AddressRetries = n
	}
}

func WithExchangeRetries(n int) MonitorOpt {
	return func(o *MonitorOpts) {
		o.ExchangeRetries = n
	}
}

func WithReplyDelay(d time.Duration) MonitorOpt {
	return func(o *MonitorOpts) {
		o.ReplyDelay = d
	}
}

// Monitor talks to a display as DDC master: EDID reads with header
// resynchronisation and DDC/CI exchanges.
type Monitor struct {
	bus  Bus
	opts MonitorOpts
}

func NewMonitor(bus Bus, opts ...MonitorOpt) *Monitor {
	o := MonitorOpts{
		Clock:           line.SpinClock{},
		Logger:          slog.Default(),
		AddressRetries:  DefaultAddressRetries,
		ExchangeRetries: DefaultExchangeRetries,
		ReplyDelay:      DefaultReplyDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Monitor{bus: bus, opts: o}
}

// address issues START and the address byte, retrying on NACK. A NACKed
// attempt is closed with STOP.
func (m *Monitor) address(ctx context.Context, addr byte) error {
	return ddcproxy.RetryErr(m.opts.AddressRetries, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.bus.Start(); err != nil {
			return err
		}
		if err := m.bus.WriteByte(addr); err != nil {
			_ = m.bus.Stop()
			return err
		}
		return nil
	})
}

// ReadEDID streams the EDID block. When the read starts in the middle of the
// record the header is detected in the trailing window, the transfer is cut
// and restarted so the rest lands at the right offsets. A pass that never
// sees the header, or ends with a bad checksum, is retried once.
func (m *Monitor) ReadEDID(ctx context.Context) (EDID, error) {
	var lastErr error
	for pass := 1; pass <= 2; pass++ {
		edid, err := m.readEDIDPass(ctx)
		if err == nil && !edid.ChecksumOK() {
			err = fmt.Errorf("%w: %w: edid sum is off by %#02x", ddcproxy.ErrReadFailed, ddcproxy.ErrInvalidChecksum, edid.Checksum()-edid[EDIDSize-1])
		}
		if err == nil {
			return edid, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return EDID{}, ctxErr
		}
		m.opts.Logger.Debug("edid read pass failed", "pass", pass, "error", err)
		lastErr = err
	}
	return EDID{}, fmt.Errorf("could not read edid: %w", lastErr)
}

func (m *Monitor) readEDIDPass(ctx context.Context) (EDID, error) {
	var edid EDID
	if err := m.address(ctx, ddcproxy.AddrEDIDRead); err != nil {
		return edid, fmt.Errorf("could not address edid: %w", err)
	}
	aligned := false
	for i := 0; i < EDIDSize; i++ {
		b, err := m.bus.RecvByte()
		if err != nil {
			_ = m.bus.Stop()
			return edid, fmt.Errorf("could not read edid byte %d: %w", i, err)
		}
		edid[i] = b
		if start := i - len(Header) + 1; !aligned && start >= 0 && bytes.Equal(edid[start:i+1], Header[:]) {
			aligned = true
			if start > 0 {
				m.opts.Logger.Debug("edid header found mid-stream", "offset", start)
				if err := m.resync(ctx, &edid); err != nil {
					return edid, err
				}
				i = len(Header) - 1
				continue
			}
		}
		if i == EDIDSize-1 {
			err = m.bus.Nack()
		} else {
			err = m.bus.Ack()
		}
		if err != nil {
			_ = m.bus.Stop()
			return edid, err
		}
	}
	if err := m.bus.Stop(); err != nil {
		return edid, err
	}
	if !aligned {
		return edid, ddcproxy.ErrHeaderNotFound
	}
	return edid, nil
}

// resync ends the current read with a NACK, puts the canonical header in
// place and re-addresses the monitor, which continues right after it.
func (m *Monitor) resync(ctx context.Context, edid *EDID) error {
	if err := m.bus.Nack(); err != nil {
		_ = m.bus.Stop()
		return err
	}
	copy(edid[:], Header[:])
	for i := len(Header); i < EDIDSize; i++ {
		edid[i] = 0
	}
	if err := ctx.Err(); err != nil {
		_ = m.bus.Stop()
		return err
	}
	if err := m.bus.Start(); err != nil {
		return fmt.Errorf("could not restart edid read: %w", err)
	}
	if err := m.bus.WriteByte(ddcproxy.AddrEDIDRead); err != nil {
		_ = m.bus.Stop()
		return fmt.Errorf("could not restart edid read: %w", err)
	}
	return nil
}

// Write sends a DDC/CI request.
func (m *Monitor) Write(ctx context.Context, payload []byte) error {
	frame := Request(payload...).Encode()
	if err := m.address(ctx, frame[0]); err != nil {
		return fmt.Errorf("could not address monitor: %w", err)
	}
	for i, b := range frame[1:] {
		if err := m.bus.WriteByte(b); err != nil {
			_ = m.bus.Stop()
			return fmt.Errorf("could not write request byte %d: %w", i+1, err)
		}
	}
	return m.bus.Stop()
}

// Read fetches a DDC/CI reply. A null message yields an empty payload. An
// invalid length byte is NACKed and the transfer stopped without reading
// further.
func (m *Monitor) Read(ctx context.Context) ([]byte, error) {
	if err := m.address(ctx, ddcproxy.AddrDDCCIRead); err != nil {
		return nil, fmt.Errorf("could not address monitor: %w", err)
	}
	buf := make([]byte, 2, MaxReplyLength+3)
	var err error
	if buf[0], err = m.bus.ReadByte(true); err != nil {
		_ = m.bus.Stop()
		return nil, err
	}
	if buf[1], err = m.bus.RecvByte(); err != nil {
		_ = m.bus.Stop()
		return nil, err
	}
	n, null, err := ParseLength(buf[1])
	if err != nil || null {
		_ = m.bus.Nack()
		_ = m.bus.Stop()
		return nil, err
	}
	if err := m.bus.Ack(); err != nil {
		_ = m.bus.Stop()
		return nil, err
	}
	for i := 0; i <= n; i++ {
		b, err := m.bus.ReadByte(i < n)
		if err != nil {
			_ = m.bus.Stop()
			return nil, fmt.Errorf("could not read reply byte %d: %w", i+2, err)
		}
		buf = append(buf, b)
	}
	if err := m.bus.Stop(); err != nil {
		return nil, err
	}
	payload, err := DecodeReply(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ddcproxy.ErrReadFailed, err)
	}
	return payload, nil
}

// Exchange writes a request, waits for the monitor to prepare the reply and
// reads it. Failed exchanges are retried from the write.
func (m *Monitor) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	return ddcproxy.Retry(m.opts.ExchangeRetries, func() ([]byte, error) {
		if err := m.Write(ctx, payload); err != nil {
			return nil, err
		}
		m.opts.Clock.Sleep(m.opts.ReplyDelay)
		reply, err := m.Read(ctx)
		if err != nil {
			m.opts.Logger.Debug("ddc/ci exchange failed", "request", fmt.Sprintf("% x", payload), "error", err)
		}
		return reply, err
	})
}

// Send writes a request that has no reply, such as a VCP set.
func (m *Monitor) Send(ctx context.Context, payload []byte) error {
	return ddcproxy.RetryErr(m.opts.ExchangeRetries, func() error {
		return m.Write(ctx, payload)
	})
}

// Capability fetches one capability fragment.
func (m *Monitor) Capability(ctx context.Context, offset uint16) ([]byte, error) {
	reply, err := m.Exchange(ctx, CapabilityRequest(offset))
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, nil
	}
	got, data, err := ParseCapabilityReply(reply)
	if err != nil {
		return nil, err
	}
	if got != offset {
		return nil, fmt.Errorf("%w: asked for offset %d, got %d", ddcproxy.ErrReadFailed, offset, got)
	}
	return data, nil
}

// Capabilities reads fragments at increasing offsets until an empty fragment
// or a rejected request ends the string.
func (m *Monitor) Capabilities(ctx context.Context) (*Capabilities, error) {
	caps := NewCapabilities()
	var offset uint16
	for range maxFragments {
		data, err := m.Capability(ctx, offset)
		if err != nil {
			if caps.Len() > 0 && !errors.Is(err, context.Canceled) {
				m.opts.Logger.Warn("capability string truncated", "offset", offset, "error", err)
				return caps, nil
			}
			return caps, fmt.Errorf("could not read capabilities at offset %d: %w", offset, err)
		}
		caps.Put(offset, data)
		if len(data) == 0 {
			return caps, nil
		}
		offset += uint16(len(data))
	}
	return caps, nil
}
