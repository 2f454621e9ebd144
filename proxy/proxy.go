// Package proxy sits between a host and a monitor. It answers the host as a
// monitor on one bus and queries the real monitor as a master on the other,
// caching and rewriting EDID and capability data on the way.
package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/bitbang"
	"github.com/mklimuk/ddcproxy/ddc"
	"github.com/mklimuk/ddcproxy/ddc/transform"
	"github.com/mklimuk/ddcproxy/line"
)

// HostBus is the slave side facing the host.
type HostBus interface {
	GetByte(ctx context.Context) (byte, error)
	ContinueByte(ctx context.Context) (byte, error)
	SendByteToMaster(ctx context.Context, b byte) (bitbang.Response, error)
}

// Upstream is the monitor the proxy fronts. Retries are the upstream's
// business.
type Upstream interface {
	ReadEDID(ctx context.Context) (ddc.EDID, error)
	Exchange(ctx context.Context, payload []byte) ([]byte, error)
	Send(ctx context.Context, payload []byte) error
}

// ClockStretcher is a host bus able to hold the host clock low.
type ClockStretcher interface {
	HoldClock()
	ReleaseClock()
}

var _ HostBus = &bitbang.Endpoint{}
var _ ClockStretcher = &bitbang.Endpoint{}
var _ Upstream = &ddc.Monitor{}

type Opts struct {
	Transform transform.Func
	Logger    *slog.Logger
	Observer  Observer
	Clock     ddcproxy.Clock
	Stretch   bool
}

type Opt func(*Opts)

func WithTransform(fn transform.Func) Opt {
	return func(o *Opts) {
		o.Transform = fn
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func WithObserver(observer Observer) Opt {
	return func(o *Opts) {
		o.Observer = observer
	}
}

// WithClock sets the clock used to timestamp events.
func WithClock(clock ddcproxy.Clock) Opt {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// WithClockStretch holds the host clock low while a request is forwarded to
// the monitor. The host master must tolerate stretching for that long.
func WithClockStretch(stretch bool) Opt {
	return func(o *Opts) {
		o.Stretch = stretch
	}
}

// Proxy owns the host facing endpoint, the upstream monitor and every cache.
// It is driven by a single goroutine calling Run.
type Proxy struct {
	host     HostBus
	upstream Upstream
	opts     Opts
	log      *slog.Logger

	edid          ddc.EDID
	awaitingFirst bool
	offset        int
	caps          *ddc.Capabilities
	pending       []byte
	stats         Stats
}

func New(host HostBus, upstream Upstream, opts ...Opt) *Proxy {
	o := Opts{
		Transform: transform.Identity,
		Logger:    slog.Default(),
		Clock:     line.SpinClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Proxy{
		host:          host,
		upstream:      upstream,
		opts:          o,
		log:           o.Logger,
		awaitingFirst: true,
		caps:          ddc.NewCapabilities(),
	}
}

// Prime fills the EDID cache before serving so the host never sees the
// placeholder.
func (p *Proxy) Prime(ctx context.Context) error {
	if !p.refreshEDID(ctx) {
		return fmt.Errorf("could not prime edid cache: %w", ddcproxy.ErrReadFailed)
	}
	return nil
}

// EDID returns the cached block once a valid one was read.
func (p *Proxy) EDID() (ddc.EDID, bool) {
	return p.edid, !p.awaitingFirst
}

func (p *Proxy) Capabilities() *ddc.Capabilities {
	return p.caps
}

func (p *Proxy) Stats() Stats {
	return p.stats
}

// Run serves the host until ctx is cancelled. Failed requests are logged and
// the host reading their reply gets the null message; they never end the
// loop.
func (p *Proxy) Run(ctx context.Context) error {
	p.log.Info("proxy loop started", "cached", !p.awaitingFirst)
	for {
		addr, err := p.host.GetByte(ctx)
		if err != nil {
			return err
		}
		switch addr {
		case ddcproxy.AddrEDIDWrite:
			p.setOffset(ctx)
		case ddcproxy.AddrEDIDRead:
			p.serveEDID(ctx)
		case ddcproxy.AddrDDCCIWrite:
			p.handleRequest(ctx)
		case ddcproxy.AddrDDCCIRead:
			p.serveReply(ctx)
		default:
			p.stats.IgnoredAddresses++
			p.log.Debug("ignoring address", "addr", fmt.Sprintf("%#02x", addr))
			p.publish(Event{Kind: KindIgnored, Addr: addr})
		}
	}
}

func (p *Proxy) setOffset(ctx context.Context) {
	off, err := p.host.ContinueByte(ctx)
	if err != nil {
		p.log.Debug("edid write without offset", "error", err)
		return
	}
	p.offset = int(off) % ddc.EDIDSize
	p.publish(Event{Kind: KindEDIDOffset, Addr: ddcproxy.AddrEDIDWrite, Data: hexData([]byte{off})})
}

func (p *Proxy) serveEDID(ctx context.Context) {
	p.stats.EDIDRequests++
	if p.awaitingFirst {
		placeholder := ddc.Placeholder()
		n := p.sendEDID(ctx, placeholder)
		p.stats.PlaceholderSent++
		p.log.Info("served placeholder edid", "bytes", n)
		p.publish(Event{Kind: KindEDIDPlaceholder, Addr: ddcproxy.AddrEDIDRead, Bytes: n})
		p.refreshEDID(ctx)
		return
	}
	n := p.sendEDID(ctx, p.edid)
	p.log.Debug("served cached edid", "bytes", n)
	p.publish(Event{Kind: KindEDIDServed, Addr: ddcproxy.AddrEDIDRead, Bytes: n})
}

// sendEDID streams the block from the offset pointer until the host stops
// acknowledging. The pointer wraps like monitor memory does and only moves
// past bytes the host clocked out completely.
func (p *Proxy) sendEDID(ctx context.Context, edid ddc.EDID) int {
	n := 0
	for {
		resp, err := p.host.SendByteToMaster(ctx, edid[p.offset])
		if err != nil {
			return n
		}
		n++
		if resp == bitbang.ResponseAck || resp == bitbang.ResponseNack {
			p.offset = (p.offset + 1) % ddc.EDIDSize
		}
		if resp != bitbang.ResponseAck {
			return n
		}
	}
}

// refreshEDID reads the monitor, applies the transform and caches the result
// when it is valid.
func (p *Proxy) refreshEDID(ctx context.Context) bool {
	p.stats.MonitorReads++
	edid, err := p.upstream.ReadEDID(ctx)
	if err != nil {
		p.stats.MonitorFailures++
		p.log.Warn("could not read monitor edid", "error", err)
		p.publish(Event{Kind: KindError, Addr: ddcproxy.AddrEDIDRead, Error: err.Error()})
		return false
	}
	edid = p.opts.Transform(edid)
	if !edid.Valid() {
		p.stats.MonitorFailures++
		p.log.Warn("transformed edid is not valid, not caching")
		p.publish(Event{Kind: KindError, Addr: ddcproxy.AddrEDIDRead, Error: "invalid edid"})
		return false
	}
	p.edid = edid
	p.awaitingFirst = false
	p.log.Info("cached monitor edid", "name", edid.Info().Name)
	p.publish(Event{Kind: KindEDIDCached, Addr: ddcproxy.AddrEDIDRead, Bytes: ddc.EDIDSize, Data: edid.Hex()})
	return true
}

// readRequest collects a host request frame after its address byte.
func (p *Proxy) readRequest(ctx context.Context) ([]byte, error) {
	buf := []byte{ddcproxy.AddrDDCCIWrite}
	src, err := p.host.ContinueByte(ctx)
	if err != nil {
		return buf, err
	}
	buf = append(buf, src)
	if src != ddcproxy.AddrHost {
		return buf, fmt.Errorf("unexpected source address %#02x", src)
	}
	length, err := p.host.ContinueByte(ctx)
	if err != nil {
		return buf, err
	}
	buf = append(buf, length)
	n, err := ddc.RequestLength(length)
	if err != nil {
		return buf, err
	}
	for i := 0; i <= n; i++ {
		b, err := p.host.ContinueByte(ctx)
		if err != nil {
			return buf, err
		}
		buf = append(buf, b)
	}
	return buf, nil
}

func (p *Proxy) handleRequest(ctx context.Context) {
	p.stats.Requests++
	raw, err := p.readRequest(ctx)
	var frame ddc.Frame
	if err == nil {
		frame, err = ddc.DecodeRequest(raw)
	}
	if err != nil {
		p.stats.InvalidRequests++
		p.log.Warn("discarding host request", "data", fmt.Sprintf("% x", raw), "error", err)
		p.publish(Event{Kind: KindError, Addr: ddcproxy.AddrDDCCIWrite, Data: hexData(raw), Error: err.Error()})
		return
	}
	p.dispatchRequest(ctx, frame)
}

func (p *Proxy) dispatchRequest(ctx context.Context, frame ddc.Frame) {
	p.log.Debug("host request", "frame", frame)
	p.publish(Event{Kind: KindRequest, Addr: ddcproxy.AddrDDCCIWrite, Data: hexData(frame.Payload)})
	p.pending = nil
	if off, ok := ddc.ParseCapabilityRequest(frame.Payload); ok {
		if reply, ok := p.caps.Reply(off); ok {
			p.stats.CacheHits++
			p.publish(Event{Kind: KindCacheHit, Addr: ddcproxy.AddrDDCCIWrite, Data: hexData(reply)})
			p.pending = ddc.EncodeReply(reply)
			return
		}
		reply, err := p.forward(ctx, frame.Payload)
		if err != nil {
			return
		}
		if len(reply) > 0 {
			got, data, err := ddc.ParseCapabilityReply(reply)
			if err != nil || got != off {
				p.stats.ForwardFailures++
				p.log.Warn("unexpected capability reply", "offset", off, "reply", fmt.Sprintf("% x", reply))
				return
			}
			p.caps.Put(off, data)
		}
		p.pending = ddc.EncodeReply(reply)
		return
	}
	if frame.Payload[0] == ddcproxy.CmdVCPSet {
		p.stats.Forwarded++
		release := p.holdHost()
		err := p.upstream.Send(ctx, frame.Payload)
		release()
		if err != nil {
			p.stats.ForwardFailures++
			p.log.Warn("could not forward request", "error", err)
		}
		return
	}
	reply, err := p.forward(ctx, frame.Payload)
	if err != nil {
		return
	}
	p.pending = ddc.EncodeReply(reply)
}

func (p *Proxy) forward(ctx context.Context, payload []byte) ([]byte, error) {
	p.stats.Forwarded++
	release := p.holdHost()
	reply, err := p.upstream.Exchange(ctx, payload)
	release()
	if err != nil {
		p.stats.ForwardFailures++
		p.log.Warn("could not forward request", "request", fmt.Sprintf("% x", payload), "error", err)
		p.publish(Event{Kind: KindError, Addr: ddcproxy.AddrDDCCIWrite, Data: hexData(payload), Error: err.Error()})
		return nil, err
	}
	return reply, nil
}

// serveReply sends the pending reply, or the null message when there is
// none, and clears it.
func (p *Proxy) serveReply(ctx context.Context) {
	reply := p.pending
	p.pending = nil
	if reply == nil {
		reply = ddc.EncodeReply(nil)
	}
	n := 0
	for _, b := range reply {
		resp, err := p.host.SendByteToMaster(ctx, b)
		n++
		if err != nil || resp != bitbang.ResponseAck {
			break
		}
	}
	p.stats.RepliesSent++
	p.publish(Event{Kind: KindReply, Addr: ddcproxy.AddrDDCCIRead, Bytes: n, Data: hexData(reply)})
}

// holdHost stretches the host clock when enabled and returns the release.
func (p *Proxy) holdHost() func() {
	s, ok := p.host.(ClockStretcher)
	if !p.opts.Stretch || !ok {
		return func() {}
	}
	s.HoldClock()
	p.stats.Stretched++
	return s.ReleaseClock
}

func (p *Proxy) publish(ev Event) {
	if p.opts.Observer == nil {
		return
	}
	ev.Time = p.opts.Clock.Now()
	p.opts.Observer.Observe(ev)
}
