package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/bitbang"
	"github.com/mklimuk/ddcproxy/config"
	"github.com/mklimuk/ddcproxy/ddc"
	"github.com/mklimuk/ddcproxy/line"
)

// board opens bus endpoints on the configured line driver and releases
// whatever it opened on Close.
type board struct {
	cfg     *config.Config
	nanopi  *line.NanoPi
	closers []io.Closer
}

func openBoard(cfg *config.Config) (*board, error) {
	b := &board{cfg: cfg}
	if cfg.Driver == config.DriverGobot {
		npi, err := line.OpenNanoPi()
		if err != nil {
			return nil, err
		}
		b.nanopi = npi
		b.closers = append(b.closers, npi)
	}
	return b, nil
}

func (b *board) line(pin string) (ddcproxy.Line, error) {
	if b.nanopi != nil {
		l, err := line.NewGobot(b.nanopi, pin)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	l, err := line.OpenPeriph(pin)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (b *board) endpoint(bus config.Bus, mode bitbang.Mode) (*bitbang.Endpoint, error) {
	freq, err := bus.Freq()
	if err != nil {
		return nil, err
	}
	sda, err := b.line(bus.SDA)
	if err != nil {
		return nil, fmt.Errorf("sda: %w", err)
	}
	scl, err := b.line(bus.SCL)
	if err != nil {
		return nil, fmt.Errorf("scl: %w", err)
	}
	opts := []bitbang.Opt{bitbang.WithStretchTimeout(b.cfg.Timing.StretchTimeout)}
	if b.cfg.Timing.SampleInterval > 0 {
		opts = append(opts, bitbang.WithSampleInterval(b.cfg.Timing.SampleInterval))
	}
	e, err := bitbang.New(sda, scl, freq, mode, opts...)
	if err != nil {
		return nil, err
	}
	slog.Debug("endpoint open", "endpoint", e.String())
	return e, nil
}

// host is the slave endpoint facing the host.
func (b *board) host() (*bitbang.Endpoint, error) {
	e, err := b.endpoint(b.cfg.Host, bitbang.ModeSlave)
	if err != nil {
		return nil, fmt.Errorf("could not open host bus: %w", err)
	}
	return e, nil
}

// monitor is the master side client of the real monitor.
func (b *board) monitor() (*ddc.Monitor, error) {
	e, err := b.endpoint(b.cfg.Monitor, bitbang.ModeMaster)
	if err != nil {
		return nil, fmt.Errorf("could not open monitor bus: %w", err)
	}
	return ddc.NewMonitor(e,
		ddc.WithAddressRetries(b.cfg.Retries.Address),
		ddc.WithExchangeRetries(b.cfg.Retries.Exchange),
		ddc.WithReplyDelay(b.cfg.Timing.ReplyDelay),
	), nil
}

func (b *board) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
