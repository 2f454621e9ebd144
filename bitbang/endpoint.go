// Package bitbang implements an I2C engine over two open-drain GPIO lines.
//
// A master endpoint drives both lines and supports clock stretching with a
// bounded wait. A slave endpoint only drives the bus to acknowledge, to
// transmit toward the master or to stretch the clock; otherwise it samples
// both lines and reconstructs bytes with an edge driven automaton.
//
// The slave samples at a quarter of its own bit delay by default, so a slave
// endpoint must run at least as fast as the master clocking it.
package bitbang

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/line"
)

const DefaultStretchTimeout = 25 * time.Millisecond

var ErrWrongMode = errors.New("operation not supported in this endpoint mode")

type Mode int

const (
	ModeMaster Mode = iota + 1
	ModeSlave
)

func (m Mode) String() string {
	switch m {
	case ModeMaster:
		return "master"
	case ModeSlave:
		return "slave"
	default:
		return "invalid"
	}
}

type Opts struct {
	Clock          ddcproxy.Clock
	SampleInterval time.Duration
	StretchTimeout time.Duration
}

type Opt func(*Opts)

func WithClock(clock ddcproxy.Clock) Opt {
	return func(o *Opts) {
		o.Clock = clock
	}
}

func WithSampleInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.SampleInterval = d
	}
}

func WithStretchTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.StretchTimeout = d
	}
}

// Endpoint is one side of a bit-banged bus. It is not safe for concurrent
// use; the I2C framing itself serializes access to the lines.
type Endpoint struct {
	sda ddcproxy.Line
	scl ddcproxy.Line

	mode     Mode
	clock    ddcproxy.Clock
	bitDelay time.Duration
	interval time.Duration
	timeout  time.Duration

	state   State
	count   int
	result  byte
	lastSDA bool
	lastSCL bool
}

func NewMaster(sda, scl ddcproxy.Line, freq physic.Frequency, opts ...Opt) (*Endpoint, error) {
	return New(sda, scl, freq, ModeMaster, opts...)
}

func NewSlave(sda, scl ddcproxy.Line, freq physic.Frequency, opts ...Opt) (*Endpoint, error) {
	return New(sda, scl, freq, ModeSlave, opts...)
}

// New configures both lines as open drain, releases them and returns an
// endpoint whose bit delay is half of the frequency period.
func New(sda, scl ddcproxy.Line, freq physic.Frequency, mode Mode, opts ...Opt) (*Endpoint, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("invalid bus frequency %s", freq)
	}
	if mode != ModeMaster && mode != ModeSlave {
		return nil, fmt.Errorf("invalid endpoint mode %d", mode)
	}
	bitDelay := freq.Period() / 2
	config := Opts{
		Clock:          line.SpinClock{},
		SampleInterval: bitDelay / 4,
		StretchTimeout: DefaultStretchTimeout,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = time.Nanosecond
	}
	for _, l := range []ddcproxy.Line{sda, scl} {
		c, ok := l.(ddcproxy.Configurer)
		if !ok {
			continue
		}
		if err := c.Configure(); err != nil {
			return nil, fmt.Errorf("could not configure bus line: %w", err)
		}
	}
	sda.Drive(true)
	scl.Drive(true)
	return &Endpoint{
		sda:      sda,
		scl:      scl,
		mode:     mode,
		clock:    config.Clock,
		bitDelay: bitDelay,
		interval: config.SampleInterval,
		timeout:  config.StretchTimeout,
		state:    StateWaitStart,
		lastSDA:  sda.Read(),
		lastSCL:  scl.Read(),
	}, nil
}

func (e *Endpoint) Mode() Mode {
	return e.mode
}

func (e *Endpoint) State() State {
	return e.state
}

func (e *Endpoint) BitDelay() time.Duration {
	return e.bitDelay
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("bitbang/%s(%v, %v)", e.mode, e.sda, e.scl)
}

func (e *Endpoint) ensure(mode Mode) error {
	if e.mode != mode {
		return fmt.Errorf("%w: endpoint is %s", ErrWrongMode, e.mode)
	}
	return nil
}

func (e *Endpoint) delay() {
	e.clock.Sleep(e.bitDelay)
}
