package line

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/cpu"

	"github.com/mklimuk/ddcproxy"
)

var _ ddcproxy.Line = &Periph{}
var _ ddcproxy.Configurer = &Periph{}
var _ ddcproxy.Clock = SpinClock{}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// Periph is a line backed by a periph GPIO pin. Open drain is emulated: the
// pin becomes a pulled-up input to release the line and a low output to
// drive it.
type Periph struct {
	pin gpio.PinIO
}

// OpenPeriph resolves a pin by name (e.g. "GPIO17", "PC4") after loading
// the host drivers.
func OpenPeriph(name string) (*Periph, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown gpio pin %q", name)
	}
	return NewPeriph(pin), nil
}

func NewPeriph(pin gpio.PinIO) *Periph {
	return &Periph{pin: pin}
}

func (p *Periph) Configure() error {
	if err := p.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not configure %s: %w", p.pin, err)
	}
	return nil
}

func (p *Periph) Read() bool {
	return p.pin.Read() == gpio.High
}

func (p *Periph) Drive(high bool) {
	if high {
		_ = p.pin.In(gpio.PullUp, gpio.NoEdge)
		return
	}
	_ = p.pin.Out(gpio.Low)
}

func (p *Periph) String() string {
	return p.pin.String()
}

// SpinClock is the wall clock with busy-wait delays. Waits of a millisecond
// or more go through the scheduler.
type SpinClock struct{}

func (SpinClock) Now() time.Time {
	return time.Now()
}

func (SpinClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	cpu.Nanospin(d)
}
