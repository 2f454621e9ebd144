package line

import (
	"fmt"
	"log/slog"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"gobot.io/x/gobot/v2/system"

	"github.com/mklimuk/ddcproxy"
)

var _ ddcproxy.Line = &Gobot{}
var _ ddcproxy.Configurer = &Gobot{}

// Gobot is a line backed by a gobot digital pin configured as an open-drain
// output. Writing 1 releases the line.
type Gobot struct {
	id  string
	pin gobot.DigitalPinner
}

// PinProvider is satisfied by gobot adaptors exposing digital pins.
type PinProvider interface {
	DigitalPin(id string) (gobot.DigitalPinner, error)
}

// NanoPi is a connected NanoPi NEO adaptor. Close finalizes it.
type NanoPi struct {
	*nanopi.Adaptor
}

func OpenNanoPi() (*NanoPi, error) {
	a := nanopi.NewNeoAdaptor()
	if err := a.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	return &NanoPi{Adaptor: a}, nil
}

func (n *NanoPi) Close() error {
	return n.Finalize()
}

func NewGobot(provider PinProvider, id string) (*Gobot, error) {
	pin, err := provider.DigitalPin(id)
	if err != nil {
		return nil, fmt.Errorf("could not get pin %s: %w", id, err)
	}
	return &Gobot{id: id, pin: pin}, nil
}

func (g *Gobot) Configure() error {
	err := g.pin.ApplyOptions(system.WithPinOpenDrain(), system.WithPinDirectionOutput(1))
	if err != nil {
		return fmt.Errorf("could not configure pin %s: %w", g.id, err)
	}
	return nil
}

// Read reports a failed pin read as a released line, so a broken pin ends in
// a missing acknowledge or a stretch timeout rather than a phantom peer.
func (g *Gobot) Read() bool {
	val, err := g.pin.Read()
	if err != nil {
		slog.Debug("pin read failed", "pin", g.id, "error", err)
		return true
	}
	return val == 1
}

func (g *Gobot) Drive(high bool) {
	if high {
		_ = g.pin.Write(1)
		return
	}
	_ = g.pin.Write(0)
}

func (g *Gobot) String() string {
	return "gobot/" + g.id
}
