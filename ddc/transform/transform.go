// Package transform rewrites EDID blocks before they are served to a host.
// Every transform keeps the header and leaves the block checksum-valid.
package transform

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/mklimuk/ddcproxy/ddc"
)

// DefaultName replaces the monitor name when no other name is configured.
const DefaultName = "owned"

const (
	// bodyStart and bodyEnd bound the bytes fuzzers may touch: everything
	// after the header and before the checksum.
	bodyStart = 8
	bodyEnd   = ddc.EDIDSize - 2
	// extensionsOffset holds the number of extension blocks.
	extensionsOffset = ddc.EDIDSize - 2
	// lastTagOffset is the last offset where a name tag still leaves room
	// for the name before the checksum.
	lastTagOffset = ddc.EDIDSize - 1 - len(ddc.NameTag) - ddc.DescriptorTextSize
)

// Func rewrites an EDID block.
type Func func(ddc.EDID) ddc.EDID

// Rand is the random source of the fuzzers. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// Identity returns the block unchanged.
func Identity(e ddc.EDID) ddc.EDID {
	return e
}

// FakeMonitorName looks for the monitor name descriptor from offset 54 on and
// replaces the 13 name bytes with name padded with spaces. Without a name
// descriptor only the checksum is recomputed.
func FakeMonitorName(e ddc.EDID, name string) ddc.EDID {
	for i := ddc.DescriptorOffset; i <= lastTagOffset; i++ {
		if !bytes.Equal(e[i:i+len(ddc.NameTag)], ddc.NameTag[:]) {
			continue
		}
		copy(e[i+len(ddc.NameTag):], padName(name))
		break
	}
	e.FixChecksum()
	return e
}

func padName(name string) []byte {
	out := bytes.Repeat([]byte{' '}, ddc.DescriptorTextSize)
	copy(out, name)
	return out
}

// FuzzSingleByte replaces one random body byte with a random value.
func FuzzSingleByte(e ddc.EDID, rnd Rand) ddc.EDID {
	pos := bodyStart + rnd.IntN(bodyEnd-bodyStart+1)
	e[pos] = byte(rnd.IntN(256))
	e.FixChecksum()
	return e
}

// FuzzFullBody replaces the whole body with random bytes. The extension count
// is forced to zero so hosts do not wait for blocks that never come.
func FuzzFullBody(e ddc.EDID, rnd Rand) ddc.EDID {
	for i := bodyStart; i <= bodyEnd; i++ {
		e[i] = byte(rnd.IntN(256))
	}
	e[extensionsOffset] = 0
	e.FixChecksum()
	return e
}

type Mode string

const (
	ModeNone     Mode = "none"
	ModeFakeName Mode = "fake-name"
	ModeFuzzByte Mode = "fuzz-byte"
	ModeFuzzBody Mode = "fuzz-body"
)

func Modes() []Mode {
	return []Mode{ModeNone, ModeFakeName, ModeFuzzByte, ModeFuzzBody}
}

type Opts struct {
	Name string
	Rand Rand
}

type Opt func(*Opts)

func WithName(name string) Opt {
	return func(o *Opts) {
		o.Name = name
	}
}

func WithRand(rnd Rand) Opt {
	return func(o *Opts) {
		o.Rand = rnd
	}
}

// WithSeed makes the fuzzers reproducible.
func WithSeed(seed uint64) Opt {
	return func(o *Opts) {
		o.Rand = rand.New(rand.NewPCG(seed, seed))
	}
}

// New returns the transform for a mode.
func New(mode Mode, opts ...Opt) (Func, error) {
	o := Opts{Name: DefaultName}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	switch mode {
	case ModeNone, "":
		return Identity, nil
	case ModeFakeName:
		return func(e ddc.EDID) ddc.EDID { return FakeMonitorName(e, o.Name) }, nil
	case ModeFuzzByte:
		return func(e ddc.EDID) ddc.EDID { return FuzzSingleByte(e, o.Rand) }, nil
	case ModeFuzzBody:
		return func(e ddc.EDID) ddc.EDID { return FuzzFullBody(e, o.Rand) }, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", mode)
	}
}
