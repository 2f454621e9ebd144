package ddcproxy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// Bus level failures.
var (
	ErrNoAck                  = errors.New("peer did not acknowledge")
	ErrUnexpectedBusCondition = errors.New("unexpected bus condition")
	ErrUnexpectedStart        = fmt.Errorf("%w: start", ErrUnexpectedBusCondition)
	ErrUnexpectedStop         = fmt.Errorf("%w: stop", ErrUnexpectedBusCondition)
	ErrBusTimeout             = errors.New("clock stretch timeout")
)

// Protocol level failures.
var (
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrInvalidLength   = errors.New("invalid length")
	ErrHeaderNotFound  = errors.New("edid header not found")
	ErrReadFailed      = errors.New("read failed")
)

// Line is a single open-drain GPIO line. Drive(true) releases the line and
// lets the pull-up win, it never sources the high level. Level changes are
// not instantaneous so callers poll Read after driving.
type Line interface {
	Read() bool
	Drive(high bool)
}

// Configurer is implemented by lines that need explicit open-drain setup.
type Configurer interface {
	Configure() error
}

// Clock provides time and the busy-wait delay primitive.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Master is a byte oriented I2C master.
type Master interface {
	Start() error
	Stop() error
	// WriteByte returns ErrNoAck when the byte was not acknowledged.
	WriteByte(b byte) error
	ReadByte(ack bool) (byte, error)
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a transaction level bus addressed with 7-bit addresses.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}
