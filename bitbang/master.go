package bitbang

import (
	"context"
	"fmt"

	"github.com/mklimuk/ddcproxy"
)

var _ ddcproxy.Master = &Endpoint{}
var _ ddcproxy.I2CBus = &Endpoint{}

// releaseClock releases SCL and waits until it is observed high. A slave may
// hold the clock low to delay the transfer; the wait is bounded by the
// stretch timeout.
func (e *Endpoint) releaseClock() error {
	e.scl.Drive(true)
	if e.scl.Read() {
		return nil
	}
	deadline := e.clock.Now().Add(e.timeout)
	for !e.scl.Read() {
		if e.clock.Now().After(deadline) {
			return fmt.Errorf("%w: clock held low for more than %s", ddcproxy.ErrBusTimeout, e.timeout)
		}
		e.clock.Sleep(e.interval)
	}
	return nil
}

// Start generates a START condition. Called with the clock low it acts as a
// repeated start. Ends with both lines low.
func (e *Endpoint) Start() error {
	if err := e.ensure(ModeMaster); err != nil {
		return err
	}
	e.sda.Drive(true)
	e.delay()
	if err := e.releaseClock(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	e.delay()
	e.sda.Drive(false)
	e.delay()
	e.scl.Drive(false)
	return nil
}

// Restart is a repeated START inside a transaction.
func (e *Endpoint) Restart() error {
	return e.Start()
}

// Stop generates a STOP condition and leaves the bus idle.
func (e *Endpoint) Stop() error {
	if err := e.ensure(ModeMaster); err != nil {
		return err
	}
	e.sda.Drive(false)
	e.delay()
	err := e.releaseClock()
	e.delay()
	e.sda.Drive(true)
	e.delay()
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// SendByte shifts b out most significant bit first and samples the
// acknowledge on the 9th clock. Expects the clock low.
func (e *Endpoint) SendByte(b byte) (bool, error) {
	if err := e.ensure(ModeMaster); err != nil {
		return false, err
	}
	for i := 7; i >= 0; i-- {
		e.sda.Drive(b&(1<<i) != 0)
		e.delay()
		if err := e.releaseClock(); err != nil {
			return false, fmt.Errorf("send bit %d: %w", i, err)
		}
		e.delay()
		e.scl.Drive(false)
	}
	e.sda.Drive(true)
	e.delay()
	if err := e.releaseClock(); err != nil {
		return false, fmt.Errorf("send ack: %w", err)
	}
	e.delay()
	acked := !e.sda.Read()
	e.scl.Drive(false)
	return acked, nil
}

// RecvByte samples 8 bits most significant first. The caller completes the
// byte with Ack or Nack.
func (e *Endpoint) RecvByte() (byte, error) {
	if err := e.ensure(ModeMaster); err != nil {
		return 0, err
	}
	var b byte
	e.sda.Drive(true)
	for i := 7; i >= 0; i-- {
		e.delay()
		if err := e.releaseClock(); err != nil {
			return 0, fmt.Errorf("receive bit %d: %w", i, err)
		}
		e.delay()
		if e.sda.Read() {
			b |= 1 << i
		}
		e.scl.Drive(false)
	}
	return b, nil
}

func (e *Endpoint) Ack() error {
	return e.acknowledge(false)
}

func (e *Endpoint) Nack() error {
	return e.acknowledge(true)
}

func (e *Endpoint) acknowledge(high bool) error {
	e.sda.Drive(high)
	e.delay()
	err := e.releaseClock()
	e.delay()
	e.scl.Drive(false)
	e.sda.Drive(true)
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	return nil
}

func (e *Endpoint) WriteByte(b byte) error {
	acked, err := e.SendByte(b)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("byte %#02x: %w", b, ddcproxy.ErrNoAck)
	}
	return nil
}

func (e *Endpoint) ReadByte(ack bool) (byte, error) {
	b, err := e.RecvByte()
	if err != nil {
		return 0, err
	}
	if ack {
		err = e.Ack()
	} else {
		err = e.Nack()
	}
	return b, err
}

// ReadFromAddr reads len(buffer) bytes from a 7-bit address, NACKing the
// last one.
func (e *Endpoint) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return fmt.Errorf("could not read from %#x: %w", address, err)
	}
	if err := e.WriteByte(address<<1 | 1); err != nil {
		_ = e.Stop()
		return fmt.Errorf("could not address %#x: %w", address, err)
	}
	for i := range buffer {
		b, err := e.ReadByte(i < len(buffer)-1)
		if err != nil {
			_ = e.Stop()
			return fmt.Errorf("could not read byte %d from %#x: %w", i, address, err)
		}
		buffer[i] = b
	}
	return e.Stop()
}

// WriteToAddr writes buffer to a 7-bit address.
func (e *Endpoint) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return fmt.Errorf("could not write to %#x: %w", address, err)
	}
	if err := e.WriteByte(address << 1); err != nil {
		_ = e.Stop()
		return fmt.Errorf("could not address %#x: %w", address, err)
	}
	for i, b := range buffer {
		if err := e.WriteByte(b); err != nil {
			_ = e.Stop()
			return fmt.Errorf("could not write byte %d to %#x: %w", i, address, err)
		}
	}
	return e.Stop()
}

// Release lets go of both lines.
func (e *Endpoint) Release(ctx context.Context) error {
	e.sda.Drive(true)
	e.scl.Drive(true)
	return nil
}
