package bitbang

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/ddcproxy"
)

// State of the slave receive automaton.
type State int

const (
	StateWaitStart State = iota
	StateStart
	StateClockAvailable
	StateData
	StateAck
	StateAckDone
)

func (s State) String() string {
	switch s {
	case StateWaitStart:
		return "wait-start"
	case StateStart:
		return "start"
	case StateClockAvailable:
		return "clock-available"
	case StateData:
		return "data"
	case StateAck:
		return "ack"
	case StateAckDone:
		return "ack-done"
	default:
		return "unknown"
	}
}

// Response is what the master did after the slave transmitted a byte.
type Response int

const (
	ResponseAck Response = iota
	ResponseNack
	ResponseStop
	ResponseStart
)

func (r Response) String() string {
	switch r {
	case ResponseAck:
		return "ack"
	case ResponseNack:
		return "nack"
	case ResponseStop:
		return "stop"
	case ResponseStart:
		return "start"
	default:
		return "unknown"
	}
}

type condition int

const (
	condNone condition = iota
	condStart
	condStop
)

var errCondition = errors.New("bus condition")

// step feeds one event to the automaton. It reports a completed byte after
// the falling edge that ends its acknowledge clock. START resets the
// automaton from any state, STOP returns it to WaitStart.
func (e *Endpoint) step(ev Event) (byte, bool, condition) {
	if ev.IsStart() {
		e.sda.Drive(true)
		e.state, e.count, e.result = StateStart, 8, 0
		return 0, false, condStart
	}
	if ev.IsStop() {
		if e.state == StateWaitStart {
			return 0, false, condNone
		}
		e.sda.Drive(true)
		e.state = StateWaitStart
		return 0, false, condStop
	}
	switch e.state {
	case StateStart:
		if ev.SCL == Falling {
			e.state = StateClockAvailable
		}
	case StateClockAvailable:
		if ev.SCL == Rising {
			e.count--
			if ev.SDA.IsHigh() {
				e.result |= 1 << e.count
			}
			e.state = StateData
		}
	case StateData:
		if ev.SCL != Falling {
			break
		}
		if e.count > 0 {
			e.state = StateClockAvailable
			break
		}
		e.sda.Drive(false)
		e.state = StateAck
	case StateAck:
		if ev.SCL == Rising {
			e.state = StateAckDone
		}
	case StateAckDone:
		if ev.SCL == Falling {
			e.sda.Drive(true)
			e.state = StateWaitStart
			return e.result, true, condNone
		}
	}
	return 0, false, condNone
}

func (e *Endpoint) poll(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	e.clock.Sleep(e.interval)
	return e.sample(), nil
}

// GetByte waits for the first byte after a START and acknowledges it. A STOP
// in the middle of a byte discards it and the wait goes on. It returns with
// the automaton back in WaitStart and the clock line low.
func (e *Endpoint) GetByte(ctx context.Context) (byte, error) {
	if err := e.ensure(ModeSlave); err != nil {
		return 0, err
	}
	if e.state == StateWaitStart {
		e.scl.Drive(true)
		e.rebase()
	}
	for {
		ev, err := e.poll(ctx)
		if err != nil {
			return 0, err
		}
		if b, done, _ := e.step(ev); done {
			return b, nil
		}
	}
}

// ContinueByte reads the next byte of the current transaction. A START or a
// STOP instead of data bits is reported as ErrUnexpectedStart or
// ErrUnexpectedStop; after a START the automaton is already positioned for
// the address byte that follows, so GetByte picks it up.
func (e *Endpoint) ContinueByte(ctx context.Context) (byte, error) {
	if err := e.ensure(ModeSlave); err != nil {
		return 0, err
	}
	e.state, e.count, e.result = StateClockAvailable, 8, 0
	for {
		ev, err := e.poll(ctx)
		if err != nil {
			return 0, err
		}
		b, done, cond := e.step(ev)
		switch cond {
		case condStart:
			return 0, ddcproxy.ErrUnexpectedStart
		case condStop:
			return 0, ddcproxy.ErrUnexpectedStop
		}
		if done {
			return b, nil
		}
	}
}

// waitClock polls until the clock shows the wanted edge. START and STOP are
// reported through the response with errCondition.
func (e *Endpoint) waitClock(ctx context.Context, want Level) (Event, Response, error) {
	for {
		ev, err := e.poll(ctx)
		if err != nil {
			return Event{}, 0, err
		}
		switch {
		case ev.IsStart():
			e.sda.Drive(true)
			e.state, e.count, e.result = StateStart, 8, 0
			return ev, ResponseStart, errCondition
		case ev.IsStop():
			e.sda.Drive(true)
			e.state = StateWaitStart
			return ev, ResponseStop, errCondition
		case ev.SCL == want:
			return ev, 0, nil
		}
	}
}

// SendByteToMaster transmits b while the master clocks and reports how the
// master answered. It must be called with the clock low, right after the
// address byte was acknowledged. NACK, STOP and START are not errors; only
// cancellation is.
func (e *Endpoint) SendByteToMaster(ctx context.Context, b byte) (Response, error) {
	if err := e.ensure(ModeSlave); err != nil {
		return 0, err
	}
	for i := 7; i >= 0; i-- {
		e.sda.Drive(b&(1<<i) != 0)
		for _, edge := range []Level{Rising, Falling} {
			_, resp, err := e.waitClock(ctx, edge)
			if errors.Is(err, errCondition) {
				return resp, nil
			}
			if err != nil {
				e.sda.Drive(true)
				return 0, fmt.Errorf("send bit %d: %w", i, err)
			}
		}
	}
	e.sda.Drive(true)
	ev, resp, err := e.waitClock(ctx, Rising)
	if errors.Is(err, errCondition) {
		return resp, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wait for acknowledge: %w", err)
	}
	resp = ResponseNack
	if !ev.SDA.IsHigh() {
		resp = ResponseAck
	}
	_, cond, err := e.waitClock(ctx, Falling)
	if errors.Is(err, errCondition) {
		return cond, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wait for acknowledge: %w", err)
	}
	return resp, nil
}

// HoldClock stretches the clock until ReleaseClock.
func (e *Endpoint) HoldClock() {
	e.scl.Drive(false)
}

func (e *Endpoint) ReleaseClock() {
	e.scl.Drive(true)
}
