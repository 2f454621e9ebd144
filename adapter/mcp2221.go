// Package adapter drives an MCP2221 USB to I2C bridge. Plugged into the DDC
// pins of a cable it reads EDID and capability data without a graphics card.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// MaxRead is the largest I2C read the bridge returns in one report.
const MaxRead = 60

const reportSize = 64

// Command codes.
const (
	cmdStatus   byte = 0x10
	cmdWrite    byte = 0x90
	cmdRead     byte = 0x91
	cmdReadData byte = 0x40

	statusCancel   byte = 0x10
	statusSetSpeed byte = 0x20
	readDataFailed byte = 0x41
	busBusy        byte = 0x01

	// bridge clock used to derive the I2C divider
	systemClock = 12 * physic.MegaHertz
)

var ErrCommandFailed = errors.New("command failed")

var _ ddcproxy.I2CBus = &MCP2221{}

// Device is an open HID handle.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type Opener func() (Device, error)

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type Opts struct {
	Open         Opener
	ResponseWait time.Duration
}

type Opt func(*Opts)

// WithDevice selects the n-th enumerated bridge when several are plugged.
func WithDevice(n int) Opt {
	return func(o *Opts) {
		o.Open = openHID(n)
	}
}

func WithOpener(open Opener) Opt {
	return func(o *Opts) {
		o.Open = open
	}
}

func WithResponseWait(d time.Duration) Opt {
	return func(o *Opts) {
		o.ResponseWait = d
	}
}

func NewMCP2221(opts ...Opt) *MCP2221 {
	o := Opts{Open: openHID(-1), ResponseWait: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return &MCP2221{
		open:         o.Open,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: o.ResponseWait,
	}
}

// Detect lists the bridges currently plugged in.
func Detect() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

// openHID opens bridge n, or the only one when n is negative.
func openHID(n int) Opener {
	return func() (Device, error) {
		devs := Detect()
		if len(devs) == 0 {
			return nil, errors.New("MCP2221 device not found")
		}
		if n < 0 {
			if len(devs) > 1 {
				return nil, errors.New("ambiguous device identification")
			}
			n = 0
		}
		if n >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", n)
		}
		dev, err := devs[n].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(buffer) > reportSize-4 {
		return fmt.Errorf("%w: write of %d bytes", ddcproxy.ErrInvalidLength, len(buffer))
	}
	d.resetBuffers()
	d.request[0] = cmdWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("write to %#x failed: %w", address, err)
	}
	if d.response[1] == busBusy {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("%#x", address))
		return ddcproxy.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(buffer) > MaxRead {
		return fmt.Errorf("%w: read of %d bytes", ddcproxy.ErrInvalidLength, len(buffer))
	}
	d.resetBuffers()
	d.request[0] = cmdRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 | 1
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("bus read from %#x failed: %w", address, err)
	}
	if d.response[1] == busBusy {
		return ddcproxy.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdReadData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readDataFailed {
		return fmt.Errorf("%w: no data from the I2C engine", ddcproxy.ErrReadFailed)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("%w: expected %d bytes, got %d", ddcproxy.ErrInvalidLength, len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetSpeed programs the I2C clock divider.
func (d *MCP2221) SetSpeed(ctx context.Context, f physic.Frequency) error {
	if f <= 0 || f > 400*physic.KiloHertz {
		return fmt.Errorf("unsupported bus speed %s", f)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = statusSetSpeed
	d.request[4] = byte(systemClock/f - 3)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed failed: %w", err)
	}
	if d.response[3] != statusSetSpeed {
		return fmt.Errorf("%w: speed %s not accepted", ErrCommandFailed, f)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// bufferToStatus decodes bytes 9..17 of the status report: requested and
// transferred lengths, buffer counter, divider, timeout and address.
func bufferToStatus(buffer []byte) *MCP2221Status {
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels any transfer stuck in the bridge.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancel
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// send writes the request report and reads the response report.
func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Debug("could not close adapter", "error", err)
		}
	}()
	slog.Debug("sending message to adapter", "report", hex.EncodeToString(d.request))
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.responseWait):
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	slog.Debug("read message from adapter", "report", hex.EncodeToString(d.response))
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
