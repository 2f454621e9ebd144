package ddc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/bitbang"
)

func TestReadEDIDAligned(t *testing.T) {
	r := newRig(t)
	r.dev.mem = sampleEDID()

	var got EDID
	var err error
	r.run(func(ctx context.Context) {
		got, err = r.monitor.ReadEDID(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, sampleEDID(), got)
	assert.Equal(t, 0, r.dev.ptr)
}

func TestReadEDIDResync(t *testing.T) {
	r := newRig(t)
	r.dev.mem = sampleEDID()
	// the previous reader left the pointer 5 bytes before the end
	r.dev.ptr = EDIDSize - 5

	var got EDID
	var err error
	r.run(func(ctx context.Context) {
		got, err = r.monitor.ReadEDID(ctx)
	})
	require.NoError(t, err)
	assert.True(t, got.Valid())
	assert.Equal(t, sampleEDID(), got)
}

func TestReadEDIDHeaderNotFound(t *testing.T) {
	r := newRig(t)
	for i := range r.dev.mem {
		r.dev.mem[i] = 0x55
	}

	var err error
	r.run(func(ctx context.Context) {
		_, err = r.monitor.ReadEDID(ctx)
	})
	assert.ErrorIs(t, err, ddcproxy.ErrHeaderNotFound)
}

func TestReadEDIDBadChecksum(t *testing.T) {
	r := newRig(t)
	r.dev.mem = Placeholder()

	var err error
	r.run(func(ctx context.Context) {
		_, err = r.monitor.ReadEDID(ctx)
	})
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidChecksum)
}

func TestReadEDIDNoMonitor(t *testing.T) {
	r := newRig(t)
	var err error
	r.sim.Go(func() {
		_, err = r.monitor.ReadEDID(context.Background())
	})
	r.sim.Wait()
	assert.ErrorIs(t, err, ddcproxy.ErrNoAck)
	assert.Contains(t, err.Error(), "retry limit reached")
}

func TestExchange(t *testing.T) {
	r := newRig(t)
	vcp := []byte{ddcproxy.CmdVCPReply, 0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32}
	r.dev.onRequest = func(f Frame) []byte {
		if f.Payload[0] == ddcproxy.CmdVCPRequest && f.Payload[1] == 0x10 {
			return EncodeReply(vcp)
		}
		return EncodeReply(nil)
	}

	var reply []byte
	var err error
	r.run(func(ctx context.Context) {
		reply, err = r.monitor.Exchange(ctx, []byte{ddcproxy.CmdVCPRequest, 0x10})
	})
	require.NoError(t, err)
	assert.Equal(t, vcp, reply)
	require.Len(t, r.dev.requests, 1)
	assert.Equal(t, Request(ddcproxy.CmdVCPRequest, 0x10).Encode(), r.dev.requests[0])
}

func TestReadNullMessage(t *testing.T) {
	r := newRig(t)
	r.dev.reply = EncodeReply(nil)

	var reply []byte
	var err error
	r.run(func(ctx context.Context) {
		reply, err = r.monitor.Read(ctx)
	})
	require.NoError(t, err)
	assert.Empty(t, reply)
	// the checksum byte is never clocked out
	assert.Equal(t, []bitbang.Response{bitbang.ResponseAck, bitbang.ResponseNack}, r.dev.responses)
}

func TestReadInvalidLength(t *testing.T) {
	for _, length := range []byte{0x24, 0xA4} {
		r := newRig(t)
		r.dev.reply = []byte{ddcproxy.AddrDDCCIWrite, length, 0x02, 0x00, 0x10, 0x00}

		var err error
		r.run(func(ctx context.Context) {
			_, err = r.monitor.Read(ctx)
		})
		assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
		assert.Equal(t, []bitbang.Response{bitbang.ResponseAck, bitbang.ResponseNack}, r.dev.responses)
		assert.True(t, r.bus.SDA.Level())
		assert.True(t, r.bus.SCL.Level())
	}
}

func TestReadBadChecksum(t *testing.T) {
	r := newRig(t)
	reply := EncodeReply([]byte{ddcproxy.CmdVCPReply, 0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32})
	reply[len(reply)-1] ^= 0x40
	r.dev.reply = reply

	var err error
	r.run(func(ctx context.Context) {
		_, err = r.monitor.Read(ctx)
	})
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidChecksum)
	assert.ErrorIs(t, err, ddcproxy.ErrReadFailed)
}

func TestCapabilities(t *testing.T) {
	const caps = "(prot(monitor)type(lcd)model(U2415)cmds(01 02 03 0C E3 F3)vcp(02 04 05 08 10 12 14(05 08 0B 0C) 16 18 1A 52 60(01 0F 11) AA(01 02) AC AE B2 B6 C6 C8 C9 D6(01 04 05) DC(00 02 03 05) DF FD)mccs_ver(2.1)mswhql(1))"
	r := newRig(t)
	r.dev.onRequest = func(f Frame) []byte {
		off, ok := ParseCapabilityRequest(f.Payload)
		if !ok {
			return EncodeReply(nil)
		}
		end := min(int(off)+FragmentSize, len(caps))
		start := min(int(off), len(caps))
		return EncodeReply(CapabilityReply(off, []byte(caps[start:end])))
	}

	var got *Capabilities
	var err error
	r.run(func(ctx context.Context) {
		got, err = r.monitor.Capabilities(ctx)
	})
	require.NoError(t, err)
	assert.True(t, got.Complete())
	assert.Equal(t, caps, got.String())
	assert.Len(t, r.dev.requests, (len(caps)+FragmentSize-1)/FragmentSize+1)
}

func TestCapabilitiesRejected(t *testing.T) {
	r := newRig(t)
	r.dev.onRequest = func(f Frame) []byte {
		return EncodeReply(nil)
	}

	var got *Capabilities
	var err error
	r.run(func(ctx context.Context) {
		got, err = r.monitor.Capabilities(ctx)
	})
	require.NoError(t, err)
	assert.True(t, got.Complete())
	assert.Empty(t, got.String())
}

// memoryBus is a transaction level bus in front of a 128 byte EDID memory.
type memoryBus struct {
	mem          EDID
	ptr          int
	ignoreOffset bool
}

func (b *memoryBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	for i := range buffer {
		buffer[i] = b.mem[b.ptr]
		b.ptr = (b.ptr + 1) % EDIDSize
	}
	return nil
}

func (b *memoryBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if !b.ignoreOffset && len(buffer) > 0 {
		b.ptr = int(buffer[0]) % EDIDSize
	}
	return nil
}

func (b *memoryBus) Release(ctx context.Context) error {
	return nil
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *mockBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *mockBus) Release(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestReadEDIDBus(t *testing.T) {
	tests := []struct {
		name string
		bus  *memoryBus
	}{
		{name: "offset honoured", bus: &memoryBus{mem: sampleEDID(), ptr: 77}},
		{name: "offset ignored", bus: &memoryBus{mem: sampleEDID(), ptr: 77, ignoreOffset: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadEDIDBus(context.Background(), tt.bus)
			require.NoError(t, err)
			assert.Equal(t, sampleEDID(), got)
		})
	}
}

func TestReadEDIDBusFailure(t *testing.T) {
	bus := &mockBus{}
	busErr := errors.New("remote I/O error")
	bus.On("WriteToAddr", mock.Anything, ddcproxy.EDIDAddr7, []byte{0x00}).Return(busErr)

	_, err := ReadEDIDBus(context.Background(), bus)
	assert.ErrorIs(t, err, busErr)
	assert.Contains(t, err.Error(), "retry limit reached")
	bus.AssertNumberOfCalls(t, "WriteToAddr", 2)
	bus.AssertNotCalled(t, "ReadFromAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestReadEDIDBusGarbage(t *testing.T) {
	bus := &memoryBus{}
	copy(bus.mem[:], bytes.Repeat([]byte{0xAB}, EDIDSize))
	_, err := ReadEDIDBus(context.Background(), bus)
	assert.ErrorIs(t, err, ddcproxy.ErrHeaderNotFound)
}
