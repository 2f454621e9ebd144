package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/ddc"
)

// fakeDevice answers every request report with the next queued response.
type fakeDevice struct {
	requests  [][]byte
	responses [][]byte
	closed    int
}

func (f *fakeDevice) Write(b []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeDevice) Read(b []byte) (int, error) {
	resp := make([]byte, reportSize)
	if len(f.responses) > 0 {
		copy(resp, f.responses[0])
		f.responses = f.responses[1:]
	}
	return copy(b, resp), nil
}

func (f *fakeDevice) Close() error {
	f.closed++
	return nil
}

func newFake(responses ...[]byte) (*MCP2221, *fakeDevice) {
	dev := &fakeDevice{responses: responses}
	a := NewMCP2221(WithResponseWait(0), WithOpener(func() (Device, error) { return dev, nil }))
	return a, dev
}

func TestWriteToAddr(t *testing.T) {
	a, dev := newFake([]byte{cmdWrite, 0x00})
	require.NoError(t, a.WriteToAddr(context.Background(), ddcproxy.EDIDAddr7, []byte{0x00}))
	require.Len(t, dev.requests, 1)
	assert.Equal(t, []byte{cmdWrite, 0x01, 0x00, 0xA0, 0x00}, dev.requests[0][:5])
	assert.Equal(t, 1, dev.closed)
}

func TestWriteToAddrBusy(t *testing.T) {
	a, _ := newFake([]byte{cmdWrite, busBusy})
	err := a.WriteToAddr(context.Background(), ddcproxy.DDCCIAddr7, []byte{0x51})
	assert.ErrorIs(t, err, ddcproxy.ErrBusBusy)
}

func TestReadFromAddr(t *testing.T) {
	data := make([]byte, 4+ddc.FragmentSize)
	data[0], data[3] = cmdReadData, ddc.FragmentSize
	for i := range ddc.FragmentSize {
		data[4+i] = byte(i)
	}
	a, dev := newFake([]byte{cmdRead, 0x00}, data)

	buf := make([]byte, ddc.FragmentSize)
	require.NoError(t, a.ReadFromAddr(context.Background(), ddcproxy.EDIDAddr7, buf))
	assert.Equal(t, data[4:], buf)
	require.Len(t, dev.requests, 2)
	assert.Equal(t, []byte{cmdRead, ddc.FragmentSize, 0x00, 0xA1}, dev.requests[0][:4])
	assert.Equal(t, cmdReadData, dev.requests[1][0])
}

func TestReadFromAddrErrors(t *testing.T) {
	a, _ := newFake([]byte{cmdRead, 0x00}, []byte{cmdReadData, readDataFailed})
	err := a.ReadFromAddr(context.Background(), ddcproxy.EDIDAddr7, make([]byte, 8))
	assert.ErrorIs(t, err, ddcproxy.ErrReadFailed)

	a, _ = newFake([]byte{cmdRead, 0x00}, []byte{cmdReadData, 0x00, 0x00, 4})
	err = a.ReadFromAddr(context.Background(), ddcproxy.EDIDAddr7, make([]byte, 8))
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)

	err = a.ReadFromAddr(context.Background(), ddcproxy.EDIDAddr7, make([]byte, MaxRead+1))
	assert.ErrorIs(t, err, ddcproxy.ErrInvalidLength)
}

func TestSetSpeed(t *testing.T) {
	a, dev := newFake([]byte{cmdStatus, 0x00, 0x00, statusSetSpeed})
	require.NoError(t, a.SetSpeed(context.Background(), 100*physic.KiloHertz))
	assert.Equal(t, byte(117), dev.requests[0][4])

	a, _ = newFake([]byte{cmdStatus, 0x00, 0x00, 0x21})
	assert.ErrorIs(t, a.SetSpeed(context.Background(), 100*physic.KiloHertz), ErrCommandFailed)
	assert.Error(t, a.SetSpeed(context.Background(), physic.MegaHertz))
}

func TestStatusAndRelease(t *testing.T) {
	resp := make([]byte, reportSize)
	resp[0] = cmdStatus
	resp[9], resp[11] = 5, 3
	resp[14] = 117
	resp[16] = 0xA0
	a, dev := newFake(resp, resp)

	status, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(5), status.LastWriteRequestedSize)
	assert.Equal(t, uint16(3), status.LastWriteSentSize)
	assert.Equal(t, 117, status.I2CSpeedDivider)
	assert.Equal(t, "a000", status.CurrentAddress)

	require.NoError(t, a.Release(context.Background()))
	assert.Equal(t, statusCancel, dev.requests[1][2])
}

func TestReadEDIDOverAdapter(t *testing.T) {
	edid := ddc.Placeholder()
	edid.FixChecksum()
	responses := [][]byte{{cmdWrite, 0x00}}
	for off := 0; off < ddc.EDIDSize; off += ddc.FragmentSize {
		data := []byte{cmdReadData, 0x00, 0x00, ddc.FragmentSize}
		responses = append(responses, []byte{cmdRead, 0x00}, append(data, edid[off:off+ddc.FragmentSize]...))
	}
	a, _ := newFake(responses...)

	got, err := ddc.ReadEDIDBus(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, edid, got)
}

func TestCancelledContext(t *testing.T) {
	a, dev := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.WriteToAddr(ctx, ddcproxy.EDIDAddr7, nil), context.Canceled)
	assert.Empty(t, dev.requests)
}
