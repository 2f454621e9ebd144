package ddc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/bitbang"
	"github.com/mklimuk/ddcproxy/line"
)

// device is a monitor on the simulated bus: a 128 byte EDID memory with an
// auto-incrementing pointer and a DDC/CI responder.
type device struct {
	slave *bitbang.Endpoint
	mem   EDID
	ptr   int
	// reply holds the raw bytes sent after the DDC/CI read address.
	reply     []byte
	onRequest func(Frame) []byte
	requests  [][]byte
	responses []bitbang.Response
}

func (d *device) run(ctx context.Context) {
	for ctx.Err() == nil {
		addr, err := d.slave.GetByte(ctx)
		if err != nil {
			return
		}
		switch addr {
		case ddcproxy.AddrEDIDWrite:
			if off, err := d.slave.ContinueByte(ctx); err == nil {
				d.ptr = int(off) % EDIDSize
			}
		case ddcproxy.AddrEDIDRead:
			for {
				resp, err := d.slave.SendByteToMaster(ctx, d.mem[d.ptr])
				d.ptr = (d.ptr + 1) % EDIDSize
				if err != nil || resp != bitbang.ResponseAck {
					break
				}
			}
		case ddcproxy.AddrDDCCIWrite:
			buf := []byte{addr}
			for {
				b, err := d.slave.ContinueByte(ctx)
				if err != nil {
					break
				}
				buf = append(buf, b)
			}
			d.requests = append(d.requests, buf)
			if frame, err := DecodeRequest(buf); err == nil && d.onRequest != nil {
				d.reply = d.onRequest(frame)
			}
		case ddcproxy.AddrDDCCIRead:
			for _, b := range d.reply {
				resp, err := d.slave.SendByteToMaster(ctx, b)
				if err != nil {
					break
				}
				d.responses = append(d.responses, resp)
				if resp != bitbang.ResponseAck {
					break
				}
			}
		}
	}
}

type rig struct {
	sim     *line.Sim
	bus     *line.SimBus
	monitor *Monitor
	dev     *device
}

func newRig(t *testing.T) *rig {
	t.Helper()
	sim := line.NewSim(line.WithHorizon(10 * time.Second))
	bus := line.NewSimBus()
	msda, mscl := bus.Attach()
	master, err := bitbang.NewMaster(msda, mscl, 50*physic.KiloHertz, bitbang.WithClock(sim))
	require.NoError(t, err)
	ssda, sscl := bus.Attach()
	slave, err := bitbang.NewSlave(ssda, sscl, 200*physic.KiloHertz, bitbang.WithClock(sim))
	require.NoError(t, err)
	return &rig{
		sim: sim,
		bus: bus,
		monitor: NewMonitor(master,
			WithMonitorClock(sim),
			WithReplyDelay(time.Millisecond),
		),
		dev: &device{slave: slave},
	}
}

// run executes op as the host while the device serves the bus.
func (r *rig) run(op func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	r.sim.Go(func() {
		r.dev.run(ctx)
	})
	r.sim.Go(func() {
		defer cancel()
		op(ctx)
	})
	r.sim.Wait()
}
