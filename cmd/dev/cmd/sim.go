package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/bitbang"
	"github.com/mklimuk/ddcproxy/ddc"
	"github.com/mklimuk/ddcproxy/ddc/transform"
	"github.com/mklimuk/ddcproxy/line"
	"github.com/mklimuk/ddcproxy/proxy"
)

// SimCmd runs host, proxy and an emulated monitor on simulated lines. It is
// a quick check of the bus timing without hardware.
func SimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the proxy against an emulated monitor on simulated buses",
		RunE: func(cmd *cobra.Command, args []string) error {
			hostFreq, err := freqFlag(cmd, "host-freq")
			if err != nil {
				return err
			}
			monitorFreq, err := freqFlag(cmd, "monitor-freq")
			if err != nil {
				return err
			}
			mode, err := cmd.Flags().GetString("transform")
			if err != nil {
				return fmt.Errorf("could not get transform flag: %w", err)
			}
			tf, err := transform.New(transform.Mode(mode), transform.WithSeed(1))
			if err != nil {
				return err
			}
			return simulate(hostFreq, monitorFreq, tf)
		},
	}
	cmd.Flags().String("host-freq", "100kHz", "host bus frequency")
	cmd.Flags().String("monitor-freq", "50kHz", "monitor bus frequency")
	cmd.Flags().String("transform", string(transform.ModeFakeName), "edid transform")
	return cmd
}

func freqFlag(cmd *cobra.Command, name string) (physic.Frequency, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		return 0, fmt.Errorf("could not get %s flag: %w", name, err)
	}
	var f physic.Frequency
	if err := f.Set(s); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func simulate(hostFreq, monitorFreq physic.Frequency, tf transform.Func) error {
	sim := line.NewSim(line.WithHorizon(10 * time.Second))
	hostBus, monitorBus := line.NewSimBus(), line.NewSimBus()
	endpoint := func(bus *line.SimBus, mode bitbang.Mode, freq physic.Frequency) (*bitbang.Endpoint, error) {
		sda, scl := bus.Attach()
		return bitbang.New(sda, scl, freq, mode, bitbang.WithClock(sim))
	}
	// slaves sample faster than their masters clock
	host, err := endpoint(hostBus, bitbang.ModeMaster, hostFreq)
	if err != nil {
		return err
	}
	front, err := endpoint(hostBus, bitbang.ModeSlave, 4*hostFreq)
	if err != nil {
		return err
	}
	back, err := endpoint(monitorBus, bitbang.ModeMaster, monitorFreq)
	if err != nil {
		return err
	}
	panel, err := endpoint(monitorBus, bitbang.ModeSlave, 4*monitorFreq)
	if err != nil {
		return err
	}

	monitorEDID := ddc.Placeholder()
	monitorEDID.FixChecksum()
	emulator := proxy.New(panel, proxy.NewStatic(monitorEDID, "(prot(monitor)vcp(10 12))", nil), proxy.WithClock(sim))
	if err := emulator.Prime(context.Background()); err != nil {
		return err
	}
	p := proxy.New(front, ddc.NewMonitor(back, ddc.WithMonitorClock(sim), ddc.WithReplyDelay(time.Millisecond)),
		proxy.WithTransform(tf), proxy.WithClock(sim))

	ctx, cancel := context.WithCancel(context.Background())
	var reads []ddc.EDID
	var readErr error
	sim.Go(func() { _ = emulator.Run(ctx) })
	sim.Go(func() { _ = p.Run(ctx) })
	sim.Go(func() {
		defer cancel()
		for attempt := 0; attempt < 50 && len(reads) < 2; attempt++ {
			var e ddc.EDID
			readErr = host.WriteToAddr(ctx, ddcproxy.EDIDAddr7, []byte{0x00})
			if readErr == nil {
				readErr = host.ReadFromAddr(ctx, ddcproxy.EDIDAddr7, e[:])
			}
			if readErr == nil {
				reads = append(reads, e)
				continue
			}
			sim.Sleep(5 * time.Millisecond)
		}
	})
	sim.Wait()

	if len(reads) < 2 {
		return fmt.Errorf("host got %d edid reads: %w", len(reads), readErr)
	}
	slog.Info("first read", "placeholder", reads[0] == ddc.Placeholder())
	slog.Info("second read", "valid", reads[1].Valid(), "name", reads[1].Info().Name)
	slog.Info("proxy stats", "stats", fmt.Sprintf("%+v", p.Stats()), "elapsed", sim.Elapsed())
	return nil
}
