package line

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSim_OrdersParticipantsByVirtualTime(t *testing.T) {
	sim := NewSim()
	var trace []string
	sim.Go(func() {
		trace = append(trace, "a0")
		sim.Sleep(10 * time.Microsecond)
		trace = append(trace, "a10")
		sim.Sleep(10 * time.Microsecond)
		trace = append(trace, "a20")
	})
	sim.Go(func() {
		trace = append(trace, "b0")
		sim.Sleep(15 * time.Microsecond)
		trace = append(trace, "b15")
	})
	sim.Wait()
	assert.Equal(t, []string{"a0", "b0", "a10", "b15", "a20"}, trace)
	assert.Equal(t, 20*time.Microsecond, sim.Elapsed())
}

func TestSim_TiesAreFIFO(t *testing.T) {
	sim := NewSim()
	var trace []int
	for i := range 3 {
		sim.Go(func() {
			sim.Sleep(time.Microsecond)
			trace = append(trace, i)
		})
	}
	sim.Wait()
	assert.Equal(t, []int{0, 1, 2}, trace)
}

func TestSim_HorizonEndsParticipants(t *testing.T) {
	sim := NewSim(WithHorizon(time.Millisecond))
	loops := 0
	sim.Go(func() {
		for {
			loops++
			sim.Sleep(100 * time.Microsecond)
		}
	})
	sim.Wait()
	assert.Equal(t, 11, loops)
}

func TestSimBus_WiredAnd(t *testing.T) {
	bus := NewSimBus()
	a, _ := bus.Attach()
	b, _ := bus.Attach()
	assert.True(t, a.Read(), "released bus idles high")

	a.Drive(false)
	assert.False(t, b.Read())
	b.Drive(true)
	assert.False(t, b.Read(), "release does not override another driver")
	a.Drive(true)
	assert.True(t, b.Read())
	assert.Equal(t, 2, bus.SDA.Edges())
}
