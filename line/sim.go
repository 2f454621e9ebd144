package line

import (
	"container/heap"
	"runtime"
	"sync"
	"time"

	"github.com/mklimuk/ddcproxy"
)

var _ ddcproxy.Clock = &Sim{}

// Sim is a deterministic discrete-event scheduler for bus simulations.
// Participants started with Go run one at a time. A participant runs until
// it calls Sleep, then virtual time advances to the earliest pending wake-up
// (FIFO on ties) and that participant resumes.
//
// Typical usage:
//
//	sim := line.NewSim(line.WithHorizon(time.Second))
//	bus := line.NewSimBus()
//	sda, scl := bus.Attach()
//	sim.Go(func() { ... })
//	sim.Wait()
type Sim struct {
	mu      sync.Mutex
	epoch   time.Time
	now     time.Duration
	seq     uint64
	queue   wakeQueue
	running int
	horizon time.Duration
	wg      sync.WaitGroup
}

type SimOpt func(*Sim)

// WithHorizon ends every participant that tries to sleep past the given
// virtual time.
func WithHorizon(d time.Duration) SimOpt {
	return func(s *Sim) {
		s.horizon = d
	}
}

func NewSim(opts ...SimOpt) *Sim {
	s := &Sim{epoch: time.Unix(0, 0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Go registers a participant. It starts at the current virtual time once
// no other participant is running.
func (s *Sim) Go(fn func()) {
	s.wg.Add(1)
	ch := make(chan struct{})
	s.mu.Lock()
	s.push(s.now, ch)
	s.scheduleLocked()
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer s.exit()
		<-ch
		fn()
	}()
}

// Wait blocks until every participant has returned.
func (s *Sim) Wait() {
	s.wg.Wait()
}

func (s *Sim) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch.Add(s.now)
}

// Elapsed returns the virtual time since the simulation started.
func (s *Sim) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Sleep yields to other participants for d of virtual time. It must only be
// called from a participant.
func (s *Sim) Sleep(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	at := s.now + d
	if s.horizon > 0 && at > s.horizon {
		s.mu.Unlock()
		runtime.Goexit()
	}
	ch := make(chan struct{})
	s.push(at, ch)
	s.running--
	s.scheduleLocked()
	s.mu.Unlock()
	<-ch
}

func (s *Sim) exit() {
	s.mu.Lock()
	s.running--
	s.scheduleLocked()
	s.mu.Unlock()
}

func (s *Sim) push(at time.Duration, ch chan struct{}) {
	s.seq++
	heap.Push(&s.queue, &wake{at: at, seq: s.seq, ch: ch})
}

func (s *Sim) scheduleLocked() {
	if s.running > 0 || s.queue.Len() == 0 {
		return
	}
	w := heap.Pop(&s.queue).(*wake)
	if w.at > s.now {
		s.now = w.at
	}
	s.running++
	close(w.ch)
}

type wake struct {
	at  time.Duration
	seq uint64
	ch  chan struct{}
}

type wakeQueue []*wake

func (q wakeQueue) Len() int { return len(q) }

func (q wakeQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}

func (q wakeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *wakeQueue) Push(x any) { *q = append(*q, x.(*wake)) }

func (q *wakeQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return w
}

// SimBus is a pair of wired-AND lines with pull-ups. Every attached party
// gets its own drivers; a wire reads low as soon as any driver pulls it low.
type SimBus struct {
	SDA *Wire
	SCL *Wire
}

func NewSimBus() *SimBus {
	return &SimBus{SDA: &Wire{}, SCL: &Wire{}}
}

// Attach returns the data and clock lines of a new bus party.
func (b *SimBus) Attach() (sda ddcproxy.Line, scl ddcproxy.Line) {
	return b.SDA.Attach(), b.SCL.Attach()
}

// Wire is a single simulated open-drain line.
type Wire struct {
	mu      sync.Mutex
	drivers []bool
	edges   int
	level   bool
	init    bool
}

// Attach adds a driver to the wire. The driver starts released.
func (w *Wire) Attach() ddcproxy.Line {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drivers = append(w.drivers, false)
	return &wireDriver{wire: w, id: len(w.drivers) - 1}
}

// Level returns the resolved line level.
func (w *Wire) Level() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.levelLocked()
}

// Edges returns the number of level changes seen so far.
func (w *Wire) Edges() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edges
}

func (w *Wire) levelLocked() bool {
	for _, low := range w.drivers {
		if low {
			return false
		}
	}
	return true
}

func (w *Wire) set(id int, low bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.init {
		w.level = true
		w.init = true
	}
	w.drivers[id] = low
	level := w.levelLocked()
	if level != w.level {
		w.edges++
		w.level = level
	}
}

type wireDriver struct {
	wire *Wire
	id   int
}

func (d *wireDriver) Read() bool {
	return d.wire.Level()
}

func (d *wireDriver) Drive(high bool) {
	d.wire.set(d.id, !high)
}
