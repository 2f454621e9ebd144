package bitbang

// Level is the state of a line between two samples.
type Level int

const (
	Low Level = iota
	High
	Rising
	Falling
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case High:
		return "high"
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "unknown"
	}
}

// IsHigh reports the line level at the current sample.
func (l Level) IsHigh() bool {
	return l == High || l == Rising
}

// classify compares the previous and current sample of a line.
func classify(prev, cur bool) Level {
	switch {
	case !prev && !cur:
		return Low
	case prev && cur:
		return High
	case !prev && cur:
		return Rising
	default:
		return Falling
	}
}

// Event is one classified sample of both bus lines.
type Event struct {
	SDA Level
	SCL Level
}

// IsStart reports a START condition: data falling while the clock is high.
func (e Event) IsStart() bool {
	return e.SDA == Falling && e.SCL == High
}

// IsStop reports a STOP condition: data rising while the clock is high.
func (e Event) IsStop() bool {
	return e.SDA == Rising && e.SCL == High
}

// sample reads both lines and classifies them against the previous sample.
func (e *Endpoint) sample() Event {
	sda, scl := e.sda.Read(), e.scl.Read()
	ev := Event{SDA: classify(e.lastSDA, sda), SCL: classify(e.lastSCL, scl)}
	e.lastSDA, e.lastSCL = sda, scl
	return ev
}

// rebase forgets the previous sample so that line changes that happened
// while nobody was sampling are not reported as edges.
func (e *Endpoint) rebase() {
	e.lastSDA, e.lastSCL = e.sda.Read(), e.scl.Read()
}
