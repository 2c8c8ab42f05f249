// Package history records per-cycle state changes so that execution can be
// stepped backwards and the debugger can ask what changed since a
// checkpoint.
package history

import "errors"

// ErrHistoryExhausted is returned when stepping back further than the
// retained history allows.
var ErrHistoryExhausted = errors.New("history exhausted")

// DefaultMaxDepth is the number of cycles kept when no depth is given.
const DefaultMaxDepth = 1000

// Component identifies the owner of a piece of state.
type Component uint8

// State owners.
const (
	ComponentRegisters Component = iota
	ComponentMemory
)

func (c Component) String() string {
	switch c {
	case ComponentRegisters:
		return "registers"
	case ComponentMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Key names one piece of state. Its meaning is up to the owning component:
// registers use Bank and Index, memory uses Index as the byte address.
type Key struct {
	Component Component
	Bank      int
	Index     uint32
}

// Change is the value of a key before and after a span of execution.
type Change struct {
	Old uint32
	New uint32
}

// Frame holds every change made during one cycle.
type Frame map[Key]Change

// Restorer puts a previous value back into a component. It must not record
// the restoration itself.
type Restorer interface {
	Restore(key Key, value uint32)
}

// Log is a bounded stack of frames, one per executed cycle.
type Log struct {
	maxDepth  int
	frames    []Frame
	cycle     uint64
	sinceCkpt Frame
	restorers map[Component]Restorer
}

// NewLog creates a Log that keeps at most maxDepth frames. A non-positive
// depth selects DefaultMaxDepth.
func NewLog(maxDepth int) *Log {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Log{
		maxDepth:  maxDepth,
		sinceCkpt: make(Frame),
		restorers: make(map[Component]Restorer),
	}
}

// Register attaches the component that owns keys of the given kind.
func (l *Log) Register(c Component, r Restorer) {
	l.restorers[c] = r
}

// NewCycle opens a frame for the next cycle. It must be called before the
// cycle mutates any state.
func (l *Log) NewCycle() {
	l.frames = append(l.frames, make(Frame))
	if len(l.frames) > l.maxDepth {
		l.frames[0] = nil
		l.frames = l.frames[1:]
	}
	l.cycle++
}

// Record notes that key went from old to new. Repeated writes to a key in
// the same cycle collapse to the first old and the last new value. Changes
// made while no frame is open only reach the checkpoint accumulator.
func (l *Log) Record(key Key, old, new uint32) {
	if n := len(l.frames); n > 0 {
		merge(l.frames[n-1], key, old, new)
	}
	merge(l.sinceCkpt, key, old, new)
}

func merge(f Frame, key Key, old, new uint32) {
	if prev, ok := f[key]; ok {
		old = prev.Old
	}
	f[key] = Change{Old: old, New: new}
}

// StepBack reverts the last n cycles, newest first. Asking for more cycles
// than are retained returns ErrHistoryExhausted without changing anything.
func (l *Log) StepBack(n int) error {
	if n < 0 || n > len(l.frames) {
		return ErrHistoryExhausted
	}

	for i := 0; i < n; i++ {
		last := len(l.frames) - 1
		frame := l.frames[last]
		l.frames[last] = nil
		l.frames = l.frames[:last]

		for key, ch := range frame {
			if r, ok := l.restorers[key.Component]; ok {
				r.Restore(key, ch.Old)
			}
			merge(l.sinceCkpt, key, ch.New, ch.Old)
		}
		l.cycle--
	}

	return nil
}

// Checkpoint starts a new accumulation of changes for DiffSinceCheckpoint.
func (l *Log) Checkpoint() {
	l.sinceCkpt = make(Frame)
}

// DiffSinceCheckpoint returns every key whose value differs from what it
// was at the last checkpoint.
func (l *Log) DiffSinceCheckpoint() Frame {
	diff := make(Frame, len(l.sinceCkpt))
	for k, ch := range l.sinceCkpt {
		if ch.Old != ch.New {
			diff[k] = ch
		}
	}
	return diff
}

// Cycle returns the number of cycles executed and not stepped back.
func (l *Log) Cycle() uint64 {
	return l.cycle
}

// Depth returns how many cycles can currently be stepped back.
func (l *Log) Depth() int {
	return len(l.frames)
}

// MaxDepth returns the configured bound on retained frames.
func (l *Log) MaxDepth() int {
	return l.maxDepth
}

// Clear drops all frames, the checkpoint accumulator and the cycle count.
func (l *Log) Clear() {
	l.frames = nil
	l.cycle = 0
	l.sinceCkpt = make(Frame)
}
