package emu

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sarchlab/armsim/history"
)

// Default segment bases.
const (
	IntVecBase uint32 = 0x00
	CodeBase   uint32 = 0x80
	DataBase   uint32 = 0x1000
)

// Default segment names.
const (
	SegmentIntVec = "INTVEC"
	SegmentCode   = "CODE"
	SegmentData   = "DATA"
)

// Segment is a named, contiguous range of bytes.
type Segment struct {
	Name  string
	Start uint32
	Data  []byte
}

// End returns the first address past the segment.
func (s *Segment) End() uint64 {
	return uint64(s.Start) + uint64(len(s.Data))
}

func (s *Segment) contains(addr uint32, size int) bool {
	return addr >= s.Start && uint64(addr)+uint64(size) <= s.End()
}

// Memory is a set of segments with byte-granular breakpoints. All accesses
// are little-endian.
type Memory struct {
	log      *history.Log
	segments []*Segment
	initial  [][]byte

	// breakpoints maps an address to its AccessRead|AccessWrite|AccessExec
	// mask. Absent addresses have no breakpoint.
	breakpoints map[uint32]AccessMode

	// skip holds breakpoint bits ignored until clearSuppressed.
	skip map[uint32]AccessMode
}

// NewMemory creates a memory from the given segments. The segment data is
// copied and kept as the reset snapshot. It registers itself as the
// restorer of memory history.
func NewMemory(log *history.Log, segments ...Segment) *Memory {
	m := &Memory{
		log:         log,
		breakpoints: make(map[uint32]AccessMode),
	}
	for _, s := range segments {
		data := make([]byte, len(s.Data))
		copy(data, s.Data)
		m.segments = append(m.segments, &Segment{Name: s.Name, Start: s.Start, Data: data})
	}
	sort.Slice(m.segments, func(i, j int) bool {
		return m.segments[i].Start < m.segments[j].Start
	})
	for _, s := range m.segments {
		m.initial = append(m.initial, append([]byte(nil), s.Data...))
	}
	log.Register(history.ComponentMemory, m)
	return m
}

// DefaultSegments lays code and data out at the default bases. The
// interrupt vector table fills the space up to the code segment.
func DefaultSegments(intvec, code, data []byte) []Segment {
	vec := make([]byte, CodeBase-IntVecBase)
	copy(vec, intvec)
	return []Segment{
		{Name: SegmentIntVec, Start: IntVecBase, Data: vec},
		{Name: SegmentCode, Start: CodeBase, Data: code},
		{Name: SegmentData, Start: DataBase, Data: data},
	}
}

// Reset restores every segment to its initial contents. Breakpoints are
// kept.
func (m *Memory) Reset() {
	for i, s := range m.segments {
		copy(s.Data, m.initial[i])
	}
}

// Segments returns the segments in address order. The data slices are
// shared with the memory and must not be modified.
func (m *Memory) Segments() []Segment {
	out := make([]Segment, len(m.segments))
	for i, s := range m.segments {
		out[i] = *s
	}
	return out
}

// Resolve finds the segment holding the size bytes at addr and returns the
// offset of addr within it.
func (m *Memory) Resolve(addr uint32, size int) (*Segment, uint32, error) {
	if size < 0 {
		return nil, 0, fmt.Errorf("negative size %d: %w", size, ErrOutOfBounds)
	}
	for _, s := range m.segments {
		if s.contains(addr, size) {
			return s, addr - s.Start, nil
		}
	}
	return nil, 0, ErrOutOfBounds
}

// Read returns size bytes at addr. exec marks an instruction fetch, which
// checks the exec breakpoint bit instead of the read bit. Breakpoints are
// only checked when mayTrigger is set.
func (m *Memory) Read(addr uint32, size int, exec, mayTrigger bool) ([]byte, error) {
	s, off, err := m.Resolve(addr, size)
	if err != nil {
		if exec {
			return nil, errorSignal(SourcePC, addr, err,
				"instruction fetch at %#08x outside mapped memory", addr)
		}
		return nil, errorSignal(SourceMemory, addr, err,
			"read of %d bytes at %#08x outside mapped memory", size, addr)
	}

	if mayTrigger {
		bit := AccessRead
		if exec {
			bit = AccessExec
		}
		for i := 0; i < size; i++ {
			a := addr + uint32(i)
			if m.armed(a)&bit != 0 {
				return nil, breakpointSignal(SourceMemory, bit, a,
					"memory at %#08x accessed", a)
			}
		}
	}

	out := make([]byte, size)
	copy(out, s.Data[off:int(off)+size])
	return out, nil
}

// ReadWord reads a little-endian word.
func (m *Memory) ReadWord(addr uint32, exec, mayTrigger bool) (uint32, error) {
	b, err := m.Read(addr, 4, exec, mayTrigger)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadValue reads a little-endian value of 1, 2 or 4 bytes, checking read
// breakpoints.
func (m *Memory) ReadValue(addr uint32, size int) (uint32, error) {
	b, err := m.Read(addr, size, false, true)
	if err != nil {
		return 0, err
	}
	return decodeLE(b), nil
}

func decodeLE(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// Write stores the low size bytes of value at addr. Every byte is checked
// for a write breakpoint before any byte changes; each changed byte is
// recorded in the history log.
func (m *Memory) Write(addr uint32, value uint32, size int) error {
	s, off, err := m.Resolve(addr, size)
	if err != nil {
		return errorSignal(SourceMemory, addr, err,
			"write of %d bytes at %#08x outside mapped memory", size, addr)
	}

	for i := 0; i < size; i++ {
		a := addr + uint32(i)
		if m.armed(a)&AccessWrite != 0 {
			return breakpointSignal(SourceMemory, AccessWrite, a,
				"memory at %#08x written", a)
		}
	}

	for i := 0; i < size; i++ {
		m.setByte(s, off+uint32(i), byte(value>>(8*i)))
	}
	return nil
}

// Poke writes raw bytes without checking breakpoints. The change is still
// recorded in the history log.
func (m *Memory) Poke(addr uint32, data []byte) error {
	s, off, err := m.Resolve(addr, len(data))
	if err != nil {
		return errorSignal(SourceMemory, addr, err,
			"poke of %d bytes at %#08x outside mapped memory", len(data), addr)
	}
	for i, b := range data {
		m.setByte(s, off+uint32(i), b)
	}
	return nil
}

func (m *Memory) setByte(s *Segment, off uint32, b byte) {
	old := s.Data[off]
	s.Data[off] = b
	m.log.Record(history.Key{
		Component: history.ComponentMemory,
		Index:     s.Start + off,
	}, uint32(old), uint32(b))
}

// Restore implements history.Restorer.
func (m *Memory) Restore(key history.Key, value uint32) {
	s, off, err := m.Resolve(key.Index, 1)
	if err != nil {
		return
	}
	s.Data[off] = byte(value)
}

// armed returns the breakpoint bits at addr that can currently trigger.
func (m *Memory) armed(addr uint32) AccessMode {
	return m.breakpoints[addr] &^ m.skip[addr]
}

// suppress ignores the given breakpoint bits at addr until
// clearSuppressed. The breakpoint mask itself is unchanged.
func (m *Memory) suppress(addr uint32, mode AccessMode) {
	if m.skip == nil {
		m.skip = make(map[uint32]AccessMode)
	}
	m.skip[addr] |= mode
}

func (m *Memory) clearSuppressed() {
	m.skip = nil
}

// SetBreakpoint replaces the breakpoint mask at addr.
func (m *Memory) SetBreakpoint(addr uint32, mask AccessMode) {
	mask &= AccessRead | AccessWrite | AccessExec
	if mask == 0 {
		delete(m.breakpoints, addr)
		return
	}
	m.breakpoints[addr] = mask
}

// ToggleBreakpoint flips the given bits of the breakpoint at addr.
func (m *Memory) ToggleBreakpoint(addr uint32, mask AccessMode) {
	m.SetBreakpoint(addr, m.breakpoints[addr]^mask)
}

// RemoveBreakpoint clears the breakpoint at addr.
func (m *Memory) RemoveBreakpoint(addr uint32) {
	delete(m.breakpoints, addr)
}

// Breakpoint returns the breakpoint mask at addr.
func (m *Memory) Breakpoint(addr uint32) AccessMode {
	return m.breakpoints[addr]
}

// Breakpoints returns the addresses that carry a breakpoint, sorted.
func (m *Memory) Breakpoints() []uint32 {
	addrs := make([]uint32, 0, len(m.breakpoints))
	for a := range m.breakpoints {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
