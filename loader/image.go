// Package loader turns program files into the segments, entry point,
// source line map and assertions the emulator runs.
package loader

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/armsim/emu"
)

// Program is a loaded program ready to be handed to the emulator.
type Program struct {
	// Entry is the address of the first instruction.
	Entry uint32
	// Segments are the memory regions with their initial contents.
	Segments []emu.Segment
	// Lines maps instruction addresses to source lines.
	Lines map[uint32][]int
	// Assertions are checked around the instructions they name.
	Assertions []emu.Assertion
}

// Options returns the emulator options that load the program.
func (p *Program) Options() []emu.EmulatorOption {
	opts := []emu.EmulatorOption{
		emu.WithSegments(p.Segments...),
		emu.WithEntry(p.Entry),
	}
	if len(p.Lines) > 0 {
		opts = append(opts, emu.WithLineMap(p.Lines))
	}
	if len(p.Assertions) > 0 {
		opts = append(opts, emu.WithAssertions(p.Assertions...))
	}
	return opts
}

// Validate checks that segments do not overlap and that the entry point is
// a word-aligned mapped address.
func (p *Program) Validate() error {
	segs := make([]emu.Segment, len(p.Segments))
	copy(segs, p.Segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	for i := 1; i < len(segs); i++ {
		if segs[i-1].End() > uint64(segs[i].Start) {
			return fmt.Errorf("segments %s and %s overlap", segs[i-1].Name, segs[i].Name)
		}
	}
	for _, s := range segs {
		if s.End() > 1<<32 {
			return fmt.Errorf("segment %s extends past the address space", s.Name)
		}
	}

	if p.Entry%4 != 0 {
		return fmt.Errorf("entry point 0x%x is not word aligned", p.Entry)
	}
	for _, s := range segs {
		if p.Entry >= s.Start && uint64(p.Entry)+4 <= s.End() {
			return nil
		}
	}
	return fmt.Errorf("entry point 0x%x is not mapped", p.Entry)
}

// Load reads an ELF executable or a JSON program image, telling them apart
// by the ELF magic number. fill initializes image memory that the file
// leaves undefined.
func Load(path string, fill uint8) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	if bytes.HasPrefix(data, []byte("\x7fELF")) {
		return LoadELF(path)
	}
	return ParseImage(data, fill)
}

// LoadImage reads a JSON program image from path.
func LoadImage(path string, fill uint8) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return ParseImage(data, fill)
}

// Address is a JSON address: either a number or a string such as "0x80".
type Address uint32

// UnmarshalJSON accepts numbers and numeric strings in any Go base.
func (a *Address) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return fmt.Errorf("bad address %s: %w", data, err)
	}
	*a = Address(v)
	return nil
}

// MarshalJSON writes the address as a hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", uint32(a)))
}

// Image is the JSON form of a Program.
type Image struct {
	Entry      Address          `json:"entry"`
	Segments   []ImageSegment   `json:"segments"`
	Lines      map[string][]int `json:"lines,omitempty"`
	Assertions []ImageAssertion `json:"assertions,omitempty"`
}

// ImageSegment declares a memory segment. Words are stored little-endian
// from Start, followed by Bytes (hex encoded); the rest of Size is filled.
// Size defaults to the initialized length.
type ImageSegment struct {
	Name  string   `json:"name"`
	Start Address  `json:"start"`
	Size  uint32   `json:"size,omitempty"`
	Words []uint32 `json:"words,omitempty"`
	Bytes string   `json:"bytes,omitempty"`
}

// ImageAssertion binds an assertion expression to an instruction.
type ImageAssertion struct {
	Address Address `json:"address"`
	Phase   string  `json:"phase"`
	Line    int     `json:"line"`
	Expr    string  `json:"expr"`
}

// ParseImage decodes a JSON program image.
func ParseImage(data []byte, fill uint8) (*Program, error) {
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to parse image: %w", err)
	}
	return img.Program(fill)
}

// Program builds the Program described by the image.
func (img *Image) Program(fill uint8) (*Program, error) {
	prog := &Program{Entry: uint32(img.Entry)}

	for _, s := range img.Segments {
		seg, err := s.segment(fill)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}

	if len(img.Lines) > 0 {
		prog.Lines = make(map[uint32][]int, len(img.Lines))
		for key, lines := range img.Lines {
			addr, err := strconv.ParseUint(key, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("bad line map address %q: %w", key, err)
			}
			prog.Lines[uint32(addr)] = lines
		}
	}

	for _, a := range img.Assertions {
		phase, err := emu.ParsePhase(a.Phase)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", a.Line, err)
		}
		assertion, err := emu.NewAssertion(uint32(a.Address), phase, a.Line, a.Expr)
		if err != nil {
			return nil, err
		}
		prog.Assertions = append(prog.Assertions, assertion)
	}

	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

func (s ImageSegment) segment(fill uint8) (emu.Segment, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s.Bytes, " ", ""))
	if err != nil {
		return emu.Segment{}, fmt.Errorf("segment %s: bad bytes: %w", s.Name, err)
	}

	initialized := 4*len(s.Words) + len(raw)
	size := int(s.Size)
	if size == 0 {
		size = initialized
	}
	if initialized > size {
		return emu.Segment{}, fmt.Errorf("segment %s: %d initialized bytes exceed its size of %d",
			s.Name, initialized, size)
	}

	data := make([]byte, size)
	for i, w := range s.Words {
		binary.LittleEndian.PutUint32(data[4*i:], w)
	}
	copy(data[4*len(s.Words):], raw)
	for i := initialized; i < size; i++ {
		data[i] = fill
	}

	return emu.Segment{Name: s.Name, Start: uint32(s.Start), Data: data}, nil
}
