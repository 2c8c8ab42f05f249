package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/armsim/emu"
)

// LoadELF parses a 32-bit little-endian ARM ELF executable. Every PT_LOAD
// segment becomes one memory segment; the part of a segment past its file
// contents (BSS) is zeroed.
func LoadELF(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}
	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("not an ARM ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{Entry: uint32(f.Entry)}

	for i, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Memsz < phdr.Filesz {
			return nil, fmt.Errorf("segment at 0x%x is smaller in memory than in the file", phdr.Vaddr)
		}

		data := make([]byte, phdr.Memsz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data[:phdr.Filesz], 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		prog.Segments = append(prog.Segments, emu.Segment{
			Name:  segmentName(phdr.Flags, i),
			Start: uint32(phdr.Vaddr),
			Data:  data,
		})
	}

	if len(prog.Segments) == 0 {
		return nil, fmt.Errorf("no loadable segments")
	}
	if err := prog.Validate(); err != nil {
		return nil, err
	}

	return prog, nil
}

// segmentName names a segment after its protection flags.
func segmentName(flags elf.ProgFlag, index int) string {
	switch {
	case flags&elf.PF_X != 0:
		return emu.SegmentCode
	case flags&elf.PF_W != 0:
		return emu.SegmentData
	default:
		return fmt.Sprintf("LOAD%d", index)
	}
}
