// Package insts provides ARM instruction definitions and decoding.
package insts

import "math/bits"

// Decoder decodes ARM machine code into instructions, memoizing results in
// a DecodeCache.
type Decoder struct {
	cache DecodeCache
}

// DecoderOption is a functional option for configuring the Decoder.
type DecoderOption func(*Decoder)

// WithCache sets the decode cache. Passing nil disables caching.
func WithCache(cache DecodeCache) DecoderOption {
	return func(d *Decoder) {
		d.cache = cache
	}
}

// NewDecoder creates a new ARM instruction decoder. The default cache is a
// FlushCache with DefaultCacheLimit entries.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{cache: NewFlushCache(DefaultCacheLimit)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode decodes a 32-bit ARM instruction word. It never fails: unknown
// encodings produce an Undefined instruction.
func (d *Decoder) Decode(word uint32) Instruction {
	if d.cache == nil {
		return Decode(word)
	}

	if inst, ok := d.cache.Get(word); ok {
		return inst
	}

	inst := Decode(word)
	d.cache.Put(word, inst)
	return inst
}

// Stats returns the cache statistics, or zero values if caching is off.
func (d *Decoder) Stats() CacheStats {
	if d.cache == nil {
		return CacheStats{}
	}
	return d.cache.Stats()
}

// Reset empties the decode cache.
func (d *Decoder) Reset() {
	if d.cache != nil {
		d.cache.Reset()
	}
}

// Decode decodes a word without any caching. It is a pure function of the
// word.
//
// The checks go from the specific to the general because several classes
// share bit patterns with data processing.
func Decode(word uint32) Instruction {
	cond := Cond(word >> 28)
	if cond == CondNV {
		return Undefined{Raw: word, Cond: cond, Reason: "reserved condition code"}
	}

	switch {
	case word&0x0F000000 == 0x0F000000:
		return SoftInterrupt{Raw: word, Cond: cond, Comment: word & 0x00FFFFFF}
	case word&0x0F000000 == 0x0E000000, word&0x0E000000 == 0x0C000000:
		return Undefined{Raw: word, Cond: cond, Reason: "coprocessor instruction"}
	case word&0x0E000000 == 0x0A000000:
		return decodeBranch(word, cond)
	case word&0x0E000000 == 0x08000000:
		return decodeMultipleMemOp(word, cond)
	case word&0x0C000000 == 0x04000000:
		if word&0x02000010 == 0x02000010 {
			return Undefined{Raw: word, Cond: cond, Reason: "reserved single transfer encoding"}
		}
		return decodeMemOp(word, cond)
	default:
		return decodeDataSpace(word, cond)
	}
}

// decodeDataSpace handles bits [27:26] == 00, where multiply, swap,
// halfword transfers, BX and PSR transfers hide among data processing.
func decodeDataSpace(word uint32, cond Cond) Instruction {
	// bit 25 clear, bits 7 and 4 set
	if word&0x02000090 == 0x00000090 {
		switch {
		case word&0x00000060 != 0:
			return decodeHalfSignedMemOp(word, cond)
		case word&(1<<24) != 0:
			return Swap{
				Raw:  word,
				Cond: cond,
				Byte: word&(1<<22) != 0,
				Rn:   uint8((word >> 16) & 0xF),
				Rd:   uint8((word >> 12) & 0xF),
				Rm:   uint8(word & 0xF),
			}
		case word&(1<<23) != 0:
			return MultiplyLong{
				Raw:        word,
				Cond:       cond,
				Signed:     word&(1<<22) != 0,
				Accumulate: word&(1<<21) != 0,
				SetFlags:   word&(1<<20) != 0,
				RdHi:       uint8((word >> 16) & 0xF),
				RdLo:       uint8((word >> 12) & 0xF),
				Rs:         uint8((word >> 8) & 0xF),
				Rm:         uint8(word & 0xF),
			}
		default:
			return Multiply{
				Raw:        word,
				Cond:       cond,
				Accumulate: word&(1<<21) != 0,
				SetFlags:   word&(1<<20) != 0,
				Rd:         uint8((word >> 16) & 0xF),
				Rn:         uint8((word >> 12) & 0xF),
				Rs:         uint8((word >> 8) & 0xF),
				Rm:         uint8(word & 0xF),
			}
		}
	}

	// BX: cond 0001 0010 1111 1111 1111 0001 Rm
	if word&0x0FFFFFF0 == 0x012FFF10 {
		return Branch{Raw: word, Cond: cond, Exchange: true, Rm: uint8(word & 0xF)}
	}

	// Opcodes 10xx without the S bit are not data processing (TST, TEQ,
	// CMP and CMN always set flags): this is the PSR transfer / hint space.
	if word&0x01900000 == 0x01000000 {
		if word&(1<<19) != 0 {
			return decodePSRTransfer(word, cond)
		}
		return Nop{Raw: word, Cond: cond}
	}

	return decodeDataOp(word, cond)
}

// decodeShift decodes the shift field of a register operand (bits [11:4]).
func decodeShift(word uint32) Shift {
	s := Shift{Type: ShiftType((word >> 5) & 0x3)}
	if word&(1<<4) != 0 {
		s.ByRegister = true
		s.Rs = uint8((word >> 8) & 0xF)
	} else {
		s.Amount = uint8((word >> 7) & 0x1F)
	}
	return s
}

// rotatedImmediate decodes an 8-bit immediate with a 4-bit rotation field
// (rotate right by twice the field).
func rotatedImmediate(word uint32) (value uint32, rotate uint8) {
	rotate = uint8(((word >> 8) & 0xF) * 2)
	value = bits.RotateLeft32(word&0xFF, -int(rotate))
	return value, rotate
}

// decodeDataOp decodes data processing instructions.
// Format: cond | 00 | I | opcode | S | Rn | Rd | operand2
func decodeDataOp(word uint32, cond Cond) DataOp {
	op := DataOp{
		Raw:       word,
		Cond:      cond,
		Opcode:    DataOpcode((word >> 21) & 0xF),
		SetFlags:  word&(1<<20) != 0,
		Rn:        uint8((word >> 16) & 0xF),
		Rd:        uint8((word >> 12) & 0xF),
		Immediate: word&(1<<25) != 0,
	}

	if op.Immediate {
		op.Imm, op.ImmRotate = rotatedImmediate(word)
		if op.ImmRotate != 0 {
			op.ImmCarry = op.Imm&0x80000000 != 0
		}
	} else {
		op.Rm = uint8(word & 0xF)
		op.Shift = decodeShift(word)
	}

	return op
}

// decodeMemOp decodes LDR/STR/LDRB/STRB.
// Format: cond | 01 | I | P | U | B | W | L | Rn | Rd | offset
// I is clear for an immediate offset.
func decodeMemOp(word uint32, cond Cond) MemOp {
	op := MemOp{
		Raw:       word,
		Cond:      cond,
		Immediate: word&(1<<25) == 0,
		Pre:       word&(1<<24) != 0,
		Up:        word&(1<<23) != 0,
		Byte:      word&(1<<22) != 0,
		Load:      word&(1<<20) != 0,
		Rn:        uint8((word >> 16) & 0xF),
		Rd:        uint8((word >> 12) & 0xF),
	}
	// post-indexed transfers always write back
	op.Writeback = word&(1<<21) != 0 || !op.Pre

	if op.Immediate {
		op.Offset = word & 0xFFF
	} else {
		op.Rm = uint8(word & 0xF)
		op.Shift = decodeShift(word)
	}

	return op
}

// decodeHalfSignedMemOp decodes LDRH/STRH/LDRSB/LDRSH.
// Format: cond | 000 | P | U | I | W | L | Rn | Rd | offHi | 1 S H 1 | offLo
func decodeHalfSignedMemOp(word uint32, cond Cond) HalfSignedMemOp {
	op := HalfSignedMemOp{
		Raw:       word,
		Cond:      cond,
		Pre:       word&(1<<24) != 0,
		Up:        word&(1<<23) != 0,
		Immediate: word&(1<<22) != 0,
		Load:      word&(1<<20) != 0,
		Rn:        uint8((word >> 16) & 0xF),
		Rd:        uint8((word >> 12) & 0xF),
		Kind:      HalfSignedKind((word >> 5) & 0x3),
	}
	op.Writeback = word&(1<<21) != 0 || !op.Pre

	if op.Immediate {
		op.Offset = (word>>4)&0xF0 | word&0xF
	} else {
		op.Rm = uint8(word & 0xF)
	}

	return op
}

// decodeMultipleMemOp decodes LDM/STM.
// Format: cond | 100 | P | U | S | W | L | Rn | register list
func decodeMultipleMemOp(word uint32, cond Cond) MultipleMemOp {
	return MultipleMemOp{
		Raw:       word,
		Cond:      cond,
		Pre:       word&(1<<24) != 0,
		Up:        word&(1<<23) != 0,
		PSR:       word&(1<<22) != 0,
		Writeback: word&(1<<21) != 0,
		Load:      word&(1<<20) != 0,
		Rn:        uint8((word >> 16) & 0xF),
		RegList:   uint16(word & 0xFFFF),
	}
}

// decodeBranch decodes B and BL.
// Format: cond | 101 | L | offset24
func decodeBranch(word uint32, cond Cond) Branch {
	return Branch{
		Raw:  word,
		Cond: cond,
		Link: word&(1<<24) != 0,
		// sign-extend the 24-bit word offset and scale it by 4
		Offset: int32(word<<8) >> 6,
	}
}

// decodePSRTransfer decodes MRS and MSR.
// MRS: cond | 00010 | Ps | 001111 | Rd | 000000000000
// MSR: cond | 00 | I | 10 | Pd | 10 | field | 1111 | operand
func decodePSRTransfer(word uint32, cond Cond) PSRTransfer {
	op := PSRTransfer{
		Raw:       word,
		Cond:      cond,
		UseSPSR:   word&(1<<22) != 0,
		Write:     word&(1<<21) != 0,
		FlagsOnly: word&(1<<16) == 0,
		Immediate: word&(1<<25) != 0,
		Rd:        uint8((word >> 12) & 0xF),
	}

	if op.Immediate {
		op.Imm, _ = rotatedImmediate(word)
	} else {
		op.Rm = uint8(word & 0xF)
	}

	return op
}
