package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

var (
	// ErrMissingProlog is returned when a stream does not start with the
	// prolog.
	ErrMissingProlog = errors.New("instruction stream does not start with the prolog")

	// ErrUnknownOpcode is returned for an opcode the stream format does not
	// define.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrTruncated is returned when the stream ends inside an instruction.
	ErrTruncated = errors.New("truncated instruction")

	// ErrAddressRange is returned for a shim BD whose host address does not
	// fit in 48 bits once the DDR offset is added.
	ErrAddressRange = errors.New("shim BD address out of range")
)

// Write32Fields are the decoded fields of a write32 instruction.
type Write32Fields struct {
	Col     int
	Row     int
	Address uint32
	Value   uint32
}

// SyncFields are the decoded fields of a sync instruction.
type SyncFields struct {
	Col       int
	Row       int
	Direction npu.Direction
	Channel   int
	ColNum    int
	RowNum    int
}

func mustHave(inst []uint32, op Opcode) {
	if len(inst) != op.Words() || Opcode(inst[0]>>24) != op {
		exceptions.Panicf("isa: %v is not a %s instruction", inst, op)
	}
}

// DecodeWrite32 extracts the fields of a write32 instruction.
func DecodeWrite32(inst []uint32) Write32Fields {
	mustHave(inst, OpWrite32)

	return Write32Fields{
		Col:     int(inst[0] >> 16 & 0xFF),
		Row:     int(inst[0] >> 8 & 0xFF),
		Address: inst[1],
		Value:   inst[2],
	}
}

// DecodeSync extracts the fields of a sync instruction.
func DecodeSync(inst []uint32) SyncFields {
	mustHave(inst, OpSync)

	dir := npu.S2MM
	if inst[0]&0x1 == 1 {
		dir = npu.MM2S
	}

	return SyncFields{
		Col:       int(inst[0] >> 16 & 0xFF),
		Row:       int(inst[0] >> 8 & 0xFF),
		Direction: dir,
		Channel:   int(inst[1] >> 24 & 0xFF),
		ColNum:    int(inst[1] >> 16 & 0xFF),
		RowNum:    int(inst[1] >> 8 & 0xFF),
	}
}

func signExtend(v uint32, bits int) int {
	shift := 32 - bits
	return int(int32(v<<shift) >> shift)
}

// DecodeShimBD extracts the fields of a writebd_shimtile instruction. The
// offset is returned in bytes, so DataWidth is 8.
func DecodeShimBD(inst []uint32) ShimBD {
	mustHave(inst, OpWriteBDShimTile)

	p := decodeShimBDRegs(inst[2], inst[4], inst[5], inst[6], inst[7], inst[8], inst[9])
	p.Column = int(inst[0] >> 16 & 0xFF)
	p.DDRID = int(inst[0] >> 4 & 0xF)
	p.BDID = int(inst[0] & 0xF)
	p.Offset = int(inst[3])

	return p
}

// DecodeShimBDRegisters decodes the eight configuration registers of a shim
// BD, in address order. It also returns the absolute address the BD points
// at, with the DDR offset removed.
func DecodeShimBDRegisters(regs [8]uint32) (ShimBD, uint64) {
	p := decodeShimBDRegs(regs[0], regs[2], regs[3], regs[4], regs[5], regs[6], regs[7])

	addr := uint64(regs[2]&0xFFFF)<<32 | uint64(regs[1])
	addr -= DDRAddrOffset

	return p, addr
}

func decodeShimBDRegs(length, packet, d0, d1, d2, iter, ctrl uint32) ShimBD {
	return ShimBD{
		Length:    int(length),
		DataWidth: 8,

		EnablePacket: packet>>30&0x1 == 1,
		OutOfOrderID: int(packet >> 24 & 0x3F),
		PacketID:     int(packet >> 19 & 0x1F),
		PacketType:   int(packet >> 16 & 0x7),

		D0Size:   int(d0 >> 20 & 0x3FF),
		D0Stride: int(d0&0xFFFFF) + 1,
		D1Size:   int(d1 >> 20 & 0x3FF),
		D1Stride: int(d1&0xFFFFF) + 1,
		D2Stride: int(d2&0xFFFFF) + 1,

		IterationCurrent: int(iter >> 26 & 0x3F),
		IterationSize:    int(iter >> 20 & 0x3F),
		IterationStride:  int(iter & 0xFFFFF),

		NextBD:        int(ctrl >> 27 & 0xF),
		UseNextBD:     ctrl>>26&0x1 == 1,
		LockRelVal:    signExtend(ctrl>>18&0x7F, 7),
		LockRelID:     int(ctrl >> 13 & 0xF),
		LockAcqEnable: ctrl>>12&0x1 == 1,
		LockAcqVal:    signExtend(ctrl>>5&0x7F, 7),
		LockAcqID:     int(ctrl & 0xF),
	}
}

// ValidBD reports the valid bit of a writebd_shimtile instruction or of the
// control register of a shim BD.
func ValidBD(ctrl uint32) bool {
	return ctrl>>25&0x1 == 1
}

// Instruction is one instruction of a parsed stream.
type Instruction struct {
	Op    Opcode
	Words []uint32
}

// Parse splits a stream into instructions. The stream must start with the
// prolog.
func Parse(stream []uint32) ([]Instruction, error) {
	if len(stream) < len(prolog) {
		return nil, ErrMissingProlog
	}

	for i, w := range prolog {
		if stream[i] != w {
			return nil, errors.Wrapf(ErrMissingProlog, "word %d is 0x%08x", i, stream[i])
		}
	}

	var insts []Instruction
	for pc := len(prolog); pc < len(stream); {
		op := Opcode(stream[pc] >> 24)
		n := op.Words()
		if n == 0 {
			return nil, errors.Wrapf(ErrUnknownOpcode, "opcode %d at word %d", op, pc)
		}

		if pc+n > len(stream) {
			return nil, errors.Wrapf(ErrTruncated, "%s at word %d needs %d words, %d left",
				op, pc, n, len(stream)-pc)
		}

		words := stream[pc : pc+n]
		if op == OpWriteBDShimTile && !shimBDAddrFits(words) {
			return nil, errors.Wrapf(ErrAddressRange, "%s at word %d", op, pc)
		}

		insts = append(insts, Instruction{Op: op, Words: words})
		pc += n
	}

	return insts, nil
}

func shimBDAddrFits(inst []uint32) bool {
	addr := uint64(inst[4]&0x0000FFFF)<<32 | uint64(inst[3])
	return (addr+DDRAddrOffset)>>48 == 0
}
