package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ShimBD holds the parameters of one shim tile buffer descriptor.
//
// Sizes of 0 mean "do not wrap". Strides are given in elements and must be at
// least 1; they are stored minus one.
type ShimBD struct {
	BDID   int
	Column int
	DDRID  int

	Length    int
	Offset    int
	DataWidth int

	D0Size   int
	D0Stride int
	D1Size   int
	D1Stride int
	D2Stride int

	IterationSize    int
	IterationStride  int
	IterationCurrent int

	EnablePacket bool
	OutOfOrderID int
	PacketID     int
	PacketType   int

	LockAcqEnable bool
	LockAcqID     int
	LockAcqVal    int
	LockRelID     int
	LockRelVal    int

	NextBD    int
	UseNextBD bool
}

// NewShimBD returns a linear, lock-free BD of length 32-bit elements.
func NewShimBD(bdID, column, length int) ShimBD {
	return ShimBD{
		BDID:      bdID,
		Column:    column,
		Length:    length,
		DataWidth: 32,
		D0Stride:  1,
		D1Stride:  1,
		D2Stride:  1,
	}
}

// WriteBDShimTile encodes a shim BD into its 10-word instruction.
func WriteBDShimTile(p ShimBD) []uint32 {
	d0Stride := p.D0Stride - 1
	d1Stride := p.D1Stride - 1
	d2Stride := p.D2Stride - 1
	if d0Stride < 0 || d1Stride < 0 || d2Stride < 0 {
		exceptions.Panicf("isa: BD %d strides (%d, %d, %d) must be at least 1",
			p.BDID, p.D0Stride, p.D1Stride, p.D2Stride)
	}

	if p.DataWidth <= 0 || p.DataWidth%8 != 0 {
		exceptions.Panicf("isa: BD %d data width %d is not a whole number of bytes",
			p.BDID, p.DataWidth)
	}

	byteOffset := p.Offset * (p.DataWidth / 8)
	columnNum := 1
	validBD := true

	w := newWords(OpWriteBDShimTile)
	w.put(0, header(OpWriteBDShimTile)|
		field("column", p.Column, 8)<<16|
		field("column_num", columnNum, 8)<<8|
		field("ddr_id", p.DDRID, 4)<<4|
		field("bd_id", p.BDID, 4))
	w.put(1, 0)
	w.put(2, field("buffer_length", p.Length, 32))
	w.put(3, field("buffer_offset", byteOffset, 32))
	w.put(4, flag(p.EnablePacket)<<30|
		field("out_of_order_id", p.OutOfOrderID, 6)<<24|
		field("packet_id", p.PacketID, 5)<<19|
		field("packet_type", p.PacketType, 3)<<16)
	w.put(5, field("d0_size", p.D0Size, 10)<<20|
		field("d0_stride", d0Stride, 20))
	w.put(6, 0x80000000|
		field("d1_size", p.D1Size, 10)<<20|
		field("d1_stride", d1Stride, 20))
	w.put(7, field("d2_stride", d2Stride, 20))
	w.put(8, field("iteration_current", p.IterationCurrent, 6)<<26|
		field("iteration_size", p.IterationSize, 6)<<20|
		field("iteration_stride", p.IterationStride, 20))
	w.put(9, field("next_bd", p.NextBD, 4)<<27|
		flag(p.UseNextBD)<<26|
		flag(validBD)<<25|
		signedField("lock_rel_val", p.LockRelVal, 7)<<18|
		field("lock_rel_id", p.LockRelID, 4)<<13|
		flag(p.LockAcqEnable)<<12|
		signedField("lock_acq_val", p.LockAcqVal, 7)<<5|
		field("lock_acq_id", p.LockAcqID, 4))

	return w.done()
}

// ExtendShimBD re-emits a writebd_shimtile instruction as register writes,
// using the address already stored in the instruction.
func ExtendShimBD(inst []uint32) []uint32 {
	mustBeShimBD(inst)

	addrLow := uint64(inst[3])
	addrHigh := uint64(inst[4] & 0x0000FFFF)

	return extendShimBD(inst, addrHigh<<32|addrLow)
}

// ExtendShimBDAt re-emits a writebd_shimtile instruction as register writes
// that point the BD at the absolute host address tensorAddr.
func ExtendShimBDAt(inst []uint32, tensorAddr uint64) []uint32 {
	mustBeShimBD(inst)

	return extendShimBD(inst, tensorAddr)
}

func mustBeShimBD(inst []uint32) {
	if len(inst) != OpWriteBDShimTile.Words() {
		exceptions.Panicf("isa: shim BD instruction has %d words, want %d",
			len(inst), OpWriteBDShimTile.Words())
	}

	if Opcode(inst[0]>>24) != OpWriteBDShimTile {
		exceptions.Panicf("isa: opcode %d is not writebd_shimtile", inst[0]>>24)
	}
}

func extendShimBD(inst []uint32, tensorAddr uint64) []uint32 {
	bdID := int(inst[0] & 0x0000000F)
	column := int((inst[0] & 0x00FF0000) >> 16)

	tensorAddr += DDRAddrOffset
	if tensorAddr>>48 != 0 {
		panic(errors.Wrapf(ErrAddressRange, "tensor address 0x%x does not fit in 48 bits", tensorAddr))
	}

	addrLow := uint32(tensorAddr & 0xFFFFFFFC)
	addrHigh := inst[4]&0xFFFF0000 | uint32(tensorAddr>>32)

	base := ShimBDAddress(bdID)
	row := 0
	regs := []uint32{
		inst[2],
		addrLow,
		addrHigh,
		inst[5],
		inst[6],
		inst[7],
		inst[8],
		inst[9],
	}

	out := make([]uint32, 0, len(regs)*OpWrite32.Words())
	for i, v := range regs {
		out = append(out, Write32(column, row, base+uint32(4*i), v)...)
	}

	return out
}
