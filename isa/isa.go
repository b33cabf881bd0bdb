// Package isa encodes the device-control instruction word stream.
//
// Every instruction starts with an 8-bit opcode in bits 31:24 of its first
// word. The encoders are pure functions. A parameter that does not fit in its
// field is a caller bug, so the encoders panic instead of truncating.
package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/sarchlab/npudma/npu"
	"golang.org/x/exp/constraints"
)

// Opcode is the 8-bit operation code of an instruction.
type Opcode uint8

const (
	OpWrite32         Opcode = 2
	OpSync            Opcode = 3
	OpWriteBDShimTile Opcode = 6
)

// Words returns the number of words of an instruction with the opcode.
func (o Opcode) Words() int {
	switch o {
	case OpWrite32:
		return 3
	case OpSync:
		return 2
	case OpWriteBDShimTile:
		return 10
	default:
		return 0
	}
}

func (o Opcode) String() string {
	switch o {
	case OpWrite32:
		return "write32"
	case OpSync:
		return "sync"
	case OpWriteBDShimTile:
		return "writebd_shimtile"
	default:
		return "unknown"
	}
}

// Register addresses of the shim tile.
const (
	ShimMM2S0TaskQueue uint32 = 0x0001D214
	ShimS2MM0TaskQueue uint32 = 0x0001D204

	TaskQueueEnableTokenIssue uint32 = 0x80000000
	TaskQueueStartBDIDMask    uint32 = 0x0000000F

	ShimDMABD0BaseAddr uint32 = 0x1D000
	ShimBDOffset       uint32 = 0x20

	// DDRAddrOffset is added to every host buffer address written into a BD.
	DDRAddrOffset uint64 = 0x80000000
)

var prolog = []uint32{
	0x00000011,
	0x01000405,
	0x01000100,
	0x0B590100,
	0x000055FF,
	0x00000001,
	0x00000010,
	0x314E5A5F,
	0x635F5F31,
	0x676E696C,
	0x39354E5F,
	0x6E693131,
	0x5F727473,
	0x64726F77,
	0x00004573,
	0x07BD9630,
	0x000055FF,
}

// Prolog returns the constant header that starts every instruction stream.
func Prolog() []uint32 {
	return append([]uint32(nil), prolog...)
}

// field checks that v fits in an unsigned field of the given width.
func field[T constraints.Integer](name string, v T, bits int) uint32 {
	if v < 0 || uint64(v) >= uint64(1)<<bits {
		exceptions.Panicf("isa: %s=%d does not fit in %d bits", name, v, bits)
	}

	return uint32(v)
}

// signedField encodes v as a two's complement field of the given width.
func signedField(name string, v int, bits int) uint32 {
	limit := 1 << (bits - 1)
	if v < -limit || v >= limit {
		exceptions.Panicf("isa: %s=%d does not fit in %d signed bits", name, v, bits)
	}

	return uint32(v) & (uint32(1)<<bits - 1)
}

func flag(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}

// words tracks which words of an instruction have been written.
type words struct {
	op   Opcode
	data []uint32
	set  []bool
}

func newWords(op Opcode) *words {
	return &words{
		op:   op,
		data: make([]uint32, op.Words()),
		set:  make([]bool, op.Words()),
	}
}

func (w *words) put(i int, v uint32) {
	w.data[i] = v
	w.set[i] = true
}

func (w *words) done() []uint32 {
	for i, ok := range w.set {
		if !ok {
			exceptions.Panicf("isa: %s word %d left unset", w.op, i)
		}
	}

	return w.data
}

func header(op Opcode) uint32 {
	return uint32(op) << 24
}

// Write32 writes value to a register of the tile at (col, row).
func Write32(col, row int, address, value uint32) []uint32 {
	w := newWords(OpWrite32)
	w.put(0, header(OpWrite32)|
		field("column", col, 8)<<16|
		field("row", row, 8)<<8)
	w.put(1, address)
	w.put(2, value)

	return w.done()
}

// directionBit is the hardware encoding of a DMA direction, S2MM=0 MM2S=1.
func directionBit(dir npu.Direction) uint32 {
	if dir == npu.MM2S {
		return 1
	}

	return 0
}

// Sync makes the host wait until the given channel reports completion.
func Sync(col, row int, dir npu.Direction, channel, colNum, rowNum int) []uint32 {
	w := newWords(OpSync)
	w.put(0, header(OpSync)|
		field("column", col, 8)<<16|
		field("row", row, 8)<<8|
		directionBit(dir))
	w.put(1, field("channel", channel, 8)<<24|
		field("column_num", colNum, 8)<<16|
		field("row_num", rowNum, 8)<<8)

	return w.done()
}

// SyncChannel is Sync on row 0 covering a single tile.
func SyncChannel(col int, dir npu.Direction, channel int) []uint32 {
	return Sync(col, 0, dir, channel, 1, 1)
}

// TaskQueueAddress returns the task queue register of a shim DMA channel.
func TaskQueueAddress(dir npu.Direction, channel int) uint32 {
	addr := ShimS2MM0TaskQueue
	if dir == npu.MM2S {
		addr = ShimMM2S0TaskQueue
	}

	switch channel {
	case 0:
	case 1:
		addr += 0x8
	default:
		exceptions.Panicf("isa: shim channel %d does not exist", channel)
	}

	return addr
}

// ShimTilePushQueue starts the BD chain beginning at bdID on a shim channel.
// The chain runs repeats+1 times. Receive channels issue a completion token
// that a later Sync waits on.
func ShimTilePushQueue(dir npu.Direction, channel, col, bdID, repeats int) []uint32 {
	addr := TaskQueueAddress(dir, channel)

	value := field("bd_id", bdID, 4) & TaskQueueStartBDIDMask
	value |= field("repeats", repeats, 8) << 16
	if dir == npu.S2MM {
		value |= TaskQueueEnableTokenIssue
	}

	return Write32(col, 0, addr, value)
}

// ShimBDAddress returns the first configuration register of a shim BD.
func ShimBDAddress(bdID int) uint32 {
	return ShimDMABD0BaseAddr + field("bd_id", bdID, 4)*ShimBDOffset
}
