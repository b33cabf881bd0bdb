package bd

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
)

// ErrUnassignedBD is returned when a program is linked before its BDs have
// slots.
var ErrUnassignedBD = errors.New("BD has no slot")

// Program is the BD chain of one DMA channel.
type Program struct {
	Tile      npu.TileID
	Direction npu.Direction
	Channel   int
	BDs       []*BD

	// Loop makes the chain run forever. Otherwise it runs RepeatCount+1
	// times.
	Loop        bool
	RepeatCount int
}

// ChannelID returns the DMA channel the program runs on.
func (p *Program) ChannelID() npu.Channel {
	return npu.Channel{Tile: p.Tile, Direction: p.Direction, Index: p.Channel}
}

// Link chains the BDs in order. A looping chain links its last BD back to
// the first.
func (p *Program) Link() error {
	for _, b := range p.BDs {
		if b.ID == Unassigned {
			return errors.Wrapf(ErrUnassignedBD, "%s", b)
		}
	}

	for i, b := range p.BDs {
		switch {
		case i+1 < len(p.BDs):
			b.NextID = p.BDs[i+1].ID
			b.UseNext = true
		case p.Loop && len(p.BDs) > 1:
			b.NextID = p.BDs[0].ID
			b.UseNext = true
		default:
			b.NextID = 0
			b.UseNext = false
		}
	}

	return nil
}

// Validate checks every BD of the program.
func (p *Program) Validate() error {
	for _, b := range p.BDs {
		if b.Buffer.Tile != p.Tile {
			return errors.Errorf("%s: BD %s is on %s", p.ChannelID(), b, b.Buffer.Tile)
		}

		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "%s", p.ChannelID())
		}
	}

	return nil
}

// ShimBD converts a BD into shim BD parameters. Shim BDs address host memory
// in 32-bit words and their outermost dimension only has a stride. Buffers of
// narrower elements must be accessed linearly in whole words.
func ShimBD(b *BD, column int) isa.ShimBD {
	p := isa.NewShimBD(b.ID, column, b.Pattern.Length)
	pat := b.Pattern

	if pat.Dims[2].Size != 0 {
		exceptions.Panicf("bd: %s wraps dim 2, shim BDs cannot", b)
	}

	elemBytes := b.Buffer.Elem.Bytes()
	switch {
	case elemBytes == 4:
	case elemBytes < 4:
		perWord := 4 / elemBytes
		if !pat.IsLinear() || pat.Offset%perWord != 0 || pat.Length%perWord != 0 {
			exceptions.Panicf("bd: %s of %s cannot be addressed in words",
				b, b.Buffer.Elem.Name())
		}

		pat.Offset /= perWord
		pat.Length /= perWord
	default:
		exceptions.Panicf("bd: %s element type %s is wider than a word", b, b.Buffer.Elem.Name())
	}

	p.Length = pat.Length
	p.Offset = pat.Offset
	p.D0Size, p.D0Stride = pat.Dims[0].Size, pat.Dims[0].Stride
	p.D1Size, p.D1Stride = pat.Dims[1].Size, pat.Dims[1].Stride
	p.D2Stride = pat.Dims[2].Stride
	p.IterationSize = pat.Iteration.Size
	p.IterationStride = pat.Iteration.Stride
	p.IterationCurrent = pat.Iteration.Current

	if !b.Acquire.IsZero() {
		p.LockAcqEnable = true
		p.LockAcqID = b.Acquire.Lock.ID
		p.LockAcqVal = EncodeLockValue(b.Acquire)
	}

	if !b.Release.IsZero() {
		p.LockRelID = b.Release.Lock.ID
		p.LockRelVal = EncodeLockValue(b.Release)
	}

	p.NextBD = b.NextID
	p.UseNextBD = b.UseNext

	return p
}

// EncodeLockValue returns the signed lock value the hardware expects.
// Acquire-greater-or-equal is encoded as a negative value.
func EncodeLockValue(u LockUse) int {
	if u.Action == AcquireGreaterEqual {
		return -u.Amount()
	}

	return u.Amount()
}

// DecodeAcquire turns a signed acquire value back into an action and value.
func DecodeAcquire(v int) (LockAction, int) {
	if v < 0 {
		return AcquireGreaterEqual, -v
	}

	return AcquireEqual, v
}
