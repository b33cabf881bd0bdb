package bd

import (
	"iter"

	"github.com/pkg/errors"
)

// Dim is one wrap-and-stride dimension of an access pattern. A Size of 0
// means the dimension does not wrap.
type Dim struct {
	Size   int
	Stride int
}

// Iteration offsets each repetition of a BD by Stride elements, wrapping
// after Size repetitions. Current is the repetition the BD starts at.
type Iteration struct {
	Size    int
	Stride  int
	Current int
}

// Pattern is the element access pattern of a BD. Dims are innermost first.
type Pattern struct {
	Offset    int
	Length    int
	Dims      [3]Dim
	Iteration Iteration
}

// Linear returns a contiguous pattern.
func Linear(offset, length int) Pattern {
	return Pattern{
		Offset: offset,
		Length: length,
		Dims:   [3]Dim{{Stride: 1}, {Stride: 1}, {Stride: 1}},
	}
}

// IsLinear reports whether the pattern touches consecutive elements.
func (p Pattern) IsLinear() bool {
	return p.Dims[0] == Dim{Stride: 1} &&
		p.Dims[1].Size == 0 &&
		p.Dims[2].Size == 0 &&
		p.Iteration.Size == 0
}

// Validate checks the pattern on its own, without a buffer. A dimension may
// only wrap if every dimension inside it wraps. Shim BDs have no dim 2 wrap,
// which ShimBD enforces.
func (p Pattern) Validate() error {
	if p.Length <= 0 {
		return errors.Wrapf(ErrInvalidPattern, "length %d", p.Length)
	}

	if p.Offset < 0 {
		return errors.Wrapf(ErrInvalidPattern, "offset %d", p.Offset)
	}

	for i, d := range p.Dims {
		if d.Stride < 1 {
			return errors.Wrapf(ErrInvalidPattern, "dim %d stride %d", i, d.Stride)
		}

		if d.Size < 0 {
			return errors.Wrapf(ErrInvalidPattern, "dim %d size %d", i, d.Size)
		}
	}

	if p.Dims[0].Size == 0 && p.Dims[1].Size != 0 {
		return errors.Wrap(ErrInvalidPattern, "dim 1 wraps but dim 0 does not")
	}

	if p.Dims[1].Size == 0 && p.Dims[2].Size != 0 {
		return errors.Wrap(ErrInvalidPattern, "dim 2 wraps but dim 1 does not")
	}

	it := p.Iteration
	if it.Size < 0 || it.Stride < 0 || it.Current < 0 {
		return errors.Wrapf(ErrInvalidPattern, "iteration %+v", it)
	}

	return nil
}

func (p Pattern) iterationOffset(repeat int) int {
	if p.Iteration.Size == 0 {
		return 0
	}

	return ((p.Iteration.Current + repeat) % p.Iteration.Size) * p.Iteration.Stride
}

func (p Pattern) address(i, base int) int {
	d0, d1, d2 := p.Dims[0], p.Dims[1], p.Dims[2]

	switch {
	case d0.Size == 0:
		return base + i*d0.Stride
	case d1.Size == 0:
		return base + (i%d0.Size)*d0.Stride + (i/d0.Size)*d1.Stride
	default:
		i0 := i % d0.Size
		i1 := (i / d0.Size) % d1.Size
		i2 := i / (d0.Size * d1.Size)
		if d2.Size != 0 {
			i2 %= d2.Size
		}

		return base + i0*d0.Stride + i1*d1.Stride + i2*d2.Stride
	}
}

// Addresses yields the element index of every transfer of the given
// repetition, in transfer order.
func (p Pattern) Addresses(repeat int) iter.Seq[int] {
	base := p.Offset + p.iterationOffset(repeat)

	return func(yield func(int) bool) {
		for i := 0; i < p.Length; i++ {
			if !yield(p.address(i, base)) {
				return
			}
		}
	}
}

// Extent returns one past the largest element index any repetition touches.
func (p Pattern) Extent() int {
	reps := max(p.Iteration.Size, 1)

	extent := 0
	for r := 0; r < reps; r++ {
		for a := range p.Addresses(r) {
			extent = max(extent, a+1)
		}
	}

	return extent
}
