// Package bd models DMA buffer descriptors: what a DMA channel transfers,
// how it walks the buffer and which locks it synchronizes on.
package bd

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

var (
	// ErrInvalidPattern is returned for a malformed access pattern.
	ErrInvalidPattern = errors.New("invalid access pattern")

	// ErrOutOfBuffer is returned when a pattern reaches past its buffer.
	ErrOutOfBuffer = errors.New("access pattern exceeds buffer")

	// ErrForeignLock is returned when a BD uses a lock of another tile.
	ErrForeignLock = errors.New("lock belongs to another tile")

	// ErrUnpairedLock is returned when a BD has only one of its lock uses.
	ErrUnpairedLock = errors.New("acquire and release must be paired")
)

// Unassigned is the ID of a BD that has no slot yet.
const Unassigned = -1

// BD is one buffer descriptor.
type BD struct {
	ID      int
	Buffer  *npu.Buffer
	Pattern Pattern
	Acquire LockUse
	Release LockUse

	NextID  int
	UseNext bool
}

// Option customizes a BD built by ProcessBD or New.
type Option func(*BD)

// WithOffset sets the element offset of the transfer.
func WithOffset(offset int) Option {
	return func(b *BD) { b.Pattern.Offset = offset }
}

// WithLength sets the number of elements transferred.
func WithLength(length int) Option {
	return func(b *BD) { b.Pattern.Length = length }
}

// WithDims sets the wrap-and-stride dimensions, innermost first.
func WithDims(dims ...Dim) Option {
	if len(dims) > 3 {
		exceptions.Panicf("bd: %d dimensions, at most 3 are supported", len(dims))
	}

	return func(b *BD) {
		for i := range b.Pattern.Dims {
			b.Pattern.Dims[i] = Dim{Stride: 1}
		}

		copy(b.Pattern.Dims[:], dims)
	}
}

// WithIteration sets the per-repetition offset.
func WithIteration(size, stride int) Option {
	return func(b *BD) {
		b.Pattern.Iteration = Iteration{Size: size, Stride: stride}
	}
}

// WithID places the BD in a fixed slot.
func WithID(id int) Option {
	return func(b *BD) { b.ID = id }
}

// New creates a BD transferring the whole buffer without locks.
func New(buf *npu.Buffer, opts ...Option) *BD {
	if buf == nil {
		panic("bd: nil buffer")
	}

	b := &BD{
		ID:      Unassigned,
		Buffer:  buf,
		Pattern: Linear(0, buf.Len()),
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// ProcessBD creates a BD that acquires acq, transfers buf and then releases
// rel.
func ProcessBD(acq LockUse, buf *npu.Buffer, rel LockUse, opts ...Option) *BD {
	if acq.IsZero() || rel.IsZero() {
		panic("bd: ProcessBD needs both an acquire and a release lock")
	}

	if !acq.Action.IsAcquire() {
		exceptions.Panicf("bd: %s is not an acquire", acq)
	}

	if rel.Action != Release {
		exceptions.Panicf("bd: %s is not a release", rel)
	}

	b := New(buf, opts...)
	b.Acquire = acq
	b.Release = rel

	return b
}

// Validate checks the BD against its buffer and locks.
func (b *BD) Validate() error {
	if err := b.Pattern.Validate(); err != nil {
		return errors.Wrapf(err, "BD %s", b)
	}

	if ext := b.Pattern.Extent(); ext > b.Buffer.Len() {
		return errors.Wrapf(ErrOutOfBuffer, "BD %s touches element %d of %d",
			b, ext-1, b.Buffer.Len())
	}

	if b.Acquire.IsZero() != b.Release.IsZero() {
		return errors.Wrapf(ErrUnpairedLock, "BD %s", b)
	}

	for _, u := range []LockUse{b.Acquire, b.Release} {
		if u.IsZero() {
			continue
		}

		if u.Lock.Tile != b.Buffer.Tile {
			return errors.Wrapf(ErrForeignLock, "BD %s uses %s", b, u.Lock)
		}

		if u.Amount() < 1 {
			return errors.Wrapf(ErrInvalidPattern, "BD %s lock value %d", b, u.Amount())
		}
	}

	return nil
}

func (b *BD) String() string {
	return fmt.Sprintf("%s#%d", b.Buffer.Name, b.ID)
}
