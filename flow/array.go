package flow

import (
	"fmt"
	"iter"
	"slices"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

// Array is an N-dimensional row-major array of values.
type Array[T any] struct {
	shape []int
	data  []T
}

// TileArray is an array of tiles.
type TileArray = Array[npu.TileID]

// NewArray creates an array with the given shape. len(data) must match.
func NewArray[T any](shape []int, data []T) (Array[T], error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Array[T]{}, errors.Wrapf(ErrShapeMismatch, "negative dimension in %v", shape)
		}

		n *= d
	}

	if n != len(data) {
		return Array[T]{}, errors.Wrapf(ErrShapeMismatch,
			"shape %v holds %d values, got %d", shape, n, len(data))
	}

	return Array[T]{shape: slices.Clone(shape), data: slices.Clone(data)}, nil
}

// Scalar creates a rank-0 array.
func Scalar[T any](v T) Array[T] {
	return Array[T]{shape: []int{}, data: []T{v}}
}

// Of creates a rank-1 array.
func Of[T any](vs ...T) Array[T] {
	return Array[T]{shape: []int{len(vs)}, data: slices.Clone(vs)}
}

// Fill creates an array of the given shape holding v everywhere.
func Fill[T any](shape []int, v T) Array[T] {
	n := 1
	for _, d := range shape {
		n *= d
	}

	data := make([]T, n)
	for i := range data {
		data[i] = v
	}

	return Array[T]{shape: slices.Clone(shape), data: data}
}

// Grid returns every tile of a cols x rows device, indexed [col][row].
func Grid(cols, rows int) TileArray {
	data := make([]npu.TileID, 0, cols*rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			data = append(data, npu.Tile(c, r))
		}
	}

	return Array[npu.TileID]{shape: []int{cols, rows}, data: data}
}

// IsZero reports whether the array was never set. A zero array stands for
// "not given" in requests.
func (a Array[T]) IsZero() bool {
	return a.shape == nil
}

// Shape returns a copy of the shape.
func (a Array[T]) Shape() []int {
	return slices.Clone(a.shape)
}

// Rank returns the number of dimensions.
func (a Array[T]) Rank() int {
	return len(a.shape)
}

// Len returns the number of values.
func (a Array[T]) Len() int {
	return len(a.data)
}

// Values returns the values in row-major order.
func (a Array[T]) Values() []T {
	return slices.Clone(a.data)
}

// Flat returns the i-th value in row-major order.
func (a Array[T]) Flat(i int) T {
	return a.data[i]
}

// All iterates the values in row-major order with their flat index.
func (a Array[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, v := range a.data {
			if !yield(i, v) {
				return
			}
		}
	}
}

func (a Array[T]) offset(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("flow: index %v for shape %v", idx, a.shape))
	}

	off := 0
	for axis, i := range idx {
		if i < 0 || i >= a.shape[axis] {
			panic(fmt.Sprintf("flow: index %v out of shape %v", idx, a.shape))
		}

		off = off*a.shape[axis] + i
	}

	return off
}

// At returns the value at the multi-dimensional index.
func (a Array[T]) At(idx ...int) T {
	return a.data[a.offset(idx)]
}

// Broadcast expands the array to shape. Missing leading axes are prepended
// with size 1, then size-1 axes are repeated. Arrays never shrink: a rank
// larger than the target is a mismatch.
func (a Array[T]) Broadcast(shape []int) (Array[T], error) {
	if len(a.shape) > len(shape) {
		return Array[T]{}, errors.Wrapf(ErrShapeMismatch,
			"cannot broadcast %v to lower rank %v", a.shape, shape)
	}

	src := make([]int, len(shape))
	pad := len(shape) - len(a.shape)
	for i := range src {
		src[i] = 1
		if i >= pad {
			src[i] = a.shape[i-pad]
		}

		if src[i] != shape[i] && src[i] != 1 {
			return Array[T]{}, errors.Wrapf(ErrShapeMismatch,
				"cannot broadcast %v to %v", a.shape, shape)
		}
	}

	out := Fill[T](shape, *new(T))
	idx := make([]int, len(shape))
	for i := range out.data {
		rem := i
		for axis := len(shape) - 1; axis >= 0; axis-- {
			idx[axis] = rem % shape[axis]
			rem /= shape[axis]
		}

		off := 0
		for axis := range shape {
			j := idx[axis]
			if src[axis] == 1 {
				j = 0
			}

			off = off*src[axis] + j
		}

		out.data[i] = a.data[off]
	}

	return out, nil
}

// Select picks rows and columns of a rank-2 array, like outer-product
// indexing: the result is [len(is)][len(js)].
func (a Array[T]) Select(is, js []int) (Array[T], error) {
	if a.Rank() != 2 {
		return Array[T]{}, errors.Wrapf(ErrShapeMismatch, "select on shape %v", a.shape)
	}

	data := make([]T, 0, len(is)*len(js))
	for _, i := range is {
		for _, j := range js {
			if i < 0 || i >= a.shape[0] || j < 0 || j >= a.shape[1] {
				return Array[T]{}, errors.Wrapf(ErrShapeMismatch,
					"index (%d, %d) out of shape %v", i, j, a.shape)
			}

			data = append(data, a.At(i, j))
		}
	}

	return Array[T]{shape: []int{len(is), len(js)}, data: data}, nil
}

// Span returns the integers [from, to).
func Span(from, to int) []int {
	out := make([]int, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		out = append(out, i)
	}

	return out
}

func (a Array[T]) String() string {
	return fmt.Sprintf("Array%v%v", a.shape, a.data)
}
