package design

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
)

// ErrInvalidTiling is returned for matrix sizes the tiling cannot split.
var ErrInvalidTiling = errors.New("invalid tiling")

// Tiling splits an m x K matrix held by a memory tile into K/k blocks of
// m x k for a compute tile, reordered into r x s sub-tiles on the way.
type Tiling struct {
	M, K, BigK int
	R, S       int
}

// Default sub-tile sizes of the compute tile.
const (
	TileR = 4
	TileS = 5
)

// NewTiling checks the sizes and returns the tiling. It fails unless
// K%k == 0, m%r == 0 and k%s == 0.
func NewTiling(m, k, bigK int) (Tiling, error) {
	t := Tiling{M: m, K: k, BigK: bigK, R: TileR, S: TileS}

	switch {
	case m <= 0 || k <= 0 || bigK <= 0:
		return Tiling{}, errors.Wrapf(ErrInvalidTiling, "m=%d k=%d K=%d", m, k, bigK)
	case bigK%k != 0:
		return Tiling{}, errors.Wrapf(ErrInvalidTiling, "K=%d is not a multiple of k=%d", bigK, k)
	case m%t.R != 0:
		return Tiling{}, errors.Wrapf(ErrInvalidTiling, "m=%d is not a multiple of r=%d", m, t.R)
	case k%t.S != 0:
		return Tiling{}, errors.Wrapf(ErrInvalidTiling, "k=%d is not a multiple of s=%d", k, t.S)
	}

	return t, nil
}

// Blocks returns the number of m x k blocks.
func (t Tiling) Blocks() int {
	return t.BigK / t.K
}

// MemSendPattern walks the memory tile buffer block by block, sending each
// block as s-wide column strips. The repetition selects the block.
func (t Tiling) MemSendPattern() bd.Pattern {
	return bd.Pattern{
		Length: t.M * t.K,
		Dims: [3]bd.Dim{
			{Size: t.S, Stride: 1},
			{Size: t.M, Stride: t.K},
			{Stride: t.S},
		},
		Iteration: bd.Iteration{Size: t.Blocks(), Stride: t.M * t.K},
	}
}

// ComputeReceivePattern stores a block into the compute tile as r x s
// sub-tiles.
func (t Tiling) ComputeReceivePattern() bd.Pattern {
	return bd.Pattern{
		Length: t.M * t.K,
		Dims: [3]bd.Dim{
			{Size: t.R * t.S, Stride: 1},
			{Size: t.M / t.R, Stride: t.R * t.K},
			{Stride: t.R * t.S},
		},
	}
}
