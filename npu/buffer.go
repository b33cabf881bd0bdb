package npu

import "fmt"

// ElemType is the element type of a buffer.
type ElemType int

const (
	I8 ElemType = iota
	I16
	I32
	F32
	BF16
)

// Bytes returns the width of one element in bytes.
func (e ElemType) Bytes() int {
	switch e {
	case I8:
		return 1
	case I16, BF16:
		return 2
	case I32, F32:
		return 4
	default:
		panic("invalid element type")
	}
}

// Bits returns the width of one element in bits.
func (e ElemType) Bits() int {
	return e.Bytes() * 8
}

// Name returns the name of the element type.
func (e ElemType) Name() string {
	switch e {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case F32:
		return "f32"
	case BF16:
		return "bf16"
	default:
		panic("invalid element type")
	}
}

// ParseElemType converts a type name into an ElemType.
func ParseElemType(name string) (ElemType, bool) {
	for _, e := range []ElemType{I8, I16, I32, F32, BF16} {
		if e.Name() == name {
			return e, true
		}
	}

	return I32, false
}

// Buffer is a named memory region that lives on one tile. Buffers are
// referenced by buffer descriptors and never copied.
type Buffer struct {
	Name  string
	Tile  TileID
	Shape []int
	Elem  ElemType
}

// NewBuffer creates a buffer. All dimensions must be positive.
func NewBuffer(name string, tile TileID, elem ElemType, shape ...int) *Buffer {
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("buffer %s: dimension %d is not positive", name, d))
		}
	}

	return &Buffer{
		Name:  name,
		Tile:  tile,
		Shape: append([]int(nil), shape...),
		Elem:  elem,
	}
}

// Len returns the number of elements of the buffer.
func (b *Buffer) Len() int {
	n := 1
	for _, d := range b.Shape {
		n *= d
	}

	return n
}

// Bytes returns the size of the buffer in bytes.
func (b *Buffer) Bytes() int {
	return b.Len() * b.Elem.Bytes()
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%s@%s%v:%s", b.Name, b.Tile, b.Shape, b.Elem.Name())
}
