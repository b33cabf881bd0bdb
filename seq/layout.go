package seq

import "github.com/pkg/errors"

// Alignment of every tensor in host memory.
const Alignment = 64

// Layout places host tensors in device-visible host memory.
type Layout struct {
	addrs map[string]uint64
	sizes map[string]int
	size  uint64
}

// NewLayout places args one after another from address 0.
func NewLayout(args []*Arg) Layout {
	l := Layout{
		addrs: make(map[string]uint64),
		sizes: make(map[string]int),
	}

	for _, a := range args {
		l.addrs[a.Name] = l.size
		l.sizes[a.Name] = a.Bytes()
		l.size += (uint64(a.Bytes()) + Alignment - 1) / Alignment * Alignment
	}

	return l
}

// Place returns a copy of the layout with the tensor name at addr. It lets
// a host runtime lay out tensors it allocated itself.
func (l Layout) Place(name string, addr uint64, bytes int) Layout {
	out := Layout{
		addrs: make(map[string]uint64, len(l.addrs)+1),
		sizes: make(map[string]int, len(l.sizes)+1),
		size:  max(l.size, addr+uint64(bytes)),
	}

	for k, v := range l.addrs {
		out.addrs[k] = v
	}

	for k, v := range l.sizes {
		out.sizes[k] = v
	}

	out.addrs[name] = addr
	out.sizes[name] = bytes

	return out
}

// Layout returns the default layout of the arguments.
func (s *Sequence) Layout() Layout {
	return NewLayout(s.args)
}

// Addr returns the address of a tensor.
func (l Layout) Addr(name string) (uint64, bool) {
	a, ok := l.addrs[name]
	return a, ok
}

// Bytes returns the size of a tensor.
func (l Layout) Bytes(name string) int {
	return l.sizes[name]
}

// Size returns the total bytes the layout spans.
func (l Layout) Size() uint64 {
	return l.size
}

// NumRowsColsPerTile returns how many m x k rows and k x n columns, together
// with their m x n products, fit into memSize bytes. Rows and columns grow
// together.
func NumRowsColsPerTile(m, k, n, elemBytes, memSize int) (rows, cols int, err error) {
	if m <= 0 || k <= 0 || n <= 0 || elemBytes <= 0 {
		return 0, 0, errors.Errorf("sizes %dx%dx%d of %d bytes", m, k, n, elemBytes)
	}

	rowSize := m * k * elemBytes
	colSize := k * n * elemBytes
	productSize := m * n * elemBytes

	total := func(a, b int) int {
		return rowSize*a + colSize*b + a*b*productSize
	}

	for total(rows+1, cols+1) <= memSize {
		rows++
		cols++
	}

	if rows == 0 {
		return 0, 0, errors.Errorf("cannot fit one %dx%dx%d row and column in %d bytes: need %d",
			m, k, n, memSize, total(1, 1))
	}

	return rows, cols, nil
}
