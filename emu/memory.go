package emu

import (
	"github.com/pkg/errors"
)

// storage is memory a DMA channel reads or writes by word index.
type storage interface {
	words() []uint32
}

type tileMem []uint32

func (m tileMem) words() []uint32 {
	return m
}

// HostAlignment is the alignment of host allocations in bytes.
const HostAlignment = 64

// HostMemory is the host memory visible to shim DMA channels.
type HostMemory struct {
	data []uint32
	next uint64
}

// NewHostMemory creates host memory of the given size, rounded up to whole
// words.
func NewHostMemory(bytes uint64) *HostMemory {
	return &HostMemory{data: make([]uint32, (bytes+3)/4)}
}

func (h *HostMemory) words() []uint32 {
	return h.data
}

// Size returns the size in bytes.
func (h *HostMemory) Size() uint64 {
	return uint64(len(h.data)) * 4
}

// Alloc reserves an aligned region and returns its address. Memory grows
// as needed.
func (h *HostMemory) Alloc(bytes int) uint64 {
	addr := (h.next + HostAlignment - 1) / HostAlignment * HostAlignment
	h.next = addr + uint64(bytes)

	if need := (h.next + 3) / 4; need > uint64(len(h.data)) {
		grown := make([]uint32, need)
		copy(grown, h.data)
		h.data = grown
	}

	return addr
}

func (h *HostMemory) span(addr uint64, n int) (int, error) {
	if addr%4 != 0 {
		return 0, errors.Wrapf(ErrOutOfMemory, "address 0x%x is not word aligned", addr)
	}

	start := int(addr / 4)
	if n < 0 || start+n > len(h.data) {
		return 0, errors.Wrapf(ErrOutOfMemory, "%d words at 0x%x, memory is %d bytes",
			n, addr, h.Size())
	}

	return start, nil
}

// Write copies words to addr.
func (h *HostMemory) Write(addr uint64, data []uint32) error {
	start, err := h.span(addr, len(data))
	if err != nil {
		return err
	}

	copy(h.data[start:], data)

	return nil
}

// Read copies n words from addr.
func (h *HostMemory) Read(addr uint64, n int) ([]uint32, error) {
	start, err := h.span(addr, n)
	if err != nil {
		return nil, err
	}

	return append([]uint32(nil), h.data[start:start+n]...), nil
}
