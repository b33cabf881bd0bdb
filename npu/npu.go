// Package npu defines the data structures shared by every part of the NPU
// programming stack: tile coordinates, tile roles, DMA directions, buffers and
// locks.
package npu

import "fmt"

// TileID identifies a tile by its column and row in the device grid.
type TileID struct {
	Col int
	Row int
}

// Tile creates a TileID.
func Tile(col, row int) TileID {
	return TileID{Col: col, Row: row}
}

func (t TileID) String() string {
	return fmt.Sprintf("Tile(%d, %d)", t.Col, t.Row)
}

// Less orders tiles column-major, the order the device enumerates them.
func (t TileID) Less(o TileID) bool {
	if t.Col != o.Col {
		return t.Col < o.Col
	}

	return t.Row < o.Row
}

// Role is the kind of a tile. It is implied by the tile position.
type Role int

const (
	ShimRole Role = iota
	MemRole
	ComputeRole
)

// Name returns the name of the role.
func (r Role) Name() string {
	switch r {
	case ShimRole:
		return "Shim"
	case MemRole:
		return "Mem"
	case ComputeRole:
		return "Compute"
	default:
		panic("invalid role")
	}
}

func (r Role) String() string {
	return r.Name()
}

// Direction is the direction of a DMA channel.
type Direction int

const (
	// MM2S moves data from tile memory onto the stream switch.
	MM2S Direction = iota
	// S2MM moves data from the stream switch into tile memory.
	S2MM
)

// Name returns the name of the direction.
func (d Direction) Name() string {
	switch d {
	case MM2S:
		return "MM2S"
	case S2MM:
		return "S2MM"
	default:
		panic("invalid direction")
	}
}

func (d Direction) String() string {
	return d.Name()
}

// Opposite returns the direction at the other end of a flow.
func (d Direction) Opposite() Direction {
	if d == MM2S {
		return S2MM
	}

	return MM2S
}

// Channel identifies one DMA channel of one tile.
type Channel struct {
	Tile      TileID
	Direction Direction
	Index     int
}

func (c Channel) String() string {
	return fmt.Sprintf("%s.%s[%d]", c.Tile, c.Direction.Name(), c.Index)
}
