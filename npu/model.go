package npu

// DeviceModel describes the resources of a device. The first row holds shim
// tiles, the second row memory tiles and every other row compute tiles.
type DeviceModel struct {
	Name    string
	Columns int
	Rows    int

	ShimChannels    int
	MemChannels     int
	ComputeChannels int

	ShimLocks    int
	MemLocks     int
	ComputeLocks int

	ShimBDs    int
	MemBDs     int
	ComputeBDs int

	MaxLockValue int
}

// NPU returns the model of the 4-column, 6-row device.
func NPU() DeviceModel {
	return DeviceModel{
		Name:            "npu",
		Columns:         4,
		Rows:            6,
		ShimChannels:    2,
		MemChannels:     6,
		ComputeChannels: 2,
		ShimLocks:       16,
		MemLocks:        64,
		ComputeLocks:    16,
		ShimBDs:         16,
		MemBDs:          48,
		ComputeBDs:      16,
		MaxLockValue:    15,
	}
}

// NPU1Col1 returns the model of a single column of the device.
func NPU1Col1() DeviceModel {
	m := NPU()
	m.Name = "npu1_1col"
	m.Columns = 1

	return m
}

// Contains checks if the tile is inside the device grid.
func (m DeviceModel) Contains(t TileID) bool {
	return t.Col >= 0 && t.Col < m.Columns && t.Row >= 0 && t.Row < m.Rows
}

// Role returns the role of a tile.
func (m DeviceModel) Role(t TileID) Role {
	switch t.Row {
	case 0:
		return ShimRole
	case 1:
		return MemRole
	default:
		return ComputeRole
	}
}

// Channels returns the number of DMA channels per direction of a tile.
func (m DeviceModel) Channels(t TileID) int {
	switch m.Role(t) {
	case ShimRole:
		return m.ShimChannels
	case MemRole:
		return m.MemChannels
	default:
		return m.ComputeChannels
	}
}

// Locks returns the number of locks a tile owns.
func (m DeviceModel) Locks(t TileID) int {
	switch m.Role(t) {
	case ShimRole:
		return m.ShimLocks
	case MemRole:
		return m.MemLocks
	default:
		return m.ComputeLocks
	}
}

// BDs returns the number of buffer descriptor slots of a tile.
func (m DeviceModel) BDs(t TileID) int {
	switch m.Role(t) {
	case ShimRole:
		return m.ShimBDs
	case MemRole:
		return m.MemBDs
	default:
		return m.ComputeBDs
	}
}

// Tiles returns all tiles of the device, column-major.
func (m DeviceModel) Tiles() []TileID {
	tiles := make([]TileID, 0, m.Columns*m.Rows)
	for c := 0; c < m.Columns; c++ {
		for r := 0; r < m.Rows; r++ {
			tiles = append(tiles, Tile(c, r))
		}
	}

	return tiles
}
