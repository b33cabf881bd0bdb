package npu

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrLockExhausted is returned when a tile has no free lock left.
var ErrLockExhausted = errors.New("no free lock on tile")

// ErrLockValue is returned when a lock value is out of the hardware range.
var ErrLockValue = errors.New("lock value out of range")

// Lock is a hardware counting semaphore owned by one tile.
type Lock struct {
	Tile TileID
	ID   int
	Init int
	Name string
}

func (l *Lock) String() string {
	if l.Name != "" {
		return fmt.Sprintf("%s#%d(%s)", l.Tile, l.ID, l.Name)
	}

	return fmt.Sprintf("%s#%d", l.Tile, l.ID)
}

// LockTable hands out tile-scoped lock IDs.
type LockTable struct {
	model DeviceModel
	locks map[TileID][]*Lock
}

// NewLockTable creates an empty lock table for a device.
func NewLockTable(model DeviceModel) *LockTable {
	return &LockTable{
		model: model,
		locks: make(map[TileID][]*Lock),
	}
}

// NewLock allocates the next free lock of the tile.
func (t *LockTable) NewLock(tile TileID, init int, name string) (*Lock, error) {
	if !t.model.Contains(tile) {
		return nil, errors.Errorf("%s is outside device %s", tile, t.model.Name)
	}

	if init < 0 || init > t.model.MaxLockValue {
		return nil, errors.Wrapf(ErrLockValue,
			"init %d of lock %q on %s, max %d", init, name, tile, t.model.MaxLockValue)
	}

	used := t.locks[tile]
	if len(used) >= t.model.Locks(tile) {
		return nil, errors.Wrapf(ErrLockExhausted,
			"%s owns %d locks", tile, len(used))
	}

	l := &Lock{
		Tile: tile,
		ID:   len(used),
		Init: init,
		Name: name,
	}
	t.locks[tile] = append(used, l)

	return l, nil
}

// Locks returns the locks of a tile ordered by ID.
func (t *LockTable) Locks(tile TileID) []*Lock {
	return t.locks[tile]
}

// Truncate drops the locks of tile with an ID of n or above. It undoes
// allocations that were not used.
func (t *LockTable) Truncate(tile TileID, n int) {
	if n < len(t.locks[tile]) {
		t.locks[tile] = t.locks[tile][:n:n]
	}
}

// All returns every lock of the table, ordered by tile then ID.
func (t *LockTable) All() []*Lock {
	var all []*Lock
	for _, tile := range t.model.Tiles() {
		all = append(all, t.locks[tile]...)
	}

	return all
}

// Model returns the device model the table allocates for.
func (t *LockTable) Model() DeviceModel {
	return t.model
}
