package emu

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/npu"
)

var (
	// HookPosLockAcquire marks a completed acquire.
	HookPosLockAcquire = &sim.HookPos{Name: "LockAcquire"}

	// HookPosLockRelease marks a completed release.
	HookPosLockRelease = &sim.HookPos{Name: "LockRelease"}
)

// LockEvent is the hook item of lock positions. Count is the value after
// the operation.
type LockEvent struct {
	Tile   npu.TileID
	ID     int
	Action bd.LockAction
	Value  int
	Count  int
	Owner  string
}

func (e LockEvent) String() string {
	return fmt.Sprintf("%s lock %d %s %d -> %d by %s",
		e.Tile, e.ID, e.Action, e.Value, e.Count, e.Owner)
}

type lockKey struct {
	tile npu.TileID
	id   int
}

// LockBank holds the count of every lock of the device.
type LockBank struct {
	*sim.HookableBase

	max    int
	counts map[lockKey]int
}

func newLockBank(model npu.DeviceModel, locks []*npu.Lock) *LockBank {
	b := &LockBank{
		HookableBase: sim.NewHookableBase(),
		max:          model.MaxLockValue,
		counts:       make(map[lockKey]int),
	}

	for _, l := range locks {
		b.counts[lockKey{l.Tile, l.ID}] = l.Init
	}

	return b
}

// Count returns the current count of a lock.
func (b *LockBank) Count(tile npu.TileID, id int) int {
	return b.counts[lockKey{tile, id}]
}

// Set overrides a count. Shim locks used by host BDs start at 0 unless set.
func (b *LockBank) Set(tile npu.TileID, id, count int) error {
	if count < 0 || count > b.max {
		return errors.Wrapf(ErrLockOverflow, "%s lock %d set to %d", tile, id, count)
	}

	b.counts[lockKey{tile, id}] = count

	return nil
}

func (b *LockBank) check(value int) error {
	if value < 1 || value > b.max {
		return errors.Wrapf(ErrLockOverflow, "lock value %d", value)
	}

	return nil
}

// TryAcquire performs an acquire if its condition holds. It reports whether
// it did.
func (b *LockBank) TryAcquire(owner string, tile npu.TileID, id int, action bd.LockAction, value int) (bool, error) {
	if err := b.check(value); err != nil {
		return false, err
	}

	k := lockKey{tile, id}
	c := b.counts[k]

	switch action {
	case bd.AcquireEqual:
		if c != value {
			return false, nil
		}
	case bd.AcquireGreaterEqual:
		if c < value {
			return false, nil
		}
	default:
		return false, errors.Errorf("%s is not an acquire", action)
	}

	b.counts[k] = c - value
	b.invoke(HookPosLockAcquire, LockEvent{
		Tile: tile, ID: id, Action: action, Value: value, Count: c - value, Owner: owner,
	})

	return true, nil
}

// Release adds value to a lock.
func (b *LockBank) Release(owner string, tile npu.TileID, id int, value int) error {
	if err := b.check(value); err != nil {
		return err
	}

	k := lockKey{tile, id}
	c := b.counts[k] + value
	if c > b.max {
		return errors.Wrapf(ErrLockOverflow, "%s lock %d released to %d by %s", tile, id, c, owner)
	}

	b.counts[k] = c
	b.invoke(HookPosLockRelease, LockEvent{
		Tile: tile, ID: id, Action: bd.Release, Value: value, Count: c, Owner: owner,
	})

	return nil
}

func (b *LockBank) invoke(pos *sim.HookPos, e LockEvent) {
	Trace("Lock", "tile", e.Tile.String(), "id", e.ID, "action", e.Action.String(),
		"value", e.Value, "count", e.Count, "owner", e.Owner)

	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   e,
	})
}
