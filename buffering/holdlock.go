package buffering

import (
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/npu"
)

// Recorder receives the lock operations of a core body.
type Recorder interface {
	UseLock(u bd.LockUse)
}

// Guard holds a lock acquired by Acquire until Release is called.
type Guard struct {
	rec      Recorder
	rel      bd.LockUse
	released bool
}

// Acquire records an acquire of acq and returns a guard that releases rel.
// Callers should defer the Release.
func Acquire(rec Recorder, acq, rel *npu.Lock, opts ...Option) *Guard {
	s := newSettings(opts)
	rec.UseLock(s.acquire(acq))

	return &Guard{rec: rec, rel: s.release(rel)}
}

// Release records the release. Calling it more than once has no effect.
func (g *Guard) Release() {
	if g.released {
		return
	}

	g.released = true
	g.rec.UseLock(g.rel)
}

// Released reports whether the release has been recorded.
func (g *Guard) Released() bool {
	return g.released
}

// HoldLock runs fn between an acquire of acq and a release of rel. The
// release is recorded however fn exits, including by panic.
func HoldLock(rec Recorder, acq, rel *npu.Lock, fn func() error, opts ...Option) error {
	g := Acquire(rec, acq, rel, opts...)
	defer g.Release()

	return fn()
}
