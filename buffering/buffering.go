// Package buffering builds lock-synchronized buffering protocols out of BDs:
// scoped lock holding on cores, ping-pong forwarding through a tile buffer and
// N-stage sliding windows.
package buffering

import (
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/npu"
)

type settings struct {
	bdOpts    []bd.Option
	acqAction bd.LockAction
	acqValue  int
	relValue  int
	loop      bool
	repeat    int
	mm2s      int
	hasMM2S   bool
	readIn    *npu.Lock
	writeOut  *npu.Lock
}

func newSettings(opts []Option) settings {
	s := settings{
		acqAction: bd.AcquireGreaterEqual,
		loop:      true,
	}

	for _, o := range opts {
		o(&s)
	}

	return s
}

func (s settings) acquire(l *npu.Lock) bd.LockUse {
	u := bd.LockUse{Lock: l, Action: s.acqAction}
	if s.acqValue != 0 {
		u = u.WithValue(s.acqValue)
	}

	return u
}

func (s settings) release(l *npu.Lock) bd.LockUse {
	u := bd.ReleaseOf(l)
	if s.relValue != 0 {
		u = u.WithValue(s.relValue)
	}

	return u
}

func (s settings) program(tile npu.TileID, dir npu.Direction, ch int, bds ...*bd.BD) *bd.Program {
	return &bd.Program{
		Tile:        tile,
		Direction:   dir,
		Channel:     ch,
		BDs:         bds,
		Loop:        s.loop,
		RepeatCount: s.repeat,
	}
}

// Option customizes the protocols of this package.
type Option func(*settings)

// WithBDOptions passes options to every BD created.
func WithBDOptions(opts ...bd.Option) Option {
	return func(s *settings) { s.bdOpts = append(s.bdOpts, opts...) }
}

// WithAcquireAction replaces the default acquire-greater-or-equal.
func WithAcquireAction(a bd.LockAction) Option {
	return func(s *settings) { s.acqAction = a }
}

// WithAcquireValue sets the value of every acquire.
func WithAcquireValue(v int) Option {
	return func(s *settings) { s.acqValue = v }
}

// WithReleaseValue sets the value of every release.
func WithReleaseValue(v int) Option {
	return func(s *settings) { s.relValue = v }
}

// WithRepeatCount runs programs n+1 times instead of looping forever.
func WithRepeatCount(n int) Option {
	return func(s *settings) {
		s.loop = false
		s.repeat = n
	}
}

// WithMM2SChannel sets the send channel of ForwardBD. It defaults to the
// receive channel index.
func WithMM2SChannel(ch int) Option {
	return func(s *settings) {
		s.mm2s = ch
		s.hasMM2S = true
	}
}

// WithLocks makes ForwardBD use existing locks instead of creating them.
func WithLocks(readIn, writeOut *npu.Lock) Option {
	return func(s *settings) {
		s.readIn = readIn
		s.writeOut = writeOut
	}
}
