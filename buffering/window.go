package buffering

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/npu"
)

// SlidingWindow returns every run of n consecutive items.
func SlidingWindow[T any](items []T, n int) [][]T {
	if n < 1 {
		exceptions.Panicf("buffering: window size %d", n)
	}

	var out [][]T
	for i := 0; i+n <= len(items); i++ {
		out = append(out, items[i:i+n:i+n])
	}

	return out
}

// Window is an N-stage receive-then-send pipeline over one buffer.
type Window struct {
	// Locks has one lock per receive stage plus the lock of the send stage.
	Locks    []*npu.Lock
	Receives []*bd.Program
	Send     *bd.Program
}

// MultiBufferReceive fills buf from len(channels) receive channels in turn,
// stage i writing length elements at offset i*step, and then drains the
// whole buffer on sendCh. Stage i acquires lock i and releases lock i+1. The
// send stage acquires the last lock and releases the first, which starts
// with a count of 1.
func MultiBufferReceive(
	locks *npu.LockTable,
	buf *npu.Buffer,
	channels []int,
	sendCh int,
	length, step int,
	opts ...Option,
) (*Window, error) {
	if len(channels) == 0 {
		return nil, errors.New("multi-buffer receive needs at least one channel")
	}

	s := newSettings(opts)

	w := &Window{}
	for i := 0; i <= len(channels); i++ {
		init := 0
		if i == 0 {
			init = 1
		}

		l, err := locks.NewLock(buf.Tile, init, fmt.Sprintf("%s_stage%d_lock", buf.Name, i))
		if err != nil {
			return nil, errors.Wrapf(err, "window stage %d", i)
		}

		w.Locks = append(w.Locks, l)
	}

	for i, pair := range SlidingWindow(w.Locks, 2) {
		bdOpts := append([]bd.Option{bd.WithOffset(i * step), bd.WithLength(length)}, s.bdOpts...)
		b := bd.ProcessBD(s.acquire(pair[0]), buf, s.release(pair[1]), bdOpts...)
		w.Receives = append(w.Receives, s.program(buf.Tile, npu.S2MM, channels[i], b))
	}

	last := w.Locks[len(w.Locks)-1]
	w.Send = s.program(buf.Tile, npu.MM2S, sendCh,
		bd.ProcessBD(s.acquire(last), buf, s.release(w.Locks[0]), s.bdOpts...))

	return w, nil
}

// Programs returns every program of the window.
func (w *Window) Programs() []*bd.Program {
	return append(append([]*bd.Program(nil), w.Receives...), w.Send)
}
