package buffering

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/npu"
)

// ForwardBD builds a ping-pong pair of programs that receive into buf on
// channel s2mm and send it back out. The receive side acquires the read-in
// lock (initially 1) and releases the write-out lock (initially 0). The send
// side does the opposite. Missing locks are created in locks.
func ForwardBD(
	locks *npu.LockTable,
	tile npu.TileID,
	buf *npu.Buffer,
	s2mm int,
	opts ...Option,
) (recv, send *bd.Program, err error) {
	s := newSettings(opts)

	mm2s := s2mm
	if s.hasMM2S {
		mm2s = s.mm2s
	}

	readIn, writeOut := s.readIn, s.writeOut
	if readIn == nil {
		readIn, err = locks.NewLock(tile, 1, fmt.Sprintf("%s_read_in_lock", buf.Name))
		if err != nil {
			return nil, nil, errors.Wrap(err, "forward read-in lock")
		}
	}

	if writeOut == nil {
		writeOut, err = locks.NewLock(tile, 0, fmt.Sprintf("%s_write_out_lock", buf.Name))
		if err != nil {
			return nil, nil, errors.Wrap(err, "forward write-out lock")
		}
	}

	recv = s.program(tile, npu.S2MM, s2mm,
		bd.ProcessBD(s.acquire(readIn), buf, s.release(writeOut), s.bdOpts...))
	send = s.program(tile, npu.MM2S, mm2s,
		bd.ProcessBD(s.acquire(writeOut), buf, s.release(readIn), s.bdOpts...))

	return recv, send, nil
}

// SendBD builds a single-BD send program.
func SendBD(ch int, acq *npu.Lock, buf *npu.Buffer, rel *npu.Lock, opts ...Option) *bd.Program {
	s := newSettings(opts)

	return s.program(buf.Tile, npu.MM2S, ch,
		bd.ProcessBD(s.acquire(acq), buf, s.release(rel), s.bdOpts...))
}

// ReceiveBD builds a single-BD receive program.
func ReceiveBD(ch int, acq *npu.Lock, buf *npu.Buffer, rel *npu.Lock, opts ...Option) *bd.Program {
	s := newSettings(opts)

	return s.program(buf.Tile, npu.S2MM, ch,
		bd.ProcessBD(s.acquire(acq), buf, s.release(rel), s.bdOpts...))
}
