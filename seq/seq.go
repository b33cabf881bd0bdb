// Package seq builds the host runtime sequence: the instructions that point
// shim BDs at host tensors, start shim DMA task queues and wait for their
// completion.
package seq

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/flow"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
)

var (
	// ErrBDExhausted is returned when a shim column has no BD left.
	ErrBDExhausted = errors.New("no free shim BD")

	// ErrNotShim is returned for a transfer that does not touch a shim tile.
	ErrNotShim = errors.New("not a shim transfer")

	// ErrDuplicateArg is returned when an argument name is reused.
	ErrDuplicateArg = errors.New("duplicate argument")

	// ErrUnknownArg is returned when the layout lacks an argument.
	ErrUnknownArg = errors.New("unknown argument")
)

// Arg is a host tensor passed to the sequence.
type Arg struct {
	Name  string
	Elem  npu.ElemType
	Len   int
	Index int
}

// Bytes returns the size of the tensor.
func (a *Arg) Bytes() int {
	return a.Len * a.Elem.Bytes()
}

type opKind int

const (
	opMemcpy opKind = iota
	opWait
)

type op struct {
	kind    opKind
	dir     npu.Direction
	col     int
	ch      int
	arg     *Arg
	shim    isa.ShimBD
	repeats int
}

// Sequence is an ordered list of host operations.
type Sequence struct {
	model  npu.DeviceModel
	args   []*Arg
	ops    []op
	nextBD map[int]int
}

// New creates an empty sequence for the device.
func New(model npu.DeviceModel) *Sequence {
	return &Sequence{
		model:  model,
		nextBD: make(map[int]int),
	}
}

// Arg declares the next host tensor argument.
func (s *Sequence) Arg(name string, elem npu.ElemType, n int) (*Arg, error) {
	for _, a := range s.args {
		if a.Name == name {
			return nil, errors.Wrapf(ErrDuplicateArg, "%s", name)
		}
	}

	if n <= 0 {
		return nil, errors.Errorf("argument %s has %d elements", name, n)
	}

	a := &Arg{Name: name, Elem: elem, Len: n, Index: len(s.args)}
	s.args = append(s.args, a)

	return a, nil
}

// Args returns the arguments in declaration order.
func (s *Sequence) Args() []*Arg {
	return append([]*Arg(nil), s.args...)
}

// MemcpyOption customizes a transfer.
type MemcpyOption func(*memcpy)

type memcpy struct {
	repeats int
	bdOpts  []bd.Option
}

// WithRepeats runs the transfer n+1 times.
func WithRepeats(n int) MemcpyOption {
	return func(m *memcpy) { m.repeats = n }
}

// WithBDOptions shapes the transfer over the host tensor.
func WithBDOptions(opts ...bd.Option) MemcpyOption {
	return func(m *memcpy) { m.bdOpts = append(m.bdOpts, opts...) }
}

func (s *Sequence) checkShimChannel(col, ch int) error {
	shim := npu.Tile(col, 0)
	if !s.model.Contains(shim) {
		return errors.Errorf("column %d is outside the device", col)
	}

	if ch < 0 || ch >= s.model.Channels(shim) {
		return errors.Wrapf(flow.ErrInvalidChannel, "%s channel %d", shim, ch)
	}

	return nil
}

// Memcpy moves arg between host memory and a shim DMA channel. MM2S reads
// the host tensor, S2MM writes it.
func (s *Sequence) Memcpy(dir npu.Direction, col, ch int, arg *Arg, opts ...MemcpyOption) error {
	if err := s.checkShimChannel(col, ch); err != nil {
		return err
	}

	m := memcpy{}
	for _, o := range opts {
		o(&m)
	}

	id := s.nextBD[col]
	if id >= s.model.ShimBDs {
		return errors.Wrapf(ErrBDExhausted, "column %d", col)
	}

	host := npu.NewBuffer(arg.Name, npu.Tile(col, 0), arg.Elem, arg.Len)
	b := bd.New(host, append([]bd.Option{bd.WithID(id)}, m.bdOpts...)...)
	if err := b.Validate(); err != nil {
		return errors.Wrapf(err, "memcpy %s", arg.Name)
	}

	var shim isa.ShimBD
	err := exceptions.TryCatch[error](func() { shim = bd.ShimBD(b, col) })
	if err != nil {
		return errors.Wrapf(err, "memcpy %s", arg.Name)
	}

	s.nextBD[col] = id + 1
	s.ops = append(s.ops, op{
		kind:    opMemcpy,
		dir:     dir,
		col:     col,
		ch:      ch,
		arg:     arg,
		shim:    shim,
		repeats: m.repeats,
	})

	return nil
}

// MemcpyFlow moves arg over the shim end of f.
func (s *Sequence) MemcpyFlow(f flow.Flow, arg *Arg, opts ...MemcpyOption) error {
	switch {
	case s.model.Role(f.Source) == npu.ShimRole:
		return s.Memcpy(npu.MM2S, f.Source.Col, f.SourceChannel, arg, opts...)
	case s.model.Role(f.Dest) == npu.ShimRole:
		return s.Memcpy(npu.S2MM, f.Dest.Col, f.DestChannel, arg, opts...)
	default:
		return errors.Wrapf(ErrNotShim, "%s", f)
	}
}

// Wait blocks the host until the channel reports completion.
func (s *Sequence) Wait(dir npu.Direction, col, ch int) error {
	if err := s.checkShimChannel(col, ch); err != nil {
		return err
	}

	s.ops = append(s.ops, op{kind: opWait, dir: dir, col: col, ch: ch})

	return nil
}

// WaitFlow waits on the shim end of f.
func (s *Sequence) WaitFlow(f flow.Flow) error {
	switch {
	case s.model.Role(f.Dest) == npu.ShimRole:
		return s.Wait(npu.S2MM, f.Dest.Col, f.DestChannel)
	case s.model.Role(f.Source) == npu.ShimRole:
		return s.Wait(npu.MM2S, f.Source.Col, f.SourceChannel)
	default:
		return errors.Wrapf(ErrNotShim, "%s", f)
	}
}

// Emit encodes the sequence. Each transfer becomes a patched shim BD
// followed by a task queue push; each wait becomes a sync.
func (s *Sequence) Emit(l Layout) ([]uint32, error) {
	stream := isa.NewStream()

	for _, o := range s.ops {
		switch o.kind {
		case opMemcpy:
			base, ok := l.Addr(o.arg.Name)
			if !ok {
				return nil, errors.Wrapf(ErrUnknownArg, "%s", o.arg.Name)
			}

			// The patched address replaces the BD offset, so fold it in.
			addr := base + uint64(o.shim.Offset)*4

			stream.
				WriteShimBD(o.shim, addr).
				PushQueue(o.dir, o.ch, o.col, o.shim.BDID, o.repeats)
		case opWait:
			stream.Sync(o.col, o.dir, o.ch)
		}
	}

	return stream.Words(), nil
}
