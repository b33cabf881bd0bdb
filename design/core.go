package design

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/npu"
)

// ErrUnknownKernel is returned when a core calls an undeclared kernel.
var ErrUnknownKernel = errors.New("unknown kernel")

// ErrKernelArgs is returned when a call does not match the kernel signature.
var ErrKernelArgs = errors.New("kernel arguments do not match")

// ArgType is the type of one kernel argument.
type ArgType struct {
	Elem  npu.ElemType
	Shape []int
}

// Kernel is an externally compiled function a core can call. It is never
// looked into; Binary only names the object file holding it.
type Kernel struct {
	Name   string
	Binary string
	Args   []ArgType
}

// Accepts reports whether buf can be passed as argument i.
func (k Kernel) Accepts(i int, buf *npu.Buffer) bool {
	if i >= len(k.Args) {
		return false
	}

	a := k.Args[i]
	if a.Elem != buf.Elem {
		return false
	}

	n := 1
	for _, d := range a.Shape {
		n *= d
	}

	return n == buf.Len()
}

// OpKind is the kind of a core operation.
type OpKind int

const (
	OpLock OpKind = iota
	OpCall
	OpLoop
)

func (k OpKind) String() string {
	switch k {
	case OpLock:
		return "lock"
	case OpCall:
		return "call"
	case OpLoop:
		return "loop"
	default:
		panic("invalid op kind")
	}
}

// Op is one operation of a core body.
type Op struct {
	Kind OpKind

	// OpLock
	Lock bd.LockUse

	// OpCall
	Kernel string
	Args   []*npu.Buffer

	// OpLoop. A Count of 0 loops forever.
	Count int
	Body  []Op
}

func (o Op) String() string {
	switch o.Kind {
	case OpLock:
		return o.Lock.String()
	case OpCall:
		return fmt.Sprintf("call %s%v", o.Kernel, o.Args)
	default:
		return fmt.Sprintf("loop %d {%d ops}", o.Count, len(o.Body))
	}
}

// CoreBody is the program of one compute core. It records lock operations,
// so the buffering helpers can write to it.
type CoreBody struct {
	Tile npu.TileID
	Ops  []Op

	design *Design
	block  *[]Op
}

func newCoreBody(d *Design, tile npu.TileID) *CoreBody {
	c := &CoreBody{Tile: tile, design: d}
	c.block = &c.Ops

	return c
}

// UseLock records a lock operation. Locks of other tiles are rejected by
// Validate.
func (c *CoreBody) UseLock(u bd.LockUse) {
	*c.block = append(*c.block, Op{Kind: OpLock, Lock: u})
}

// Call records a kernel call.
func (c *CoreBody) Call(kernel string, args ...*npu.Buffer) error {
	k, ok := c.design.LookupKernel(kernel)
	if !ok {
		return errors.Wrapf(ErrUnknownKernel, "%s calls %s", c.Tile, kernel)
	}

	if len(args) != len(k.Args) {
		return errors.Wrapf(ErrKernelArgs, "%s takes %d arguments, got %d",
			kernel, len(k.Args), len(args))
	}

	for i, a := range args {
		if a.Tile != c.Tile {
			return errors.Wrapf(ErrKernelArgs, "%s argument %d is on %s", kernel, i, a.Tile)
		}

		if !k.Accepts(i, a) {
			return errors.Wrapf(ErrKernelArgs, "%s argument %d cannot be %s", kernel, i, a)
		}
	}

	*c.block = append(*c.block, Op{Kind: OpCall, Kernel: kernel, Args: args})

	return nil
}

// Loop records a loop running count times, or forever if count is 0. The
// operations recorded inside fn form its body.
func (c *CoreBody) Loop(count int, fn func() error) error {
	if count < 0 {
		return errors.Errorf("%s: loop count %d", c.Tile, count)
	}

	outer := c.block
	var body []Op
	c.block = &body
	err := fn()
	c.block = outer

	if err != nil {
		return err
	}

	*c.block = append(*c.block, Op{Kind: OpLoop, Count: count, Body: body})

	return nil
}

// Validate checks that every lock used by the core belongs to its tile.
func (c *CoreBody) Validate() error {
	return validateOps(c.Tile, c.Ops)
}

func validateOps(tile npu.TileID, ops []Op) error {
	for _, o := range ops {
		switch o.Kind {
		case OpLock:
			if o.Lock.IsZero() {
				return errors.Errorf("%s: lock op without lock", tile)
			}

			if o.Lock.Lock.Tile != tile {
				return errors.Wrapf(bd.ErrForeignLock, "%s uses %s", tile, o.Lock.Lock)
			}
		case OpLoop:
			if err := validateOps(tile, o.Body); err != nil {
				return err
			}
		}
	}

	return nil
}
