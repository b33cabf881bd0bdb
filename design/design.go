// Package design describes what runs on the device: buffers and locks on
// tiles, stream flows between them, the DMA program of each tile channel and
// the body of each compute core.
package design

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/buffering"
	"github.com/sarchlab/npudma/flow"
	"github.com/sarchlab/npudma/npu"
)

var (
	// ErrUnsupportedTopology is returned for connections the device cannot
	// realize, such as linking a flow through a compute tile.
	ErrUnsupportedTopology = errors.New("unsupported topology")

	// ErrDuplicateName is returned when a name is declared twice.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrBDExhausted is returned when a tile has no BD slot left.
	ErrBDExhausted = errors.New("no free BD slot")

	// ErrBDConflict is returned when two BDs claim one slot.
	ErrBDConflict = errors.New("BD slot already in use")

	// ErrChannelBusy is returned when a channel already has a program.
	ErrChannelBusy = errors.New("channel already programmed")

	// ErrNotEndpoint is returned when a flow does not end at the given tile.
	ErrNotEndpoint = errors.New("flow does not end at tile")

	// ErrWrongRole is returned when a tile cannot play the requested part.
	ErrWrongRole = errors.New("tile has the wrong role")
)

// Design is a complete device configuration.
type Design struct {
	Name  string
	Model npu.DeviceModel
	Locks *npu.LockTable
	Flows *flow.Registry

	buffers  []*npu.Buffer
	names    map[string]bool
	programs []*bd.Program
	channels map[npu.Channel]*bd.Program
	slots    map[npu.TileID]map[int]*bd.BD
	cores    map[npu.TileID]*CoreBody
	kernels  map[string]Kernel
}

// New creates an empty design for the device.
func New(name string, model npu.DeviceModel) *Design {
	return &Design{
		Name:     name,
		Model:    model,
		Locks:    npu.NewLockTable(model),
		Flows:    flow.NewRegistry(model),
		names:    make(map[string]bool),
		channels: make(map[npu.Channel]*bd.Program),
		slots:    make(map[npu.TileID]map[int]*bd.BD),
		cores:    make(map[npu.TileID]*CoreBody),
		kernels:  make(map[string]Kernel),
	}
}

// Buffer declares a buffer in the memory of a tile.
func (d *Design) Buffer(name string, tile npu.TileID, elem npu.ElemType, shape ...int) (*npu.Buffer, error) {
	if !d.Model.Contains(tile) {
		return nil, errors.Errorf("buffer %s: %s is outside the device", name, tile)
	}

	if d.Model.Role(tile) == npu.ShimRole {
		return nil, errors.Wrapf(ErrWrongRole, "buffer %s: shim %s has no memory", name, tile)
	}

	if d.names[name] {
		return nil, errors.Wrapf(ErrDuplicateName, "buffer %s", name)
	}

	for _, n := range shape {
		if n <= 0 {
			return nil, errors.Errorf("buffer %s: shape %v", name, shape)
		}
	}

	b := npu.NewBuffer(name, tile, elem, shape...)
	d.names[name] = true
	d.buffers = append(d.buffers, b)

	return b, nil
}

// Lock declares a lock on a tile.
func (d *Design) Lock(tile npu.TileID, init int, name string) (*npu.Lock, error) {
	return d.Locks.NewLock(tile, init, name)
}

// Flow creates the flows of req.
func (d *Design) Flow(req flow.Request) ([]flow.Flow, error) {
	reg, flows, err := flow.Broadcast(d.Flows, req)
	if err != nil {
		return nil, err
	}

	d.Flows = reg

	return flows, nil
}

// Connect creates one flow between two tiles.
func (d *Design) Connect(src, dst npu.TileID, srcTag, dstTag string) (flow.Flow, error) {
	reg, f, err := flow.Connect(d.Flows, src, dst, srcTag, dstTag)
	if err != nil {
		return flow.Flow{}, err
	}

	d.Flows = reg

	return f, nil
}

// Gather creates one flow from each source into dst.
func (d *Design) Gather(sources flow.TileArray, dst npu.TileID, srcTag, dstTag string) ([]flow.Flow, error) {
	reg, flows, err := flow.Gather(d.Flows, sources, dst, srcTag, dstTag)
	if err != nil {
		return nil, err
	}

	d.Flows = reg

	return flows, nil
}

// AddProgram places the BDs of p into free slots of its tile, links them and
// records the program. Shim programs are not static; they are issued by the
// host sequence.
func (d *Design) AddProgram(p *bd.Program) error {
	return d.addPrograms(p)
}

func (d *Design) checkProgram(p *bd.Program) error {
	ch := p.ChannelID()

	if !d.Model.Contains(p.Tile) {
		return errors.Errorf("%s: tile outside the device", ch)
	}

	if d.Model.Role(p.Tile) == npu.ShimRole {
		return errors.Wrapf(ErrWrongRole, "%s: shim BDs come from the host sequence", ch)
	}

	if p.Channel < 0 || p.Channel >= d.Model.Channels(p.Tile) {
		return errors.Wrapf(flow.ErrInvalidChannel, "%s", ch)
	}

	if _, busy := d.channels[ch]; busy {
		return errors.Wrapf(ErrChannelBusy, "%s", ch)
	}

	return p.Validate()
}

// addPrograms records all of ps or, on error, none of them.
func (d *Design) addPrograms(ps ...*bd.Program) error {
	seen := make(map[npu.Channel]bool)
	for _, p := range ps {
		if err := d.checkProgram(p); err != nil {
			return err
		}

		if seen[p.ChannelID()] {
			return errors.Wrapf(ErrChannelBusy, "%s", p.ChannelID())
		}

		seen[p.ChannelID()] = true
	}

	var (
		touched []*bd.BD
		ids     []int
	)

	restore := func() {
		for i, b := range touched {
			b.ID = ids[i]
		}
	}

	staged := make(map[npu.TileID]map[int]*bd.BD)
	for _, p := range ps {
		for _, b := range p.BDs {
			touched = append(touched, b)
			ids = append(ids, b.ID)
		}

		if err := d.placeBDs(p.Tile, p.BDs, staged); err != nil {
			restore()
			return errors.Wrapf(err, "%s", p.ChannelID())
		}

		if err := p.Link(); err != nil {
			restore()
			return err
		}
	}

	for tile, claimed := range staged {
		slots := slotsOf(d.slots, tile)
		for id, b := range claimed {
			slots[id] = b
		}
	}

	for _, p := range ps {
		d.channels[p.ChannelID()] = p
		d.programs = append(d.programs, p)
	}

	return nil
}

// placeBDs assigns slot IDs to bds, avoiding the slots of the design and
// those already staged. The assignment is added to staged.
func (d *Design) placeBDs(tile npu.TileID, bds []*bd.BD, staged map[npu.TileID]map[int]*bd.BD) error {
	slots := d.slots[tile]
	pending := slotsOf(staged, tile)
	limit := d.Model.BDs(tile)

	taken := func(id int) *bd.BD {
		if b := slots[id]; b != nil {
			return b
		}

		return pending[id]
	}

	claimed := make(map[int]*bd.BD)
	for _, b := range bds {
		if b.ID == bd.Unassigned {
			continue
		}

		if b.ID < 0 || b.ID >= limit {
			return errors.Wrapf(ErrBDExhausted, "BD %s id %d of %d", b, b.ID, limit)
		}

		other := taken(b.ID)
		if other == nil {
			other = claimed[b.ID]
		}

		if other != nil {
			return errors.Wrapf(ErrBDConflict, "%s and %s", other, b)
		}

		claimed[b.ID] = b
	}

	next := 0
	for _, b := range bds {
		if b.ID != bd.Unassigned {
			continue
		}

		for next < limit && (taken(next) != nil || claimed[next] != nil) {
			next++
		}

		if next == limit {
			return errors.Wrapf(ErrBDExhausted, "%s has %d slots", tile, limit)
		}

		claimed[next] = b
	}

	for id, b := range claimed {
		b.ID = id
		pending[id] = b
	}

	return nil
}

func slotsOf(m map[npu.TileID]map[int]*bd.BD, t npu.TileID) map[int]*bd.BD {
	if m[t] == nil {
		m[t] = make(map[int]*bd.BD)
	}

	return m[t]
}

// Forward adds a ping-pong pair that receives into buf on s2mm and sends it
// back out. On error the design, its locks included, is left unchanged.
func (d *Design) Forward(tile npu.TileID, buf *npu.Buffer, s2mm int, opts ...buffering.Option) (recv, send *bd.Program, err error) {
	held := len(d.Locks.Locks(tile))

	recv, send, err = buffering.ForwardBD(d.Locks, tile, buf, s2mm, opts...)
	if err == nil {
		err = d.addPrograms(recv, send)
	}

	if err != nil {
		d.Locks.Truncate(tile, held)
		return nil, nil, err
	}

	return recv, send, nil
}

// Link forwards the data of flow in through buf on tile into flow out. Only
// memory tiles can link flows; compute tiles cannot.
func (d *Design) Link(tile npu.TileID, buf *npu.Buffer, in, out flow.Flow, opts ...buffering.Option) error {
	switch d.Model.Role(tile) {
	case npu.MemRole:
	case npu.ComputeRole:
		return errors.Wrapf(ErrUnsupportedTopology,
			"linking %s into %s through compute %s", in, out, tile)
	default:
		return errors.Wrapf(ErrWrongRole, "linking through %s", tile)
	}

	if in.Dest != tile {
		return errors.Wrapf(ErrNotEndpoint, "%s into %s", in, tile)
	}

	if out.Source != tile {
		return errors.Wrapf(ErrNotEndpoint, "%s out of %s", out, tile)
	}

	opts = append(slices.Clip(opts), buffering.WithMM2SChannel(out.SourceChannel))
	_, _, err := d.Forward(tile, buf, in.DestChannel, opts...)

	return err
}

// Kernel declares an external kernel.
func (d *Design) Kernel(k Kernel) error {
	if _, ok := d.kernels[k.Name]; ok {
		return errors.Wrapf(ErrDuplicateName, "kernel %s", k.Name)
	}

	d.kernels[k.Name] = k

	return nil
}

// LookupKernel returns a declared kernel.
func (d *Design) LookupKernel(name string) (Kernel, bool) {
	k, ok := d.kernels[name]
	return k, ok
}

// Core returns the body of a compute tile, creating it on first use.
func (d *Design) Core(tile npu.TileID) (*CoreBody, error) {
	if !d.Model.Contains(tile) || d.Model.Role(tile) != npu.ComputeRole {
		return nil, errors.Wrapf(ErrWrongRole, "core on %s", tile)
	}

	c, ok := d.cores[tile]
	if !ok {
		c = newCoreBody(d, tile)
		d.cores[tile] = c
	}

	return c, nil
}

// Buffers returns the buffers in declaration order.
func (d *Design) Buffers() []*npu.Buffer {
	return slices.Clone(d.buffers)
}

// LookupBuffer finds a buffer by name.
func (d *Design) LookupBuffer(name string) (*npu.Buffer, bool) {
	for _, b := range d.buffers {
		if b.Name == name {
			return b, true
		}
	}

	return nil, false
}

// Programs returns the DMA programs in the order they were added.
func (d *Design) Programs() []*bd.Program {
	return slices.Clone(d.programs)
}

// Program returns the program of a channel.
func (d *Design) Program(ch npu.Channel) (*bd.Program, bool) {
	p, ok := d.channels[ch]
	return p, ok
}

// Cores returns the core bodies, ordered by tile.
func (d *Design) Cores() []*CoreBody {
	out := make([]*CoreBody, 0, len(d.cores))
	for _, c := range d.cores {
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b *CoreBody) int {
		if c := cmp.Compare(a.Tile.Col, b.Tile.Col); c != 0 {
			return c
		}

		return cmp.Compare(a.Tile.Row, b.Tile.Row)
	})

	return out
}

// Kernels returns the declared kernels, ordered by name.
func (d *Design) Kernels() []Kernel {
	out := make([]Kernel, 0, len(d.kernels))
	for _, k := range d.kernels {
		out = append(out, k)
	}

	slices.SortFunc(out, func(a, b Kernel) int {
		return cmp.Compare(a.Name, b.Name)
	})

	return out
}

// Validate checks every program and core body.
func (d *Design) Validate() error {
	for _, p := range d.programs {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	for _, c := range d.Cores() {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	return nil
}
